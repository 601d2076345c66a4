package models

import "time"

const (
	DefaultProjectName = "Untitled Project"
	DefaultProjectCode = "// Your QuCPL code here"
)

// Project is a named code snapshot owned by one user.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}
