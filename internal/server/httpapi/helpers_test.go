package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/logging"
	"github.com/dmitrijs2005/quickide/internal/server/auth"
	"github.com/dmitrijs2005/quickide/internal/server/metrics"
	"github.com/dmitrijs2005/quickide/internal/server/models"
	"github.com/dmitrijs2005/quickide/internal/server/pipeline"
	"github.com/dmitrijs2005/quickide/internal/server/services"
	"github.com/stretchr/testify/require"
)

const goodToken = "good-token"

type fakeUsers struct {
	registerErr error
	loginErr    error
	gotEmail    string
}

func (f *fakeUsers) Register(ctx context.Context, email, password string) (string, error) {
	f.gotEmail = email
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return "u-new", nil
}

func (f *fakeUsers) Login(ctx context.Context, email, password string) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return goodToken, nil
}

func (f *fakeUsers) Verify(token string) (auth.Identity, error) {
	switch token {
	case goodToken:
		return auth.Identity{UserID: "u1"}, nil
	case "expired-token":
		return auth.Identity{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, common.ErrTokenExpired)
	}
	return auth.Identity{}, common.ErrInvalidToken
}

type fakeProjects struct {
	mu       sync.Mutex
	gotOwner string
	gotID    string
	gotInput services.ProjectInput
	list     []models.Project
	getErr   error
}

func (f *fakeProjects) Create(ctx context.Context, ownerID string, in services.ProjectInput) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotOwner, f.gotInput = ownerID, in
	code := models.DefaultProjectCode
	if in.Code != nil {
		code = *in.Code
	}
	return &models.Project{ID: "p1", Name: in.Name, Code: code, OwnerID: ownerID, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeProjects) List(ctx context.Context, ownerID string) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotOwner = ownerID
	return f.list, nil
}

func (f *fakeProjects) Get(ctx context.Context, id, ownerID string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotOwner, f.gotID = ownerID, id
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &models.Project{ID: id, OwnerID: ownerID}, nil
}

type fakePipeline struct {
	mu        sync.Mutex
	calls     int
	lastStage pipeline.Stage
	lastBody  []byte
	out       []byte
	image     []byte
	err       error
}

func (f *fakePipeline) record(stage pipeline.Stage, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastStage = stage
	f.lastBody = body
}

func (f *fakePipeline) Forward(ctx context.Context, stage pipeline.Stage, body []byte) ([]byte, error) {
	f.record(stage, body)
	return f.out, f.err
}

func (f *fakePipeline) Stream(ctx context.Context, stage pipeline.Stage, body []byte, w http.ResponseWriter) (int64, error) {
	f.record(stage, body)
	if f.err != nil {
		return 0, f.err
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	n, err := w.Write(f.image)
	return int64(n), err
}

type fixture struct {
	server   *Server
	users    *fakeUsers
	projects *fakeProjects
	pipeline *fakePipeline
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		users:    &fakeUsers{},
		projects: &fakeProjects{},
		pipeline: &fakePipeline{},
		metrics:  metrics.New(),
	}
	opts := Options{
		Users:      f.users,
		Projects:   f.projects,
		Pipeline:   f.pipeline,
		Metrics:    f.metrics,
		Logger:     logging.New(io.Discard, "debug", "json"),
		CORSOrigin: "http://localhost:3000",
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.server = NewServer(opts)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}
