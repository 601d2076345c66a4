package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/quickide/internal/common"
	"github.com/dmitrijs2005/quickide/internal/server/pipeline"
	"github.com/dmitrijs2005/quickide/internal/server/services"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type projectRequest struct {
	Name string  `json:"name"`
	Code *string `json:"code"`
}

// decodeJSON reads a single JSON document of at most maxBodyBytes into dst.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: %s", common.ErrorValidation, msgInvalidBody)
	}
	return nil
}

func (s *Server) countAuth(op string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, common.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, common.ErrInvalidCredentials):
		outcome = "invalid_credentials"
	case errors.Is(err, common.ErrorValidation):
		outcome = "invalid_request"
	default:
		outcome = "error"
	}
	s.metrics.AuthAttempts.WithLabelValues(op, outcome).Inc()
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.countAuth("register", err)
		s.writeError(w, r, err)
		return
	}

	userID, err := s.users.Register(r.Context(), req.Email, req.Password)
	s.countAuth("register", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "user registered", "user_id", userID)
	writeJSON(w, http.StatusCreated, messageResponse{Message: "User registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.countAuth("login", err)
		s.writeError(w, r, err)
		return
	}

	token, err := s.users.Login(r.Context(), req.Email, req.Password)
	s.countAuth("login", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// handleStage relays one pipeline stage. Request bodies are passed to the
// compute engine untouched.
func (s *Server) handleStage(stage pipeline.Stage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if !stage.Streaming() {
			out, err := s.pipeline.Forward(r.Context(), stage, body)
			if err != nil {
				s.logStageError(r, stage, err)
				s.writeError(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(out)
			return
		}

		n, err := s.pipeline.Stream(r.Context(), stage, body, w)
		if err == nil {
			return
		}
		if errors.Is(err, pipeline.ErrStreamInterrupted) {
			// headers are already out; closing the connection is the only
			// way left to tell the client the image is incomplete
			log := s.logger.Warn
			if errors.Is(err, pipeline.ErrClientGone) || r.Context().Err() != nil {
				log = s.logger.Info
			}
			log(r.Context(), "image stream aborted",
				"request_id", RequestIDFromContext(r.Context()),
				"stage", string(stage),
				"bytes", n,
				"outcome", pipeline.Outcome(err),
				"error", err.Error(),
			)
			panic(http.ErrAbortHandler)
		}
		s.logStageError(r, stage, err)
		s.writeError(w, r, err)
	})
}

func (s *Server) logStageError(r *http.Request, stage pipeline.Stage, err error) {
	if r.Context().Err() != nil {
		s.logger.Info(r.Context(), "client went away", "stage", string(stage))
		return
	}
	s.logger.Warn(r.Context(), "pipeline stage failed",
		"request_id", RequestIDFromContext(r.Context()),
		"stage", string(stage),
		"outcome", pipeline.Outcome(err),
		"error", err.Error(),
	)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	var req projectRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.projects.Create(r.Context(), id.UserID, services.ProjectInput{Name: req.Name, Code: req.Code})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	list, err := s.projects.List(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	p, err := s.projects.Get(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "health check failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "database unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
