package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TrimsAPIPrefix(t *testing.T) {
	c := New("http://gw.local:5000/api/", "")
	assert.Equal(t, "http://gw.local:5000", c.baseURL)
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			http.NotFound(w, r)
			return
		}
		var in credentials
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if in.Email != "ada@example.com" || in.Password != "secret1" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "Invalid credentials"}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"}) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	token, err := c.Login(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	_, err = c.Login(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/register" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"message": "User registered successfully"}) //nolint:errcheck
	}))
	defer srv.Close()

	msg, err := New(srv.URL, "").Register(context.Background(), "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "User registered successfully", msg)
}

func TestParse_SendsCodeAndBearer(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ast":{"type":"Program","body":[]}}`) //nolint:errcheck
	}))
	defer srv.Close()

	out, err := New(srv.URL, "tok-1").Parse(context.Background(), "qubit q;")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ast":{"type":"Program","body":[]}}`, string(out))
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, map[string]string{"code": "qubit q;"}, gotBody)
}

func TestCompile_ForwardsPayloadVerbatim(t *testing.T) {
	payload := `{"ast":{"type":"Program","body":[1,2,3]}}`
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/run/compile", r.URL.Path)
		got, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"ir":[]}`) //nolint:errcheck
	}))
	defer srv.Close()

	out, err := New(srv.URL, "t").Compile(context.Background(), json.RawMessage(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
	assert.JSONEq(t, `{"ir":[]}`, string(out))
}

func TestRun_UpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "compute engine unavailable"}) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := New(srv.URL, "t").Compile(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Contains(t, err.Error(), "compute engine unavailable")
}

func TestRender_CopiesImage(t *testing.T) {
	img := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 50_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/run/simulate", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		w.Write(img) //nolint:errcheck
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := New(srv.URL, "t").Simulate(context.Background(), json.RawMessage(`{"ir":[]}`), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(img)), n)
	assert.Equal(t, img, buf.Bytes())
}

func TestRender_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":"unknown gate"}`) //nolint:errcheck
	}))
	defer srv.Close()

	var buf bytes.Buffer
	_, err := New(srv.URL, "t").Visualize(context.Background(), json.RawMessage(`{}`), &buf)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))
	assert.Contains(t, err.Error(), "unknown gate")
	assert.Zero(t, buf.Len())
}

func TestRender_RejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html></html>") //nolint:errcheck
	}))
	defer srv.Close()

	_, err := New(srv.URL, "t").Visualize(context.Background(), json.RawMessage(`{}`), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestRender_TruncatedTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("partial")) //nolint:errcheck
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	_, err := New(srv.URL, "t").Visualize(context.Background(), json.RawMessage(`{}`), &buf)
	require.Error(t, err)
}

func TestProjects(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/projects", func(w http.ResponseWriter, r *http.Request) {
		var in CreateProjectRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Project{ID: "p1", Name: in.Name, Code: *in.Code, OwnerID: "u1", CreatedAt: created}) //nolint:errcheck
	})
	mux.HandleFunc("GET /api/projects", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[{"id":"p2","name":"b"},{"id":"p1","name":"a"}]`) //nolint:errcheck
	})
	mux.HandleFunc("GET /api/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p1" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":"not found"}`) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode(Project{ID: "p1", Name: "a"}) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "t")
	ctx := context.Background()

	code := "H q;"
	p, err := c.CreateProject(ctx, CreateProjectRequest{Name: "a", Code: &code})
	require.NoError(t, err)
	assert.Equal(t, Project{ID: "p1", Name: "a", Code: "H q;", OwnerID: "u1", CreatedAt: created}, *p)

	ps, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "p2", ps[0].ID)

	got, err := c.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	_, err = c.GetProject(ctx, "missing")
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestUnauthorized_PlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "expired").ListProjects(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.True(t, strings.Contains(err.Error(), "HTTP 401: Unauthorized"))
}

func TestHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"status":"unavailable"}`) //nolint:errcheck
			return
		}
		io.WriteString(w, `{"status":"ok"}`) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.Health(context.Background()))

	healthy.Store(false)
	err := c.Health(context.Background())
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr, "", WithHTTPClient(&http.Client{Timeout: time.Second})).ListProjects(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do request")
}
