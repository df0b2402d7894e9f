package pulsar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ndopj/tesp-api-go/internal/functional"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*RestOperations, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewRestOperations(RestConfig{
		BaseURL:            server.URL,
		StatusPollInterval: time.Millisecond,
		StatusMaxPolls:     5,
		Logger:             zap.NewNop(),
	})
	return client, server
}

func TestRestOperations_SetupJob(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "job-1", r.URL.Query().Get("job_id"))
		w.Write([]byte(`{"outputs_directory": "/remote/job-1/outputs"}`))
	})

	cfg, err := client.SetupJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "/remote/job-1/outputs", cfg.OutputsDirectory)
}

func TestRestOperations_Upload(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "input", r.URL.Query().Get("type"))
		w.Write([]byte(`{"path": "/remote/job-1/inputs/x"}`))
	})

	path, err := client.Upload(context.Background(), "job-1", DataTypeInput, "x", functional.Some("content"))
	require.NoError(t, err)
	assert.Equal(t, "/remote/job-1/inputs/x", path)
}

func TestRestOperations_RunJob_PollsUntilComplete(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Write(nil)
		case r.Method == http.MethodGet:
			calls++
			if calls < 3 {
				w.Write([]byte(`{"complete": "false"}`))
				return
			}
			w.Write([]byte(`{"complete": "true", "stdout": "hi", "stderr": "", "returncode": 0}`))
		}
	})

	result, err := client.RunJob(context.Background(), "job-1", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Stdout)
	assert.Equal(t, 0, result.ReturnCode)
	assert.Equal(t, 3, calls)
}

func TestRestOperations_RunJob_ExhaustsPolls(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"complete": "false"}`))
		}
	})

	_, err := client.RunJob(context.Background(), "job-1", "echo hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperation))
}

func TestRestOperations_DownloadOutput(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "out.txt", r.URL.Query().Get("name"))
		w.Write([]byte("file contents"))
	})

	content, err := client.DownloadOutput(context.Background(), "job-1", "out.txt")
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(content))
}

func TestRestOperations_EraseJob_SwallowsCancelFailure(t *testing.T) {
	var deleted bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusInternalServerError)
		case http.MethodDelete:
			deleted = true
			w.Write(nil)
		}
	})

	err := client.EraseJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestRestOperations_EraseJob_DeleteFailureSurfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	err := client.EraseJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperation))
}

func TestRestOperations_UnreachableHostClassifiesAsConnectionError(t *testing.T) {
	client := NewRestOperations(RestConfig{
		BaseURL:            "http://127.0.0.1:1",
		StatusPollInterval: time.Millisecond,
		StatusMaxPolls:     1,
		Logger:             zap.NewNop(),
	})

	_, err := client.SetupJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
}
