package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/ndopj/tesp-api-go/internal/events"
	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/task"
	"go.uber.org/zap"
)

func newCtx() context.Context { return context.Background() }

func parseTestUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }

func newAPITestRepo(t *testing.T) repository.TaskRepository {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&task.Task{}))

	return repository.NewTaskRepository(db)
}

func newAPITestRouter(t *testing.T) (http.Handler, repository.TaskRepository) {
	t.Helper()
	repo := newAPITestRepo(t)
	registry := events.NewRegistry()
	dispatcher := events.NewDispatcher(registry, zap.NewNop())
	router := NewRouter(RouterConfig{Tasks: repo, Dispatcher: dispatcher, Logger: zap.NewNop()})
	return router, repo
}

func TestTaskHandler_Create_RequiresNonEmptyExecutors(t *testing.T) {
	router, _ := newAPITestRouter(t)

	body := `{"name": "t"}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_Create_AssignsQueuedState(t *testing.T) {
	router, repo := newAPITestRouter(t)

	body := `{"name": "t", "executors": [{"image": "ubuntu", "command": ["echo", "hi"]}]}`
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp createTaskResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)

	id, err := parseTestUUID(resp.ID)
	require.NoError(t, err)
	got, err := repo.Get(req.Context(), id)
	require.NoError(t, err)
	v, found := got.Get()
	require.True(t, found)
	assert.Equal(t, task.StateQueued, v.State)
}

func TestTaskHandler_GetByID_MinimalView(t *testing.T) {
	router, repo := newAPITestRouter(t)
	id, err := repo.Create(newCtx(), &task.Task{Name: "t", State: task.StateQueued})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/tasks/"+id.String()+"?view=MINIMAL", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp taskResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, id.String(), resp.ID)
	assert.Equal(t, "QUEUED", resp.State)
	assert.Empty(t, resp.Name, "MINIMAL view omits name")
}

func TestTaskHandler_GetByID_NotFound(t *testing.T) {
	router, _ := newAPITestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/tasks/01890a5d-ac96-774b-8d8c-000000000000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskHandler_List_ReturnsCreatedTasks(t *testing.T) {
	router, repo := newAPITestRouter(t)
	_, err := repo.Create(newCtx(), &task.Task{Name: "a", State: task.StateQueued})
	require.NoError(t, err)
	_, err = repo.Create(newCtx(), &task.Task{Name: "b", State: task.StateQueued})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/tasks", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp listTasksResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Tasks, 2)
	assert.Equal(t, resp.Tasks[1].ID, resp.NextPageToken, "a non-empty page carries the last task's id as next token")
}

func TestTaskHandler_Cancel_SetsCanceledState(t *testing.T) {
	router, repo := newAPITestRouter(t)
	id, err := repo.Create(newCtx(), &task.Task{Name: "t", State: task.StateRunning})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ga4gh/tes/v1/tasks/"+id.String()+":cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	got, err := repo.Get(newCtx(), id)
	require.NoError(t, err)
	v, _ := got.Get()
	assert.Equal(t, task.StateCanceled, v.State)
}

func TestServiceInfo(t *testing.T) {
	router, _ := newAPITestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/tes/v1/service-info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp serviceInfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Name)
}
