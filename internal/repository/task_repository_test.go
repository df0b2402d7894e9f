package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/task"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&task.Task{}))
	return db
}

func newTask(name string) *task.Task {
	return &task.Task{
		Name:  name,
		State: task.StateQueued,
	}
}

func TestTaskRepository_CreateAndGet(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, newTask("hello-world"))
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	v, ok := got.Get()
	require.True(t, ok)
	assert.Equal(t, "hello-world", v.Name)
	assert.Equal(t, task.StateQueued, v.State)
}

func TestTaskRepository_GetMissing(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	missing, err := repo.Get(ctx, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	assert.True(t, missing.IsNone())
}

func TestTaskRepository_Update_MatchesExpectedState(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, newTask("t"))
	require.NoError(t, err)

	updated, err := repo.Update(ctx, id, task.StateQueued, func(tk *task.Task) {
		tk.State = task.StateInitializing
	})
	require.NoError(t, err)
	v, ok := updated.Get()
	require.True(t, ok)
	assert.Equal(t, task.StateInitializing, v.State)
}

func TestTaskRepository_Update_StaleExpectedStateIsNoop(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, newTask("t"))
	require.NoError(t, err)

	// Someone else already advanced the task past QUEUED.
	_, err = repo.Update(ctx, id, task.StateQueued, func(tk *task.Task) {
		tk.State = task.StateInitializing
	})
	require.NoError(t, err)

	// A handler still holding a stale QUEUED view tries to transition too.
	result, err := repo.Update(ctx, id, task.StateQueued, func(tk *task.Task) {
		tk.State = task.StateRunning
	})
	require.NoError(t, err)
	assert.True(t, result.IsNone())

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	v, _ := got.Get()
	assert.Equal(t, task.StateInitializing, v.State, "the stale update must not have applied")
}

func TestTaskRepository_List_Pagination(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, newTask("job"))
		require.NoError(t, err)
		time.Sleep(time.Millisecond) // keep UUIDv7 timestamps distinct
	}

	page1, next1, err := repo.List(ctx, repository.ListOptions{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.True(t, next1.IsSome())

	page2, next2, err := repo.List(ctx, repository.ListOptions{PageSize: 2, PageToken: next1})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.True(t, next2.IsSome())

	page3, next3, err := repo.List(ctx, repository.ListOptions{PageSize: 2, PageToken: next2})
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.True(t, next3.IsSome())

	page4, next4, err := repo.List(ctx, repository.ListOptions{PageSize: 2, PageToken: next3})
	require.NoError(t, err)
	assert.Empty(t, page4)
	assert.True(t, next4.IsNone(), "an empty page must yield no next token")
}

func TestTaskRepository_List_NamePrefix(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, newTask("alpha-1"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTask("alpha-2"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newTask("beta-1"))
	require.NoError(t, err)

	page, _, err := repo.List(ctx, repository.ListOptions{NamePrefix: "alpha"})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestTaskRepository_UpdateUnconditional_IgnoresCurrentState(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, newTask("t"))
	require.NoError(t, err)

	_, err = repo.Update(ctx, id, task.StateQueued, func(tk *task.Task) {
		tk.State = task.StateRunning
	})
	require.NoError(t, err)

	updated, err := repo.UpdateUnconditional(ctx, id, func(tk *task.Task) {
		tk.State = task.StateSystemError
	})
	require.NoError(t, err)
	v, ok := updated.Get()
	require.True(t, ok)
	assert.Equal(t, task.StateSystemError, v.State)
}

func TestTaskRepository_UpdateUnconditional_Missing(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	result, err := repo.UpdateUnconditional(ctx, uuid.Must(uuid.NewV7()), func(tk *task.Task) {
		tk.State = task.StateSystemError
	})
	require.NoError(t, err)
	assert.True(t, result.IsNone())
}

func TestTaskRepository_Cancel(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.Create(ctx, newTask("t"))
	require.NoError(t, err)

	result, err := repo.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, result.IsSome())

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	v, _ := got.Get()
	assert.Equal(t, task.StateCanceled, v.State)
}

func TestTaskRepository_Cancel_Missing(t *testing.T) {
	repo := repository.NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	result, err := repo.Cancel(ctx, uuid.Must(uuid.NewV7()))
	require.NoError(t, err)
	assert.True(t, result.IsNone())
}
