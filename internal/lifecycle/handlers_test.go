package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/ndopj/tesp-api-go/internal/events"
	"github.com/ndopj/tesp-api-go/internal/ftp"
	"github.com/ndopj/tesp-api-go/internal/functional"
	"github.com/ndopj/tesp-api-go/internal/pulsar"
	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/task"
	"go.uber.org/zap"
)

// fakeOps is a hand-written Operations double. Each method records its
// calls and returns whatever the test configured, rather than talking to
// a real or even a fake HTTP server — the handler logic under test never
// inspects the transport.
type fakeOps struct {
	setupJobFunc  func(ctx context.Context, id string) (pulsar.JobConfig, error)
	uploadFunc    func(ctx context.Context, id string, ioType pulsar.DataType, filePath string, content functional.Option[string]) (string, error)
	runJobFunc    func(ctx context.Context, id string, commandLine string) (pulsar.RunResult, error)
	downloadFunc  func(ctx context.Context, id string, fileName string) ([]byte, error)
	eraseJobCalls []string
}

func (f *fakeOps) SetupJob(ctx context.Context, id string) (pulsar.JobConfig, error) {
	return f.setupJobFunc(ctx, id)
}
func (f *fakeOps) Upload(ctx context.Context, id string, ioType pulsar.DataType, filePath string, content functional.Option[string]) (string, error) {
	return f.uploadFunc(ctx, id, ioType, filePath, content)
}
func (f *fakeOps) RunJob(ctx context.Context, id string, commandLine string) (pulsar.RunResult, error) {
	return f.runJobFunc(ctx, id, commandLine)
}
func (f *fakeOps) DownloadOutput(ctx context.Context, id string, fileName string) ([]byte, error) {
	return f.downloadFunc(ctx, id, fileName)
}
func (f *fakeOps) EraseJob(ctx context.Context, id string) error {
	f.eraseJobCalls = append(f.eraseJobCalls, id)
	return nil
}

type fakeTransferer struct {
	downloaded map[string][]byte
	uploaded   map[string][]byte
}

func newFakeTransferer() *fakeTransferer {
	return &fakeTransferer{downloaded: map[string][]byte{}, uploaded: map[string][]byte{}}
}

func (f *fakeTransferer) Download(ctx context.Context, u ftp.URL) ([]byte, error) {
	return f.downloaded[u.Path], nil
}

func (f *fakeTransferer) Upload(ctx context.Context, u ftp.URL, content []byte) error {
	f.uploaded[u.Path] = content
	return nil
}

func newTestRepo(t *testing.T) repository.TaskRepository {
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

func newTestHandlers(repo repository.TaskRepository, ops pulsar.Operations, transferer ftp.Transferer) (*Handlers, *events.Registry) {
	registry := events.NewRegistry()
	dispatcher := events.NewDispatcher(registry, zap.NewNop())
	classifier := NewClassifier(repo, zap.NewNop())
	h := NewHandlers(repo, ops, transferer, dispatcher, classifier, FlavourRest)
	return h, registry
}

func TestInitializeTaskHandler_StagesInputsAndOutputs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &task.Task{
		Name:  "t",
		State: task.StateQueued,
		Inputs: task.JSONColumn[[]task.Input]{Val: []task.Input{
			{Path: "/data/in", Content: "hello"},
		}},
		Outputs: task.JSONColumn[[]task.Output]{Val: []task.Output{
			{Path: "/data/out", URL: "ftp://host/remote/out.txt"},
		}},
		Logs: task.JSONColumn[[]task.Log]{Val: []task.Log{{}}},
	})
	require.NoError(t, err)

	ops := &fakeOps{
		uploadFunc: func(ctx context.Context, taskID string, ioType pulsar.DataType, filePath string, content functional.Option[string]) (string, error) {
			return "/remote" + filePath, nil
		},
	}
	h, registry := newTestHandlers(repo, ops, newFakeTransferer())
	dispatched := make(chan RunTaskPayload, 1)
	registry.On(EventRunTask, func(ctx context.Context, payload any) error {
		dispatched <- payload.(RunTaskPayload)
		return nil
	})

	err = h.initializeTaskHandler(ctx, InitializeTaskPayload{TaskID: id, OutputsDirectory: "/remote"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	v, _ := got.Get()
	assert.Equal(t, task.StateInitializing, v.State)

	select {
	case p := <-dispatched:
		assert.Equal(t, []IOConf{{ContainerPath: "/data/in", PulsarPath: "/remoteinput_file_0"}}, p.InputConfs)
		assert.Equal(t, []OutputConf{{
			IOConf: IOConf{ContainerPath: "/data/out", PulsarPath: "/remote/remote/out.txt"},
			URL:    "ftp://host/remote/out.txt",
		}}, p.OutputConfs)
	case <-time.After(time.Second):
		t.Fatal("run_task was not dispatched")
	}
}

func TestInitializeTaskHandler_MissingTaskIsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	h, _ := newTestHandlers(repo, &fakeOps{}, newFakeTransferer())

	err := h.initializeTaskHandler(context.Background(), InitializeTaskPayload{TaskID: uuid.Must(uuid.NewV7())})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestRunTaskHandler_ExecutorFailureStopsIteration(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &task.Task{
		Name:  "t",
		State: task.StateInitializing,
		Executors: task.JSONColumn[[]task.Executor]{Val: []task.Executor{
			{Image: "img-a", Command: []string{"false"}},
			{Image: "img-b", Command: []string{"true"}},
		}},
		Logs: task.JSONColumn[[]task.Log]{Val: []task.Log{{}}},
	})
	require.NoError(t, err)

	calls := 0
	ops := &fakeOps{
		runJobFunc: func(ctx context.Context, taskID string, commandLine string) (pulsar.RunResult, error) {
			calls++
			return pulsar.RunResult{ReturnCode: 1, Stderr: "boom"}, nil
		},
	}
	h, _ := newTestHandlers(repo, ops, newFakeTransferer())

	err = h.runTaskHandler(ctx, RunTaskPayload{TaskID: id})
	require.Error(t, err)
	var execErr *ExecutorError
	assert.True(t, errors.As(err, &execErr))
	assert.Equal(t, 1, calls, "iteration must stop after the first failing executor")
}

func TestRunTaskHandler_AllExecutorsSucceedDispatchesFinalize(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &task.Task{
		Name:  "t",
		State: task.StateInitializing,
		Executors: task.JSONColumn[[]task.Executor]{Val: []task.Executor{
			{Image: "img-a", Command: []string{"true"}},
		}},
		Logs: task.JSONColumn[[]task.Log]{Val: []task.Log{{}}},
	})
	require.NoError(t, err)

	ops := &fakeOps{
		runJobFunc: func(ctx context.Context, taskID string, commandLine string) (pulsar.RunResult, error) {
			return pulsar.RunResult{ReturnCode: 0, Stdout: "ok"}, nil
		},
	}
	h, registry := newTestHandlers(repo, ops, newFakeTransferer())
	finalized := make(chan FinalizeTaskPayload, 1)
	registry.On(EventFinalizeTask, func(ctx context.Context, payload any) error {
		finalized <- payload.(FinalizeTaskPayload)
		return nil
	})

	err = h.runTaskHandler(ctx, RunTaskPayload{TaskID: id})
	require.NoError(t, err)

	select {
	case p := <-finalized:
		assert.Equal(t, id, p.TaskID)
	case <-time.After(time.Second):
		t.Fatal("finalize_task was not dispatched")
	}

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	v, _ := got.Get()
	assert.Equal(t, task.StateRunning, v.State)
	require.Len(t, v.Logs.Val, 1)
	require.Len(t, v.Logs.Val[0].Logs, 1)
	assert.Equal(t, 0, v.Logs.Val[0].Logs[0].ExitCode)
}

func TestFinalizeTaskHandler_CompletesTaskAndErasesJob(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &task.Task{
		Name:  "t",
		State: task.StateRunning,
		Logs:  task.JSONColumn[[]task.Log]{Val: []task.Log{{}}},
	})
	require.NoError(t, err)

	ops := &fakeOps{
		downloadFunc: func(ctx context.Context, taskID string, fileName string) ([]byte, error) {
			return []byte("result bytes"), nil
		},
	}
	transferer := newFakeTransferer()
	h, _ := newTestHandlers(repo, ops, transferer)

	err = h.finalizeTaskHandler(ctx, FinalizeTaskPayload{
		TaskID:           id,
		OutputsDirectory: "/remote",
		OutputConfs: []OutputConf{
			{IOConf: IOConf{ContainerPath: "/out.txt", PulsarPath: "/remote/out.txt"}, URL: "ftp://host/local/out.txt"},
		},
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	v, _ := got.Get()
	assert.Equal(t, task.StateComplete, v.State)
	assert.Equal(t, []byte("result bytes"), transferer.uploaded["/local/out.txt"])
	assert.Len(t, ops.eraseJobCalls, 1)
	require.Len(t, v.Logs.Val, 1)
	require.Len(t, v.Logs.Val[0].Outputs, 1)
	assert.Equal(t, "ftp://host/local/out.txt", v.Logs.Val[0].Outputs[0].URL)
	assert.Equal(t, "/out.txt", v.Logs.Val[0].Outputs[0].Path)
	assert.Equal(t, "12", v.Logs.Val[0].Outputs[0].SizeBytes)
}
