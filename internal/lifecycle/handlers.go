// Package lifecycle implements the five event handlers that carry a task
// from QUEUED through to a terminal state, plus the error classifier that
// decides what compensating action an uncaught handler failure deserves.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ndopj/tesp-api-go/internal/docker"
	"github.com/ndopj/tesp-api-go/internal/events"
	"github.com/ndopj/tesp-api-go/internal/ftp"
	"github.com/ndopj/tesp-api-go/internal/functional"
	"github.com/ndopj/tesp-api-go/internal/metrics"
	"github.com/ndopj/tesp-api-go/internal/pulsar"
	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/task"
)

// Flavour selects which Pulsar operations client queued_task dispatches
// to. Only FlavourRest is implemented; FlavourAmqp always fails with
// pulsar.ErrNotImplemented.
type Flavour string

const (
	FlavourRest Flavour = "rest"
	FlavourAmqp Flavour = "amqp"
)

// Handlers holds the dependencies every lifecycle handler needs: the task
// store, the Pulsar ops client, an FTP transferer, the dispatcher used to
// chain the next event, and the classifier that handles failures.
type Handlers struct {
	repo        repository.TaskRepository
	ops         pulsar.Operations
	transferer  ftp.Transferer
	dispatcher  *events.Dispatcher
	classifier  *Classifier
	flavour     Flavour
}

// NewHandlers returns a Handlers wired to the given dependencies.
func NewHandlers(repo repository.TaskRepository, ops pulsar.Operations, transferer ftp.Transferer, dispatcher *events.Dispatcher, classifier *Classifier, flavour Flavour) *Handlers {
	return &Handlers{
		repo:       repo,
		ops:        ops,
		transferer: transferer,
		dispatcher: dispatcher,
		classifier: classifier,
		flavour:    flavour,
	}
}

// Wire registers every handler against its event name on registry. Call
// once at startup before the dispatcher begins delivering events.
func (h *Handlers) Wire(registry *events.Registry) {
	// ErrTaskNotFound is routine, so it is not handed to the dispatcher,
	// which would log it as a handler failure.
	quiet := func(fn events.Handler) events.Handler {
		return func(ctx context.Context, payload any) error {
			if err := fn(ctx, payload); !errors.Is(err, ErrTaskNotFound) {
				return err
			}
			return nil
		}
	}
	registry.On(EventQueuedTask, quiet(h.queuedTaskHandler))
	registry.On(EventQueuedTaskRest, quiet(h.queuedTaskRestHandler))
	registry.On(EventQueuedTaskAmqp, quiet(h.queuedTaskRestHandler))
	registry.On(EventInitializeTask, quiet(h.initializeTaskHandler))
	registry.On(EventRunTask, quiet(h.runTaskHandler))
	registry.On(EventFinalizeTask, quiet(h.finalizeTaskHandler))
}

func (h *Handlers) queuedTaskHandler(ctx context.Context, payload any) error {
	p, ok := payload.(QueuedTaskPayload)
	if !ok {
		return fmt.Errorf("lifecycle: queued_task: unexpected payload type %T", payload)
	}
	switch h.flavour {
	case FlavourAmqp:
		h.dispatcher.Dispatch(ctx, EventQueuedTaskAmqp, QueuedTaskRestPayload{TaskID: p.TaskID})
	default:
		h.dispatcher.Dispatch(ctx, EventQueuedTaskRest, QueuedTaskRestPayload{TaskID: p.TaskID})
	}
	return nil
}

func (h *Handlers) queuedTaskRestHandler(ctx context.Context, payload any) error {
	p, ok := payload.(QueuedTaskRestPayload)
	if !ok {
		return fmt.Errorf("lifecycle: queued_task_rest: unexpected payload type %T", payload)
	}

	cfg, err := h.ops.SetupJob(ctx, p.TaskID.String())
	if err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}

	h.dispatcher.Dispatch(ctx, EventInitializeTask, InitializeTaskPayload{
		TaskID:           p.TaskID,
		OutputsDirectory: cfg.OutputsDirectory,
	})
	return nil
}

func (h *Handlers) initializeTaskHandler(ctx context.Context, payload any) error {
	p, ok := payload.(InitializeTaskPayload)
	if !ok {
		return fmt.Errorf("lifecycle: initialize_task: unexpected payload type %T", payload)
	}

	updated, err := h.repo.Update(ctx, p.TaskID, task.StateQueued, func(t *task.Task) {
		t.State = task.StateInitializing
	})
	if err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}
	current, found := updated.Get()
	if !found {
		h.classifier.Classify(ctx, p.TaskID, h.ops, ErrTaskNotFound)
		return ErrTaskNotFound
	}
	metrics.RecordTransition(string(task.StateInitializing))

	inputConfs, err := h.stageInputs(ctx, p.TaskID, current.Inputs.Val)
	if err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}

	outputConfs, err := h.stageOutputs(ctx, p.TaskID, current.Outputs.Val)
	if err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}

	h.dispatcher.Dispatch(ctx, EventRunTask, RunTaskPayload{
		TaskID:           p.TaskID,
		OutputsDirectory: p.OutputsDirectory,
		InputConfs:       inputConfs,
		OutputConfs:      outputConfs,
	})
	return nil
}

func (h *Handlers) stageInputs(ctx context.Context, taskID uuid.UUID, inputs []task.Input) ([]IOConf, error) {
	confs := make([]IOConf, 0, len(inputs))
	for i, in := range inputs {
		content := functional.Of(in.Content)

		if content.IsNone() && in.URL != "" {
			parsed, err := ftp.ParseURL(in.URL)
			if err != nil {
				return nil, err
			}
			bytes, err := h.transferer.Download(ctx, parsed)
			if err != nil {
				return nil, err
			}
			content = functional.Some(string(bytes))
		}

		path := fmt.Sprintf("input_file_%d", i)
		if in.URL != "" {
			parsed, err := ftp.ParseURL(in.URL)
			if err != nil {
				return nil, err
			}
			path = parsed.Path
		}

		remotePath, err := h.ops.Upload(ctx, taskID.String(), pulsar.DataTypeInput, path, content)
		if err != nil {
			return nil, err
		}

		confs = append(confs, IOConf{ContainerPath: in.Path, PulsarPath: remotePath})
	}
	return confs, nil
}

func (h *Handlers) stageOutputs(ctx context.Context, taskID uuid.UUID, outputs []task.Output) ([]OutputConf, error) {
	confs := make([]OutputConf, 0, len(outputs))
	for _, out := range outputs {
		parsed, err := ftp.ParseURL(out.URL)
		if err != nil {
			return nil, err
		}

		remotePath, err := h.ops.Upload(ctx, taskID.String(), pulsar.DataTypeOutput, parsed.Path, functional.None[string]())
		if err != nil {
			return nil, err
		}

		confs = append(confs, OutputConf{
			IOConf: IOConf{ContainerPath: out.Path, PulsarPath: remotePath},
			URL:    out.URL,
		})
	}
	return confs, nil
}

func (h *Handlers) runTaskHandler(ctx context.Context, payload any) error {
	p, ok := payload.(RunTaskPayload)
	if !ok {
		return fmt.Errorf("lifecycle: run_task: unexpected payload type %T", payload)
	}

	startTime := time.Now().UTC()
	updated, err := h.repo.Update(ctx, p.TaskID, task.StateInitializing, func(t *task.Task) {
		t.State = task.StateRunning
		logs := t.Logs.Val
		if len(logs) > 0 {
			logs[len(logs)-1].StartTime = startTime
		}
		t.Logs.Val = logs
	})
	if err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}
	current, found := updated.Get()
	if !found {
		h.classifier.Classify(ctx, p.TaskID, h.ops, ErrTaskNotFound)
		return ErrTaskNotFound
	}
	metrics.RecordTransition(string(task.StateRunning))

	for _, executor := range current.Executors.Val {
		if err := h.runExecutor(ctx, p.TaskID, executor, p.InputConfs, p.OutputConfs); err != nil {
			h.classifier.Classify(ctx, p.TaskID, h.ops, err)
			return err
		}
	}

	h.dispatcher.Dispatch(ctx, EventFinalizeTask, FinalizeTaskPayload{
		TaskID:           p.TaskID,
		OutputsDirectory: p.OutputsDirectory,
		OutputConfs:      p.OutputConfs,
	})
	return nil
}

func (h *Handlers) runExecutor(ctx context.Context, taskID uuid.UUID, executor task.Executor, inputConfs []IOConf, outputConfs []OutputConf) error {
	builder := docker.NewRunCommandBuilder()
	builder.WithImage(executor.Image)
	builder.WithCommand(executor.Command, functional.Of(executor.Stdin), functional.Of(executor.Stdout), functional.Of(executor.Stderr))
	for _, in := range inputConfs {
		builder.WithVolume(in.PulsarPath, in.ContainerPath)
	}
	for _, out := range outputConfs {
		builder.WithVolume(out.PulsarPath, out.ContainerPath)
	}
	command := builder.GetRunCommand()

	commandStart := time.Now().UTC()
	result, err := h.ops.RunJob(ctx, taskID.String(), command)
	commandEnd := time.Now().UTC()
	if err != nil {
		return err
	}

	entry := task.ExecutorLog{
		StartTime: commandStart,
		EndTime:   commandEnd,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		ExitCode:  result.ReturnCode,
	}

	updated, err := h.repo.Update(ctx, taskID, task.StateRunning, func(t *task.Task) {
		logs := t.Logs.Val
		if len(logs) > 0 {
			last := len(logs) - 1
			logs[last].Logs = append(logs[last].Logs, entry)
			logs[last].EndTime = commandEnd
		}
		t.Logs.Val = logs
	})
	if err != nil {
		return err
	}
	if updated.IsNone() {
		return ErrTaskNotFound
	}

	if result.ReturnCode != 0 {
		return NewExecutorError(result.ReturnCode, result.Stderr)
	}
	return nil
}

func (h *Handlers) finalizeTaskHandler(ctx context.Context, payload any) error {
	p, ok := payload.(FinalizeTaskPayload)
	if !ok {
		return fmt.Errorf("lifecycle: finalize_task: unexpected payload type %T", payload)
	}

	outputLogs := make([]task.OutputFileLog, 0, len(p.OutputConfs))
	for _, out := range p.OutputConfs {
		relativeName := strings.TrimPrefix(out.PulsarPath, p.OutputsDirectory+"/")

		content, err := h.ops.DownloadOutput(ctx, p.TaskID.String(), relativeName)
		if err != nil {
			h.classifier.Classify(ctx, p.TaskID, h.ops, err)
			return err
		}

		parsed, err := ftp.ParseURL(out.URL)
		if err != nil {
			h.classifier.Classify(ctx, p.TaskID, h.ops, err)
			return err
		}
		if err := h.transferer.Upload(ctx, parsed, content); err != nil {
			h.classifier.Classify(ctx, p.TaskID, h.ops, err)
			return err
		}

		outputLogs = append(outputLogs, task.OutputFileLog{
			URL:       out.URL,
			Path:      out.ContainerPath,
			SizeBytes: strconv.Itoa(len(content)),
		})
	}

	updated, err := h.repo.Update(ctx, p.TaskID, task.StateRunning, func(t *task.Task) {
		t.State = task.StateComplete
		logs := t.Logs.Val
		if len(logs) > 0 {
			logs[len(logs)-1].Outputs = outputLogs
		}
		t.Logs.Val = logs
	})
	if err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}
	if updated.IsNone() {
		h.classifier.Classify(ctx, p.TaskID, h.ops, ErrTaskNotFound)
		return ErrTaskNotFound
	}
	metrics.RecordTransition(string(task.StateComplete))

	if err := h.ops.EraseJob(ctx, p.TaskID.String()); err != nil {
		h.classifier.Classify(ctx, p.TaskID, h.ops, err)
		return err
	}
	return nil
}
