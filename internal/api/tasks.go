package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndopj/tesp-api-go/internal/events"
	"github.com/ndopj/tesp-api-go/internal/functional"
	"github.com/ndopj/tesp-api-go/internal/lifecycle"
	"github.com/ndopj/tesp-api-go/internal/metrics"
	"github.com/ndopj/tesp-api-go/internal/repository"
	"github.com/ndopj/tesp-api-go/internal/task"
)

// taskView selects how much of a task document GetByID/List project into
// the response body. A response-shaping concern only, never touching the
// stored document.
type taskView string

const (
	viewMinimal taskView = "MINIMAL"
	viewBasic   taskView = "BASIC"
	viewFull    taskView = "FULL"
)

func parseView(r *http.Request) taskView {
	switch taskView(r.URL.Query().Get("view")) {
	case viewMinimal:
		return viewMinimal
	case viewBasic:
		return viewBasic
	default:
		return viewFull
	}
}

// TaskHandler groups the TES task CRUD handlers. Every write goes through
// repo directly (create, cancel) or indirectly by dispatching the event
// that starts the lifecycle pipeline — apart from cancel's unconditional
// write of CANCELED, the handler itself never drives a state transition.
type TaskHandler struct {
	repo       repository.TaskRepository
	dispatcher *events.Dispatcher
	logger     *zap.Logger
}

// NewTaskHandler returns a TaskHandler backed by repo, dispatching
// task.queued through dispatcher once a task document is created.
func NewTaskHandler(repo repository.TaskRepository, dispatcher *events.Dispatcher, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger.Named("task_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

type inputResponse struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
}

type outputResponse struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Path        string `json:"path"`
	Type        string `json:"type"`
}

type resourcesResponse struct {
	CPUCores    int      `json:"cpu_cores,omitempty"`
	Preemptible bool     `json:"preemptible,omitempty"`
	RAMGb       float64  `json:"ram_gb,omitempty"`
	DiskGb      float64  `json:"disk_gb,omitempty"`
	Zones       []string `json:"zones,omitempty"`
}

type executorResponse struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Workdir string            `json:"workdir,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Stdout  string            `json:"stdout,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type executorLogResponse struct {
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

type outputFileLogResponse struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	SizeBytes string `json:"size_bytes"`
}

type taskLogResponse struct {
	Logs       []executorLogResponse   `json:"logs"`
	Metadata   map[string]string       `json:"metadata,omitempty"`
	StartTime  string                  `json:"start_time,omitempty"`
	EndTime    string                  `json:"end_time,omitempty"`
	Outputs    []outputFileLogResponse `json:"outputs"`
	SystemLogs []string                `json:"system_logs,omitempty"`
}

// taskResponse is the JSON representation of a task, shaped by the view
// requested — viewMinimal leaves every field but id and state empty so they
// are omitted from the body entirely.
type taskResponse struct {
	ID           string              `json:"id"`
	State        string              `json:"state"`
	Name         string              `json:"name,omitempty"`
	Description  string              `json:"description,omitempty"`
	Inputs       []inputResponse     `json:"inputs,omitempty"`
	Outputs      []outputResponse    `json:"outputs,omitempty"`
	Resources    *resourcesResponse  `json:"resources,omitempty"`
	Executors    []executorResponse  `json:"executors,omitempty"`
	Volumes      []string            `json:"volumes,omitempty"`
	Tags         map[string]string   `json:"tags,omitempty"`
	Logs         []taskLogResponse   `json:"logs,omitempty"`
	CreationTime string              `json:"creation_time,omitempty"`
}

// taskToResponse projects t into a taskResponse shaped by view. MINIMAL
// carries only id and state; BASIC adds everything but strips system_logs
// and executor stdout/stderr content; FULL carries the whole document.
func taskToResponse(t *task.Task, view taskView) taskResponse {
	resp := taskResponse{ID: t.ID.String(), State: string(t.State)}
	if view == viewMinimal {
		return resp
	}

	resp.Name = t.Name
	resp.Description = t.Description
	resp.CreationTime = t.CreationTime.UTC().Format("2006-01-02T15:04:05Z07:00")
	resp.Volumes = t.Volumes.Val
	resp.Tags = t.Tags.Val

	resp.Inputs = make([]inputResponse, len(t.Inputs.Val))
	for i, in := range t.Inputs.Val {
		resp.Inputs[i] = inputResponse{
			Name: in.Name, Description: in.Description, URL: in.URL,
			Path: in.Path, Type: string(in.Type), Content: in.Content,
		}
	}

	resp.Outputs = make([]outputResponse, len(t.Outputs.Val))
	for i, out := range t.Outputs.Val {
		resp.Outputs[i] = outputResponse{
			Name: out.Name, Description: out.Description, URL: out.URL,
			Path: out.Path, Type: string(out.Type),
		}
	}

	res := t.Resources.Val
	resp.Resources = &resourcesResponse{
		CPUCores: res.CPUCores, Preemptible: res.Preemptible,
		RAMGb: res.RAMGb, DiskGb: res.DiskGb, Zones: res.Zones,
	}

	resp.Executors = make([]executorResponse, len(t.Executors.Val))
	for i, ex := range t.Executors.Val {
		resp.Executors[i] = executorResponse{
			Image: ex.Image, Command: ex.Command, Workdir: ex.Workdir,
			Stdin: ex.Stdin, Stdout: ex.Stdout, Stderr: ex.Stderr, Env: ex.Env,
		}
	}

	resp.Logs = make([]taskLogResponse, len(t.Logs.Val))
	for i, l := range t.Logs.Val {
		lr := taskLogResponse{Metadata: l.Metadata}
		if !l.StartTime.IsZero() {
			lr.StartTime = l.StartTime.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		if !l.EndTime.IsZero() {
			lr.EndTime = l.EndTime.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		lr.Logs = make([]executorLogResponse, len(l.Logs))
		for j, el := range l.Logs {
			entry := executorLogResponse{ExitCode: el.ExitCode}
			if !el.StartTime.IsZero() {
				entry.StartTime = el.StartTime.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			if !el.EndTime.IsZero() {
				entry.EndTime = el.EndTime.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			if view == viewFull {
				entry.Stdout = el.Stdout
				entry.Stderr = el.Stderr
			}
			lr.Logs[j] = entry
		}
		lr.Outputs = make([]outputFileLogResponse, len(l.Outputs))
		for j, of := range l.Outputs {
			lr.Outputs[j] = outputFileLogResponse{URL: of.URL, Path: of.Path, SizeBytes: of.SizeBytes}
		}
		if view == viewFull {
			lr.SystemLogs = l.SystemLogs
		}
		resp.Logs[i] = lr
	}

	return resp
}

// createTaskRequest is the request body for POST /tasks. It never accepts
// id, state, creation_time or logs — those are server-assigned.
type createTaskRequest struct {
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	Inputs      []inputResponse    `json:"inputs,omitempty"`
	Outputs     []outputResponse   `json:"outputs,omitempty"`
	Resources   *resourcesResponse `json:"resources,omitempty"`
	Executors   []executorResponse `json:"executors"`
	Volumes     []string           `json:"volumes,omitempty"`
	Tags        map[string]string  `json:"tags,omitempty"`
}

type createTaskResponse struct {
	ID string `json:"id"`
}

type listTasksResponse struct {
	Tasks         []taskResponse `json:"tasks"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Create handles POST /tasks. It inserts the task document in state QUEUED
// and dispatches task.queued — everything from there on is driven by the
// lifecycle handlers, asynchronously and independently of this request.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Executors) == 0 {
		ErrBadRequest(w, "executors must be non-empty")
		return
	}
	for _, ex := range req.Executors {
		if ex.Image == "" {
			ErrBadRequest(w, "every executor must set image")
			return
		}
	}

	t := &task.Task{
		Name:        req.Name,
		Description: req.Description,
		State:       task.StateQueued,
		Logs:        task.JSONColumn[[]task.Log]{Val: []task.Log{{}}},
	}
	t.Inputs.Val = make([]task.Input, len(req.Inputs))
	for i, in := range req.Inputs {
		t.Inputs.Val[i] = task.Input{
			Name: in.Name, Description: in.Description, URL: in.URL,
			Path: in.Path, Type: task.IOType(in.Type), Content: in.Content,
		}
	}
	t.Outputs.Val = make([]task.Output, len(req.Outputs))
	for i, out := range req.Outputs {
		t.Outputs.Val[i] = task.Output{
			Name: out.Name, Description: out.Description, URL: out.URL,
			Path: out.Path, Type: task.IOType(out.Type),
		}
	}
	if req.Resources != nil {
		t.Resources.Val = task.Resources{
			CPUCores: req.Resources.CPUCores, Preemptible: req.Resources.Preemptible,
			RAMGb: req.Resources.RAMGb, DiskGb: req.Resources.DiskGb, Zones: req.Resources.Zones,
		}
	}
	t.Executors.Val = make([]task.Executor, len(req.Executors))
	for i, ex := range req.Executors {
		t.Executors.Val[i] = task.Executor{
			Image: ex.Image, Command: ex.Command, Workdir: ex.Workdir,
			Stdin: ex.Stdin, Stdout: ex.Stdout, Stderr: ex.Stderr, Env: ex.Env,
		}
	}
	t.Volumes.Val = req.Volumes
	t.Tags.Val = req.Tags

	id, err := h.repo.Create(r.Context(), t)
	if err != nil {
		h.logger.Error("failed to create task", zap.Error(err))
		ErrInternal(w)
		return
	}

	// Detached from the request context: dispatch is fire-and-forget and the
	// lifecycle pipeline it kicks off must keep running long after this
	// response is written and r.Context() is canceled.
	h.dispatcher.Dispatch(context.Background(), lifecycle.EventQueuedTask, lifecycle.QueuedTaskPayload{TaskID: id})
	metrics.TasksCreatedTotal.Inc()

	JSON(w, http.StatusOK, createTaskResponse{ID: id.String()})
}

// GetByID handles GET /tasks/{id}.
func (h *TaskHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	got, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get task", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	t, found := got.Get()
	if !found {
		ErrNotFound(w)
		return
	}

	JSON(w, http.StatusOK, taskToResponse(&t, parseView(r)))
}

// List handles GET /tasks. Supports page_size, page_token and name_prefix
// query parameters, cursor-paginated on the task id.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := repository.ListOptions{
		NamePrefix: r.URL.Query().Get("name_prefix"),
	}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ErrBadRequest(w, "page_size must be a non-negative integer")
			return
		}
		opts.PageSize = n
	}
	if raw := r.URL.Query().Get("page_token"); raw != "" {
		token, err := uuid.Parse(raw)
		if err != nil {
			ErrBadRequest(w, "page_token must be a valid task id")
			return
		}
		opts.PageToken = functional.Some(token)
	}

	tasks, next, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list tasks", zap.Error(err))
		ErrInternal(w)
		return
	}

	view := parseView(r)
	items := make([]taskResponse, len(tasks))
	for i := range tasks {
		items[i] = taskToResponse(&tasks[i], view)
	}

	resp := listTasksResponse{Tasks: items}
	if id, ok := next.Get(); ok {
		resp.NextPageToken = id.String()
	}
	JSON(w, http.StatusOK, resp)
}

// Cancel handles POST /tasks/{id}:cancel. It writes CANCELED unconditionally
// — any handler in flight for this task discovers the change at its next
// conditional update and aborts via the classifier's TaskNotFound no-op.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	_, err := h.repo.Cancel(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to cancel task", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	NoContent(w)
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "id must be a valid task id")
		return uuid.Nil, false
	}
	return id, true
}
