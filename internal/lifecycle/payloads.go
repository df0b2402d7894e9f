package lifecycle

import "github.com/google/uuid"

// Event names dispatched across the task lifecycle, registered against a
// Registry in Wire.
const (
	EventQueuedTask     = "task.queued"
	EventQueuedTaskRest  = "task.queued.rest"
	EventQueuedTaskAmqp  = "task.queued.amqp"
	EventInitializeTask = "task.initialize"
	EventRunTask        = "task.run"
	EventFinalizeTask   = "task.finalize"
)

// IOConf records where an input file ended up: its path inside the
// executor's container, and the absolute path Pulsar staged it at.
type IOConf struct {
	ContainerPath string
	PulsarPath    string
}

// OutputConf is an IOConf plus the ftp:// URL the finished output must be
// uploaded back to.
type OutputConf struct {
	IOConf
	URL string
}

// QueuedTaskPayload is the event emitted once a task document is created.
type QueuedTaskPayload struct {
	TaskID uuid.UUID
}

// QueuedTaskRestPayload carries the task id to the flavour-specific
// queued_task handler; the ops client itself is held by Handlers.
type QueuedTaskRestPayload struct {
	TaskID uuid.UUID
}

// InitializeTaskPayload carries the job config returned by setup_job.
type InitializeTaskPayload struct {
	TaskID          uuid.UUID
	OutputsDirectory string
}

// RunTaskPayload carries the resolved input/output staging configuration.
type RunTaskPayload struct {
	TaskID           uuid.UUID
	OutputsDirectory string
	InputConfs       []IOConf
	OutputConfs      []OutputConf
}

// FinalizeTaskPayload carries everything finalize_task needs to ship
// outputs back and close out the remote job.
type FinalizeTaskPayload struct {
	TaskID           uuid.UUID
	OutputsDirectory string
	OutputConfs      []OutputConf
}
