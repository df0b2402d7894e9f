// Package task defines the TES task document and its nested types, and the
// gorm row it is persisted as. Optional fields that participate in the
// source's "falsy means absent" convention (see internal/functional) are
// represented as their natural zero value (empty string, zero int) rather
// than pointers, so that functional.Of can be used uniformly at decision
// points in the lifecycle handlers.
package task

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Input describes a single task input file or directory.
type Input struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Path        string `json:"path"`
	Type        IOType `json:"type"`
	Content     string `json:"content,omitempty"`
}

// Output describes a single task output file or directory.
type Output struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Path        string `json:"path"`
	Type        IOType `json:"type"`
}

// Resources is advisory — the core never enforces it.
type Resources struct {
	CPUCores    int      `json:"cpu_cores,omitempty"`
	Preemptible bool     `json:"preemptible,omitempty"`
	RAMGb       float64  `json:"ram_gb,omitempty"`
	DiskGb      float64  `json:"disk_gb,omitempty"`
	Zones       []string `json:"zones,omitempty"`
}

// Executor is one container invocation. Executors of a task run sequentially;
// the first non-zero exit stops the task.
type Executor struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Workdir string            `json:"workdir,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Stdout  string            `json:"stdout,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExecutorLog is the recorded outcome of one executor invocation.
type ExecutorLog struct {
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Stdout    string    `json:"stdout,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	ExitCode  int       `json:"exit_code"`
}

// OutputFileLog records one transferred output file.
type OutputFileLog struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	SizeBytes string `json:"size_bytes"`
}

// Log is the single logs[] entry created at task creation. The source hints
// at retry producing additional entries; retry is out of scope here, so a
// task's Logs slice always has exactly one element.
type Log struct {
	Logs        []ExecutorLog     `json:"logs"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	StartTime   time.Time         `json:"start_time,omitempty"`
	EndTime     time.Time         `json:"end_time,omitempty"`
	Outputs     []OutputFileLog   `json:"outputs"`
	SystemLogs  []string          `json:"system_logs,omitempty"`
}

// Task is the persisted TES task document. Scalar columns (ID, Name, State,
// CreationTime) are queryable/indexable; the rest round-trip as JSON via
// JSONColumn, preserving the document-store field shapes of the original model.
type Task struct {
	ID           uuid.UUID              `gorm:"type:text;primaryKey"`
	Name         string                 `gorm:"index"`
	Description  string
	State        State                  `gorm:"not null;index"`
	CreationTime time.Time              `gorm:"not null"`

	Inputs    JSONColumn[[]Input]    `gorm:"type:text"`
	Outputs   JSONColumn[[]Output]   `gorm:"type:text"`
	Resources JSONColumn[Resources]  `gorm:"type:text"`
	Executors JSONColumn[[]Executor] `gorm:"type:text"`
	Volumes   JSONColumn[[]string]   `gorm:"type:text"`
	Tags      JSONColumn[map[string]string] `gorm:"type:text"`
	Logs      JSONColumn[[]Log]      `gorm:"type:text"`
}

// TableName pins the physical table name regardless of gorm's pluralization
// rules, so migrations and model stay in lockstep.
func (Task) TableName() string { return "tasks" }

// BeforeCreate assigns a UUIDv7 if the caller did not set one. UUIDv7 is
// time-ordered, which is what makes the task ID usable as a strictly
// increasing pagination cursor for list.
func (t *Task) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		t.ID = id
	}
	if t.CreationTime.IsZero() {
		t.CreationTime = time.Now().UTC()
	}
	if t.State == "" {
		t.State = StateUnknown
	}
	return nil
}
