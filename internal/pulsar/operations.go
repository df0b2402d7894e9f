// Package pulsar is the client for the remote Pulsar job executor that runs
// each task's docker command and stages its input/output files. Only the
// REST flavour is implemented; the AMQP flavour is declared for capability
// parity but always returns ErrNotImplemented.
package pulsar

import (
	"context"

	"github.com/ndopj/tesp-api-go/internal/functional"
)

// DataType distinguishes an input file upload (content travels with the
// request) from an output file reservation (no content, path only).
type DataType string

const (
	DataTypeInput  DataType = "input"
	DataTypeOutput DataType = "output"
)

// JobConfig is the remote working area allocated by SetupJob.
type JobConfig struct {
	OutputsDirectory string `json:"outputs_directory"`
}

// RunResult is the terminal status of a submitted job.
type RunResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
}

// Operations is the capability set both the REST and AMQP flavours
// implement.
type Operations interface {
	// SetupJob allocates a remote working area for id.
	SetupJob(ctx context.Context, id string) (JobConfig, error)

	// Upload registers a staged file at filePath. For inputs, content
	// carries the file's bytes; for outputs content is None and the call
	// only reserves a target path. Returns the absolute remote path.
	Upload(ctx context.Context, id string, ioType DataType, filePath string, content functional.Option[string]) (string, error)

	// RunJob submits commandLine for execution and polls until the job
	// reports complete, returning its terminal stdout/stderr/returncode.
	RunJob(ctx context.Context, id string, commandLine string) (RunResult, error)

	// DownloadOutput fetches fileName from id's remote outputs area.
	DownloadOutput(ctx context.Context, id string, fileName string) ([]byte, error)

	// EraseJob cancels then deletes the remote job. A cancel failure is
	// swallowed — the job may already have finished — but a delete
	// failure is returned.
	EraseJob(ctx context.Context, id string) error
}
