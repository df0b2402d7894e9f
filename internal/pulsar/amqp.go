package pulsar

import (
	"context"

	"github.com/ndopj/tesp-api-go/internal/functional"
)

// AmqpOperations is the AMQP flavour of the Pulsar client. It is declared
// here for capability parity with RestOperations but has no working
// implementation: every method returns ErrNotImplemented.
type AmqpOperations struct{}

// NewAmqpOperations returns the AMQP stub.
func NewAmqpOperations() *AmqpOperations {
	return &AmqpOperations{}
}

func (*AmqpOperations) SetupJob(ctx context.Context, id string) (JobConfig, error) {
	return JobConfig{}, ErrNotImplemented
}

func (*AmqpOperations) Upload(ctx context.Context, id string, ioType DataType, filePath string, content functional.Option[string]) (string, error) {
	return "", ErrNotImplemented
}

func (*AmqpOperations) RunJob(ctx context.Context, id string, commandLine string) (RunResult, error) {
	return RunResult{}, ErrNotImplemented
}

func (*AmqpOperations) DownloadOutput(ctx context.Context, id string, fileName string) ([]byte, error) {
	return nil, ErrNotImplemented
}

func (*AmqpOperations) EraseJob(ctx context.Context, id string) error {
	return ErrNotImplemented
}
