// Package docker builds the docker run command line used to invoke one
// task executor, given its image/command/redirections and the host-to-
// container volume bindings resolved for that executor's inputs and
// outputs.
package docker

import (
	"fmt"
	"strings"

	"github.com/ndopj/tesp-api-go/internal/functional"
)

// RunCommandBuilder accumulates volume bindings and an executor invocation,
// then renders them into a single docker run command line.
//
// The zero value is ready to use.
type RunCommandBuilder struct {
	image      functional.Option[string]
	volumes    []volumeBinding
	volumeIdx  map[string]int
	command    functional.Option[string]
}

type volumeBinding struct {
	hostPath      string
	containerPath string
}

// NewRunCommandBuilder returns an empty RunCommandBuilder.
func NewRunCommandBuilder() *RunCommandBuilder {
	return &RunCommandBuilder{
		volumeIdx: make(map[string]int),
	}
}

// WithVolume binds hostPath to containerPath. Volumes render in the order
// they are first inserted; calling WithVolume again with a host path
// already bound overwrites its container path in place, without changing
// its position.
func (b *RunCommandBuilder) WithVolume(hostPath, containerPath string) *RunCommandBuilder {
	if b.volumeIdx == nil {
		b.volumeIdx = make(map[string]int)
	}
	if idx, exists := b.volumeIdx[hostPath]; exists {
		b.volumes[idx].containerPath = containerPath
		return b
	}
	b.volumeIdx[hostPath] = len(b.volumes)
	b.volumes = append(b.volumes, volumeBinding{hostPath: hostPath, containerPath: containerPath})
	return b
}

// WithImage sets the image to run. Required — GetRunCommand panics if it
// was never set, since an executor with no image is a programmer error,
// not a recoverable runtime condition.
func (b *RunCommandBuilder) WithImage(image string) *RunCommandBuilder {
	b.image = functional.Some(image)
	return b
}

// WithCommand sets the executor's argv and optional stdin/stdout/stderr
// redirections. The sh -c wrapper is emitted only when argv is non-empty;
// an empty argv produces an empty command segment, with no redirections.
func (b *RunCommandBuilder) WithCommand(argv []string, stdin, stdout, stderr functional.Option[string]) *RunCommandBuilder {
	joined := strings.Join(argv, " ")
	if joined == "" {
		b.command = functional.None[string]()
		return b
	}

	var sb strings.Builder
	sb.WriteString(joined)
	if v, ok := stdin.Get(); ok {
		sb.WriteString(" <")
		sb.WriteString(v)
	}
	if v, ok := stdout.Get(); ok {
		sb.WriteString(" 1>")
		sb.WriteString(v)
	}
	if v, ok := stderr.Get(); ok {
		sb.WriteString(" 2>")
		sb.WriteString(v)
	}

	b.command = functional.Some(fmt.Sprintf("sh -c %q", sb.String()))
	return b
}

// Reset clears all accumulated state so the builder can be reused for a
// fresh invocation. After Reset, building the same inputs in the same
// order yields the same command line as the first time.
func (b *RunCommandBuilder) Reset() {
	b.image = functional.None[string]()
	b.volumes = nil
	b.volumeIdx = make(map[string]int)
	b.command = functional.None[string]()
}

// GetRunCommand renders the accumulated state into a docker run command
// line and resets the builder. Panics if no image was set.
func (b *RunCommandBuilder) GetRunCommand() string {
	image := b.image.MustGet(fmt.Errorf("docker: image is not set"))

	var volumeParts []string
	for _, v := range b.volumes {
		volumeParts = append(volumeParts, fmt.Sprintf("-v %s:%s", v.hostPath, v.containerPath))
	}

	parts := []string{"docker", "run"}
	parts = append(parts, volumeParts...)
	parts = append(parts, image)
	if cmd, ok := b.command.Get(); ok {
		parts = append(parts, cmd)
	}

	run := strings.Join(parts, " ")
	b.Reset()
	return run
}
