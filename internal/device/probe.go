package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultProbeCommand lists the visible NVIDIA devices, one per line.
const DefaultProbeCommand = "nvidia-smi -L"

var (
	// ErrProbeCommandEmpty indicates that no probe command was configured.
	ErrProbeCommandEmpty = errors.New("probe command cannot be empty")
	// ErrProbeUnavailable indicates that the probe could not be executed at all.
	ErrProbeUnavailable = errors.New("accelerator probe unavailable")
)

// StaticProbe reports a fixed answer.
type StaticProbe struct {
	Available bool
	Err       error
}

// AcceleratorAvailable implements core.CapabilityProbe.
func (p StaticProbe) AcceleratorAvailable(context.Context) (bool, error) {
	return p.Available, p.Err
}

// CommandProbe runs an external command that prints one line per accelerator.
type CommandProbe struct {
	args []string
}

// NewCommandProbe parses command with shell quoting rules.
func NewCommandProbe(command string) (*CommandProbe, error) {
	parser := shellwords.NewParser()

	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse probe command: %w", err)
	}

	if len(args) == 0 {
		return nil, ErrProbeCommandEmpty
	}

	return &CommandProbe{args: args}, nil
}

// AcceleratorAvailable runs the probe command. A missing binary or a non-zero exit
// means the runtime cannot be queried.
func (p *CommandProbe) AcceleratorAvailable(ctx context.Context) (bool, error) {
	// #nosec G204 -- the probe command comes from the operator's configuration
	cmd := exec.CommandContext(ctx, p.args[0], p.args[1:]...)

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return false, fmt.Errorf("%w: %s not found", ErrProbeUnavailable, p.args[0])
		}

		return false, fmt.Errorf("%w: %s: %w", ErrProbeUnavailable, p.args[0], err)
	}

	return countLines(output) > 0, nil
}

func countLines(output []byte) int {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	count := 0

	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}

	return count
}
