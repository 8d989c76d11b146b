package training

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RunParams is one trainer invocation.
type RunParams struct {
	Task        string
	DatasetPath string
	LabelCol    int
	HasHeader   bool
	OutputName  string
	TrainTime   int
}

// Runner invokes the external trainer and blocks until it exits.
type Runner interface {
	Run(ctx context.Context, params RunParams) error
}

// ProcessRunner shells out to the trainer CLI and streams its output
// to the log.
type ProcessRunner struct {
	bin    string
	grace  time.Duration
	logger *slog.Logger
}

func NewProcessRunner(logger *slog.Logger, bin string, grace time.Duration) (*ProcessRunner, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return nil, fmt.Errorf("trainer binary is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &ProcessRunner{bin: bin, grace: grace, logger: logger}, nil
}

func (r *ProcessRunner) Run(ctx context.Context, params RunParams) error {
	task := strings.TrimSpace(params.Task)
	if task == "" {
		return fmt.Errorf("trainer task is required")
	}
	if strings.TrimSpace(params.DatasetPath) == "" {
		return fmt.Errorf("dataset path is required")
	}
	if strings.TrimSpace(params.OutputName) == "" {
		return fmt.Errorf("output name is required")
	}

	// The trainer runs to its own time budget; the deadline only
	// guards against a hung process.
	deadline := time.Duration(params.TrainTime)*time.Second + r.grace
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	args := []string{
		task,
		"--dataset", params.DatasetPath,
		"--label-col", strconv.Itoa(params.LabelCol),
		"--has-header", strconv.FormatBool(params.HasHeader),
		"--name", params.OutputName,
		"--train-time", strconv.Itoa(params.TrainTime),
	}

	cmd := exec.CommandContext(runCtx, r.bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("trainer stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("trainer stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start trainer: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.streamLines(stdout, "stdout", params.OutputName)
	}()
	go func() {
		defer wg.Done()
		r.streamLines(stderr, "stderr", params.OutputName)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("trainer exceeded time budget: %w", runCtx.Err())
		}
		return fmt.Errorf("trainer exited: %w", err)
	}
	return nil
}

func (r *ProcessRunner) streamLines(src io.Reader, stream, outputName string) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		r.logger.Info("trainer output", "model", outputName, "stream", stream, "line", line)
	}
}
