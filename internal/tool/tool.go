package tool

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/model"
)

// Input is a tool's validated, normalized parameter set.
type Input map[string]any

type ProgressEvent struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage"`
}

// ExecOptions is owned by a single in-flight execution, never shared.
type ExecOptions struct {
	JobID    string
	Timeout  time.Duration
	Progress chan<- ProgressEvent
}

// Executor validates and runs a single tool's invocation.
type Executor interface {
	Metadata() model.ToolMetadata
	Validate(raw map[string]any) (Input, error)
	Execute(ctx context.Context, in Input, opts ExecOptions) (*model.ParsedResult, error)
}

type ValidationError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid field %q: %s", e.Tool, e.Field, e.Reason)
}

type ParseError struct {
	Tool string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: output parse failed: %v", e.Tool, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// executor carries the shared lifecycle; concrete tools plug in a command
// builder and the two-tier parser. The JSON path is authoritative; the text
// fallback only runs when no structured payload is present and its result is
// marked degraded.
type executor struct {
	meta      model.ToolMetadata
	runner    sandbox.Runner
	cpuQuota  int64
	memLimit  int64
	validate  func(raw map[string]any) (Input, error)
	buildArgs func(in Input) []string
	parseJSON func(in Input, raw []byte) (any, error)
	parseText func(in Input, raw string) (any, error)
}

func (e *executor) Metadata() model.ToolMetadata {
	return e.meta
}

func (e *executor) Validate(raw map[string]any) (Input, error) {
	return e.validate(raw)
}

func (e *executor) Execute(ctx context.Context, in Input, opts ExecOptions) (*model.ParsedResult, error) {
	emit(opts.Progress, 0, "init")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.meta.EstimatedRuntime
	}

	argv := append(append([]string{}, e.meta.BaseCommand...), sandbox.SanitizeArgs(e.buildArgs(in))...)

	res, err := e.runner.Run(ctx, sandbox.RunSpec{
		JobID:       opts.JobID,
		Image:       e.meta.Image,
		Cmd:         argv,
		Network:     sandbox.Network(e.meta.Network),
		CPUQuota:    e.cpuQuota,
		MemoryLimit: e.memLimit,
		Timeout:     timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", e.meta.Name, err)
	}

	emit(opts.Progress, 50, "parsing")

	parsed, degraded, err := e.parse(in, res.Stdout)
	if err != nil {
		return nil, &ParseError{Tool: e.meta.Name, Err: err}
	}

	emit(opts.Progress, 100, "done")

	return &model.ParsedResult{
		Raw:    string(res.Stdout),
		Parsed: parsed,
		Meta: model.ResultMeta{
			ExecutionTimeMs: res.Duration.Milliseconds(),
			Timestamp:       time.Now().UTC(),
			Degraded:        degraded,
		},
	}, nil
}

func (e *executor) parse(in Input, raw []byte) (parsed any, degraded bool, err error) {
	trimmed := bytes.TrimSpace(raw)
	if looksStructured(trimmed) {
		if parsed, err = e.parseJSON(in, trimmed); err == nil {
			return parsed, false, nil
		}
	}
	if e.parseText == nil {
		return nil, false, fmt.Errorf("no structured payload in output")
	}
	parsed, terr := e.parseText(in, string(raw))
	if terr != nil {
		return nil, false, fmt.Errorf("structured and text parse both failed: %w", terr)
	}
	return parsed, true, nil
}

func looksStructured(trimmed []byte) bool {
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func emit(ch chan<- ProgressEvent, percent int, stage string) {
	if ch == nil {
		return
	}
	ch <- ProgressEvent{Percent: percent, Stage: stage}
}
