package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/api/types/strslice"
	"github.com/moby/moby/client"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkrish7/osprey/internal/config"
	"github.com/dkrish7/osprey/internal/sandbox"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/util"
)

const jobLabel = "osprey.job"

// Runner executes tool invocations in throwaway Docker containers: capped
// resources, dropped capabilities, no reuse across runs.
type Runner struct {
	docker      *client.Client
	cfg         *config.SandboxConfig
	securityOpt []string

	mu     sync.Mutex
	pulled map[string]struct{}
}

func NewRunner(cfg *config.SandboxConfig) (*Runner, error) {
	dc, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to initialise docker: %w", err)
	}

	var securityOpt []string
	if cfg.SECCOMP_PROFILE != "" {
		// validate the profile up front so a bad file fails at startup, not
		// on the first job
		if _, err := util.LoadSeccomp(cfg.SECCOMP_PROFILE); err != nil {
			return nil, fmt.Errorf("seccomp profile %s: %w", cfg.SECCOMP_PROFILE, err)
		}
		raw, err := os.ReadFile(cfg.SECCOMP_PROFILE)
		if err != nil {
			return nil, fmt.Errorf("seccomp profile %s: %w", cfg.SECCOMP_PROFILE, err)
		}
		securityOpt = []string{"seccomp=" + string(raw)}
	}

	return &Runner{
		docker:      dc,
		cfg:         cfg,
		securityOpt: securityOpt,
		pulled:      make(map[string]struct{}),
	}, nil
}

// EnsureImage pulls the image if it is not present locally. Safe to race
// across workers: image content is addressed by name/tag, last writer wins.
func (r *Runner) EnsureImage(ctx context.Context, image string) error {
	r.mu.Lock()
	if _, ok := r.pulled[image]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if _, err := r.docker.ImageInspect(ctx, image); err == nil {
		r.markPulled(image)
		return nil
	}

	reader, err := r.docker.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("image pull: %w", err)
	}

	r.markPulled(image)
	return nil
}

func (r *Runner) markPulled(image string) {
	r.mu.Lock()
	r.pulled[image] = struct{}{}
	r.mu.Unlock()
}

func (r *Runner) Run(ctx context.Context, spec sandbox.RunSpec) (*sandbox.RunResult, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Sandbox/Run")
	defer span.End()
	span.AddEvent("sandbox.context",
		trace.WithAttributes(
			attribute.String("image", spec.Image),
			attribute.String("job_id", spec.JobID),
		),
	)

	if err := r.EnsureImage(ctx, spec.Image); err != nil {
		util.RecordSpanError(span, err)
		return nil, &sandbox.Error{Kind: sandbox.ErrSpawn, Err: err}
	}

	networkMode := network.NetworkNone
	if spec.Network == sandbox.NetworkBridge {
		networkMode = network.NetworkBridge
	}

	pl := int64(32)
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(networkMode),
		CapDrop:     strslice.StrSlice{"ALL"},
		SecurityOpt: r.securityOpt,
		Resources: container.Resources{
			CPUPeriod: 100000,
			CPUQuota:  spec.CPUQuota,
			Memory:    spec.MemoryLimit,
			PidsLimit: &pl,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,nosuid,mode=0777,size=67108864",
		},
	}
	cfg := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Cmd,
		User:  "1000:1000",
		Labels: map[string]string{
			jobLabel: spec.JobID,
		},
	}

	created, err := r.docker.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           cfg,
		HostConfig:       hostCfg,
		NetworkingConfig: &network.NetworkingConfig{},
	})
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, &sandbox.Error{Kind: sandbox.ErrSpawn, Err: err}
	}
	// run once, discard
	defer r.remove(created.ID)

	start := time.Now()
	if _, err := r.docker.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		util.RecordSpanError(span, err)
		return nil, &sandbox.Error{Kind: sandbox.ErrSpawn, Err: err}
	}

	exitCode, err := r.wait(ctx, created.ID, spec.Timeout)
	duration := time.Since(start)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}

	stdout, stderr, truncated, err := r.capture(ctx, created.ID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, &sandbox.Error{Kind: sandbox.ErrSpawn, Err: err}
	}

	res := &sandbox.RunResult{
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Duration:  duration,
		Truncated: truncated,
	}
	if exitCode != 0 {
		return res, &sandbox.Error{
			Kind:     sandbox.ErrExit,
			ExitCode: exitCode,
			Stderr:   string(stderr),
		}
	}
	return res, nil
}

// wait blocks until exit or the hard wall-clock timeout; on timeout the
// container is force-removed and a timeout error surfaces.
func (r *Runner) wait(ctx context.Context, id string, timeout time.Duration) (int64, error) {
	res := r.docker.ContainerWait(ctx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})

	select {
	case err := <-res.Error:
		return 0, &sandbox.Error{Kind: sandbox.ErrSpawn, Err: err}
	case status := <-res.Result:
		return status.StatusCode, nil
	case <-time.After(timeout):
		r.remove(id)
		return 0, &sandbox.Error{
			Kind: sandbox.ErrTimeout,
			Err:  fmt.Errorf("no exit within %s", timeout),
		}
	case <-ctx.Done():
		r.remove(id)
		return 0, &sandbox.Error{Kind: sandbox.ErrTimeout, Err: ctx.Err()}
	}
}

// capture reads the container's multiplexed log stream into bounded buffers.
func (r *Runner) capture(ctx context.Context, id string) (stdout, stderr []byte, truncated bool, err error) {
	logs, err := r.docker.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer logs.Close()

	outBuf := newBoundedBuffer(r.cfg.MAX_OUTPUT_BYTES)
	errBuf := newBoundedBuffer(r.cfg.MAX_OUTPUT_BYTES)
	if _, err := stdcopy.StdCopy(outBuf, errBuf, logs); err != nil {
		return nil, nil, false, err
	}
	return outBuf.Bytes(), errBuf.Bytes(), outBuf.Truncated() || errBuf.Truncated(), nil
}

func (r *Runner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = r.docker.ContainerRemove(ctx, id, client.ContainerRemoveOptions{
		Force: true,
	})
}

// Kill force-removes whatever container carries the job's label. Used by
// cancellation; best effort, bounded by the caller's context.
func (r *Runner) Kill(ctx context.Context, jobID string) error {
	list, err := r.docker.ContainerList(ctx, client.ContainerListOptions{
		All: true,
		Filters: make(client.Filters).Add("label", fmt.Sprintf("%s=%s", jobLabel, jobID)),
	})
	if err != nil {
		return err
	}
	for _, c := range list.Items {
		if _, err := r.docker.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{Force: true}); err != nil {
			return err
		}
	}
	return nil
}
