package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/z-recorder/backend/internal/logging"
	"github.com/zhouzirui/z-recorder/backend/internal/metrics"
	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
	"github.com/zhouzirui/z-recorder/backend/internal/service/catalog"
)

var (
	// ErrEmptyInput is returned when a session has no fragments to merge.
	ErrEmptyInput = errors.New("no fragments to merge")
	// ErrMergeTool wraps any failure of the concatenation step.
	ErrMergeTool = errors.New("merge tool failed")
	// ErrShuttingDown is reported for merges dispatched after Shutdown began. The
	// session's fragments are left in place.
	ErrShuttingDown = errors.New("merge orchestrator is shutting down")
)

// FragmentSource supplies a session's ordered fragments.
type FragmentSource interface {
	ListOrdered(sessionID string) ([]recording.Fragment, error)
	Remove(sessionID string) error
}

// ArtifactRegistry records completed artifacts.
type ArtifactRegistry interface {
	Register(ctx context.Context, a recording.Artifact) error
	Lookup(ctx context.Context, sessionID string) (recording.Artifact, bool, error)
}

// Options configures an Orchestrator.
type Options struct {
	OutputDir       string
	Extension       string
	Timeout         time.Duration
	Concurrency     int
	RemoveFragments bool
	Clock           clockwork.Clock
	Logger          *slog.Logger
}

// Orchestrator turns a session's fragments into one registered artifact.
type Orchestrator struct {
	fragments FragmentSource
	artifacts ArtifactRegistry
	concat    Concatenator
	opts      Options
	logger    *slog.Logger

	group singleflight.Group
	sem   *semaphore.Weighted

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator wires the fragment source, artifact registry and concatenation tool.
func NewOrchestrator(fragments FragmentSource, artifacts ArtifactRegistry, concat Concatenator, opts Options) *Orchestrator {
	if opts.Extension == "" {
		opts.Extension = ".webm"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	// Merges outlive the connection that triggered them, so they get their own root context.
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		fragments: fragments,
		artifacts: artifacts,
		concat:    concat,
		opts:      opts,
		logger:    logging.Component(opts.Logger, "merge"),
		sem:       semaphore.NewWeighted(int64(opts.Concurrency)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ToolStatus reports the concatenation backend's availability.
func (o *Orchestrator) ToolStatus() ToolStatus {
	if reporter, ok := o.concat.(StatusReporter); ok {
		return reporter.Status()
	}
	return ToolStatus{Name: fmt.Sprintf("%T", o.concat), Available: true}
}

// Merge produces the artifact for a session. Calls for a session that already has an
// artifact return it unchanged; concurrent calls for the same session share one run.
func (o *Orchestrator) Merge(ctx context.Context, sessionID string) (recording.Artifact, error) {
	v, err, _ := o.group.Do(sessionID, func() (any, error) {
		return o.merge(ctx, sessionID)
	})
	if err != nil {
		return recording.Artifact{}, err
	}
	return v.(recording.Artifact), nil
}

func (o *Orchestrator) merge(ctx context.Context, sessionID string) (recording.Artifact, error) {
	logger := o.logger.With(slog.String("session_id", sessionID))

	if existing, ok, err := o.artifacts.Lookup(ctx, sessionID); err != nil {
		return recording.Artifact{}, fmt.Errorf("lookup existing artifact: %w", err)
	} else if ok {
		logger.Info("artifact already exists, skipping merge", slog.String("name", existing.Name))
		return existing, nil
	}

	fragments, err := o.fragments.ListOrdered(sessionID)
	if err != nil {
		metrics.MergesTotal.WithLabelValues("error").Inc()
		return recording.Artifact{}, fmt.Errorf("list fragments: %w", err)
	}
	if len(fragments) == 0 {
		metrics.MergesTotal.WithLabelValues("empty").Inc()
		return recording.Artifact{}, fmt.Errorf("%w: session %s", ErrEmptyInput, sessionID)
	}

	inputs := make([]string, len(fragments))
	for i, f := range fragments {
		inputs[i] = f.Path
	}

	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		metrics.MergesTotal.WithLabelValues("error").Inc()
		return recording.Artifact{}, fmt.Errorf("create output directory: %w", err)
	}

	name := recording.ArtifactName(sessionID, o.opts.Extension)
	finalPath := filepath.Join(o.opts.OutputDir, name)
	// The partial name keeps the real extension so the tool can infer the container.
	tmpPath := filepath.Join(o.opts.OutputDir, ".partial-"+name)
	_ = os.Remove(tmpPath)

	logger.Debug("merging fragments", slog.Int("fragment_count", len(inputs)), slog.String("output", finalPath))

	started := o.opts.Clock.Now()
	if err := o.concat.Concat(ctx, inputs, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		metrics.MergesTotal.WithLabelValues("tool_error").Inc()
		return recording.Artifact{}, fmt.Errorf("%w: %w", ErrMergeTool, err)
	}
	metrics.MergeDuration.Observe(o.opts.Clock.Since(started).Seconds())

	size, err := flushFile(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		metrics.MergesTotal.WithLabelValues("tool_error").Inc()
		return recording.Artifact{}, fmt.Errorf("%w: %w", ErrMergeTool, err)
	}
	if size == 0 {
		_ = os.Remove(tmpPath)
		metrics.MergesTotal.WithLabelValues("tool_error").Inc()
		return recording.Artifact{}, fmt.Errorf("%w: tool produced an empty file", ErrMergeTool)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		metrics.MergesTotal.WithLabelValues("error").Inc()
		return recording.Artifact{}, fmt.Errorf("publish artifact: %w", err)
	}
	syncDir(o.opts.OutputDir)

	artifact := recording.Artifact{
		SessionID:     sessionID,
		Name:          name,
		Path:          finalPath,
		Size:          size,
		FragmentCount: len(fragments),
		CreatedAt:     o.opts.Clock.Now().UTC(),
	}
	if err := o.artifacts.Register(ctx, artifact); err != nil {
		if errors.Is(err, catalog.ErrExists) {
			if existing, ok, lookupErr := o.artifacts.Lookup(ctx, sessionID); lookupErr == nil && ok {
				return existing, nil
			}
		}
		metrics.MergesTotal.WithLabelValues("error").Inc()
		return recording.Artifact{}, fmt.Errorf("register artifact: %w", err)
	}
	metrics.MergesTotal.WithLabelValues("merged").Inc()

	logger.Info("recording merged",
		slog.String("name", name),
		slog.Int("fragment_count", len(fragments)),
		slog.Int64("bytes", size),
	)

	if o.opts.RemoveFragments {
		if err := o.fragments.Remove(sessionID); err != nil {
			logger.Warn("failed to remove merged fragments", slog.Any("error", err))
		}
	}
	return artifact, nil
}

// Dispatch merges a session in the background and reports the outcome to done.
// Merges run with their own timeout and at most Concurrency at a time.
// Once Shutdown has begun, done is called immediately with ErrShuttingDown.
func (o *Orchestrator) Dispatch(sessionID string, done func(recording.Artifact, error)) {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		o.logger.Warn("merge refused during shutdown, fragments retained", slog.String("session_id", sessionID))
		if done != nil {
			done(recording.Artifact{}, fmt.Errorf("%w: session %s", ErrShuttingDown, sessionID))
		}
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	metrics.MergesInFlight.Inc()
	go func() {
		defer o.wg.Done()
		defer metrics.MergesInFlight.Dec()

		artifact, err := o.run(sessionID)
		if done != nil {
			done(artifact, err)
		}
	}()
}

func (o *Orchestrator) run(sessionID string) (artifact recording.Artifact, err error) {
	if err := o.sem.Acquire(o.ctx, 1); err != nil {
		return recording.Artifact{}, fmt.Errorf("%w: merge not started: %w", ErrShuttingDown, err)
	}
	defer o.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("merge panicked", slog.String("session_id", sessionID), slog.Any("panic", r))
			err = fmt.Errorf("%w: panic: %v", ErrMergeTool, r)
		}
	}()

	ctx, cancel := context.WithTimeout(o.ctx, o.opts.Timeout)
	defer cancel()
	return o.Merge(ctx, sessionID)
}

// Shutdown stops accepting dispatches and waits for the ones already running. If ctx
// expires first, running merges are cancelled and Shutdown returns once they have
// unwound. Calling it again is harmless.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// flushFile syncs a file to stable storage and returns its size.
func flushFile(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open merged output: %w", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync merged output: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat merged output: %w", err)
	}
	return info.Size(), nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
