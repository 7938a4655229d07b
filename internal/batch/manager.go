package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ironsheep/qr-stamp/internal/store"
)

// ErrShuttingDown is returned by Submit after Shutdown has started.
var ErrShuttingDown = errors.New("job manager is shutting down")

// Manager runs jobs in the background and records them in the store.
type Manager struct {
	runner     *Runner
	store      *store.Store
	archiveDir string
	logger     *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewManager returns a Manager writing archives to archiveDir.
func NewManager(runner *Runner, st *store.Store, archiveDir string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Manager{
		runner:     runner,
		store:      st,
		archiveDir: archiveDir,
		logger:     logger.Named("jobs"),
		running:    make(map[string]context.CancelFunc),
	}, nil
}

// ArchivePath is where the archive of job id is written.
func (m *Manager) ArchivePath(id string) string {
	return filepath.Join(m.archiveDir, id+".zip")
}

// Submit records job and starts it. The job ID is assigned when empty.
func (m *Manager) Submit(job *Job) (*store.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running[job.ID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	rec := &store.Job{
		ID:           job.ID,
		TemplateName: job.TemplateName,
		LinkCount:    len(job.Links),
	}
	if err := m.store.Create(ctx, rec); err != nil {
		m.release(job.ID)
		cancel()
		m.wg.Done()
		return nil, err
	}

	go func() {
		defer m.wg.Done()
		defer m.release(job.ID)
		m.run(ctx, job)
	}()
	return rec, nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.running[id]; ok {
		cancel()
		delete(m.running, id)
	}
}

func (m *Manager) run(ctx context.Context, job *Job) {
	logger := m.logger.With(zap.String("job", job.ID))
	final := m.ArchivePath(job.ID)
	partial := final + ".part"

	// Store updates use a fresh context so cancellation is still recorded.
	bg := context.Background()

	fail := func(status store.Status, err error) {
		os.Remove(partial)
		logger.Warn("job did not complete", zap.String("status", string(status)), zap.Error(err))
		if ferr := m.store.Finish(bg, job.ID, store.Outcome{Status: status, Error: err.Error()}); ferr != nil {
			logger.Error("failed to record job outcome", zap.Error(ferr))
		}
	}

	f, err := os.Create(partial)
	if err != nil {
		fail(store.StatusFailed, fmt.Errorf("failed to create archive: %w", err))
		return
	}
	if err := m.store.Start(bg, job.ID); err != nil {
		logger.Warn("failed to mark job running", zap.Error(err))
	}

	var succeeded, failed int
	progress := func(done, total int, last Result) {
		if last.OK() {
			succeeded++
		} else {
			failed++
		}
		if done%10 == 0 || done == total {
			if err := m.store.Progress(bg, job.ID, succeeded, failed); err != nil {
				logger.Warn("failed to record progress", zap.Error(err))
			}
		}
	}

	report, err := m.runner.Run(ctx, job, f, progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close archive: %w", cerr)
	}
	if err != nil {
		status := store.StatusFailed
		if errors.Is(err, context.Canceled) {
			status = store.StatusCancelled
		}
		fail(status, err)
		return
	}

	if err := os.Rename(partial, final); err != nil {
		fail(store.StatusFailed, fmt.Errorf("failed to finalize archive: %w", err))
		return
	}

	out := store.Outcome{
		Status:      store.StatusDone,
		Succeeded:   report.Succeeded,
		Failed:      report.Failed,
		ArchivePath: final,
	}
	if report.Succeeded == 0 {
		out.Status = store.StatusFailed
		out.Error = fmt.Sprintf("all %d links failed", report.Failed)
	}
	if err := m.store.Finish(bg, job.ID, out); err != nil {
		logger.Error("failed to record job outcome", zap.Error(err))
	}
}

// Cancel stops a running job. It reports whether the job was running.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cancel, ok := m.running[id]
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of jobs in progress.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Wait blocks until all submitted jobs have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting jobs, cancels the running ones and waits for them
// until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Prune removes finished jobs created before cutoff and their archives.
func (m *Manager) Prune(ctx context.Context, before time.Time) (int, error) {
	jobs, err := m.store.Prune(ctx, before)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		if j.ArchivePath == "" {
			continue
		}
		if err := os.Remove(j.ArchivePath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("failed to remove archive", zap.String("path", j.ArchivePath), zap.Error(err))
		}
	}
	return len(jobs), nil
}
