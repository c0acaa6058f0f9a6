package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/models"
)

var (
	ErrNoFiles     = errors.New("no files to ingest")
	ErrUnknownJob  = errors.New("unknown job")
	ErrJobConsumed = errors.New("job already streamed")
	ErrJobInFlight = errors.New("another job is already running")
)

// jobTTL bounds how long a submitted batch waits to be streamed before it
// is evicted; without it, abandoned handles would accumulate forever.
const jobTTL = 15 * time.Minute

// Job is one submitted batch: its parameter set, file list and abort flag.
// A job is consumed by exactly one streaming run and discarded afterwards;
// re-running means submitting a new job.
type Job struct {
	ID      string
	Files   []string
	Params  models.IngestParams
	created time.Time

	abort    atomic.Bool
	consumed atomic.Bool
}

// Abort requests cooperative cancellation. The pipeline observes the flag
// at file and block boundaries; in-flight OCR/LLM/embedding calls are
// never interrupted except via the LLM timeout.
func (j *Job) Abort() { j.abort.Store(true) }

func (j *Job) Aborted() bool { return j.abort.Load() }

// Manager owns job submission, streaming and cancellation. One job runs
// at a time; LLM and OCR contention makes serial batches the cheaper
// trade than throughput.
type Manager struct {
	pipeline *Pipeline

	mu      sync.Mutex
	jobs    map[string]*Job
	running string
}

func NewManager(pipeline *Pipeline) *Manager {
	return &Manager{pipeline: pipeline, jobs: make(map[string]*Job)}
}

// Submit registers a batch and returns its handle. The file list is kept
// in submission order; processing follows that order exactly. Handles that
// were never streamed are evicted after jobTTL.
func (m *Manager) Submit(params models.IngestParams, files []string) (*Job, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	job := &Job{ID: uuid.NewString(), Files: files, Params: params, created: time.Now()}
	m.mu.Lock()
	m.evictStaleLocked()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	log.Info().Str("job_id", job.ID).Int("files", len(files)).Msg("ingest job submitted")
	return job, nil
}

// Stream starts the pipeline for a submitted job and returns its progress
// stream. The stream is non-restartable: consuming it twice returns
// ErrJobConsumed, and only one job may be in flight at a time.
func (m *Manager) Stream(ctx context.Context, jobID string) (<-chan models.ProgressEvent, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUnknownJob
	}
	if job.consumed.Load() {
		m.mu.Unlock()
		return nil, ErrJobConsumed
	}
	if m.running != "" {
		m.mu.Unlock()
		return nil, ErrJobInFlight
	}
	job.consumed.Store(true)
	m.running = jobID
	m.mu.Unlock()

	inner := m.pipeline.Run(ctx, job)
	out := make(chan models.ProgressEvent)
	go func() {
		defer close(out)
		defer m.finish(jobID)
		for ev := range inner {
			select {
			case out <- ev:
			case <-ctx.Done():
				// Keep draining so the pipeline goroutine can finish.
			}
		}
	}()
	return out, nil
}

// Cancel sets the abort flag of the in-flight job. It has no effect when
// nothing is running or the handle does not match.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || m.running != jobID {
		return false
	}
	job.Abort()
	log.Info().Str("job_id", jobID).Msg("ingest job cancellation requested")
	return true
}

// evictStaleLocked drops submitted-but-never-streamed jobs past their TTL.
// Caller holds m.mu. The running job is never evicted.
func (m *Manager) evictStaleLocked() {
	for id, job := range m.jobs {
		if id == m.running || job.consumed.Load() {
			continue
		}
		if time.Since(job.created) > jobTTL {
			log.Info().Str("job_id", id).Msg("unstreamed ingest job expired")
			delete(m.jobs, id)
		}
	}
}

func (m *Manager) finish(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running == jobID {
		m.running = ""
	}
	delete(m.jobs, jobID)
}

// CollectFiles expands a folder-scan submission into an ordered file list,
// filtered by the allowed extensions (lower-cased, with leading dot).
func CollectFiles(root string, recursive bool, allowed []string) ([]string, error) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, ext := range allowed {
		allowedSet[strings.ToLower(ext)] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := allowedSet[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
