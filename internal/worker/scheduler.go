package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trading-arena/internal/logging"
)

// JobFunc is one run of a periodic job
type JobFunc func(ctx context.Context) error

// Job is a periodic background task
type Job struct {
	Name     string
	Interval time.Duration
	Run      JobFunc
	// RunOnStart runs the job once immediately instead of waiting a full interval
	RunOnStart bool
}

// JobStatus reports the state of a scheduled job
type JobStatus struct {
	Name         string    `json:"name"`
	Interval     string    `json:"interval"`
	Running      bool      `json:"running"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	LastRun      time.Time `json:"lastRun,omitempty"`
	LastDuration string    `json:"lastDuration,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

type jobState struct {
	job Job

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs registered jobs on their own tickers until stopped.
// Runs of one job never overlap.
type Scheduler struct {
	mu      sync.RWMutex
	jobs    map[string]*jobState
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*jobState)}
}

// Register adds a job; jobs cannot be added while the scheduler is running
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job requires a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cannot register job %s while scheduler is running", job.Name)
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &jobState{
		job:    job,
		status: JobStatus{Name: job.Name, Interval: job.Interval.String()},
	}
	return nil
}

// Start launches one goroutine per job
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, js := range s.jobs {
		s.wg.Add(1)
		go s.loop(runCtx, js)
	}

	logging.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		logging.Warn("Scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()

	if js.job.RunOnStart {
		s.runOnce(ctx, js)
	}

	ticker := time.NewTicker(js.job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, js)
		}
	}
}

// RunNow executes a registered job synchronously
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	return s.runOnce(ctx, js)
}

func (s *Scheduler) runOnce(ctx context.Context, js *jobState) error {
	js.mu.Lock()
	if js.status.Running {
		js.mu.Unlock()
		return nil
	}
	js.status.Running = true
	js.mu.Unlock()

	logger := logging.WithField("job", js.job.Name)
	started := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return js.job.Run(logging.WithLogger(ctx, logger))
	}()
	elapsed := time.Since(started)

	js.mu.Lock()
	js.status.Running = false
	js.status.Runs++
	js.status.LastRun = started.UTC()
	js.status.LastDuration = elapsed.String()
	js.status.LastError = ""
	if err != nil {
		js.status.Failures++
		js.status.LastError = err.Error()
	}
	js.mu.Unlock()

	if err != nil {
		logger.WithError(err).WithField("duration", elapsed.String()).Error("Job run failed")
	} else {
		logger.WithField("duration", elapsed.String()).Debug("Job run completed")
	}
	return err
}

// Status returns every job's status ordered by name
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		out = append(out, js.status)
		js.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsRunning reports whether the scheduler has been started
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
