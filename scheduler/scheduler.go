// Package scheduler fires the bot's batch jobs at fixed wall-clock times.
//
// Jobs are registered by name with a six-field cron expression (seconds
// first) evaluated in the bot's time zone. A job never overlaps itself: a
// tick that arrives while the previous run is still busy is skipped, and a
// manual RunNow joins the run in flight instead of starting a second one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/roombot/telemetry"
)

// ErrUnknownJob is returned by RunNow for a name that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// Func is the body of a job.
type Func func(ctx context.Context) error

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type job struct {
	name string
	spec string
	fn   Func
	busy atomic.Bool
}

// Scheduler owns the cron ticker and the per-job overlap guard.
type Scheduler struct {
	cron   *cron.Cron
	flight singleflight.Group

	// OnFailure is told about every failed run; nil ignores failures
	// beyond the log line.
	OnFailure func(ctx context.Context, name string, err error)

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a scheduler evaluating expressions in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	l := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l)),
		),
		jobs: make(map[string]*job),
	}
}

// Register adds a job. Names are unique.
func (s *Scheduler) Register(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	if _, err := s.cron.AddFunc(spec, func() { s.tick(j) }); err != nil {
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}
	s.jobs[name] = j
	slog.Info("scheduled job", slog.String("job", name), slog.String("schedule", spec))
	return nil
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Start begins ticking. Runs started by the ticker use ctx; it is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the ticker, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// RunNow runs the named job immediately, or waits for the run already in
// flight and returns its result.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	base := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if base == nil {
		base = context.WithoutCancel(ctx)
	}
	if id := telemetry.GetCorrelation(ctx); id != "" {
		base = telemetry.WithCorrelation(base, id)
	}
	return s.run(base, j)
}

func (s *Scheduler) tick(j *job) {
	if j.busy.Load() {
		slog.Warn("job still running, skipping tick", slog.String("job", j.name))
		telemetry.Inc(telemetry.JobRuns, j.name, "skipped")
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_ = s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	_, err, _ := s.flight.Do(j.name, func() (any, error) {
		j.busy.Store(true)
		defer j.busy.Store(false)

		ctx := ctx
		if telemetry.GetCorrelation(ctx) == "" {
			ctx = telemetry.WithCorrelation(ctx, "job-"+j.name)
		}
		log := telemetry.LoggerWithCorr(ctx).With(slog.String("job", j.name))
		start := time.Now()
		err := telemetry.TimeJob(j.name, func() error { return j.fn(ctx) })
		if err != nil {
			log.Error("job failed", slog.Duration("took", time.Since(start)), slog.Any("err", err))
			if s.OnFailure != nil {
				s.OnFailure(ctx, j.name, err)
			}
			return nil, err
		}
		log.Debug("job done", slog.Duration("took", time.Since(start)))
		return nil, nil
	})
	return err
}

// cronLogger routes the cron library's own messages to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, slog.Any("err", err))...)
}
