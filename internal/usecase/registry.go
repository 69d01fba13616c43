package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/logstream"
	"TenderWatch/internal/ports"
)

var (
	// ErrTaskRunning is returned when a trigger hits a task whose previous
	// execution has not finished; concurrent triggers are rejected, never
	// queued.
	ErrTaskRunning = errors.New("task is already running")
	// ErrTaskNotRunning is returned by Stop for an idle task.
	ErrTaskNotRunning = errors.New("task is not running")
)

// defaultTick is the scheduler sweep period when none is configured.
const defaultTick = 15 * time.Second

// Runner executes one pipeline run; the registry depends on this seam so
// tests can substitute the real pipeline.
type Runner interface {
	Execute(ctx context.Context, cfg domain.PipelineConfig) (domain.Run, error)
}

// TaskStatus is the live view of one task's execution state.
type TaskStatus struct {
	TaskID    string
	Running   bool
	RunID     string
	StartedAt time.Time
}

// RegistryDeps wires the task registry and scheduler.
type RegistryDeps struct {
	Tasks    ports.TaskRepository
	Pipeline *Pipeline
	Broker   *logstream.Broker
	Logger   *slog.Logger
	Location *time.Location
	Tick     time.Duration
	// Defaults fill tasks persisted without an explicit pipeline config.
	Defaults domain.PipelineConfig
}

// Registry owns the task catalogue and drives scheduled, manual and
// stoppable executions. At most one run per task is in flight; distinct
// tasks run concurrently.
type Registry struct {
	tasks    ports.TaskRepository
	broker   *logstream.Broker
	logger   *slog.Logger
	loc      *time.Location
	tick     time.Duration
	defaults domain.PipelineConfig

	// newRunner builds the executor for one run, bound to that run's
	// logger. Tests swap it for a fake.
	newRunner func(runLogger *slog.Logger) Runner

	mu        sync.Mutex
	running   map[string]*taskRuntime
	nextFire  map[string]time.Time // cron tasks: precomputed next fire
	lastDone  map[string]time.Time // interval tasks: previous completion
	lastRunID map[string]string    // per task, for stream eviction
	anchor    time.Time            // interval base for tasks never run

	wg sync.WaitGroup
}

type taskRuntime struct {
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
}

// cronParser accepts the standard 5-field form.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewRegistry constructs the registry around a pipeline and a task store.
func NewRegistry(deps RegistryDeps) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	tick := deps.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	broker := deps.Broker
	if broker == nil {
		broker = logstream.NewBroker()
	}
	r := &Registry{
		tasks:    deps.Tasks,
		broker:   broker,
		logger:   logger,
		loc:      loc,
		tick:     tick,
		defaults: deps.Defaults,
		running:   make(map[string]*taskRuntime),
		nextFire:  make(map[string]time.Time),
		lastDone:  make(map[string]time.Time),
		lastRunID: make(map[string]string),
	}
	r.newRunner = func(runLogger *slog.Logger) Runner {
		return deps.Pipeline.WithLogger(runLogger)
	}
	return r
}

// Run drives the scheduler loop until ctx is cancelled, then waits for all
// in-flight executions to unwind.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	r.anchor = time.Now()
	r.mu.Unlock()

	r.logger.Info("scheduler.start", "tick", r.tick.String())

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler.stop")
			r.StopAll()
			r.wg.Wait()
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep fires every enabled task that is due at this tick.
func (r *Registry) sweep(ctx context.Context) {
	tasks, err := r.tasks.List(ctx)
	if err != nil {
		r.logger.Error("scheduler.list_failed", "error", err)
		return
	}

	now := time.Now().In(r.loc)
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		if !r.due(task, now) {
			continue
		}
		if _, err := r.launch(ctx, task); err != nil {
			if errors.Is(err, ErrTaskRunning) {
				r.logger.Info("scheduler.skip_running", "task_id", task.TaskID)
				continue
			}
			r.logger.Error("scheduler.launch_failed", "task_id", task.TaskID, "error", err)
		}
	}
}

// due decides whether a task fires at now, advancing cron bookkeeping.
func (r *Registry) due(task domain.Task, now time.Time) bool {
	switch task.Schedule.Kind {
	case domain.ScheduleCron:
		sched, err := cronParser.Parse(task.Schedule.CronExpr)
		if err != nil {
			r.logger.Warn("scheduler.bad_cron", "task_id", task.TaskID, "expr", task.Schedule.CronExpr, "error", err)
			return false
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		next, ok := r.nextFire[task.TaskID]
		if !ok {
			r.nextFire[task.TaskID] = sched.Next(now)
			return false
		}
		if now.Before(next) {
			return false
		}
		r.nextFire[task.TaskID] = sched.Next(now)
		return true

	case domain.ScheduleInterval:
		if task.Schedule.IntervalSeconds <= 0 {
			return false
		}
		interval := time.Duration(task.Schedule.IntervalSeconds) * time.Second
		r.mu.Lock()
		defer r.mu.Unlock()
		base, ok := r.lastDone[task.TaskID]
		if !ok {
			// Never completed in this process: measure from scheduler start.
			base = r.anchor
		}
		return now.Sub(base) >= interval

	default:
		return false
	}
}

// RunNow triggers one immediate execution and returns its run id. A task
// whose previous run is still in flight is rejected with ErrTaskRunning.
func (r *Registry) RunNow(ctx context.Context, taskID string) (string, error) {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task %s: %w", taskID, err)
	}
	return r.launch(ctx, task)
}

// launch starts one run in its own goroutine. The run's lifetime is
// detached from the caller's ctx; only Stop or process shutdown cancels it.
func (r *Registry) launch(ctx context.Context, task domain.Task) (string, error) {
	runID := uuid.NewString()

	r.mu.Lock()
	if _, busy := r.running[task.TaskID]; busy {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrTaskRunning, task.TaskID)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.running[task.TaskID] = &taskRuntime{runID: runID, startedAt: time.Now(), cancel: cancel}
	prevRunID := r.lastRunID[task.TaskID]
	r.lastRunID[task.TaskID] = runID
	r.mu.Unlock()

	// Only the latest run's stream is retained per task; without eviction a
	// long-lived scheduler accumulates one closed stream per finished run.
	if prevRunID != "" {
		r.broker.Drop(prevRunID)
	}

	cfg := task.Pipeline
	if cfg.IsZero() {
		cfg = r.defaults
	}
	cfg.RunID = runID

	stream := r.broker.Open(runID)
	runLogger := slog.New(logstream.Fanout(
		r.logger.Handler(),
		logstream.NewHandler(stream, slog.LevelDebug),
	)).With("task_id", task.TaskID, "run_id", runID)

	runner := r.newRunner(runLogger)

	r.logger.Info("task.launch", "task_id", task.TaskID, "task_name", task.Name, "run_id", runID)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.broker.Close(runID)
			r.mu.Lock()
			delete(r.running, task.TaskID)
			r.lastDone[task.TaskID] = time.Now()
			r.mu.Unlock()
			cancel()
		}()

		run, err := runner.Execute(runCtx, cfg)
		if err != nil {
			r.logger.Warn("task.run_failed", "task_id", task.TaskID, "run_id", runID, "error", err)
		}

		if run.RunID != "" {
			recCtx, recCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer recCancel()
			if err := r.tasks.SetLastRun(recCtx, task.TaskID, run.RunID); err != nil {
				r.logger.Warn("task.record_last_run_failed", "task_id", task.TaskID, "error", err)
			}
		}
	}()

	return runID, nil
}

// Stop cancels the in-flight run of a task. The run unwinds at its next
// checkpoint and is finalized as FAILED with reason "cancelled".
func (r *Registry) Stop(taskID string) error {
	r.mu.Lock()
	rt, ok := r.running[taskID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotRunning, taskID)
	}
	r.logger.Info("task.stop", "task_id", taskID, "run_id", rt.runID)
	rt.cancel()
	return nil
}

// StopAll cancels every in-flight run.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for taskID, rt := range r.running {
		r.logger.Info("task.stop", "task_id", taskID, "run_id", rt.runID)
		rt.cancel()
	}
}

// Status reports whether a task is currently executing and under which run.
func (r *Registry) Status(taskID string) TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := TaskStatus{TaskID: taskID}
	if rt, ok := r.running[taskID]; ok {
		st.Running = true
		st.RunID = rt.runID
		st.StartedAt = rt.startedAt
	}
	return st
}

// Subscribe attaches to the live log stream of a run; finished runs replay
// their buffered tail. The second return is false for an unknown run id.
func (r *Registry) Subscribe(ctx context.Context, runID string) (<-chan string, bool) {
	stream := r.broker.Get(runID)
	if stream == nil {
		return nil, false
	}
	return stream.Subscribe(ctx), true
}

// LogTail returns the buffered log lines of a run, if any remain.
func (r *Registry) LogTail(runID string) ([]string, bool) {
	stream := r.broker.Get(runID)
	if stream == nil {
		return nil, false
	}
	return stream.Lines(), true
}

// SaveTask creates or updates a task definition. A missing id is generated;
// timestamps are maintained here so every store sees the same values.
func (r *Registry) SaveTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	now := time.Now()
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
		task.CreatedAt = now
	}
	if task.CreatedAt.IsZero() {
		if prev, err := r.tasks.Get(ctx, task.TaskID); err == nil {
			task.CreatedAt = prev.CreatedAt
		} else {
			task.CreatedAt = now
		}
	}
	task.UpdatedAt = now

	if err := validateSchedule(task.Schedule); err != nil {
		return domain.Task{}, err
	}
	if err := r.tasks.Upsert(ctx, task); err != nil {
		return domain.Task{}, fmt.Errorf("save task %s: %w", task.TaskID, err)
	}

	// A changed cron expression takes effect at the next sweep.
	r.mu.Lock()
	delete(r.nextFire, task.TaskID)
	r.mu.Unlock()

	r.logger.Info("task.saved", "task_id", task.TaskID, "task_name", task.Name, "enabled", task.Enabled)
	return task, nil
}

// ListTasks returns all persisted task definitions.
func (r *Registry) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return r.tasks.List(ctx)
}

// GetTask returns one task definition.
func (r *Registry) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	return r.tasks.Get(ctx, taskID)
}

// SetEnabled flips scheduling for a task. Disabling does not stop an
// in-flight run; use Stop for that.
func (r *Registry) SetEnabled(ctx context.Context, taskID string, enabled bool) error {
	if err := r.tasks.SetEnabled(ctx, taskID, enabled); err != nil {
		return fmt.Errorf("set task %s enabled=%t: %w", taskID, enabled, err)
	}
	r.logger.Info("task.enabled_changed", "task_id", taskID, "enabled", enabled)
	return nil
}

// DeleteTask stops any in-flight run and removes the definition.
func (r *Registry) DeleteTask(ctx context.Context, taskID string) error {
	_ = r.Stop(taskID)
	if err := r.tasks.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	r.mu.Lock()
	delete(r.nextFire, taskID)
	delete(r.lastDone, taskID)
	prevRunID := r.lastRunID[taskID]
	delete(r.lastRunID, taskID)
	r.mu.Unlock()
	if prevRunID != "" {
		r.broker.Drop(prevRunID)
	}
	r.logger.Info("task.deleted", "task_id", taskID)
	return nil
}

func validateSchedule(s domain.Schedule) error {
	switch s.Kind {
	case domain.ScheduleCron:
		if _, err := cronParser.Parse(s.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.CronExpr, err)
		}
		return nil
	case domain.ScheduleInterval:
		if s.IntervalSeconds <= 0 {
			return fmt.Errorf("interval must be positive, got %d", s.IntervalSeconds)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}
