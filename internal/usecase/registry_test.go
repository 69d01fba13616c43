package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/logstream"
)

// fakeTaskRepo is an in-memory ports.TaskRepository.
type fakeTaskRepo struct {
	mu      sync.Mutex
	tasks   map[string]domain.Task
	lastRun map[string]string
}

func newFakeTaskRepo(tasks ...domain.Task) *fakeTaskRepo {
	r := &fakeTaskRepo{tasks: make(map[string]domain.Task), lastRun: make(map[string]string)}
	for _, task := range tasks {
		r.tasks[task.TaskID] = task
	}
	return r
}

func (r *fakeTaskRepo) List(_ context.Context) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, task := range r.tasks {
		out = append(out, task)
	}
	return out, nil
}

func (r *fakeTaskRepo) Get(_ context.Context, taskID string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.Task{}, fmt.Errorf("no task %s", taskID)
	}
	return task, nil
}

func (r *fakeTaskRepo) Upsert(_ context.Context, task domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.TaskID] = task
	return nil
}

func (r *fakeTaskRepo) SetEnabled(_ context.Context, taskID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("no task %s", taskID)
	}
	task.Enabled = enabled
	r.tasks[taskID] = task
	return nil
}

func (r *fakeTaskRepo) Delete(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	return nil
}

func (r *fakeTaskRepo) SetLastRun(_ context.Context, taskID, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun[taskID] = runID
	return nil
}

func (r *fakeTaskRepo) lastRunOf(taskID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun[taskID]
}

// blockingRunner parks in Execute until released or cancelled.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	logger  *slog.Logger

	mu   sync.Mutex
	runs int
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (b *blockingRunner) Execute(ctx context.Context, cfg domain.PipelineConfig) (domain.Run, error) {
	b.mu.Lock()
	b.runs++
	b.mu.Unlock()
	b.started <- struct{}{}

	if b.logger != nil {
		b.logger.Info("run.start")
	}

	select {
	case <-b.release:
		return domain.Run{RunID: cfg.RunID, Status: domain.RunCompleted}, nil
	case <-ctx.Done():
		return domain.Run{RunID: cfg.RunID, Status: domain.RunFailed, Error: "cancelled"}, ErrCancelled
	}
}

func (b *blockingRunner) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}

func testTask(id string) domain.Task {
	return domain.Task{
		TaskID:  id,
		Name:    "每日采集",
		Enabled: true,
		Schedule: domain.Schedule{
			Kind:            domain.ScheduleInterval,
			IntervalSeconds: 60,
		},
		Pipeline: baseCfg(),
	}
}

func newTestRegistry(repo *fakeTaskRepo, runner *blockingRunner) *Registry {
	r := NewRegistry(RegistryDeps{
		Tasks:    repo,
		Broker:   logstream.NewBroker(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Location: time.UTC,
		Tick:     10 * time.Millisecond,
	})
	r.newRunner = func(runLogger *slog.Logger) Runner {
		runner.logger = runLogger
		return runner
	}
	return r
}

func waitIdle(t *testing.T, r *Registry, taskID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !r.Status(taskID).Running
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegistryRunNowRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	repo := newFakeTaskRepo(testTask("t1"))
	runner := newBlockingRunner()
	r := newTestRegistry(repo, runner)

	runID, err := r.RunNow(context.Background(), "t1")
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	<-runner.started

	_, err = r.RunNow(context.Background(), "t1")
	require.ErrorIs(t, err, ErrTaskRunning)

	st := r.Status("t1")
	require.True(t, st.Running)
	require.Equal(t, runID, st.RunID)

	close(runner.release)
	waitIdle(t, r, "t1")

	require.Equal(t, 1, runner.count())
	require.Equal(t, runID, repo.lastRunOf("t1"))

	// Idle again: a new trigger is accepted.
	_, err = r.RunNow(context.Background(), "t1")
	require.NoError(t, err)
}

func TestRegistryStopCancelsRun(t *testing.T) {
	t.Parallel()

	repo := newFakeTaskRepo(testTask("t1"))
	runner := newBlockingRunner()
	r := newTestRegistry(repo, runner)

	require.ErrorIs(t, r.Stop("t1"), ErrTaskNotRunning)

	_, err := r.RunNow(context.Background(), "t1")
	require.NoError(t, err)
	<-runner.started

	require.NoError(t, r.Stop("t1"))
	waitIdle(t, r, "t1")
}

func TestRegistryLogStream(t *testing.T) {
	t.Parallel()

	repo := newFakeTaskRepo(testTask("t1"))
	runner := newBlockingRunner()
	r := newTestRegistry(repo, runner)

	runID, err := r.RunNow(context.Background(), "t1")
	require.NoError(t, err)
	<-runner.started

	ch, ok := r.Subscribe(context.Background(), runID)
	require.True(t, ok)

	line := <-ch
	require.Contains(t, line, "run.start")
	require.Contains(t, line, "task_id=t1")
	require.Contains(t, line, "run_id="+runID)

	close(runner.release)
	waitIdle(t, r, "t1")

	// The buffered tail survives run completion.
	lines, ok := r.LogTail(runID)
	require.True(t, ok)
	require.NotEmpty(t, lines)

	_, ok = r.Subscribe(context.Background(), "unknown-run")
	require.False(t, ok)
}

func TestRegistryEvictsPreviousRunStream(t *testing.T) {
	t.Parallel()

	repo := newFakeTaskRepo(testTask("t1"))
	runner := newBlockingRunner()
	close(runner.release)
	r := newTestRegistry(repo, runner)

	var runIDs []string
	for i := 0; i < 5; i++ {
		runID, err := r.RunNow(context.Background(), "t1")
		require.NoError(t, err)
		waitIdle(t, r, "t1")
		runIDs = append(runIDs, runID)
	}

	// Only the most recent run keeps its buffered tail.
	_, ok := r.LogTail(runIDs[len(runIDs)-1])
	require.True(t, ok)
	for _, runID := range runIDs[:len(runIDs)-1] {
		_, ok := r.LogTail(runID)
		require.False(t, ok, "finished run %s should be evicted", runID)
		_, ok = r.Subscribe(context.Background(), runID)
		require.False(t, ok)
	}
}

func TestRegistrySchedulerFiresIntervalTask(t *testing.T) {
	t.Parallel()

	task := testTask("t1")
	task.Schedule.IntervalSeconds = 1
	repo := newFakeTaskRepo(task)
	runner := newBlockingRunner()
	close(runner.release)
	r := newTestRegistry(repo, runner)

	r.mu.Lock()
	r.anchor = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.sweep(context.Background())
	require.Eventually(t, func() bool { return runner.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistrySweepSkipsDisabledTasks(t *testing.T) {
	t.Parallel()

	task := testTask("t1")
	task.Enabled = false
	repo := newFakeTaskRepo(task)
	runner := newBlockingRunner()
	r := newTestRegistry(repo, runner)

	r.mu.Lock()
	r.anchor = time.Now().Add(-time.Hour)
	r.mu.Unlock()

	r.sweep(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, runner.count())
}

func TestRegistryDueCron(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(newFakeTaskRepo(), newBlockingRunner())
	task := domain.Task{
		TaskID:   "c1",
		Enabled:  true,
		Schedule: domain.Schedule{Kind: domain.ScheduleCron, CronExpr: "* * * * *"},
	}

	now := time.Now()
	// First sighting only arms the schedule.
	require.False(t, r.due(task, now))
	// Past the armed fire time it triggers once per window.
	require.True(t, r.due(task, now.Add(2*time.Minute)))
	require.False(t, r.due(task, now.Add(2*time.Minute)))
}

func TestRegistryDueBadCron(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(newFakeTaskRepo(), newBlockingRunner())
	task := domain.Task{
		TaskID:   "c1",
		Enabled:  true,
		Schedule: domain.Schedule{Kind: domain.ScheduleCron, CronExpr: "not a cron"},
	}
	require.False(t, r.due(task, time.Now()))
}

func TestRegistryDueInterval(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(newFakeTaskRepo(), newBlockingRunner())
	task := domain.Task{
		TaskID:   "i1",
		Enabled:  true,
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, IntervalSeconds: 60},
	}

	now := time.Now()
	r.mu.Lock()
	r.anchor = now
	r.mu.Unlock()

	require.False(t, r.due(task, now.Add(30*time.Second)))
	require.True(t, r.due(task, now.Add(90*time.Second)))

	// Completion resets the interval base.
	r.mu.Lock()
	r.lastDone["i1"] = now.Add(90 * time.Second)
	r.mu.Unlock()
	require.False(t, r.due(task, now.Add(2*time.Minute)))
	require.True(t, r.due(task, now.Add(3*time.Minute)))
}

func TestSaveTaskValidatesAndGeneratesID(t *testing.T) {
	t.Parallel()

	repo := newFakeTaskRepo()
	r := newTestRegistry(repo, newBlockingRunner())

	task := domain.Task{
		Name:     "新任务",
		Enabled:  true,
		Schedule: domain.Schedule{Kind: domain.ScheduleCron, CronExpr: "0 8 * * *"},
	}
	saved, err := r.SaveTask(context.Background(), task)
	require.NoError(t, err)
	require.NotEmpty(t, saved.TaskID)
	require.False(t, saved.CreatedAt.IsZero())
	require.False(t, saved.UpdatedAt.IsZero())

	_, err = r.SaveTask(context.Background(), domain.Task{
		Name:     "坏表达式",
		Schedule: domain.Schedule{Kind: domain.ScheduleCron, CronExpr: "61 * * * *"},
	})
	require.Error(t, err)

	_, err = r.SaveTask(context.Background(), domain.Task{
		Name:     "坏间隔",
		Schedule: domain.Schedule{Kind: domain.ScheduleInterval, IntervalSeconds: 0},
	})
	require.Error(t, err)
}

func TestDeleteTaskStopsAndForgets(t *testing.T) {
	t.Parallel()

	repo := newFakeTaskRepo(testTask("t1"))
	runner := newBlockingRunner()
	r := newTestRegistry(repo, runner)

	runID, err := r.RunNow(context.Background(), "t1")
	require.NoError(t, err)
	<-runner.started

	require.NoError(t, r.DeleteTask(context.Background(), "t1"))
	waitIdle(t, r, "t1")

	_, err = r.GetTask(context.Background(), "t1")
	require.Error(t, err)

	// The deleted task's stream goes with it.
	_, ok := r.LogTail(runID)
	require.False(t, ok)
}
