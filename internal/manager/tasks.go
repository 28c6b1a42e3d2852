package manager

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
)

// TaskKind names a kind of background task.
type TaskKind string

const (
	TaskLoad      TaskKind = "load"
	TaskClean     TaskKind = "clean"
	TaskSweep     TaskKind = "sweep"
	TaskDecompose TaskKind = "decompose"
)

// TaskStatus is reported to the progress callback.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusComplete  TaskStatus = "complete"
	TaskStatusError     TaskStatus = "error"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskInfo describes an in-flight background task.
type TaskInfo struct {
	ID        string             `json:"id"`
	Kind      TaskKind           `json:"kind"`
	Path      string             `json:"path"`
	Measure   experiment.Measure `json:"measure,omitempty"`
	Period    int                `json:"period,omitempty"`
	StartedAt time.Time          `json:"started_at"`
}

// ProgressFunc is called when a task starts and when it ends. It runs on the
// task's goroutine and must not call back into the Manager synchronously.
type ProgressFunc func(TaskInfo, TaskStatus, error)

type task struct {
	info   TaskInfo
	ctx    context.Context
	parent context.Context // may be nil
	cancel context.CancelFunc
	done   func(error)
}

// startTask registers a task bound to the manager's lifetime, to the optional
// parent context and to the task timeout. m.mu must be held.
func (m *Manager) startTask(parent context.Context, kind TaskKind, path string, measure experiment.Measure, period int) *task {
	ctx, cancel := context.WithCancel(m.base)
	if m.cfg.TaskTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, m.cfg.TaskTimeout)
		inner := cancel
		cancel = func() { cancelTimeout(); inner() }
	}
	if parent != nil {
		stop := context.AfterFunc(parent, cancel)
		inner := cancel
		cancel = func() { stop(); inner() }
	}

	t := &task{
		info: TaskInfo{
			ID:        uuid.New().String(),
			Kind:      kind,
			Path:      path,
			Measure:   measure,
			Period:    period,
			StartedAt: m.cfg.Clock.Now(),
		},
		ctx:    ctx,
		parent: parent,
		cancel: cancel,
		done:   m.cfg.Metrics.TaskStarted(string(kind)),
	}
	m.tasks[t.info.ID] = t
	m.wg.Add(1)
	return t
}

// cancelTask cancels t and forgets it, so its result is discarded.
// m.mu must be held.
func (m *Manager) cancelTask(t *task) {
	if t == nil {
		return
	}
	t.cancel()
	delete(m.tasks, t.info.ID)
}

// live reports whether t may still deliver its result. The parent is checked
// directly since its cancellation reaches t.ctx asynchronously. m.mu must be
// held.
func (m *Manager) live(t *task) bool {
	if t.parent != nil && t.parent.Err() != nil {
		return false
	}
	return m.tasks[t.info.ID] == t && t.ctx.Err() == nil
}

// run executes fn on a new goroutine and reports its progress. finish is
// called with m.mu held and decides whether the result is delivered.
func (m *Manager) run(t *task, fn func(ctx context.Context) error, finish func(delivered bool, err error)) {
	go func() {
		defer m.wg.Done()
		m.progress(t.info, TaskStatusRunning, nil)

		err := safely(func() error { return fn(t.ctx) })

		m.mu.Lock()
		delivered := m.live(t)
		if m.tasks[t.info.ID] == t {
			delete(m.tasks, t.info.ID)
		}
		finish(delivered, err)
		m.mu.Unlock()
		t.cancel()

		status := TaskStatusComplete
		switch {
		case !delivered:
			status = TaskStatusCancelled
		case err != nil:
			status = TaskStatusError
		}
		t.done(err)
		m.progress(t.info, status, err)
	}()
}

func (m *Manager) progress(info TaskInfo, status TaskStatus, err error) {
	if m.cfg.OnProgress != nil {
		m.cfg.OnProgress(info, status, err)
	}
	switch status {
	case TaskStatusError:
		m.logf("%s task %s on %s failed: %v", info.Kind, info.ID, describe(info), err)
	case TaskStatusComplete:
		m.logf("%s task on %s finished in %s", info.Kind, describe(info), m.cfg.Clock.Since(info.StartedAt).Round(time.Millisecond))
	}
}

func describe(info TaskInfo) string {
	parts := []string{info.Path}
	if info.Measure != "" {
		parts = append(parts, string(info.Measure))
	}
	if info.Period > 0 {
		parts = append(parts, fmt.Sprintf("period %d", info.Period))
	}
	return strings.Join(parts, " / ")
}

// Tasks returns the in-flight tasks ordered by start time.
func (m *Manager) Tasks() []TaskInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]TaskInfo, 0, len(m.tasks))
	for _, t := range m.tasks {
		infos = append(infos, t.info)
	}
	slices.SortFunc(infos, func(a, b TaskInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return infos
}

// safely runs fn, turning a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
