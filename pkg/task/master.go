package task

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/albertocavalcante/ambuild/internal/log"
)

// ErrTaskFailed is returned by Master.Run when a task did not succeed.
var ErrTaskFailed = errors.New("task failed")

// Handler consumes results in the goroutine that called Run. Returning an
// error fails the build the same way a failed task does.
type Handler func(*Result) error

// Master hands ready tasks to workers and unlocks their consumers as
// results come back.
type Master struct {
	Graph  *Graph
	Worker *Worker
	Jobs   int
}

// JobCount returns how many workers to start. Zero jobs means one and a half
// per CPU, with a floor of two. The count never exceeds the number of tasks.
func JobCount(jobs, cpus, tasks int) int {
	n := jobs
	if n <= 0 {
		if cpus <= 1 {
			n = 2
		} else {
			n = cpus * 3 / 2
		}
	}
	if n > tasks {
		n = tasks
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run executes the graph. Once a task fails no new task is started, but
// tasks already running are allowed to finish and are still handled.
func (m *Master) Run(ctx context.Context, handle Handler) error {
	if m.Graph.Len() == 0 {
		return nil
	}
	logger := log.Component("task")
	jobs := JobCount(m.Jobs, runtime.NumCPU(), m.Graph.Len())
	logger.Debug("starting workers", "jobs", jobs, "tasks", m.Graph.Len())

	pending := make(map[*Task]int, m.Graph.Len())
	for _, t := range m.Graph.Tasks {
		pending[t] = t.incoming
	}
	ready := append([]*Task(nil), m.Graph.roots...)

	work := make(chan *Task)
	done := make(chan *Result)

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Go(func() {
			for t := range work {
				done <- m.Worker.Execute(ctx, i, t)
			}
		})
	}

	var failure error
	running, finished := 0, 0
	ctxDone := ctx.Done()
	for {
		var send chan *Task
		var next *Task
		if failure == nil && len(ready) > 0 {
			send = work
			next = ready[len(ready)-1]
		}
		if send == nil && running == 0 {
			break
		}

		select {
		case send <- next:
			ready = ready[:len(ready)-1]
			running++
		case r := <-done:
			running--
			finished++
			logger.Log(context.Background(), log.LevelTrace, "task finished",
				"id", r.Task.ID, "status", r.Status, "worker", r.Worker)

			if err := handle(r); err != nil && failure == nil {
				failure = err
			}
			if !r.OK() {
				if failure == nil {
					failure = taskError(r)
				}
				continue
			}
			for _, next := range r.Task.outgoing {
				pending[next]--
				if pending[next] == 0 {
					ready = append(ready, next)
				}
			}
		case <-ctxDone:
			ctxDone = nil
			if failure == nil {
				failure = ctx.Err()
			}
		}
	}

	close(work)
	wg.Wait()

	if failure == nil && finished != m.Graph.Len() {
		failure = fmt.Errorf("only %d of %d tasks completed", finished, m.Graph.Len())
	}
	return failure
}

// taskError names the failed task and, when known, why it failed.
func taskError(r *Result) error {
	if r.Err == nil {
		return fmt.Errorf("%w: %s", ErrTaskFailed, r.Task.Format())
	}
	return fmt.Errorf("%w: %s: %w", ErrTaskFailed, r.Task.Format(), r.Err)
}
