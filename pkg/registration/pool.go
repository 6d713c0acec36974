package registration

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"demonsreg/pkg/barrier"
)

// Launcher starts goroutines and joins them. *errgroup.Group satisfies it.
type Launcher interface {
	// TryGo starts fn in a new goroutine, or reports false if it cannot.
	TryGo(fn func() error) bool

	// Wait blocks until every started goroutine has returned.
	Wait() error
}

func newErrgroupLauncher(threads int) Launcher {
	g := new(errgroup.Group)
	g.SetLimit(threads)
	return g
}

// phaseTask is one unit of dispatched work: the function every worker runs
// on its own thread id, and the barrier that closes the phase.
type phaseTask struct {
	fn      func(threadID int) error
	barrier *barrier.Barrier
}

// workerPool is a fixed set of goroutines reused for every phase of a run.
// Workers block only while waiting for a task and at the phase barrier.
type workerPool struct {
	tasks    []chan phaseTask
	errs     []error
	launcher Launcher
	stopOnce sync.Once
	stopErr  error
}

func startPool(threads int, newLauncher func(int) Launcher) (*workerPool, error) {
	p := &workerPool{
		tasks:    make([]chan phaseTask, threads),
		errs:     make([]error, threads),
		launcher: newLauncher(threads),
	}
	for i := range p.tasks {
		p.tasks[i] = make(chan phaseTask, 1)
	}

	for id := 0; id < threads; id++ {
		id := id
		if !p.launcher.TryGo(func() error { return p.work(id) }) {
			if err := p.stop(); err != nil {
				return nil, fmt.Errorf("%w: could not start worker %d of %d: %v",
					ErrDispatchFailure, id, threads, err)
			}
			return nil, fmt.Errorf("%w: could not start worker %d of %d", ErrDispatchFailure, id, threads)
		}
	}
	return p, nil
}

// runParallel executes fn on every worker and returns once all of them have
// crossed b. The caller is the last party of b. The error of the lowest
// failing thread id is returned.
func (p *workerPool) runParallel(fn func(threadID int) error, b *barrier.Barrier) error {
	task := phaseTask{fn: fn, barrier: b}
	for _, ch := range p.tasks {
		ch <- task
	}
	b.Wait()

	for _, err := range p.errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *workerPool) work(id int) error {
	for task := range p.tasks[id] {
		// the error slot is read by the coordinator only after the barrier
		p.errs[id] = execute(id, task.fn)
		task.barrier.Wait()
	}
	return nil
}

func execute(id int, fn func(int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: worker %d panicked: %v", ErrDispatchFailure, id, r)
		}
	}()
	return fn(id)
}

// stop releases the workers and joins them.
func (p *workerPool) stop() error {
	p.stopOnce.Do(func() {
		for _, ch := range p.tasks {
			close(ch)
		}
		if err := p.launcher.Wait(); err != nil {
			p.stopErr = fmt.Errorf("%w: joining workers: %v", ErrDispatchFailure, err)
		}
	})
	return p.stopErr
}
