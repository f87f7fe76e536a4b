package cache

import "sync"

// rebuildPool is a fixed-size worker pool for background cache rebuilds.
// Submission is non-blocking: when the backlog is full the task is refused
// and the caller decides what to do (in practice: skip the rebuild and keep
// serving stale data).
type rebuildPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newRebuildPool(workers, backlog int) *rebuildPool {
	p := &rebuildPool{tasks: make(chan func(), backlog)}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit enqueues task, reporting false if the pool is saturated or closed.
func (p *rebuildPool) submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// close stops accepting tasks, runs what is already queued, and waits for
// the workers to finish.
func (p *rebuildPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
