// File: multiserver/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package multiserver

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrPoolClosed is returned by Submit once Close has been called.
var ErrPoolClosed = errors.New("multiserver: dispatch pool closed")

// slotTask runs one slot's worker for the lifetime of its occupancy; it
// returns when the slot's worker is done (disconnect, or pool shutdown).
type slotTask func()

// dispatchPool runs a fixed number of goroutines draining slotTasks from
// a shared queue. queue.Queue is not safe for concurrent access, so the
// pool guards it with a mutex.
type dispatchPool struct {
	mu   sync.Mutex
	q    *queue.Queue
	stop chan struct{}
	n    int
}

func newDispatchPool(numWorkers int) *dispatchPool {
	p := &dispatchPool{
		q:    queue.New(),
		stop: make(chan struct{}),
		n:    numWorkers,
	}
	for i := 0; i < numWorkers; i++ {
		go p.runWorker()
	}
	return p
}

// NumWorkers reports the pool's fixed goroutine count.
func (p *dispatchPool) NumWorkers() int { return p.n }

// Submit enqueues task for a free worker to pick up. Submit never blocks;
// the underlying queue grows as needed.
func (p *dispatchPool) Submit(task slotTask) error {
	select {
	case <-p.stop:
		return ErrPoolClosed
	default:
	}
	p.mu.Lock()
	p.q.Add(task)
	p.mu.Unlock()
	return nil
}

// Close stops accepting new tasks. Already-dispatched tasks (running
// slot workers) are not interrupted; callers stop them independently via
// Slot/Server teardown.
func (p *dispatchPool) Close() {
	close(p.stop)
}

func (p *dispatchPool) tryTake() (slotTask, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q.Length() == 0 {
		return nil, false
	}
	item := p.q.Remove()
	task, ok := item.(slotTask)
	return task, ok
}

func (p *dispatchPool) runWorker() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		task, ok := p.tryTake()
		if !ok {
			continue
		}
		task()
	}
}
