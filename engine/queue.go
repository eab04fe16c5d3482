package engine

import "sync"

// taskQueue is an unbounded FIFO drained by exactly one goroutine. Every
// mutating operation against the sandbox runs as a task, which gives them
// a total order.
type taskQueue struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.work()
	return q
}

// push appends a task. It returns false once the queue is closed.
func (q *taskQueue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, task)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// close stops accepting tasks, lets the worker drain what is queued, and
// waits for it to exit.
func (q *taskQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *taskQueue) work() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.signal
			continue
		}
		task := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		task()
	}
}
