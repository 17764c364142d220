package server

import (
	"fmt"
	"sync"

	"github.com/chazu/yarvil/ilgen"
)

// workRequest is a unit of work to run on the translation goroutine.
type workRequest struct {
	fn   func() any
	done chan workResult
}

type workResult struct {
	value any
	err   error
}

// Worker serializes translations through a single goroutine. The
// environment and counters it translates against are shared, so requests
// never run concurrently.
type Worker struct {
	requests chan workRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker and starts its goroutine.
func NewWorker() *Worker {
	w := &Worker{
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, turning a panic into an error. Translator invariant
// violations keep their type so callers can tell them apart.
func (w *Worker) execute(fn func() any) (result workResult) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(ilgen.InvariantError); ok {
				log.Errorf("translation panicked: %s", ie)
				result.err = ie
				return
			}
			result.err = fmt.Errorf("%v", r)
		}
	}()
	result.value = fn()
	return result
}

// Do runs fn on the worker goroutine and waits for it. A panic in fn is
// returned as the error.
func (w *Worker) Do(fn func() any) (any, error) {
	select {
	case <-w.quit:
		return nil, ErrStopped
	default:
	}
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrStopped
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.quit:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}
