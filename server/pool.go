package server

import (
	"context"
	"fmt"
	"sync"
)

// poolRequest represents a unit of work to be executed on a worker.
type poolRequest struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan poolResult
}

// poolResult holds the return value of a unit of work.
type poolResult struct {
	value any
	err   error
}

// Pool runs executions on a fixed set of worker goroutines. Each execution
// owns its interpreter, so workers share nothing; the pool only bounds how
// many run at once.
type Pool struct {
	requests chan poolRequest
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool creates a Pool and starts its workers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		requests: make(chan poolRequest, 64),
		quit:     make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

// loop processes requests until the pool stops.
func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			req.done <- p.execute(req)
		case <-p.quit:
			return
		}
	}
}

// execute runs one request, recovering from panics.
func (p *Pool) execute(req poolRequest) (result poolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker recovered from panic: %v", r)
			result = poolResult{err: fmt.Errorf("%v", r)}
		}
	}()
	if err := req.ctx.Err(); err != nil {
		return poolResult{err: err}
	}
	value, err := req.fn(req.ctx)
	return poolResult{value: value, err: err}
}

// Do submits fn and blocks until a worker has run it. It gives up early
// when ctx is done before a worker picks the request up.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	req := poolRequest{
		ctx:  ctx,
		fn:   fn,
		done: make(chan poolResult, 1),
	}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, fmt.Errorf("pool stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-p.quit:
		// a worker may have taken the request just before stopping
		p.wg.Wait()
		select {
		case result := <-req.done:
			return result.value, result.err
		default:
			return nil, fmt.Errorf("pool stopped")
		}
	}
}

// Stop shuts down the workers and waits for running requests to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}
