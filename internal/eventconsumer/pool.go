package eventconsumer

import (
	"context"
	"sync"
)

// pool bounds the number of events processed concurrently, so a burst of
// audit traffic cannot open unbounded policy-evaluation goroutines.
type pool struct {
	jobs chan RawEvent
	wg   sync.WaitGroup
}

func newPool(ctx context.Context, size int, worker func(context.Context, RawEvent)) *pool {
	if size <= 0 {
		size = 4
	}
	p := &pool{jobs: make(chan RawEvent, size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				worker(ctx, job)
			}
		}()
	}
	return p
}

func (p *pool) submit(e RawEvent) {
	p.jobs <- e
}

func (p *pool) close() {
	close(p.jobs)
	p.wg.Wait()
}
