package optimizer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

var ErrWorkerPanic = errors.New("evaluation worker panicked")

// workerPool keeps a fixed set of goroutines alive for a whole run. Each
// round submits one task per shard and waits for all of them.
type workerPool struct {
	size  int
	tasks chan func()
	wg    sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	p := &workerPool{size: size, tasks: make(chan func())}
	p.wg.Add(size)
	for w := 0; w < size; w++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// run executes every shard and returns once all have finished. A panicking
// shard is reported as an error wrapping ErrWorkerPanic.
func (p *workerPool) run(shards []func() error) error {
	errs := make([]error, len(shards))
	var round sync.WaitGroup
	round.Add(len(shards))
	for i, shard := range shards {
		p.tasks <- func() {
			defer round.Done()
			var catcher panics.Catcher
			catcher.Try(func() {
				errs[i] = shard()
			})
			if r := catcher.Recovered(); r != nil {
				errs[i] = fmt.Errorf("%w: %w", ErrWorkerPanic, r.AsError())
			}
		}
	}
	round.Wait()
	return errors.Join(errs...)
}

func (p *workerPool) close() {
	close(p.tasks)
	p.wg.Wait()
}
