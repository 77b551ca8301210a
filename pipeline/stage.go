package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type fifo struct {
	proc Processor
}

// NewFIFO returns a StageRunner that processes payloads one at a time, in
// arrival order.
func NewFIFO(proc Processor) StageRunner {
	return fifo{proc: proc}
}

// Run implements StageRunner.
func (r fifo) Run(ctx context.Context, params StageParams) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-params.Input():
			if !ok {
				return
			}

			out, err := r.proc.Process(ctx, in)
			if err != nil {
				emitError(fmt.Errorf("pipeline stage %d: %w", params.StageIndex(), err), params.Error())

				return
			}

			if out == nil {
				in.MarkAsProcessed()

				continue
			}

			select {
			case <-ctx.Done():
				return
			case params.Output() <- out:
			}
		}
	}
}

type fixedWorkerPool struct {
	fifos []StageRunner
}

// NewFixedWorkerPool returns a StageRunner that spreads payloads over
// numOfWorkers FIFO workers sharing the same processor.
func NewFixedWorkerPool(proc Processor, numOfWorkers int) StageRunner {
	if numOfWorkers <= 0 {
		panic("FixedWorkerPool: numOfWorkers must be > 0")
	}

	fifos := make([]StageRunner, numOfWorkers)
	for i := range fifos {
		fifos[i] = NewFIFO(proc)
	}

	return fixedWorkerPool{fifos: fifos}
}

// Run implements StageRunner. Workers compete for the shared input channel,
// so an idle worker picks up the next payload.
func (r fixedWorkerPool) Run(ctx context.Context, params StageParams) {
	var wg sync.WaitGroup

	for i := range r.fifos {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			r.fifos[idx].Run(ctx, params)
		}(i)
	}

	wg.Wait()
}

type perWorkerPool struct {
	factory      ProcessorFactory
	numOfWorkers int
}

// NewPerWorkerPool returns a StageRunner with numOfWorkers workers, each of
// which owns a private processor built by factory when the worker starts.
// Processors implementing io.Closer are closed when their worker exits. It
// suits processors holding a resource that must not be shared between
// goroutines, such as a database connection.
func NewPerWorkerPool(factory ProcessorFactory, numOfWorkers int) StageRunner {
	if numOfWorkers <= 0 {
		panic("PerWorkerPool: numOfWorkers must be > 0")
	}

	return perWorkerPool{factory: factory, numOfWorkers: numOfWorkers}
}

// Run implements StageRunner.
func (r perWorkerPool) Run(ctx context.Context, params StageParams) {
	var wg sync.WaitGroup

	for i := 0; i < r.numOfWorkers; i++ {
		wg.Add(1)

		go func(worker int) {
			defer wg.Done()

			proc, err := r.factory(ctx, worker)
			if err != nil {
				emitError(
					fmt.Errorf("pipeline stage %d: worker %d: %w", params.StageIndex(), worker, err),
					params.Error(),
				)

				return
			}

			if closer, ok := proc.(io.Closer); ok {
				defer func() {
					if err := closer.Close(); err != nil {
						emitError(
							fmt.Errorf("pipeline stage %d: worker %d: close: %w", params.StageIndex(), worker, err),
							params.Error(),
						)
					}
				}()
			}

			NewFIFO(proc).Run(ctx, params)
		}(i)
	}

	wg.Wait()
}

type dynamicWorkerPool struct {
	proc      Processor
	tokenPool chan struct{}
}

// NewDynamicWorkerPool returns a StageRunner that starts a goroutine per
// payload, with at most maxNumOfWorkers running at once.
func NewDynamicWorkerPool(proc Processor, maxNumOfWorkers int) StageRunner {
	if maxNumOfWorkers <= 0 {
		panic("DynamicWorkerPool: maxNumOfWorkers must be > 0")
	}

	tokenPool := make(chan struct{}, maxNumOfWorkers)
	for i := 0; i < maxNumOfWorkers; i++ {
		tokenPool <- struct{}{}
	}

	return dynamicWorkerPool{proc: proc, tokenPool: tokenPool}
}

// Run implements StageRunner.
func (r dynamicWorkerPool) Run(ctx context.Context, params StageParams) {
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case in, ok := <-params.Input():
			if !ok {
				break loop
			}

			var token struct{}
			select {
			case <-ctx.Done():
				break loop
			case token = <-r.tokenPool:
			}

			go func(p Payload) {
				defer func() { r.tokenPool <- token }()

				out, err := r.proc.Process(ctx, p)
				if err != nil {
					emitError(fmt.Errorf("pipeline stage %d: %w", params.StageIndex(), err), params.Error())

					return
				}

				if out == nil {
					p.MarkAsProcessed()

					return
				}

				select {
				case <-ctx.Done():
				case params.Output() <- out:
				}
			}(in)
		}
	}

	// Reclaiming every token waits for the in-flight goroutines. The tokens
	// are handed back afterwards so the runner can serve another Execute.
	for i := 0; i < cap(r.tokenPool); i++ {
		<-r.tokenPool
	}
	for i := 0; i < cap(r.tokenPool); i++ {
		r.tokenPool <- struct{}{}
	}
}
