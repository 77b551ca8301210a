// Package pipeline runs payloads from a Source through a chain of stages into
// a Sink. The crawler executes one pipeline per crawl batch, so a call to
// Execute is also the batch barrier: it returns only after every payload of
// the batch has been consumed or dropped.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Pipeline is an ordered list of stages.
type Pipeline struct {
	stages []StageRunner
}

// New returns a pipeline made of the given stages.
func New(stages ...StageRunner) *Pipeline {
	return &Pipeline{stages: stages}
}

// Execute drains src through all stages into sink. It blocks until the
// source is exhausted and every stage has exited, until a component reports
// an error, or until ctx is cancelled. All reported errors are aggregated.
//
// Execute may be called concurrently with different sources and sinks.
func (p *Pipeline) Execute(ctx context.Context, src Source, sink Sink) error {
	var wg sync.WaitGroup
	execCtx, cancel := context.WithCancel(ctx)

	// chans[i] feeds stage i; the extra channel feeds the sink.
	chans := make([]chan Payload, len(p.stages)+1)
	for i := range chans {
		chans[i] = make(chan Payload)
	}

	errChan := make(chan error, len(p.stages)+2)

	for i := range p.stages {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			p.stages[idx].Run(execCtx, &stageParams{
				stage:   idx,
				inChan:  chans[idx],
				outChan: chans[idx+1],
				errChan: errChan,
			})

			// No more output from this stage; let the next one drain.
			close(chans[idx+1])
		}(i)
	}

	wg.Add(2)

	go func() {
		defer wg.Done()

		runSource(execCtx, src, chans[0], errChan)
		close(chans[0])
	}()

	go func() {
		defer wg.Done()

		runSink(execCtx, sink, chans[len(chans)-1], errChan)
	}()

	go func() {
		wg.Wait()
		close(errChan)
		cancel()
	}()

	var err error
	for stageErr := range errChan {
		err = multierror.Append(err, stageErr)
		cancel()
	}

	return err
}

func runSource(ctx context.Context, src Source, out chan<- Payload, errChan chan<- error) {
	for src.Next(ctx) {
		select {
		case <-ctx.Done():
			return
		case out <- src.Payload():
		}
	}

	if err := src.Error(); err != nil {
		emitError(fmt.Errorf("pipeline source: %w", err), errChan)
	}
}

func runSink(ctx context.Context, sink Sink, in <-chan Payload, errChan chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-in:
			if !ok {
				return
			}

			if err := sink.Consume(ctx, payload); err != nil {
				emitError(fmt.Errorf("pipeline sink: %w", err), errChan)

				return
			}

			payload.MarkAsProcessed()
		}
	}
}

// emitError never blocks; when the buffer is full the error is dropped since
// an earlier one has already triggered shutdown.
func emitError(err error, errChan chan<- error) {
	select {
	case errChan <- err:
	default:
	}
}
