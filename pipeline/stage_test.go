package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	check "gopkg.in/check.v1"

	"github.com/mycok/zhsearch/pipeline"
)

var _ = check.Suite(new(stageRunnerTestSuite))

type stageRunnerTestSuite struct{}

func (s *stageRunnerTestSuite) TestFIFOKeepsArrivalOrder(c *check.C) {
	stages := make([]pipeline.StageRunner, 4)
	for i := range stages {
		stages[i] = pipeline.NewFIFO(generatePassThruProcessor())
	}

	src := &sourceStub{data: makeURLPayloads(20)}
	sink := new(sinkStub)

	c.Assert(pipeline.New(stages...).Execute(context.TODO(), src, sink), check.IsNil)
	c.Assert(sink.data, check.HasLen, 20)
	for i, p := range sink.data {
		c.Assert(p.(*urlPayload).seq, check.Equals, i)
	}
	assertAllPayloadProcessed(c, src.data...)
}

func (s *stageRunnerTestSuite) TestFixedWorkerPoolFetchesInParallel(c *check.C) {
	const workers = 10

	executed := assertParallelism(c, workers, workers, func(proc pipeline.Processor) pipeline.StageRunner {
		return pipeline.NewFixedWorkerPool(proc, workers)
	})
	c.Assert(executed, check.Equals, workers)
}

func (s *stageRunnerTestSuite) TestDynamicWorkerPoolCapsWorkers(c *check.C) {
	const maxWorkers = 5

	executed := assertParallelism(c, maxWorkers, maxWorkers*2, func(proc pipeline.Processor) pipeline.StageRunner {
		return pipeline.NewDynamicWorkerPool(proc, maxWorkers)
	})
	c.Assert(executed, check.Equals, maxWorkers*2)
}

// assertParallelism pushes batch payloads through the stage built by newStage
// and checks that `parallel` of them are in flight at once. Every payload is
// dropped by the processor. It returns how many payloads were processed.
func assertParallelism(c *check.C, parallel, batch int, newStage func(pipeline.Processor) pipeline.StageRunner) int {
	var executed int32
	inFlight := make(chan struct{}, batch)
	release := make(chan struct{})
	done := make(chan struct{})

	proc := pipeline.ProcessorFunc(func(context.Context, pipeline.Payload) (pipeline.Payload, error) {
		inFlight <- struct{}{}
		<-release
		atomic.AddInt32(&executed, 1)

		return nil, nil
	})

	src := &sourceStub{data: makeURLPayloads(batch)}
	go func() {
		defer close(done)
		c.Check(pipeline.New(newStage(proc)).Execute(context.TODO(), src, nil), check.IsNil)
	}()

	for i := 0; i < parallel; i++ {
		select {
		case <-inFlight:
		case <-time.After(10 * time.Second):
			c.Fatalf("only %d of %d payloads were in flight", i, parallel)
		}
	}
	close(release)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		c.Fatal("timed out waiting for the batch to finish")
	}

	assertAllPayloadProcessed(c, src.data...)

	return int(atomic.LoadInt32(&executed))
}

func (s *stageRunnerTestSuite) TestPerWorkerPoolOwnsProcessors(c *check.C) {
	const numOfWorkers = 4

	var (
		mu      sync.Mutex
		created []*closingProcessor
	)

	factory := func(_ context.Context, worker int) (pipeline.Processor, error) {
		mu.Lock()
		defer mu.Unlock()

		proc := &closingProcessor{worker: worker}
		created = append(created, proc)

		return proc, nil
	}

	src := &sourceStub{data: makeURLPayloads(20)}
	sink := new(sinkStub)
	p := pipeline.New(pipeline.NewPerWorkerPool(factory, numOfWorkers))

	err := p.Execute(context.TODO(), src, sink)
	c.Assert(err, check.IsNil)
	c.Assert(sink.data, check.HasLen, 20)
	c.Assert(created, check.HasLen, numOfWorkers)

	var total int
	for _, proc := range created {
		c.Assert(proc.closed, check.Equals, true, check.Commentf("worker %d was not closed", proc.worker))
		total += proc.calls
	}
	c.Assert(total, check.Equals, 20)
}

func (s *stageRunnerTestSuite) TestPerWorkerPoolFactoryError(c *check.C) {
	factory := func(_ context.Context, worker int) (pipeline.Processor, error) {
		return nil, errors.New("no connection available")
	}

	src := &sourceStub{data: makeURLPayloads(3)}
	p := pipeline.New(pipeline.NewPerWorkerPool(factory, 2))

	err := p.Execute(context.TODO(), src, new(sinkStub))
	c.Assert(err, check.ErrorMatches, "(?s).*no connection available.*")
}

func (s *stageRunnerTestSuite) TestDynamicWorkerPoolReuse(c *check.C) {
	runner := pipeline.NewDynamicWorkerPool(generatePassThruProcessor(), 2)

	for i := 0; i < 3; i++ {
		src := &sourceStub{data: makeURLPayloads(5)}
		sink := new(sinkStub)

		err := pipeline.New(runner).Execute(context.TODO(), src, sink)
		c.Assert(err, check.IsNil)
		c.Assert(sink.data, check.HasLen, 5)
	}
}

type closingProcessor struct {
	worker int
	calls  int
	closed bool
}

func (p *closingProcessor) Process(_ context.Context, payload pipeline.Payload) (pipeline.Payload, error) {
	p.calls++

	return payload, nil
}

func (p *closingProcessor) Close() error {
	p.closed = true

	return nil
}

func generatePassThruProcessor() pipeline.Processor {
	return pipeline.ProcessorFunc(
		func(_ context.Context, p pipeline.Payload) (pipeline.Payload, error) {
			return p, nil
		})
}
