package pipeline

import "context"

// Source emits the payloads that enter a pipeline.
type Source interface {
	// Next advances the source and reports whether a payload is available.
	// It returns false once the source is drained or fails.
	Next(context.Context) bool

	// Payload returns the payload loaded by the last call to Next.
	Payload() Payload

	// Error returns the error, if any, that stopped the source.
	Error() error
}

// Payload is the unit of work that travels through the pipeline stages.
type Payload interface {
	// Clone returns a deep copy of the payload.
	Clone() Payload

	// MarkAsProcessed is called once the payload either reaches the sink or
	// is dropped by a stage, so it can be recycled.
	MarkAsProcessed()
}

// Processor transforms a payload for a single stage. Returning a nil payload
// drops it; returning an error aborts the whole pipeline.
type Processor interface {
	Process(context.Context, Payload) (Payload, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(context.Context, Payload) (Payload, error)

// Process calls f(ctx, p).
func (f ProcessorFunc) Process(ctx context.Context, p Payload) (Payload, error) {
	return f(ctx, p)
}

// ProcessorFactory builds the processor owned by one pool worker. It is
// invoked when the worker starts; if the returned processor also implements
// io.Closer it is closed when the worker exits.
type ProcessorFactory func(ctx context.Context, worker int) (Processor, error)

// StageRunner executes one stage of the pipeline. Run blocks until its input
// channel is closed, the context is cancelled or a processor fails.
type StageRunner interface {
	Run(context.Context, StageParams)
}

// StageParams carries the channels wired to a stage.
type StageParams interface {
	// StageIndex returns the position of the stage in the pipeline.
	StageIndex() int

	// Input returns the channel the stage reads payloads from.
	Input() <-chan Payload

	// Output returns the channel the stage writes payloads to.
	Output() chan<- Payload

	// Error returns the channel the stage reports errors on.
	Error() chan<- error
}

// Sink consumes the payloads that leave the last stage.
type Sink interface {
	Consume(context.Context, Payload) error
}

var _ StageParams = (*stageParams)(nil)

type stageParams struct {
	stage   int
	inChan  <-chan Payload
	outChan chan<- Payload
	errChan chan<- error
}

func (p *stageParams) StageIndex() int        { return p.stage }
func (p *stageParams) Input() <-chan Payload  { return p.inChan }
func (p *stageParams) Output() chan<- Payload { return p.outChan }
func (p *stageParams) Error() chan<- error    { return p.errChan }
