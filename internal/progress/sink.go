package progress

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Fanout satisfies this interface so the
// engine stays agnostic about where events go.
type Emitter interface {
	Emit(evt Event)
}

const defaultSinkTimeout = 5 * time.Second

// Fanout delivers every event synchronously to each sink, preserving the
// order in which the engine emitted them. Sink failures are logged and never
// reach the caller.
type Fanout struct {
	sinks       []Sink
	logger      *zap.Logger
	sinkTimeout time.Duration
}

// NewFanout returns a Fanout over sinks. A nil logger is replaced by a no-op.
func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
	}
}

// Emit validates evt and hands it to every sink.
func (f *Fanout) Emit(evt Event) {
	if f == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		f.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	batch := []Event{evt}
	for _, sink := range f.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), f.sinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			f.logger.Warn("progress sink consume failed", zap.String("stage", string(evt.Stage)), zap.Error(err))
		}
		cancel()
	}
}

// Close closes every sink and joins their errors.
func (f *Fanout) Close(ctx context.Context) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
