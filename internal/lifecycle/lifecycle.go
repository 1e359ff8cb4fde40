// Package lifecycle dispatches plugin-provided hooks at each pipeline stage.
// Listeners are capability objects: every hook is optional and presence is
// checked before invoking, never type identity. The dispatcher is generic
// over the request-context type so it carries no dependency on the pipeline.
package lifecycle

import "fmt"

// EndFunc closes out a did-start stage hook. The error is the stage's
// failure, or nil on success.
type EndFunc func(err error)

// StartHook begins a stage and may return an EndFunc to be called when the
// stage completes.
type StartHook[T any] func(rc T) EndFunc

// Hook observes a stage event and may veto it with an error.
type Hook[T any] func(rc T) error

// RequestListener holds the optional per-stage hooks one plugin registered
// for one request. Nil fields are skipped transparently.
type RequestListener[T any] struct {
	ParsingDidStart     StartHook[T]
	ValidationDidStart  StartHook[T]
	DidResolveOperation Hook[T]
	ExecutionDidStart   StartHook[T]
	DidEncounterErrors  Hook[T]
	WillSendResponse    Hook[T]
}

// Plugin creates request-scoped listeners. RequestDidStart may be nil, and
// may return nil to opt out of a particular request.
type Plugin[T any] struct {
	RequestDidStart func(rc T) *RequestListener[T]
}

// Dispatcher fans hook invocations out to the listeners created for one
// request. Listeners always fire in plugin registration order; end hooks fire
// in the same order as start hooks, not reversed.
type Dispatcher[T any] struct {
	listeners []*RequestListener[T]
}

// NewDispatcher invokes each plugin's RequestDidStart factory in registration
// order and keeps the returned listeners. A plugin panic here is surfaced as
// an error since no request processing has begun yet.
func NewDispatcher[T any](plugins []*Plugin[T], rc T) (d *Dispatcher[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin RequestDidStart panicked: %v", r)
		}
	}()
	d = &Dispatcher[T]{}
	for _, p := range plugins {
		if p == nil || p.RequestDidStart == nil {
			continue
		}
		if l := p.RequestDidStart(rc); l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
	return d, nil
}

// invokeDidStart calls each listener's start hook in order, collecting end
// callbacks, and returns one combined end callback that forwards its error to
// every collected callback in the same order.
func (d *Dispatcher[T]) invokeDidStart(rc T, pick func(*RequestListener[T]) StartHook[T]) EndFunc {
	var ends []EndFunc
	for _, l := range d.listeners {
		hook := pick(l)
		if hook == nil {
			continue
		}
		if end := hook(rc); end != nil {
			ends = append(ends, end)
		}
	}
	return func(err error) {
		for _, end := range ends {
			end(err)
		}
	}
}

// invokeSequential calls each listener's hook in order, awaiting each before
// the next. The first error propagates immediately and remaining listeners
// are skipped.
func (d *Dispatcher[T]) invokeSequential(rc T, pick func(*RequestListener[T]) Hook[T]) error {
	for _, l := range d.listeners {
		hook := pick(l)
		if hook == nil {
			continue
		}
		if err := hook(rc); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher[T]) ParsingDidStart(rc T) EndFunc {
	return d.invokeDidStart(rc, func(l *RequestListener[T]) StartHook[T] { return l.ParsingDidStart })
}

func (d *Dispatcher[T]) ValidationDidStart(rc T) EndFunc {
	return d.invokeDidStart(rc, func(l *RequestListener[T]) StartHook[T] { return l.ValidationDidStart })
}

func (d *Dispatcher[T]) ExecutionDidStart(rc T) EndFunc {
	return d.invokeDidStart(rc, func(l *RequestListener[T]) StartHook[T] { return l.ExecutionDidStart })
}

func (d *Dispatcher[T]) DidResolveOperation(rc T) error {
	return d.invokeSequential(rc, func(l *RequestListener[T]) Hook[T] { return l.DidResolveOperation })
}

func (d *Dispatcher[T]) DidEncounterErrors(rc T) error {
	return d.invokeSequential(rc, func(l *RequestListener[T]) Hook[T] { return l.DidEncounterErrors })
}

func (d *Dispatcher[T]) WillSendResponse(rc T) error {
	return d.invokeSequential(rc, func(l *RequestListener[T]) Hook[T] { return l.WillSendResponse })
}
