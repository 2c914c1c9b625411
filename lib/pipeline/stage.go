package pipeline

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAwaitTimeout is returned by Stage.Await when the stage does not resolve
// within the given duration. The stage itself stays unresolved.
var ErrAwaitTimeout = errors.New("pipeline: await timed out")

// --------------------------------------------------------------------------
// Stage Definition
// --------------------------------------------------------------------------

// Stage is a deferred, possibly not-yet-resolved result of an invocation.
// It resolves exactly once, to either a value or an error; continuations
// attached before resolution run in registration order when the stage
// resolves, continuations attached afterwards run immediately on the
// caller's goroutine.
type Stage struct {
	mu        sync.Mutex
	resolved  bool
	value     any
	err       error
	done      chan struct{}
	callbacks []func(any, error)
}

// NewStage creates an unresolved stage.
func NewStage() *Stage {
	return &Stage{done: make(chan struct{})}
}

// CompletedStage creates a stage already resolved with the given value.
func CompletedStage(v any) *Stage {
	s := NewStage()
	s.Complete(v)
	return s
}

// FailedStage creates a stage already resolved with the given error.
func FailedStage(err error) *Stage {
	s := NewStage()
	s.Fail(err)
	return s
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

// Complete resolves the stage with a value. It returns true if this call
// performed the resolution and false if the stage was already resolved.
func (s *Stage) Complete(v any) bool {
	return s.resolve(v, nil)
}

// Fail resolves the stage with an error. It returns true if this call
// performed the resolution and false if the stage was already resolved.
func (s *Stage) Fail(err error) bool {
	return s.resolve(nil, err)
}

func (s *Stage) resolve(v any, err error) bool {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return false
	}
	s.resolved = true
	s.value = v
	s.err = err
	callbacks := s.callbacks
	s.callbacks = nil
	close(s.done)
	s.mu.Unlock()

	// Run continuations outside the lock, in registration order.
	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// whenResolved registers fn to run once the stage resolves. If the stage is
// already resolved, fn runs immediately.
func (s *Stage) whenResolved(fn func(any, error)) {
	s.mu.Lock()
	if !s.resolved {
		s.callbacks = append(s.callbacks, fn)
		s.mu.Unlock()
		return
	}
	v, err := s.value, s.err
	s.mu.Unlock()
	fn(v, err)
}

// --------------------------------------------------------------------------
// Composition
// --------------------------------------------------------------------------

// Handle returns a stage that resolves with the outcome of fn applied to
// this stage's result. fn observes success and failure alike: it may recover
// an error by returning a value with a nil error, or replace a value with an
// error.
func (s *Stage) Handle(fn func(v any, err error) (any, error)) *Stage {
	out := NewStage()
	s.whenResolved(func(v any, err error) {
		nv, nerr := fn(v, err)
		if nerr != nil {
			out.Fail(nerr)
		} else {
			out.Complete(nv)
		}
	})
	return out
}

// ThenAccept returns a stage that runs fn only on success. A failure passes
// through unchanged; a non-nil error returned by fn replaces the value.
func (s *Stage) ThenAccept(fn func(v any) error) *Stage {
	return s.Handle(func(v any, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		if ferr := fn(v); ferr != nil {
			return nil, ferr
		}
		return v, nil
	})
}

// Compose returns a stage that resolves with the result of the stage fn
// produces from this stage's outcome.
func (s *Stage) Compose(fn func(v any, err error) *Stage) *Stage {
	out := NewStage()
	s.whenResolved(func(v any, err error) {
		inner := fn(v, err)
		inner.whenResolved(func(iv any, ierr error) {
			if ierr != nil {
				out.Fail(ierr)
			} else {
				out.Complete(iv)
			}
		})
	})
	return out
}

// WithTimeout returns a stage that resolves with this stage's outcome, or
// fails with timeoutErr if the stage has not resolved after d. Whichever
// happens first wins; the underlying stage is not affected.
func (s *Stage) WithTimeout(d time.Duration, timeoutErr error) *Stage {
	out := NewStage()
	timer := time.AfterFunc(d, func() {
		out.Fail(timeoutErr)
	})
	s.whenResolved(func(v any, err error) {
		timer.Stop()
		if err != nil {
			out.Fail(err)
		} else {
			out.Complete(v)
		}
	})
	return out
}

// AllOf returns a stage that resolves once every given stage resolved. It
// completes with the values in argument order, or fails with the first error
// observed. With no arguments it is already resolved.
func AllOf(stages ...*Stage) *Stage {
	if len(stages) == 0 {
		return CompletedStage([]any(nil))
	}
	out := NewStage()
	values := make([]any, len(stages))
	var pending atomic.Int32
	pending.Store(int32(len(stages)))

	for idx, st := range stages {
		i := idx
		st.whenResolved(func(v any, err error) {
			if err != nil {
				out.Fail(err)
				return
			}
			values[i] = v
			if pending.Add(-1) == 0 {
				out.Complete(values)
			}
		})
	}
	return out
}

// --------------------------------------------------------------------------
// Blocking Access
// --------------------------------------------------------------------------

// Await blocks until the stage resolves or the timeout elapses. On timeout
// it returns ErrAwaitTimeout; the stage itself is not failed.
func (s *Stage) Await(timeout time.Duration) (any, error) {
	select {
	case <-s.done:
	case <-time.After(timeout):
		// Re-check: resolution may have raced the timer.
		select {
		case <-s.done:
		default:
			return nil, ErrAwaitTimeout
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err
}

// IsResolved reports whether the stage has resolved.
func (s *Stage) IsResolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}
