package workspace

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// Predicate decides whether a signalled value satisfies a lock.
type Predicate interface {
	Accept(value any) bool
	String() string
}

type anyValue struct{}

func (anyValue) Accept(any) bool { return true }
func (anyValue) String() string  { return "any" }

// AnyValue accepts every signal.
func AnyValue() Predicate { return anyValue{} }

type equalsValue struct {
	expected string
}

func (p equalsValue) Accept(v any) bool { return ToString(v) == p.expected }
func (p equalsValue) String() string    { return fmt.Sprintf("equals(%q)", p.expected) }

// Equals accepts signals whose value equals expected. Values are compared
// by their text form, so Equals(5) accepts both 5 and "5".
func Equals(expected any) Predicate {
	return equalsValue{expected: ToString(expected)}
}

type matchesValue struct {
	re *regexp.Regexp
}

func (p matchesValue) Accept(v any) bool { return p.re.MatchString(ToString(v)) }
func (p matchesValue) String() string    { return fmt.Sprintf("matches(%q)", p.re.String()) }

// Matches accepts signals whose incoming value, as text, matches pattern.
func Matches(pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling lock pattern %q: %w", pattern, err)
	}
	return matchesValue{re: re}, nil
}

// Lock is a named, predicate-gated wake-up point for cross-root signalling.
//
// Await blocks until an accepted SignalAll, a timeout, cancellation of the
// waiter's context, or Release. Each accepted signal wakes every goroutine
// waiting at that moment; later waiters wait for the next signal.
//
// Thread Safety: all methods are safe for concurrent use.
type Lock struct {
	key     string
	ownerID string
	pred    Predicate

	// signalMu serializes signals so listeners observe them in order.
	signalMu sync.Mutex

	mu               sync.Mutex
	wake             chan struct{} // closed and replaced on every accepted signal
	done             chan struct{} // closed on release
	lastValue        any
	signalListeners  []func(value any)
	releaseListeners []func()
	released         bool

	waiting atomic.Int32
}

func newLock(key, ownerID string, pred Predicate) *Lock {
	if pred == nil {
		pred = AnyValue()
	}
	return &Lock{
		key:     key,
		ownerID: ownerID,
		pred:    pred,
		wake:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Key returns the broadcast channel the lock listens on.
func (l *Lock) Key() string { return l.key }

// OwnerID returns the ID of the block that created the lock.
func (l *Lock) OwnerID() string { return l.ownerID }

// Predicate returns the lock's expected-value predicate.
func (l *Lock) Predicate() Predicate { return l.pred }

// Await waits for the next accepted signal.
//
// A zero timeout waits indefinitely. Returns true when woken by a signal and
// false on timeout, context cancellation or release of the lock.
func (l *Lock) Await(ctx context.Context, timeout time.Duration) bool {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return false
	}
	wake, done := l.wake, l.done
	l.mu.Unlock()

	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-wake:
		return true
	case <-done:
		return false
	case <-ctx.Done():
		return false
	case <-expired:
		return false
	}
}

// Waiting returns the number of goroutines currently blocked in Await.
func (l *Lock) Waiting() int {
	return int(l.waiting.Load())
}

// SignalAll offers value to the lock. When the predicate accepts it the value
// becomes LastValue, every signal listener is called with it and all current
// waiters are woken. Returns whether the signal was accepted.
func (l *Lock) SignalAll(value any) bool {
	if !l.pred.Accept(value) {
		return false
	}

	l.signalMu.Lock()
	defer l.signalMu.Unlock()

	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return false
	}
	l.lastValue = value
	listeners := append([]func(any){}, l.signalListeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}

	l.mu.Lock()
	if !l.released {
		close(l.wake)
		l.wake = make(chan struct{})
	}
	l.mu.Unlock()
	return true
}

// LastValue returns the most recent accepted value.
func (l *Lock) LastValue() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastValue
}

// OnSignal registers fn to be called with every accepted value.
func (l *Lock) OnSignal(fn func(value any)) {
	l.mu.Lock()
	l.signalListeners = append(l.signalListeners, fn)
	l.mu.Unlock()
}

// OnRelease registers fn to run when the lock is released.
// If the lock is already released fn runs immediately.
func (l *Lock) OnRelease(fn func()) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		fn()
		return
	}
	l.releaseListeners = append(l.releaseListeners, fn)
	l.mu.Unlock()
}

// Released reports whether the lock has been released.
func (l *Lock) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Release wakes every waiter with a failed wait and runs the release
// listeners. Only the first call has any effect.
func (l *Lock) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	close(l.done)
	listeners := l.releaseListeners
	l.releaseListeners = nil
	l.signalListeners = nil
	l.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
