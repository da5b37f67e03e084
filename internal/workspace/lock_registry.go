package workspace

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultPollInterval is how often event conditions are evaluated.
const DefaultPollInterval = time.Second

// eventKeyPrefix namespaces the locks created by ListenEvent.
const eventKeyPrefix = "event:"

// EventCondition reports whether a polled external condition currently holds.
type EventCondition func() bool

type eventWatch struct {
	lock *Lock
	cond EventCondition
}

// LockRegistry owns every Lock of one tab and the shared polling loop that
// turns EventConditions into lock signals.
//
// Several locks may share a key (one per waiting block); SignalAll offers the
// value to each of them. At most one polling goroutine runs per registry; it
// starts with the first ListenEvent and stops on Release.
//
// Thread Safety: all methods are safe for concurrent use.
type LockRegistry struct {
	logger Logger

	mu       sync.Mutex
	locks    map[string][]*Lock
	watches  map[string]eventWatch
	hooked   map[string]bool // owners whose release already drops their watch
	interval time.Duration
	released bool

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry(logger Logger) *LockRegistry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LockRegistry{
		logger:   logger,
		locks:    make(map[string][]*Lock),
		watches:  make(map[string]eventWatch),
		hooked:   make(map[string]bool),
		interval: DefaultPollInterval,
	}
}

// SetInterval changes the polling interval. It only affects a polling loop
// started after the call.
func (r *LockRegistry) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// GetOrCreateLock returns owner's lock for key, creating it on first use.
//
// The lock is released together with owner. A nil predicate accepts any
// value. Once the registry is released the returned lock is already
// released, so waiting on it fails immediately.
func (r *LockRegistry) GetOrCreateLock(owner *Block, key string, pred Predicate) *Lock {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		l := newLock(key, owner.ID, pred)
		l.Release()
		return l
	}
	for _, l := range r.locks[key] {
		if l.ownerID == owner.ID {
			r.mu.Unlock()
			return l
		}
	}
	l := newLock(key, owner.ID, pred)
	r.locks[key] = append(r.locks[key], l)
	r.mu.Unlock()

	owner.AddReleaseListener(l.Release)
	return l
}

// SignalAll offers value to every lock registered under key and returns how
// many accepted it.
func (r *LockRegistry) SignalAll(key string, value any) int {
	r.mu.Lock()
	locks := append([]*Lock(nil), r.locks[key]...)
	r.mu.Unlock()

	woken := 0
	for _, l := range locks {
		if l.SignalAll(value) {
			woken++
		}
	}
	if len(locks) > 0 {
		r.logger.Debug("lock signalled", "key", key, "locks", len(locks), "accepted", woken)
	}
	return woken
}

// ListenEvent registers cond for owner and returns the lock it signals.
// The shared polling loop evaluates every condition each tick and signals the
// paired lock with true whenever its condition holds.
func (r *LockRegistry) ListenEvent(owner *Block, cond EventCondition) *Lock {
	l := r.GetOrCreateLock(owner, eventKeyPrefix+owner.ID, AnyValue())

	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return l
	}
	r.watches[owner.ID] = eventWatch{lock: l, cond: cond}
	hook := !r.hooked[owner.ID]
	r.hooked[owner.ID] = true
	if r.pollCancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		r.pollCancel = cancel
		r.pollDone = make(chan struct{})
		go r.poll(ctx, r.interval, r.pollDone)
	}
	r.mu.Unlock()

	if hook {
		owner.AddReleaseListener(func() { r.forget(owner) })
	}
	return l
}

// forget drops owner's condition and its release hook.
func (r *LockRegistry) forget(owner *Block) {
	r.mu.Lock()
	delete(r.watches, owner.ID)
	delete(r.hooked, owner.ID)
	r.mu.Unlock()
}

// Unlisten removes owner's condition. The polling loop keeps running for the
// remaining conditions.
func (r *LockRegistry) Unlisten(owner *Block) {
	r.mu.Lock()
	delete(r.watches, owner.ID)
	r.mu.Unlock()
}

// Watching reports whether owner has a registered condition.
func (r *LockRegistry) Watching(owner *Block) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watches[owner.ID]
	return ok
}

func (r *LockRegistry) poll(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *LockRegistry) tick() {
	r.mu.Lock()
	watches := make([]eventWatch, 0, len(r.watches))
	for _, w := range r.watches {
		watches = append(watches, w)
	}
	r.mu.Unlock()

	for _, w := range watches {
		if r.holds(w) {
			w.lock.SignalAll(true)
		}
	}
}

func (r *LockRegistry) holds(w eventWatch) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("event condition panicked", "key", w.lock.Key(), "panic", rec)
			ok = false
		}
	}()
	return w.cond()
}

// Locks returns the locks registered under key.
func (r *LockRegistry) Locks(key string) []*Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Lock(nil), r.locks[key]...)
}

// PollingActive reports whether the polling loop is running.
func (r *LockRegistry) PollingActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollCancel != nil
}

// LockCount returns the number of registered locks.
func (r *LockRegistry) LockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ls := range r.locks {
		n += len(ls)
	}
	return n
}

// Keys returns the registered lock keys, sorted.
func (r *LockRegistry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.locks))
	for k := range r.locks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Release stops the polling loop, releases every lock and clears the
// registry. Only the first call has any effect.
func (r *LockRegistry) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	cancel, done := r.pollCancel, r.pollDone
	r.pollCancel = nil
	var all []*Lock
	for _, ls := range r.locks {
		all = append(all, ls...)
	}
	r.locks = make(map[string][]*Lock)
	r.watches = make(map[string]eventWatch)
	r.hooked = make(map[string]bool)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, l := range all {
		l.Release()
	}
}
