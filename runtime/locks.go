package runtime

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// ResourceLock is a non-blocking lock handle bound to one owner.
type ResourceLock interface {
	// Name identifies the lock in events and logs.
	Name() string

	// TryLock acquires the lock without blocking. It returns true when the
	// owner already holds it.
	TryLock() bool

	// Held reports whether the owner currently holds the lock.
	Held() bool

	// Unlock releases the lock. It is a no-op when the owner does not hold it.
	Unlock()
}

// LockCoordinator serializes lock transitions so a worker acquires its
// lease and its resource lock as one step.
type LockCoordinator struct {
	mu sync.Mutex
}

// LockState tracks the locks acquired during one WithStateLock call.
type LockState struct {
	acquired []ResourceLock
}

// TryLock acquires l and remembers it for rollback. A nil lock always
// succeeds.
func (s *LockState) TryLock(l ResourceLock) bool {
	if l == nil || l.Held() {
		return true
	}
	if !l.TryLock() {
		return false
	}
	s.acquired = append(s.acquired, l)
	return true
}

// WithStateLock runs fn while holding the coordination lock. When fn returns
// false, every lock it acquired is released again before WithStateLock
// returns.
func (c *LockCoordinator) WithStateLock(fn func(*LockState) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &LockState{}
	if fn(st) {
		return true
	}
	for i := len(st.acquired) - 1; i >= 0; i-- {
		st.acquired[i].Unlock()
	}
	return false
}

// Release unlocks every non-nil lock under the coordination lock.
func (c *LockCoordinator) Release(locks ...ResourceLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range locks {
		if l != nil {
			l.Unlock()
		}
	}
}

// LeaseRegistry hands out worker leases. At most Capacity leases are held
// at any time, across every run that shares the registry.
type LeaseRegistry struct {
	sem      *semaphore.Weighted
	capacity int

	mu    sync.Mutex
	inUse int
}

// NewLeaseRegistry creates a registry with room for capacity leases.
func NewLeaseRegistry(capacity int) *LeaseRegistry {
	if capacity < 1 {
		capacity = 1
	}
	return &LeaseRegistry{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of leases held at once.
func (r *LeaseRegistry) Capacity() int {
	return r.capacity
}

// InUse returns the number of leases currently held.
func (r *LeaseRegistry) InUse() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse
}

// Lease returns a lease handle for owner. Each handle holds at most one
// slot of the registry.
func (r *LeaseRegistry) Lease(owner string) ResourceLock {
	return &lease{reg: r, owner: owner}
}

type lease struct {
	reg   *LeaseRegistry
	owner string
	held  bool
}

func (l *lease) Name() string {
	return "lease:" + l.owner
}

func (l *lease) TryLock() bool {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if l.held {
		return true
	}
	if !l.reg.sem.TryAcquire(1) {
		return false
	}
	l.held = true
	l.reg.inUse++
	return true
}

func (l *lease) Held() bool {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	return l.held
}

func (l *lease) Unlock() {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if !l.held {
		return
	}
	l.held = false
	l.reg.inUse--
	l.reg.sem.Release(1)
}

// ResourceLocks is a registry of named exclusive locks.
type ResourceLocks struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewResourceLocks creates an empty lock registry.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{owners: make(map[string]string)}
}

// Lock returns a handle on the lock called name for owner. Handles are
// cheap; the lock itself is created on first acquisition.
func (r *ResourceLocks) Lock(name, owner string) ResourceLock {
	return &namedLock{reg: r, name: name, owner: owner}
}

// Owner reports who holds the lock called name.
func (r *ResourceLocks) Owner(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[name]
	return owner, ok
}

type namedLock struct {
	reg   *ResourceLocks
	name  string
	owner string
}

func (l *namedLock) Name() string {
	return l.name
}

func (l *namedLock) TryLock() bool {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if cur, ok := l.reg.owners[l.name]; ok {
		return cur == l.owner
	}
	l.reg.owners[l.name] = l.owner
	return true
}

func (l *namedLock) Held() bool {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	return l.reg.owners[l.name] == l.owner
}

func (l *namedLock) Unlock() {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if l.reg.owners[l.name] == l.owner {
		delete(l.reg.owners, l.name)
	}
}
