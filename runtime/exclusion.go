package runtime

import "github.com/petal-labs/workgraph/core"

// ExclusionPolicy decides which nodes may run side by side.
type ExclusionPolicy interface {
	// FindConflict returns the first running node that n must not run
	// alongside. running is in dispatch order.
	FindConflict(n core.Node, running []core.Node) (core.Node, bool)

	// LockFor returns the resource lock owner needs to execute n, or nil
	// when n runs without one.
	LockFor(n core.Node, owner string) ResourceLock
}

// NewExclusionPolicy returns the policy driven by the nodes' own
// declarations: core.CanRunTogether for mutual exclusion and
// core.ResourceLockOf for resource locks taken from locks.
func NewExclusionPolicy(locks *ResourceLocks) ExclusionPolicy {
	return &declaredExclusion{locks: locks}
}

type declaredExclusion struct {
	locks *ResourceLocks
}

func (p *declaredExclusion) FindConflict(n core.Node, running []core.Node) (core.Node, bool) {
	for _, r := range running {
		if r.ID() == n.ID() {
			continue
		}
		if !core.CanRunTogether(n, r) {
			return r, true
		}
	}
	return nil, false
}

func (p *declaredExclusion) LockFor(n core.Node, owner string) ResourceLock {
	name := core.ResourceLockOf(n)
	if name == "" || p.locks == nil {
		return nil
	}
	return p.locks.Lock(name, owner)
}
