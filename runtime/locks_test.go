package runtime

import "testing"

func TestLeaseRegistry_Capacity(t *testing.T) {
	reg := NewLeaseRegistry(2)
	a, b, c := reg.Lease("a"), reg.Lease("b"), reg.Lease("c")

	if !a.TryLock() || !b.TryLock() {
		t.Fatal("first two leases should be granted")
	}
	if c.TryLock() {
		t.Fatal("third lease should be refused")
	}
	if !a.TryLock() {
		t.Error("TryLock on a held lease should succeed")
	}
	if reg.InUse() != 2 {
		t.Errorf("InUse() = %d, want 2", reg.InUse())
	}

	a.Unlock()
	a.Unlock()
	if reg.InUse() != 1 {
		t.Errorf("InUse() after double unlock = %d, want 1", reg.InUse())
	}
	if !c.TryLock() {
		t.Error("released slot should be reusable")
	}
}

func TestResourceLocks_Ownership(t *testing.T) {
	locks := NewResourceLocks()
	mine, theirs := locks.Lock("db", "me"), locks.Lock("db", "them")

	if !mine.TryLock() {
		t.Fatal("free lock should be granted")
	}
	if theirs.TryLock() {
		t.Fatal("held lock should be refused to another owner")
	}
	theirs.Unlock()
	if owner, ok := locks.Owner("db"); !ok || owner != "me" {
		t.Fatalf("Owner() = %q, %v; unlock by a non-owner must be a no-op", owner, ok)
	}

	mine.Unlock()
	if _, ok := locks.Owner("db"); ok {
		t.Error("lock should be free after unlock")
	}
	if !theirs.TryLock() || !theirs.Held() {
		t.Error("lock should be available to the next owner")
	}
}

func TestLockCoordinator_RollsBackPartialAcquisition(t *testing.T) {
	reg := NewLeaseRegistry(1)
	locks := NewResourceLocks()
	if !locks.Lock("db", "other").TryLock() {
		t.Fatal("setup lock failed")
	}

	lease := reg.Lease("w1")
	lock := locks.Lock("db", "w1")
	var coord LockCoordinator

	ok := coord.WithStateLock(func(st *LockState) bool {
		return st.TryLock(lease) && st.TryLock(lock)
	})
	if ok {
		t.Fatal("transition should fail while db is held")
	}
	if lease.Held() || reg.InUse() != 0 {
		t.Error("lease should be rolled back")
	}

	locks.Lock("db", "other").Unlock()
	ok = coord.WithStateLock(func(st *LockState) bool {
		return st.TryLock(lease) && st.TryLock(lock) && st.TryLock(nil)
	})
	if !ok || !lease.Held() || !lock.Held() {
		t.Fatal("transition should acquire both locks")
	}

	coord.Release(lock, nil, lease)
	if lease.Held() || lock.Held() {
		t.Error("Release should drop both locks")
	}
}

func TestLockState_KeepsLocksHeldBeforeTransition(t *testing.T) {
	reg := NewLeaseRegistry(1)
	lease := reg.Lease("w1")
	lease.TryLock()

	var coord LockCoordinator
	coord.WithStateLock(func(st *LockState) bool {
		st.TryLock(lease)
		return false
	})
	if !lease.Held() {
		t.Error("a lock held before the transition must survive its rollback")
	}
}
