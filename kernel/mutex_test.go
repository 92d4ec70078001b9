package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapHelpers(t *testing.T) {
	var b uint32
	b = setBit(b, 3)
	b = setBit(b, 5)
	assert.True(t, hasBit(b, 3))
	assert.True(t, hasBit(b, 5))
	assert.False(t, hasBit(b, 4))

	b = clearBit(b, 3)
	assert.False(t, hasBit(b, 3))
	assert.True(t, hasBit(b, 5))
}

func TestMutexInit_AssignsSequentialHandles(t *testing.T) {
	k := newTestKernel(t, 1)
	a, err := k.mutexInit(0)
	require.NoError(t, err)
	b, err := k.mutexInit(0)
	require.NoError(t, err)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestMutexInit_ExhaustionRejected(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 1, MaxMutexes: 1})
	require.NoError(t, err)

	_, err = k.mutexInit(0)
	require.NoError(t, err)
	_, err = k.mutexInit(0)
	assert.ErrorIs(t, err, ErrNoMutexSlots)
}

// TestCrossCeilingViolatedLocked_Scenario6HLP pins the three-task HLP
// interaction from spec §8.6: a task may not take a mutex while a
// different mutex, held by another task, has a ceiling numerically at or
// below the caller's dynamic priority. The target mutex itself and the
// caller's own held mutexes never count.
func TestCrossCeilingViolatedLocked_Scenario6HLP(t *testing.T) {
	k := newTestKernel(t, 3)
	s0, err := k.mutexInit(0)
	require.NoError(t, err)
	s1, err := k.mutexInit(1)
	require.NoError(t, err)

	// T2 (slot 2) holds s1 (ceiling 1); its dyn_prio is pulled up to 1.
	k.mutexes[s1].Owner = 2
	t2 := k.tcbs[2]
	t2.HeldMutexes = setBit(t2.HeldMutexes, s1)
	t2.DynPrio = 1

	assert.False(t, k.crossCeilingViolatedLocked(t2, s1), "a task's own held mutex never self-blocks")
	assert.False(t, k.crossCeilingViolatedLocked(t2, s0), "the only other held mutex, s1, is t2's own")

	// Now T1 (slot 1, dyn_prio 1) asks for s0 while T2 still holds s1:
	// s1 is owned by another task and its ceiling 1 <= dyn_prio 1, so
	// IPCP denies the lock.
	t1 := k.tcbs[1]
	assert.True(t, k.crossCeilingViolatedLocked(t1, s0))
}

func TestMutexLock_CeilingViolationKillsCaller(t *testing.T) {
	k := newTestKernel(t, 1)
	h, err := k.mutexInit(1)
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 100, 500, 0))

	task := &Task{k: k, tcb: k.tcbs[0]}
	task.Lock(h)

	assert.Equal(t, StateDone, k.tcbs[0].State, "static_prio 0 < ceiling 1 kills the caller (spec §8.5)")
}

func TestMutexLock_AcquiresFreeMutexAndRaisesDynPrio(t *testing.T) {
	k := newTestKernel(t, 3)
	h, err := k.mutexInit(0)
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 2, 100, 500, 0))

	task := &Task{k: k, tcb: k.tcbs[2]}
	task.Lock(h)

	assert.Equal(t, 2, k.mutexes[h].Owner)
	assert.True(t, hasBit(task.tcb.HeldMutexes, h))
	assert.Equal(t, 0, task.tcb.DynPrio, "ceiling 0 elevates a static_prio 2 holder's dyn_prio")
}

func TestMutexRoundTrip_RestoresDynPrioAndHeldSet(t *testing.T) {
	k := newTestKernel(t, 1)
	h, err := k.mutexInit(0)
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 100, 500, 0))

	task := &Task{k: k, tcb: k.tcbs[0]}
	beforeHeld := task.tcb.HeldMutexes
	beforeDyn := task.tcb.DynPrio

	task.Lock(h)
	assert.NotEqual(t, StateDone, task.tcb.State)
	assert.True(t, hasBit(task.tcb.HeldMutexes, h))

	task.Unlock(h)
	assert.Equal(t, beforeHeld, task.tcb.HeldMutexes)
	assert.Equal(t, beforeDyn, task.tcb.DynPrio)
}

func TestMutexUnlock_ByNonOwnerIsNoop(t *testing.T) {
	k := newTestKernel(t, 1)
	h, err := k.mutexInit(0)
	require.NoError(t, err)
	k.mutexes[h].Owner = 7 // some other slot

	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 100, 500, 0))
	task := &Task{k: k, tcb: k.tcbs[0]}
	task.Unlock(h)

	assert.Equal(t, 7, k.mutexes[h].Owner, "unlock by the non-owner leaves ownership unchanged")
}

func TestMutexLock_DoubleLockIsNoop(t *testing.T) {
	k := newTestKernel(t, 1)
	h, err := k.mutexInit(0)
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 100, 500, 0))

	task := &Task{k: k, tcb: k.tcbs[0]}
	task.Lock(h)
	dynAfterFirst := task.tcb.DynPrio
	task.Lock(h) // warn: double lock, no state change
	assert.Equal(t, dynAfterFirst, task.tcb.DynPrio)
	assert.Equal(t, 0, k.mutexes[h].Owner)
}
