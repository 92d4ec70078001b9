package kernel

// Mutex held/waiting sets are bitmaps over mutex index (spec §3, §9) —
// the same bitmap-over-fixed-table technique the teacher uses for its
// register scoreboard, just over 32 mutex slots instead of 64
// registers.

func setBit(bitmap uint32, idx int) uint32   { return bitmap | (1 << uint(idx)) }
func clearBit(bitmap uint32, idx int) uint32 { return bitmap &^ (1 << uint(idx)) }
func hasBit(bitmap uint32, idx int) bool     { return bitmap&(1<<uint(idx)) != 0 }

// mutexInit implements mutex_init(ceiling) — spec §4.5, syscall 13.
// Slots are handed out FIFO and the ceiling is never mutated again.
func (k *Kernel) mutexInit(ceiling int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.mutexes) >= k.cfg.MaxMutexes {
		k.metrics.admissionRejected("mutex_exhausted")
		return NoOwner, ErrNoMutexSlots
	}
	idx := len(k.mutexes)
	k.mutexes = append(k.mutexes, &Mutex{Index: idx, Ceiling: ceiling, Owner: NoOwner})
	return idx, nil
}

// crossCeilingViolatedLocked implements the HLP cross-resource check
// (spec §4.5): deny the lock if some mutex other than m, owned by some
// *other* task, has a ceiling numerically at or above the caller's
// current urgency (i.e. ceiling <= dyn_prio, since lower index = more
// urgent) — the IPCP rule that a task may never take a second lock
// while a lower-or-equal-ceiling lock is already held elsewhere.
func (k *Kernel) crossCeilingViolatedLocked(tcb *TCB, idx int) bool {
	for i, m := range k.mutexes {
		if i == idx {
			continue
		}
		if m.Owner == NoOwner || m.Owner == tcb.Slot {
			continue
		}
		if m.Ceiling <= tcb.DynPrio {
			return true
		}
	}
	return false
}

// Lock implements mutex_lock(m) — spec §4.5, syscall 14. It runs on the
// calling task's own goroutine and returns once the mutex is held, or
// without acquiring it when the caller already holds it (double lock),
// when the HLP cross-resource check denies it, or when the caller has
// been killed (a ceiling violation, or a kill while blocked). A killed
// caller's TCB is DONE, so its later Spin calls return at once.
func (t *Task) Lock(idx int) {
	k := t.k
	tcb := t.tcb
	if tcb.Slot == k.idleSlot {
		return // defensive no-op (spec §4.5)
	}

	blockedAt := uint64(0)
	for {
		k.mu.Lock()
		m := k.mutexes[idx]

		if tcb.StaticPrio < m.Ceiling {
			k.log.warn("ceiling violation: killing task", "slot", tcb.Slot, "mutex", idx)
			k.threadKill(tcb.Slot)
			k.mu.Unlock()
			k.trigger.Pend()
			t.waitRunning() // park; thread_kill already made this terminal
			return
		}

		if hasBit(tcb.HeldMutexes, idx) {
			k.log.warn("double lock, ignoring", "slot", tcb.Slot, "mutex", idx)
			k.mu.Unlock()
			return
		}

		if k.crossCeilingViolatedLocked(tcb, idx) {
			k.mu.Unlock()
			return // deny without acquiring (spec §4.5)
		}

		if m.Owner == NoOwner {
			m.Owner = tcb.Slot
			tcb.HeldMutexes = setBit(tcb.HeldMutexes, idx)
			tcb.DynPrio = min(tcb.DynPrio, m.Ceiling)
			if blockedAt != 0 {
				k.metrics.mutexWait(idx, int(k.tickCounter-blockedAt))
			}
			k.mu.Unlock()
			return
		}

		// Contended: block and wait for the owner to release, then
		// retry ownership from the top of the loop (spec §4.5).
		blockedAt = k.tickCounter
		tcb.State = StateBlocked
		tcb.WaitingMutexes = setBit(tcb.WaitingMutexes, idx)
		k.mu.Unlock()
		k.trigger.Pend()

		if !t.waitRunning() {
			return
		}
	}
}

// Unlock implements mutex_unlock(m) — spec §4.5, syscall 15.
func (t *Task) Unlock(idx int) {
	k := t.k
	tcb := t.tcb

	k.mu.Lock()
	m := k.mutexes[idx]
	if m.Owner != tcb.Slot {
		k.log.warn("unlock of unheld/foreign mutex, ignoring", "slot", tcb.Slot, "mutex", idx, "owner", m.Owner)
		k.mu.Unlock()
		return
	}

	m.Owner = NoOwner
	tcb.HeldMutexes = clearBit(tcb.HeldMutexes, idx)

	tcb.DynPrio = tcb.StaticPrio
	for i, held := range k.mutexes {
		if hasBit(tcb.HeldMutexes, i) {
			tcb.DynPrio = min(tcb.DynPrio, held.Ceiling)
		}
	}

	for _, w := range k.tcbs {
		if w.State == StateBlocked && hasBit(w.WaitingMutexes, idx) {
			w.WaitingMutexes = clearBit(w.WaitingMutexes, idx)
		}
	}
	k.mu.Unlock()

	k.trigger.Pend()
}

// waitRunning blocks the calling task's goroutine until it is RUNNING
// again (spec §4.4's "on resume"), without the additional tick-boundary
// requirement Task.tick enforces — a mutex release can re-dispatch a
// waiter between ticks, and it must resume immediately, not on the next
// tick edge. Reports false if the task was killed while waiting.
func (t *Task) waitRunning() bool {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()
	for t.tcb.State != StateRunning {
		if t.tcb.State == StateDone {
			return false
		}
		k.cond.Wait()
	}
	t.lastTick = k.tickCounter
	return true
}
