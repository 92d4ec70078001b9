package kernel

// All functions in this file assume k.mu is already held by the caller —
// the scheduler core, like the mutex service, is one of the kernel's
// critical sections (spec §5): TCB-table mutation never runs with
// preemption enabled.

// onTick implements the tick handler (spec §4.3, steps 1-7) plus the
// dispatch half of the deferred context switch (spec §4.4): on real
// hardware the tick ISR only pends PendSV and returns; here the tick
// source is itself a single goroutine, so running the reselect and
// dispatch inline is equivalent and avoids a needless hop through the
// async trigger used for mutex-induced switches (contextswitch.go).
func (k *Kernel) onTick() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.tickCounter++
	cur := k.tcbs[k.current]
	cur.ElapsedTicks++

	// Step 2: decrement the running user task's budget.
	if k.current < k.cfg.MaxThreads && cur.State == StateRunning && cur.BudgetLeft > 0 {
		cur.BudgetLeft--
		if cur.BudgetLeft == 0 {
			cur.State = StateWaiting
			cur.BudgetLeft = cur.C
			k.metrics.budgetExhausted(cur.Slot)
			k.log.info("budget exhausted", "slot", cur.Slot)
		}
	}

	k.releasePeriods()
	k.reselectLocked()
	k.dispatchLocked()

	k.metrics.tick()
}

// releasePeriods implements step 3: every READY/WAITING/RUNNING task
// whose period has elapsed is released with a full budget.
func (k *Kernel) releasePeriods() {
	for i := 0; i < k.cfg.MaxThreads; i++ {
		t := k.tcbs[i]
		if t.State != StateReady && t.State != StateWaiting && t.State != StateRunning {
			continue
		}
		if t.T <= 0 {
			continue
		}
		if k.tickCounter%uint64(t.T) == 0 {
			t.BudgetLeft = t.C
			if t.State != StateRunning {
				t.State = StateReady
			}
			k.metrics.periodRelease(t.Slot)
		}
	}
}

// reselectLocked implements steps 4-7: the unblock pass, demotion of
// any still-RUNNING task, and RMS+HLP selection. Used both by onTick
// (after steps 1-3) and by the deferred-switch dispatcher servicing a
// mutex-induced pend (contextswitch.go).
func (k *Kernel) reselectLocked() {
	k.unblockPass()
	k.demoteRunning()
	k.selectNext()
}

// unblockPass implements step 4: a BLOCKED task whose waiting set has
// drained (the last mutex it waited on was released) becomes READY.
func (k *Kernel) unblockPass() {
	for _, t := range k.tcbs {
		if t.State == StateBlocked && t.WaitingMutexes == 0 {
			t.State = StateReady
		}
	}
}

// demoteRunning implements step 5: the current RUNNING task (if any)
// goes back to READY so selectNext can re-elect it (or not) on equal
// footing with every other READY task.
func (k *Kernel) demoteRunning() {
	cur := k.tcbs[k.current]
	if cur.State == StateRunning {
		cur.State = StateReady
	}
}

// selectNext implements step 6-7: RMS + HLP selection. Among READY
// tasks with an empty waiting set, the numerically smallest dyn_prio
// wins; ties are impossible among static priorities and broken by slot
// index for dynamic ones (spec §4.3). If none are READY, idle runs
// whenever some task is WAITING/BLOCKED (there's still work pending);
// otherwise the main slot is the terminal selection (spec: all user
// tasks have terminated).
func (k *Kernel) selectNext() {
	best := -1
	for i := 0; i < k.cfg.MaxThreads; i++ {
		t := k.tcbs[i]
		if t.State != StateReady || t.WaitingMutexes != 0 {
			continue
		}
		if best == -1 || t.DynPrio < k.tcbs[best].DynPrio ||
			(t.DynPrio == k.tcbs[best].DynPrio && t.Slot < best) {
			best = t.Slot
		}
	}

	if best != -1 {
		k.setRunning(best)
		return
	}

	for i := 0; i < k.cfg.MaxThreads; i++ {
		if k.tcbs[i].State == StateWaiting || k.tcbs[i].State == StateBlocked {
			k.setRunning(k.idleSlot)
			return
		}
	}

	// No user task is READY, WAITING, or BLOCKED: every slot is either
	// NEW (never given a thread_create) or DONE. scheduler_start's
	// contract ("does not return until all user tasks terminate", spec
	// §6) is this transition — the first tick that lands here ends the
	// run, the same way main falling back to a return in the original
	// firmware halts the board.
	wasMain := k.current == k.mainSlot
	k.setRunning(k.mainSlot)
	if !wasMain {
		k.terminate(0)
	}
}

func (k *Kernel) setRunning(slot int) {
	k.current = slot
	k.tcbs[slot].State = StateRunning
}
