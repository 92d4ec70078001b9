package kernel

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// switchTrigger is the ContextSwitchTrigger collaborator (spec §4.4,
// §6) for switches that originate outside the tick handler — a
// contended mutex_lock, a mutex_unlock that wakes a waiter, or
// wait_until_next_period. A weighted semaphore of size 1 models the
// single sticky pending-exception bit PendSV actually has on ARM:
// Pend() signals the servicing goroutine only when no switch is already
// pending; a Pend() while one is pending does nothing, exactly as
// re-pending PendSV while it's already pending is a no-op on real
// hardware.
type switchTrigger struct {
	sem *semaphore.Weighted
	ch  chan struct{}
}

func newSwitchTrigger() *switchTrigger {
	return &switchTrigger{sem: semaphore.NewWeighted(1), ch: make(chan struct{}, 1)}
}

// Pend implements ContextSwitchTrigger.Pend.
func (s *switchTrigger) Pend() {
	if s.sem.TryAcquire(1) {
		s.ch <- struct{}{}
	}
}

// runDispatcher is the trampoline (spec §4.4): it services pended
// switches one at a time, each time running the same reselect+dispatch
// steps 4-7 the tick handler runs inline. It is the only goroutine,
// besides onTick, that ever calls reselectLocked/dispatchLocked —
// both always run with k.mu held, the simulated equivalent of
// "preemption disabled" (spec §4.4 invariant).
func (k *Kernel) runDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.trigger.ch:
			k.mu.Lock()
			k.reselectLocked()
			k.dispatchLocked()
			k.mu.Unlock()
			k.metrics.contextSwitch()
			k.trigger.sem.Release(1)
		}
	}
}

// dispatchLocked performs the second half of the deferred switch: load
// kernel_sp from the chosen TCB and resume it (spec §4.4 step 4). In
// this model that's starting the task's goroutine the first time it's
// ever scheduled, or waking every parked goroutine otherwise — each
// parked goroutine re-checks its own TCB's state against k.current
// when woken (Task.tick, mutexLock's retry loop, waitUntilNextPeriod).
func (k *Kernel) dispatchLocked() {
	chosen := k.tcbs[k.current]
	if chosen.Slot != k.mainSlot && !chosen.started {
		chosen.started = true
		go k.runTask(chosen)
	}
	k.cond.Broadcast()
}

// runTask is a task's goroutine body. Falling off the end of Fn is
// exactly thread_kill on self (spec §4.1: LR seeded with
// &thread_kill_trampoline).
func (k *Kernel) runTask(tcb *TCB) {
	task := &Task{k: k, tcb: tcb}
	k.mu.Lock()
	task.lastTick = k.tickCounter
	k.mu.Unlock()

	tcb.Fn(task, tcb.Arg)

	k.mu.Lock()
	k.threadKill(tcb.Slot)
	k.mu.Unlock()
	k.trigger.Pend()
}

// Task is the handle a task's entry point runs with — the only way
// user code (spec: "all user-space application code" is out of scope)
// reaches into the kernel, mirroring how real user code only reaches
// the kernel through the SVC trap (spec §4.6).
type Task struct {
	k        *Kernel
	tcb      *TCB
	lastTick uint64
}

// tick blocks until this task is both RUNNING and a tick boundary has
// passed since it last advanced — the cooperative yield point a task's
// compute loop calls once per simulated tick of work (spec §8 scenario
// language: "runs 0-50", "spin 10"). It reports false once the task has
// been killed out from under it.
func (t *Task) tick() bool {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()
	for {
		if t.tcb.State == StateDone {
			return false
		}
		if t.tcb.State == StateRunning && k.tickCounter > t.lastTick {
			t.lastTick = k.tickCounter
			return true
		}
		k.cond.Wait()
	}
}

// Spin consumes n simulated ticks of compute, the way the spec's test
// scenarios describe a task's body ("spin 10"). It returns early if the
// task is killed mid-spin.
func (t *Task) Spin(n int) {
	for i := 0; i < n && t.tick(); i++ {
	}
}

// defaultHaltLoop is the idle task's entry point when thread_init is
// given a NULL idle_fn, and what thread_kill on idle redirects to
// (spec §4.1, §4.7): loop forever, ticking along only when actually
// dispatched.
func defaultHaltLoop(t *Task, _ uint32) {
	for t.tick() {
	}
}
