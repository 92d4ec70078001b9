package kernel

import "reflect"

const (
	calleeFrameWords = 10 // UserSP + 8 callee-saved regs + exception-return code
	callerFrameWords = 8  // R0-R3, R12, LR, PC, Status
)

// killTrampolineMarker stands in for "&thread_kill_trampoline" (spec
// §4.1): every task's LR is seeded with it, so that a task whose Fn
// returns normally is handled identically to one that calls thread_kill.
const killTrampolineMarker = ^uintptr(0)

func roundUpPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func entryPointer(fn TaskFunc) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}

// layoutSlot reserves a slot's user and kernel stacks and seeds the
// saved-callee frame at the top of its kernel stack (spec §4.1). Stack
// pointers are tracked as indices into the slot's own backing array
// rather than raw addresses — the MPU/linker-script placement those
// addresses would need is out of scope (spec §1) — but every invariant
// about "lies within that task's allocated range" (spec §3) holds over
// these indices exactly as it would over real pointers.
func layoutSlot(slot, stackWords int) *TCB {
	t := &TCB{
		Slot:        slot,
		KernelStack: make([]uint32, stackWords),
		UserStack:   make([]uint32, stackWords),
		State:       StateNew,
	}
	t.KernelSP = stackWords - calleeFrameWords
	t.UserSP = stackWords
	t.Frame.UserSP = t.UserSP
	return t
}

// threadInit implements thread_init(max_threads, stack_words, idle_fn,
// max_mutexes) — spec §4.1, syscall 9.
func (k *Kernel) threadInit(cfg KernelConfig) error {
	cfg = DefaultConfig(cfg)
	if cfg.MaxThreads > MaxUserThreads {
		return wrapf(ErrTooManyThreads, "max_threads=%d", cfg.MaxThreads)
	}
	if cfg.MaxThreads*cfg.StackWords*4 > MaxStackBytes {
		return wrapf(ErrStackTooLarge, "max_threads=%d stack_words=%d", cfg.MaxThreads, cfg.StackWords)
	}
	if cfg.MaxMutexes > MaxMutexes {
		cfg.MaxMutexes = MaxMutexes
	}

	stackWords := roundUpPow2(cfg.StackWords)
	cfg.StackWords = stackWords
	k.cfg = cfg
	k.ubTable = buildUBTable()

	total := cfg.MaxThreads + 2
	k.tcbs = make([]*TCB, total)
	for i := 0; i < cfg.MaxThreads; i++ {
		t := layoutSlot(i, stackWords)
		t.StaticPrio = i
		t.DynPrio = i
		k.tcbs[i] = t
	}

	k.idleSlot = cfg.MaxThreads
	k.mainSlot = cfg.MaxThreads + 1

	idle := layoutSlot(k.idleSlot, stackWords)
	idle.StaticPrio = k.idleSlot
	idle.DynPrio = k.idleSlot
	idleFn := cfg.IdleFn
	if idleFn == nil {
		idleFn = defaultHaltLoop
	}
	idle.Fn = idleFn
	idle.Caller.PC = entryPointer(idleFn)
	idle.Caller.LR = killTrampolineMarker
	idle.State = StateReady
	k.tcbs[k.idleSlot] = idle

	main := layoutSlot(k.mainSlot, stackWords)
	main.StaticPrio = k.mainSlot
	main.DynPrio = k.mainSlot
	main.State = StateRunning
	k.tcbs[k.mainSlot] = main
	k.current = k.mainSlot

	k.mutexes = make([]*Mutex, 0, cfg.MaxMutexes)
	return nil
}

// threadCreate implements thread_create(fn, prio, C, T, arg) — spec
// §4.1, §4.2, syscall 10. Returns an error rather than -1; the syscall
// dispatch layer (syscall.go) maps that onto the -1/0 trap-ABI return.
func (k *Kernel) threadCreate(fn TaskFunc, prio, c, t int, arg uint32) error {
	if k.tcbs == nil {
		return ErrNotInitialized
	}
	if prio < 0 || prio >= k.cfg.MaxThreads {
		k.metrics.admissionRejected("bad_priority")
		return wrapf(ErrBadPriority, "prio=%d", prio)
	}
	tcb := k.tcbs[prio]
	if tcb.State != StateNew && tcb.State != StateDone {
		k.metrics.admissionRejected("slot_occupied")
		return wrapf(ErrSlotOccupied, "prio=%d state=%s", prio, tcb.State)
	}
	if !k.ubTest(c, t) {
		k.metrics.admissionRejected("infeasible")
		return wrapf(ErrInfeasible, "C=%d T=%d", c, t)
	}

	revival := tcb.State == StateDone

	tcb.C = c
	tcb.T = t
	tcb.StaticPrio = prio
	tcb.DynPrio = prio
	tcb.HeldMutexes = 0
	tcb.WaitingMutexes = 0
	tcb.SvcNesting = 0
	tcb.ElapsedTicks = 0
	tcb.Fn = fn
	tcb.Arg = arg
	tcb.started = false

	stackWords := len(tcb.KernelStack)
	tcb.KernelSP = stackWords - calleeFrameWords
	tcb.UserSP = stackWords - callerFrameWords
	tcb.Frame.UserSP = tcb.UserSP
	tcb.Caller = CallerFrame{R0: arg, PC: entryPointer(fn), LR: killTrampolineMarker}

	if revival {
		// spec §9 Open Question: a DONE slot recreated mid-cycle waits
		// for the next period boundary instead of running immediately.
		tcb.State = StateWaiting
		tcb.BudgetLeft = 0
	} else {
		tcb.State = StateReady
		tcb.BudgetLeft = c
	}

	k.log.info("thread_create", "slot", prio, "C", c, "T", t, "revival", revival)
	return nil
}

// threadKill implements thread_kill (spec §4.7, syscall 11). Killing
// main terminates the kernel; killing idle redirects it to the default
// halt loop rather than ending it, since the scheduler always needs a
// fallback selection (spec §4.3 step 6).
func (k *Kernel) threadKill(slot int) {
	tcb := k.tcbs[slot]
	switch slot {
	case k.mainSlot:
		k.log.info("thread_kill on main: terminating kernel")
		k.terminate(0)
		return
	case k.idleSlot:
		k.log.warn("thread_kill on idle: redirecting to default halt loop")
		tcb.Fn = defaultHaltLoop
		tcb.Caller.PC = entryPointer(defaultHaltLoop)
		tcb.started = false
		return
	}

	tcb.State = StateDone
	for i, m := range k.mutexes {
		if m.Owner != slot {
			continue
		}
		m.Owner = NoOwner
		for _, w := range k.tcbs {
			if w.State == StateBlocked {
				w.WaitingMutexes = clearBit(w.WaitingMutexes, i)
			}
		}
	}
	tcb.HeldMutexes = 0
	tcb.WaitingMutexes = 0
	k.log.info("thread_kill", "slot", slot)
}
