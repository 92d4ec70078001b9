package kernel

// This file is the numeric-index-to-service table (spec §4.6, §6): the
// supervisor-trap trampoline itself — decoding the 8-bit immediate out
// of the trap instruction and splicing r0 back into the saved frame —
// is explicitly out of scope (spec §1); what's specified is the table
// it indexes into. SyscallArgs stands in for "r0..r3 plus a 5th
// argument at a known stack offset" the same way TaskFunc already
// stands in for a raw PC: user code hands the kernel Go values instead
// of an address-space pointer, since there is no address space here to
// point into.

// Reserved syscall indices (spec §6). Gaps (2-5, 8, 18, 21, anything
// beyond 23) are intentionally absent from the switch in Syscall and
// fall to the default/assert case.
const (
	SyscallSbrk                = 0
	SyscallWrite               = 1
	SyscallRead                = 6
	SyscallExit                = 7
	SyscallThreadInit          = 9
	SyscallThreadCreate        = 10
	SyscallThreadKill          = 11
	SyscallSchedulerStart      = 12
	SyscallMutexInit           = 13
	SyscallMutexLock           = 14
	SyscallMutexUnlock         = 15
	SyscallWaitUntilNextPeriod = 16
	SyscallGetTime             = 17
	SyscallGetPriority         = 19
	SyscallThreadTime          = 20
	SyscallServoEnable         = 22
	SyscallServoSet            = 23
)

// SyscallArgs carries a trap's arguments. Only the fields the requested
// index actually reads are meaningful; the rest are ignored, mirroring
// how the real trampoline reads r0..r3 positionally regardless of what
// the particular service needs.
type SyscallArgs struct {
	A0, A1, A2, A3 uint32
	Buf            []byte // write/read's buf+len, collapsed to a slice
	Fn             TaskFunc
	Cfg            KernelConfig
}

// Syscall implements the dispatch table (spec §4.6): decode idx and
// invoke the corresponding kernel service, returning its r0 value.
// Unknown indices assert (spec: "Unknown indices assert"; §4.7:
// "Unimplemented... assert and halt in a debug build").
func (t *Task) Syscall(idx int, a SyscallArgs) uint32 {
	k := t.k
	switch idx {
	case SyscallSbrk:
		return t.sysSbrk(a.A0)
	case SyscallWrite:
		return t.sysWrite(a.A0, a.Buf)
	case SyscallRead:
		return t.sysRead(a.A0, a.Buf)
	case SyscallExit:
		k.mu.Lock()
		k.threadKill(t.tcb.Slot)
		k.terminate(int(int32(a.A0)))
		k.mu.Unlock()
		k.trigger.Pend()
		return 0
	case SyscallThreadCreate:
		err := k.ThreadCreate(a.Fn, int(a.A0), int(a.A1), int(a.A2), a.A3)
		if err != nil {
			return errReturn
		}
		return 0
	case SyscallThreadKill:
		k.ThreadKill(t.tcb.Slot)
		return 0
	case SyscallMutexInit:
		h, err := k.mutexInit(int(a.A0))
		if err != nil {
			return errReturn
		}
		return uint32(h)
	case SyscallMutexLock:
		t.Lock(int(a.A0))
		return 0
	case SyscallMutexUnlock:
		t.Unlock(int(a.A0))
		return 0
	case SyscallWaitUntilNextPeriod:
		t.WaitUntilNextPeriod()
		return 0
	case SyscallGetTime:
		return uint32(k.GetTime())
	case SyscallGetPriority:
		return uint32(k.GetPriority(t.tcb.Slot))
	case SyscallThreadTime:
		return uint32(k.ThreadTime(t.tcb.Slot))
	case SyscallServoEnable:
		if err := k.servo.Enable(int(a.A0), a.A1 != 0); err != nil {
			return errReturn
		}
		return 0
	case SyscallServoSet:
		if err := k.servo.Set(int(a.A0), int(a.A1)); err != nil {
			return errReturn
		}
		return 0
	case SyscallThreadInit, SyscallSchedulerStart:
		// thread_init and scheduler_start are called once, before any
		// task exists, by the harness that builds the Kernel (NewKernel,
		// Run) — never by a running task's own trap, so they have no
		// meaningful Task receiver and are not reachable through this
		// table in practice. Present here only so the reserved-index
		// table is complete per spec §6.
		panic("kernel: thread_init/scheduler_start are not callable via Task.Syscall")
	default:
		panic(wrapf(ErrUnknownSyscall, "idx=%d", idx))
	}
}

// errReturn is the ABI's -1-as-uint32 (spec: "new-end or -1", "0 or -1").
const errReturn = ^uint32(0)

// sysSbrk implements idx 0 (spec §6): a simulated heap with no backing
// store, just a break pointer bounded by [0, maxBreak] (a request that
// would leave that range returns -1 and changes nothing) — enough to make
// "sbrk(+k); sbrk(-k) restores the program break" (spec §8) hold.
func (t *Task) sysSbrk(increment uint32) uint32 {
	k := t.k
	k.mu.Lock()
	defer k.mu.Unlock()
	next := int64(k.brk) + int64(int32(increment))
	if next < 0 || next > maxBreak {
		return errReturn
	}
	k.brk = uint32(next)
	return k.brk
}

// sysWrite implements idx 1 (spec §6): fd must be 1 (stdout), written
// byte-by-byte through the UART collaborator's non-blocking Put.
func (t *Task) sysWrite(fd uint32, buf []byte) uint32 {
	if fd != 1 {
		return errReturn
	}
	k := t.k
	n := 0
	for _, c := range buf {
		if !k.uart.Put(c) {
			break
		}
		n++
	}
	return uint32(n)
}

// sysRead implements idx 6 (spec §6): fd must be 0 (stdin), read
// byte-by-byte through the UART collaborator's non-blocking Get. Per
// spec Non-goals ("blocking I/O syscalls that defer the caller"), this
// never parks the caller — it returns whatever is immediately available.
func (t *Task) sysRead(fd uint32, buf []byte) uint32 {
	if fd != 0 {
		return errReturn
	}
	k := t.k
	n := 0
	for i := range buf {
		c, ok := k.uart.Get()
		if !ok {
			break
		}
		buf[i] = c
		n++
	}
	return uint32(n)
}
