package kernel

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Option configures a Kernel at construction (functional-options, the
// same shape the teacher's collector wiring uses for optional
// collaborators instead of a half-populated struct literal).
type Option func(*Kernel)

// WithLogger replaces the default no-op Logger.
func WithLogger(l *Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithMetrics registers the kernel's series on reg instead of leaving
// Kernel.metrics nil (metrics calls are nil-safe, so this is optional).
func WithMetrics(reg prometheus.Registerer) Option {
	return func(k *Kernel) { k.metrics = NewMetrics(reg) }
}

// WithTimerTick overrides the default wall-clock simTimerTick, e.g. with
// a test double that ticks on demand rather than on a real timer.
func WithTimerTick(t TimerTick) Option {
	return func(k *Kernel) { k.tick = t }
}

// WithInterruptControl, WithUART, WithMemoryProtection, WithServo
// override the corresponding no-op collaborator.
func WithInterruptControl(c InterruptControl) Option {
	return func(k *Kernel) { k.intCtl = c }
}

func WithUART(u UART) Option {
	return func(k *Kernel) { k.uart = u }
}

func WithMemoryProtection(m MemoryProtection) Option {
	return func(k *Kernel) { k.mpu = m }
}

func WithServo(s Servo) Option {
	return func(k *Kernel) { k.servo = s }
}

// NewKernel implements thread_init's outer shell (spec §4.1, §6): build
// the kernel's collaborators, then lay out the TCB table per cfg.
func NewKernel(cfg KernelConfig, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		log:    NewNopLogger(),
		tick:   &simTimerTick{},
		intCtl: nopInterruptControl{},
		uart:   &loopbackUART{},
		mpu:    nopMPU{},
		servo:  &nopServo{},
	}
	k.cond = sync.NewCond(&k.mu)
	k.trigger = newSwitchTrigger()
	k.exitCh = make(chan int, 1)

	for _, opt := range opts {
		opt(k)
	}

	if err := k.threadInit(cfg); err != nil {
		return nil, err
	}
	return k, nil
}

// NewMutex implements mutex_init — spec §4.5, syscall 13.
func (k *Kernel) NewMutex(ceiling int) (int, error) {
	return k.mutexInit(ceiling)
}

// ThreadCreate implements thread_create — spec §4.1, §4.2, syscall 10.
func (k *Kernel) ThreadCreate(fn TaskFunc, prio, c, t int, arg uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.threadCreate(fn, prio, c, t, arg)
}

// ThreadKill implements thread_kill — spec §4.7, syscall 11.
func (k *Kernel) ThreadKill(slot int) {
	k.mu.Lock()
	k.threadKill(slot)
	terminated := k.exited
	k.mu.Unlock()
	if !terminated {
		k.trigger.Pend()
	}
}

// terminate implements thread_kill on the main slot (spec §4.7): it ends
// the kernel's Run loop with the given exit status, the equivalent of
// the real firmware halting after sys_exit. Called with k.mu held.
func (k *Kernel) terminate(status int) {
	if k.exited {
		return
	}
	k.exited = true
	k.exitStatus = status
	select {
	case k.exitCh <- status:
	default:
	}
}

// Run implements scheduler_start (spec §4.3, §6, syscall 12): it starts
// the tick source and the deferred-switch dispatcher and blocks until the
// kernel terminates (main is killed, a task calls exit, or the scheduler
// finds every user slot NEW or DONE) or ctx is cancelled, the way the
// real kernel's scheduler_start never returns to its caller until the
// board halts. An errgroup runs the two alongside a third goroutine that
// waits for the exit status (or ctx's end) and then stops both.
func (k *Kernel) Run(ctx context.Context) (int, error) {
	k.mu.Lock()
	k.tick.Init(k.cfg.TickHz)
	k.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	stop := make(chan struct{})

	g.Go(func() error {
		k.tick.Run(k.onTick, stop)
		return nil
	})

	g.Go(func() error {
		k.runDispatcher(runCtx)
		return nil
	})

	g.Go(func() error {
		select {
		case status := <-k.exitCh:
			k.exitStatus = status
		case <-gctx.Done():
		}
		close(stop)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return k.exitStatus, err
	}
	return k.exitStatus, nil
}

// GetTime implements get_time — spec §4.6, syscall 17.
func (k *Kernel) GetTime() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tickCounter
}

// GetPriority implements get_priority — spec §4.6, syscall 19: the
// calling task's *dynamic* priority, since that's what HLP may have
// raised (spec §4.5).
func (k *Kernel) GetPriority(slot int) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tcbs[slot].DynPrio
}

// ThreadTime implements thread_time — spec §4.6, syscall 20: ticks this
// slot has spent RUNNING, accumulated in onTick.
func (k *Kernel) ThreadTime(slot int) uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tcbs[slot].ElapsedTicks
}

// WaitUntilNextPeriod implements wait_until_next_period — spec §4.6,
// syscall 16: park the calling task until its own next period release.
func (t *Task) WaitUntilNextPeriod() bool {
	k := t.k
	tcb := t.tcb
	k.mu.Lock()
	if tcb.Slot == k.idleSlot || tcb.Slot == k.mainSlot {
		k.mu.Unlock()
		return true
	}
	tcb.State = StateWaiting
	tcb.BudgetLeft = 0
	k.mu.Unlock()
	k.trigger.Pend()
	return t.waitRunning()
}
