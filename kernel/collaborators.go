package kernel

import (
	"time"

	"go.uber.org/zap"
)

// Logger is the spec's "diagnostic channel" (§7): a thin wrapper so
// kernel services never reach for a global logger, the same way the
// Kernel never reaches for global TCB/mutex tables.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger builds a production zap logger. Tests use NewNopLogger.
func NewLogger() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{s: z.Sugar()}, nil
}

// NewNopLogger discards everything; used by tests and by callers that
// don't want the diagnostic channel wired up.
func NewNopLogger() *Logger {
	return &Logger{s: zap.NewNop().Sugar()}
}

func (l *Logger) warn(msg string, args ...interface{}) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Warnw(msg, args...)
}

func (l *Logger) info(msg string, args ...interface{}) {
	if l == nil || l.s == nil {
		return
	}
	l.s.Infow(msg, args...)
}

// TimerTick is the tick source collaborator (spec §6): a periodic
// hardware counter raising the scheduler interrupt at ticks_per_second =
// freq_hz. Out of scope here is the actual hardware timer register
// programming; this interface is only the edge the core consumes.
type TimerTick interface {
	Init(freqHz int)
	// Run invokes handler on every simulated tick until stop is closed.
	Run(handler func(), stop <-chan struct{})
}

// ContextSwitchTrigger pends the deferred, low-priority context-switch
// exception (spec §4.4). The kernel's own implementation (switchTrigger,
// in contextswitch.go) is what Kernel actually uses: Kernel holds that
// concrete type, and no Option replaces it with another implementation.
type ContextSwitchTrigger interface {
	Pend()
}

// InterruptControl models save/disable/restore of the global
// interrupt-enable flag (spec §5). The Kernel stores one (see
// WithInterruptControl), but no kernel service calls it: the kernel's
// critical sections are guarded by Kernel.mu instead.
type InterruptControl interface {
	SaveAndDisable() uint32
	Restore(state uint32)
	WaitForInterrupt()
}

// UART is the byte-oriented, non-blocking stream collaborator (spec §6).
// Out of scope: FIFO depth, baud configuration, framing — the core only
// ever calls Put/Get.
type UART interface {
	Put(c byte) bool
	Get() (byte, bool)
}

// MemoryProtection is the MPU collaborator (spec §6): region, base,
// size, exec and write bits. The Kernel stores one (see
// WithMemoryProtection), but no kernel service calls it.
type MemoryProtection interface {
	EnableRegion(region int, base uintptr, sizeLog2 uint, exec, write bool)
	DisableRegion(region int)
}

// Servo is the servo-driver collaborator behind syscalls 22/23
// (servo_enable/servo_set). Out of scope beyond the call boundary.
type Servo interface {
	Enable(channel int, enabled bool) error
	Set(channel int, angle int) error
}

// --- default, recording-only implementations; none of these simulate
// real hardware timing, since the MPU/UART/servo/timer are explicitly
// out of scope (spec §1) and exist only so kernel services have
// something concrete to call. ---

type nopInterruptControl struct{}

func (nopInterruptControl) SaveAndDisable() uint32 { return 0 }
func (nopInterruptControl) Restore(uint32)         {}
func (nopInterruptControl) WaitForInterrupt()      {}

type loopbackUART struct {
	buf []byte
}

func (u *loopbackUART) Put(c byte) bool {
	u.buf = append(u.buf, c)
	return true
}

func (u *loopbackUART) Get() (byte, bool) {
	if len(u.buf) == 0 {
		return 0, false
	}
	c := u.buf[0]
	u.buf = u.buf[1:]
	return c, true
}

type nopMPU struct{}

func (nopMPU) EnableRegion(int, uintptr, uint, bool, bool) {}
func (nopMPU) DisableRegion(int)                           {}

type nopServo struct {
	enabled [8]bool
	angle   [8]int
}

func (s *nopServo) Enable(channel int, enabled bool) error {
	if channel < 0 || channel >= len(s.enabled) {
		return ErrBadPriority
	}
	s.enabled[channel] = enabled
	return nil
}

func (s *nopServo) Set(channel int, angle int) error {
	if channel < 0 || channel >= len(s.angle) {
		return ErrBadPriority
	}
	s.angle[channel] = angle
	return nil
}

// simTimerTick is the default TimerTick: a Go ticker goroutine standing
// in for the hardware counter. Interval defaults to 1/freqHz of
// wall-clock time but can be overridden (tests run the scenarios in
// §8 orders of magnitude faster than real ticks).
type simTimerTick struct {
	freqHz   int
	Interval time.Duration
}

func (t *simTimerTick) Init(freqHz int) {
	t.freqHz = freqHz
	if t.Interval == 0 {
		t.Interval = time.Second / time.Duration(freqHz)
	}
}

func (t *simTimerTick) Run(handler func(), stop <-chan struct{}) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			handler()
		}
	}
}
