package kernel

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Sentinel errors (spec §4.7, §7). Kept as plain stdlib errors so callers
// can errors.Is against them; call sites wrap with github.com/pkg/errors
// to attach a stack and the slot/index that failed.
var (
	ErrQuotaExceeded   = stderrors.New("kernel: max thread slots exhausted")
	ErrInfeasible      = stderrors.New("kernel: utilization bound exceeded")
	ErrSlotOccupied    = stderrors.New("kernel: thread slot already READY")
	ErrBadPriority     = stderrors.New("kernel: priority out of range")
	ErrNoMutexSlots    = stderrors.New("kernel: mutex table exhausted")
	ErrUnknownSyscall  = stderrors.New("kernel: unknown syscall index")
	ErrStackTooLarge   = stderrors.New("kernel: stack pool exceeds 32 KiB")
	ErrTooManyThreads  = stderrors.New("kernel: max_threads exceeds 14")
	ErrNotInitialized  = stderrors.New("kernel: thread_init not called")
)

func wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
