package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastTick ticks on a short wall-clock interval so Run-based tests don't
// wait out real millisecond ticks (spec scenarios assume 1ms/tick; tests
// compress that the way the teacher's own simulators run scaled time).
func fastTick() Option {
	return WithTimerTick(&simTimerTick{Interval: time.Microsecond})
}

func runWithTimeout(t *testing.T, k *Kernel) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return k.Run(ctx)
}

// TestRun_Scenario5CeilingRejection pins spec §8.5: a priority-0 task
// locking a ceiling-1 mutex is killed, and with no other work, Run
// returns once main takes over.
func TestRun_Scenario5CeilingRejection(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 2}, fastTick())
	require.NoError(t, err)

	h, err := k.NewMutex(1)
	require.NoError(t, err)

	body := func(task *Task, _ uint32) {
		task.Lock(h)
		task.Spin(10)
	}
	require.NoError(t, k.ThreadCreate(body, 0, 100, 500, 0))

	status, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, StateDone, k.tcbs[0].State)
}

// TestRun_Scenario4MutexBasic pins spec §8.4's lock/unlock sequence,
// including the double-unlock and double-lock misuse cases which warn
// without changing state, ending with owner=NONE.
func TestRun_Scenario4MutexBasic(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 1}, fastTick())
	require.NoError(t, err)

	h, err := k.NewMutex(0)
	require.NoError(t, err)

	body := func(task *Task, _ uint32) {
		task.Lock(h)
		task.Spin(10)
		task.Unlock(h)
		task.Spin(10)
		task.Unlock(h) // warn: double unlock
		task.Lock(h)
		task.Lock(h) // warn: double lock
		task.Unlock(h)
	}
	require.NoError(t, k.ThreadCreate(body, 0, 500, 500, 0))

	status, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.Equal(t, NoOwner, k.mutexes[h].Owner)
}

// TestRun_Scenario1BasicRMS pins spec §8.1 end to end through Run,
// confirming both tasks reach their sentinel print.
func TestRun_Scenario1BasicRMS(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 2}, fastTick())
	require.NoError(t, err)

	printed := make([]bool, 2)
	body := func(idx int) TaskFunc {
		return func(task *Task, _ uint32) {
			for p := 0; p < 2; p++ {
				task.Spin(50)
				task.WaitUntilNextPeriod()
			}
			printed[idx] = true
		}
	}
	require.NoError(t, k.ThreadCreate(body(0), 0, 50, 500, 0))
	require.NoError(t, k.ThreadCreate(body(1), 1, 50, 500, 0))

	status, err := runWithTimeout(t, k)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
	assert.True(t, printed[0])
	assert.True(t, printed[1])
}

func TestGetTimeGetPriorityThreadTime(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 1}, fastTick())
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 500, 500, 0))

	assert.Equal(t, uint64(0), k.GetTime())
	assert.Equal(t, 0, k.GetPriority(0))
	assert.Equal(t, uint64(0), k.ThreadTime(0))
}

func TestSyscall_UnknownIndexAsserts(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 1})
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 500, 500, 0))
	task := &Task{k: k, tcb: k.tcbs[0]}

	assert.Panics(t, func() {
		task.Syscall(99, SyscallArgs{})
	})
}

func TestSyscall_SbrkRoundTripRestoresBreak(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 1})
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 500, 500, 0))
	task := &Task{k: k, tcb: k.tcbs[0]}

	before := task.Syscall(SyscallSbrk, SyscallArgs{A0: 0})
	task.Syscall(SyscallSbrk, SyscallArgs{A0: 4096})
	after := task.Syscall(SyscallSbrk, SyscallArgs{A0: uint32(int32(-4096))})
	assert.Equal(t, before, after)
}

func TestSyscall_WriteGoesThroughUART(t *testing.T) {
	k, err := NewKernel(KernelConfig{MaxThreads: 1})
	require.NoError(t, err)
	require.NoError(t, k.ThreadCreate(func(*Task, uint32) {}, 0, 500, 500, 0))
	task := &Task{k: k, tcb: k.tcbs[0]}

	n := task.Syscall(SyscallWrite, SyscallArgs{A0: 1, Buf: []byte("hi")})
	assert.Equal(t, uint32(2), n)

	buf := make([]byte, 2)
	read := task.Syscall(SyscallRead, SyscallArgs{A0: 0, Buf: buf})
	assert.Equal(t, uint32(2), read)
	assert.Equal(t, "hi", string(buf))
}

func TestWithMetrics_RegistersAgainstProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	k, err := NewKernel(KernelConfig{MaxThreads: 1}, WithMetrics(reg))
	require.NoError(t, err)
	require.NotNil(t, k.metrics)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
