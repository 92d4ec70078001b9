// Command supraxk runs one of the kernel's end-to-end scenarios
// standalone, the way a board's firmware image runs one fixed program.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/GuchaIll/EmbeddedSystemClassRealTimeSchedulingKernel/kernel"
)

var scenarios = map[string]func(protectionMode int) int{
	"basic-rms":         runBasicRMS,
	"ub-boundary":       runUBBoundary,
	"thread-revival":    runThreadRevival,
	"mutex-basic":       runMutexBasic,
	"ceiling-rejection": runCeilingRejection,
	"hlp-three-task":    runHLPThreeTask,
}

func main() {
	protectionMode := pflag.IntP("protection-mode", "p", 0, "memory-protection mode (0, 1, or 2)")
	scenario := pflag.StringP("scenario", "s", "basic-rms", "scenario to run: basic-rms, ub-boundary, thread-revival, mutex-basic, ceiling-rejection, hlp-three-task")
	pflag.Parse()

	if *protectionMode < 0 || *protectionMode > 2 {
		fmt.Fprintf(os.Stderr, "supraxk: -p must be 0, 1, or 2 (got %d)\n", *protectionMode)
		os.Exit(1)
	}

	run, ok := scenarios[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "supraxk: unknown scenario %q\n", *scenario)
		os.Exit(1)
	}

	os.Exit(run(*protectionMode))
}

// newScenarioKernel builds a Kernel with a production logger and the
// default collaborators, the way a scenario running on an actual board
// would wire thread_init against the board's own MPU/UART/servo. The
// memory-protection mode only selects which MPU regions main would
// program in firmware; out of scope here (spec §1), it is accepted and
// otherwise ignored.
func newScenarioKernel(cfg kernel.KernelConfig, protectionMode int) (*kernel.Kernel, error) {
	log, err := kernel.NewLogger()
	if err != nil {
		return nil, err
	}
	_ = protectionMode
	return kernel.NewKernel(cfg, kernel.WithLogger(log))
}

func sentinel(t *kernel.Task) {
	t.Syscall(kernel.SyscallWrite, kernel.SyscallArgs{A0: 1, Buf: []byte("Test passed\n")})
}

// runBasicRMS implements scenario 1: two tasks (50,500) interleave
// 0-50/50-100 each period.
func runBasicRMS(protectionMode int) int {
	k, err := newScenarioKernel(kernel.KernelConfig{MaxThreads: 2}, protectionMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	body := func(t *kernel.Task, _ uint32) {
		for periods := 0; periods < 2; periods++ {
			t.Spin(50)
			t.WaitUntilNextPeriod()
		}
		sentinel(t)
	}

	_ = k.ThreadCreate(body, 0, 50, 500, 0)
	_ = k.ThreadCreate(body, 1, 50, 500, 0)

	status, _ := k.Run(context.Background())
	return status
}

// runUBBoundary implements scenario 2: with (50,200)+(50,200) admitted,
// find the largest C admissible at T=1000 by stepping down from 1000.
func runUBBoundary(protectionMode int) int {
	k, err := newScenarioKernel(kernel.KernelConfig{MaxThreads: 3}, protectionMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	idleBody := func(t *kernel.Task, _ uint32) { t.Spin(1) }
	_ = k.ThreadCreate(idleBody, 0, 50, 200, 0)
	_ = k.ThreadCreate(idleBody, 1, 50, 200, 0)

	accepted := -1
	for c := 1000; c > 0; c -= 100 {
		if err := k.ThreadCreate(idleBody, 2, c, 1000, 0); err == nil {
			accepted = c
			k.ThreadKill(2)
			break
		}
	}
	if accepted != 200 {
		fmt.Fprintf(os.Stderr, "supraxk: ub-boundary got C=%d, want 200\n", accepted)
		return 1
	}
	return 0
}

// runThreadRevival implements scenario 3: five (50,500) tasks; task 4 is
// killed and recreated by task 3, resuming at the next full period.
func runThreadRevival(protectionMode int) int {
	k, err := newScenarioKernel(kernel.KernelConfig{MaxThreads: 5}, protectionMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	const periods = 6
	steady := func(t *kernel.Task, _ uint32) {
		for i := 0; i < periods; i++ {
			t.Spin(50)
			if !t.WaitUntilNextPeriod() {
				return
			}
		}
	}
	// task 4 runs two periods, then terminates itself by falling off
	// its entry point — the goroutine equivalent of calling thread_kill
	// on its own slot (spec §4.1: LR seeded with the kill trampoline).
	dies := func(t *kernel.Task, _ uint32) {
		for i := 0; i < 2; i++ {
			t.Spin(50)
			if !t.WaitUntilNextPeriod() {
				return
			}
		}
	}
	// task 3 notices task 4 is gone on its next wake-up and recreates it
	// with the same parameters; the revived slot waits to the next
	// period boundary before resuming (spec §9 Open Question).
	reviver := func(t *kernel.Task, _ uint32) {
		t.Spin(50)
		t.WaitUntilNextPeriod()
		t.Spin(50)
		t.WaitUntilNextPeriod()
		_ = k.ThreadCreate(steady, 4, 50, 500, 0)
		for i := 0; i < 4; i++ {
			t.Spin(50)
			if !t.WaitUntilNextPeriod() {
				return
			}
		}
	}

	_ = k.ThreadCreate(steady, 0, 50, 500, 0)
	_ = k.ThreadCreate(steady, 1, 50, 500, 0)
	_ = k.ThreadCreate(steady, 2, 50, 500, 0)
	_ = k.ThreadCreate(reviver, 3, 50, 500, 0)
	_ = k.ThreadCreate(dies, 4, 50, 500, 0)

	status, _ := k.Run(context.Background())
	return status
}

// runMutexBasic implements scenario 4: lock/unlock/double-unlock/
// double-lock sequence against one mutex with ceiling 0.
func runMutexBasic(protectionMode int) int {
	k, err := newScenarioKernel(kernel.KernelConfig{MaxThreads: 1}, protectionMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	h, _ := k.NewMutex(0)

	body := func(t *kernel.Task, _ uint32) {
		t.Lock(h)
		t.Spin(10)
		t.Unlock(h)
		t.Spin(10)
		t.Unlock(h) // warn: double unlock
		t.Lock(h)
		t.Lock(h) // warn: double lock
		t.Unlock(h)
	}
	_ = k.ThreadCreate(body, 0, 500, 500, 0)

	status, _ := k.Run(context.Background())
	return status
}

// runCeilingRejection implements scenario 5: a priority-0 task locking a
// ceiling-1 mutex must be killed for the violation.
func runCeilingRejection(protectionMode int) int {
	k, err := newScenarioKernel(kernel.KernelConfig{MaxThreads: 2}, protectionMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	h, _ := k.NewMutex(1)

	body := func(t *kernel.Task, _ uint32) {
		t.Lock(h) // ceiling violation: this task never resumes
		t.Spin(10)
	}
	_ = k.ThreadCreate(body, 0, 100, 500, 0)

	status, _ := k.Run(context.Background())
	return status
}

// runHLPThreeTask implements scenario 6: two mutexes, three tasks; T2
// holds both, T0/T1 preempt and release in ceiling order.
func runHLPThreeTask(protectionMode int) int {
	k, err := newScenarioKernel(kernel.KernelConfig{MaxThreads: 3}, protectionMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	s0, _ := k.NewMutex(0)
	s1, _ := k.NewMutex(1)

	short := func(t *kernel.Task, _ uint32) {
		for i := 0; i < 4; i++ {
			t.Spin(100)
			if !t.WaitUntilNextPeriod() {
				return
			}
		}
	}
	long := func(t *kernel.Task, _ uint32) {
		t.Lock(s1)
		t.Lock(s0)
		t.Spin(350)
		t.Unlock(s0)
		t.Unlock(s1)
	}

	_ = k.ThreadCreate(short, 0, 100, 500, 0)
	_ = k.ThreadCreate(short, 1, 100, 500, 0)
	_ = k.ThreadCreate(long, 2, 750, 2000, 0)

	status, _ := k.Run(context.Background())
	return status
}
