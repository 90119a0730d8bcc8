package process

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baylakmongush/taskmaster/internal/program"
	"github.com/baylakmongush/taskmaster/internal/registry"
)

func testSpec(command []string) program.Spec {
	return program.Spec{
		Command:       command,
		NumProcs:      1,
		AutoStart:     true,
		AutoRestart:   program.AutorestartUnexpected,
		ExitCodes:     map[int]struct{}{0: {}},
		StartSecs:     0,
		StartRetries:  3,
		StopSignal:    syscall.SIGTERM,
		StopWaitSecs:  5,
		StdoutLogfile: "NONE",
		StderrLogfile: "NONE",
		Environment:   map[string]string{},
	}
}

func newTestProcess(t *testing.T, spec program.Spec) (*Process, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	startTestReaper(t, reg)
	p := New("test", 0, spec, reg, zerolog.Nop())
	return p, reg
}

// startTestReaper polls Wait4(-1, WNOHANG) and resolves each reaped pid
// through reg, standing in for supervisor.StartReaping/reapOnce: Go never
// auto-reaps a child you don't Wait() on, so every test that spawns a real
// child needs this running or its on_spawn/on_fail/on_kill callback (which
// only fires from OnSigchld) never arrives.
func startTestReaper(t *testing.T, reg *registry.Registry) {
	t.Helper()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for {
					var ws syscall.WaitStatus
					pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
					if err != nil || pid <= 0 {
						break
					}
					if owner, ok := reg.Lookup(pid); ok {
						owner.OnSigchld(testExitCode(ws))
					}
				}
			}
		}
	}()
}

func testExitCode(ws syscall.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 1
	}
}

func TestSpawnZeroStartSecsGoesDirectlyToRunning(t *testing.T) {
	spec := testSpec([]string{"sleep", "5"})
	p, reg := newTestProcess(t, spec)

	ok := p.Spawn(nil, nil)
	require.True(t, ok)
	require.Equal(t, StateRunning, p.State())
	require.Greater(t, p.PID(), 0)
	require.Equal(t, 1, reg.Len())

	p.Kill(nil)
}

func TestSpawnWithStartSecsReachesRunningAndCallsOnSpawn(t *testing.T) {
	spec := testSpec([]string{"sleep", "5"})
	spec.StartSecs = 1

	p, _ := newTestProcess(t, spec)

	var mu sync.Mutex
	var spawnedName string
	var spawnedPID int
	done := make(chan struct{})

	ok := p.Spawn(func(name string, pid int) {
		mu.Lock()
		spawnedName, spawnedPID = name, pid
		mu.Unlock()
		close(done)
	}, nil)
	require.True(t, ok)
	require.Equal(t, StateStarting, p.State())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("on_spawn was never called")
	}

	require.Equal(t, StateRunning, p.State())
	require.Equal(t, 0, p.Restarts())
	mu.Lock()
	require.Equal(t, "test0", spawnedName)
	require.Greater(t, spawnedPID, 0)
	mu.Unlock()

	p.Kill(nil)
}

func TestRetryToFatal(t *testing.T) {
	spec := testSpec([]string{"/nonexistent-binary-for-taskmaster-tests"})
	spec.StartSecs = 1
	spec.StartRetries = 2

	p, _ := newTestProcess(t, spec)

	var failCount int
	var mu sync.Mutex
	done := make(chan struct{})

	p.Spawn(nil, func(name string, pid int) {
		mu.Lock()
		failCount++
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("on_fail was never called")
	}

	require.Equal(t, StateFatal, p.State())
	require.Equal(t, 0, p.Restarts())
	mu.Lock()
	require.Equal(t, 1, failCount)
	mu.Unlock()
}

func TestKillGracefulStop(t *testing.T) {
	spec := testSpec([]string{"sleep", "60"})
	p, reg := newTestProcess(t, spec)
	p.Spawn(nil, nil)
	require.Equal(t, StateRunning, p.State())

	done := make(chan int, 1)
	ok := p.Kill(func(name string, pid int) { done <- pid })
	require.True(t, ok)
	require.Equal(t, StateStopping, p.State())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("on_kill was never called")
	}

	require.Equal(t, StateStopped, p.State())
	require.Equal(t, 0, p.PID())
	require.Equal(t, 0, reg.Len())
}

func TestForcedKillAfterStopWaitSecs(t *testing.T) {
	spec := testSpec([]string{"sh", "-c", "trap '' TERM; sleep 60"})
	spec.StopWaitSecs = 1
	p, _ := newTestProcess(t, spec)
	p.Spawn(nil, nil)

	done := make(chan struct{})
	p.Kill(func(string, int) { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stubborn child was never forced-killed")
	}
	require.Equal(t, StateStopped, p.State())
}

func TestExpectedExitDoesNotRestart(t *testing.T) {
	spec := testSpec([]string{"sh", "-c", "exit 7"})
	spec.ExitCodes = map[int]struct{}{7: {}}
	spec.AutoRestart = program.AutorestartUnexpected
	spec.StartSecs = 0

	p, _ := newTestProcess(t, spec)
	p.Spawn(nil, nil)

	require.Eventually(t, func() bool {
		return p.State() == StateExited
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, StateExited, p.State())
}

func TestUnexpectedExitRestarts(t *testing.T) {
	spec := testSpec([]string{"sh", "-c", "exit 7"})
	spec.ExitCodes = map[int]struct{}{0: {}}
	spec.AutoRestart = program.AutorestartUnexpected
	spec.StartSecs = 0

	p, _ := newTestProcess(t, spec)
	p.Spawn(nil, nil)
	firstPID := p.PID()

	require.Eventually(t, func() bool {
		pid := p.PID()
		return pid > 0 && pid != firstPID
	}, 3*time.Second, 20*time.Millisecond)

	p.Kill(nil)
}
