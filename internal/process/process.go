// Package process implements the per-process state machine of spec.md §4.1:
// spawn, readiness, graceful stop, forced kill, and restart-on-exit, driven
// either by timers or by the supervisor's SIGCHLD reaper delivering
// OnSigchld. Grounded on kornnellio-gosv's Process/Supervisor split (fork,
// SysProcAttr, restart bookkeeping) and, for the state machine itself, on
// original_source/supervisor/process.py line for line.
package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylakmongush/taskmaster/internal/program"
	"github.com/baylakmongush/taskmaster/internal/registry"
)

// umaskMu serialises the process-wide umask(2) value across concurrent
// spawns, since changing umask is not itself per-child — it is parent state
// inherited across fork, so spawn must set it, fork, then restore it.
var umaskMu sync.Mutex

// Callback is a continuation invoked once, off any Process lock, on a fresh
// goroutine — never synchronously from within Spawn/Kill/OnSigchld.
type Callback func(name string, pid int)

// Process is the supervisor's model of one long-lived child slot (spec.md
// §3). It persists across many OS-process incarnations of the command it
// runs.
type Process struct {
	groupName string
	index     int
	spec      program.Spec
	registry  *registry.Registry
	logger    zerolog.Logger

	mu         sync.Mutex
	state      State
	pid        int
	restarts   int
	startTimer *time.Timer
	stopTimer  *time.Timer
	onSpawn    Callback
	onFail     Callback
	onKill     Callback
}

// New constructs a Process in the stopped state. groupName/index form its
// external name per spec.md §3: "{group_name}{index}".
func New(groupName string, index int, spec program.Spec, reg *registry.Registry, logger zerolog.Logger) *Process {
	return &Process{
		groupName: groupName,
		index:     index,
		spec:      spec,
		registry:  reg,
		logger:    logger,
		state:     StateStopped,
	}
}

// Name is the process's external address, e.g. "alpha0".
func (p *Process) Name() string {
	return fmt.Sprintf("%s%d", p.groupName, p.index)
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the current child pid, or 0 if none.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Restarts returns the current consecutive-start-retry counter.
func (p *Process) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// Spec returns the program spec this Process was constructed with.
func (p *Process) Spec() program.Spec {
	return p.spec
}

// Spawn starts (or restarts) the child. Precondition: state ∈ {stopped,
// exited, fatal} — violating it is a contract breach that spec.md documents
// but does not require enforcing; this implementation logs and proceeds
// rather than corrupting the registry.
//
// Returns false only when the fork itself could not happen (spec.md §7's
// "Fork failure"); exec-class failures (bad binary) still return true and
// are driven through the normal reap path, exactly like a real child that
// executed and immediately exited.
func (p *Process) Spawn(onSpawn, onFail Callback) bool {
	p.mu.Lock()

	if !p.state.Spawnable() {
		p.logger.Warn().Str("process", p.Name()).Str("state", p.state.String()).Msg("spawn called outside stopped/exited/fatal")
	}

	if onSpawn != nil {
		p.onSpawn = onSpawn
	}
	if onFail != nil {
		p.onFail = onFail
	}

	cmd := exec.Command(p.spec.Command[0], p.spec.Command[1:]...)
	cmd.Env = buildEnv(p.spec.Environment)
	if p.spec.Directory != "" {
		cmd.Dir = p.spec.Directory
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := openLogFile(p.Name(), p.spec.StdoutLogfile, ".stdout")
	if err != nil {
		p.logger.Warn().Err(err).Str("process", p.Name()).Msg("stdout logfile open failed, using /dev/null")
		stdout, _ = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	stderr, err := openLogFile(p.Name(), p.spec.StderrLogfile, ".stderr")
	if err != nil {
		p.logger.Warn().Err(err).Str("process", p.Name()).Msg("stderr logfile open failed, using /dev/null")
		stderr, _ = os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var restoreUmask func()
	if p.spec.Umask != nil {
		umaskMu.Lock()
		old := syscall.Umask(*p.spec.Umask)
		restoreUmask = func() {
			syscall.Umask(old)
			umaskMu.Unlock()
		}
	} else {
		restoreUmask = func() {}
	}

	startErr := cmd.Start()
	restoreUmask()

	// The parent keeps no further use for its copy of the child's log fds;
	// the child holds its own duplicated descriptors after fork.
	stdout.Close()
	stderr.Close()

	if startErr != nil {
		if isForkFailure(startErr) {
			p.logger.Error().Err(startErr).Str("process", p.Name()).Msg("fork failed")
			p.mu.Unlock()
			return false
		}

		p.logger.Warn().Err(startErr).Str("process", p.Name()).Msg("exec failed, treating as immediate child exit")
		if p.spec.StartSecs > 0 {
			p.state = StateStarting
		} else {
			p.state = StateRunning
		}
		p.pid = 0
		p.mu.Unlock()

		// No real child exists to reap; synthesize the SIGCHLD path with the
		// shell "command not found" convention (also used by
		// msantos-goreap's execv on Cmd.Start failure).
		go p.OnSigchld(127)
		return true
	}

	p.pid = cmd.Process.Pid
	p.registry.Insert(p.pid, p)

	var immediateSpawn Callback
	var immediatePID int
	if p.spec.StartSecs > 0 {
		p.state = StateStarting
		p.startTimer = time.AfterFunc(time.Duration(p.spec.StartSecs)*time.Second, p.fireStartTimer)
	} else {
		// startsecs=0: readiness is trivially already met (spec.md §8's
		// boundary behaviour), so on_spawn fires now instead of waiting on a
		// timer that would never be armed.
		p.state = StateRunning
		p.restarts = 0
		immediateSpawn = p.onSpawn
		immediatePID = p.pid
	}

	p.logger.Info().Str("process", p.Name()).Int("pid", p.pid).Msg("spawned")
	p.mu.Unlock()

	if immediateSpawn != nil {
		go immediateSpawn(p.Name(), immediatePID)
	}

	return true
}

// Kill requests a graceful stop. Precondition: state ∈ {starting, running}.
func (p *Process) Kill(onKill Callback) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStarting && p.state != StateRunning {
		return false
	}

	if p.startTimer != nil {
		p.startTimer.Stop()
		p.startTimer = nil
	}

	if onKill != nil {
		p.onKill = onKill
	}
	p.state = StateStopping

	if err := syscall.Kill(-p.pid, p.spec.StopSignal); err != nil {
		p.logger.Warn().Err(err).Str("process", p.Name()).Msg("stop signal delivery failed")
		return false
	}

	if p.spec.StopWaitSecs > 0 {
		p.stopTimer = time.AfterFunc(time.Duration(p.spec.StopWaitSecs)*time.Second, p.fireStopTimer)
	} else {
		// stopwaitsecs=0: the grace timer fires immediately (spec.md §8).
		go p.fireStopTimer()
	}

	return true
}

// OnSigchld is the reaper's entry point into the state machine (spec.md
// §4.1's table). It implements registry.Owner.
func (p *Process) OnSigchld(exitCode int) {
	p.mu.Lock()

	switch p.state {
	case StateStarting:
		p.logger.Warn().Str("process", p.Name()).Int("exit_code", exitCode).Msg("backoff: died before startsecs")

		if p.startTimer != nil {
			p.startTimer.Stop()
			p.startTimer = nil
		}
		if p.pid != 0 {
			p.registry.Remove(p.pid)
		}
		p.pid = 0
		p.state = StateBackoff

		if p.restarts < p.spec.StartRetries {
			p.restarts++
			delay := time.Duration(p.restarts) * time.Second
			p.mu.Unlock()
			time.AfterFunc(delay, func() { p.Spawn(nil, nil) })
			return
		}

		p.logger.Error().Str("process", p.Name()).Int("exit_code", exitCode).Msg("fatal: exhausted startretries")
		p.state = StateFatal
		p.restarts = 0
		onFail := p.onFail
		p.mu.Unlock()
		if onFail != nil {
			go onFail(p.Name(), 0)
		}

	case StateRunning:
		_, expected := p.spec.ExitCodes[exitCode]
		p.logger.Info().Str("process", p.Name()).Int("exit_code", exitCode).Bool("expected", expected).Msg("exited")

		if p.pid != 0 {
			p.registry.Remove(p.pid)
		}
		p.pid = 0
		p.state = StateExited

		restart := p.spec.AutoRestart == program.AutorestartAlways ||
			(p.spec.AutoRestart == program.AutorestartUnexpected && !expected)
		p.mu.Unlock()
		if restart {
			p.Spawn(nil, nil)
		}

	case StateStopping:
		p.logger.Info().Str("process", p.Name()).Msg("stopped")

		if p.stopTimer != nil {
			p.stopTimer.Stop()
			p.stopTimer = nil
		}
		pid := p.pid
		if pid != 0 {
			p.registry.Remove(pid)
		}
		p.pid = 0
		p.state = StateStopped
		onKill := p.onKill
		p.mu.Unlock()
		if onKill != nil {
			go onKill(p.Name(), pid)
		}

	default:
		p.logger.Error().Str("process", p.Name()).Str("state", p.state.String()).Msg("invariant breach: sigchld in unexpected state")
		p.state = StateUnknown
		p.mu.Unlock()
	}
}

// fireStartTimer is the start_timer callback: promotes starting → running.
func (p *Process) fireStartTimer() {
	p.mu.Lock()
	if p.state != StateStarting {
		p.mu.Unlock()
		return
	}
	p.logger.Info().Str("process", p.Name()).Msg("entered running state")
	p.state = StateRunning
	p.restarts = 0
	p.startTimer = nil
	onSpawn := p.onSpawn
	pid := p.pid
	p.mu.Unlock()

	if onSpawn != nil {
		go onSpawn(p.Name(), pid)
	}
}

// fireStopTimer is the stop_timer callback: forced kill after stopwaitsecs.
func (p *Process) fireStopTimer() {
	p.mu.Lock()
	if p.state != StateStopping {
		p.mu.Unlock()
		return
	}
	pid := p.pid
	p.stopTimer = nil
	p.mu.Unlock()

	if pid != 0 {
		p.logger.Warn().Str("process", p.Name()).Msg("stopwaitsecs elapsed, sending SIGKILL")
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
