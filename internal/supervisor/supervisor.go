// Package supervisor implements spec.md §4.3: the top-level orchestrator
// holding groups, routing control requests, owning the SIGCHLD reaper, and
// diffing configuration reloads. Grounded on kornnellio-gosv's Supervisor
// (signal plumbing, reap loop shape) and original_source/taskmaster/
// taskmaster.py (reload diff, bulk-op result maps, blocking-on-completion
// semantics).
package supervisor

import (
	"errors"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/baylakmongush/taskmaster/internal/group"
	"github.com/baylakmongush/taskmaster/internal/process"
	"github.com/baylakmongush/taskmaster/internal/program"
	"github.com/baylakmongush/taskmaster/internal/registry"
)

var (
	ErrUnknownGroup   = errors.New("unknown group")
	ErrUnknownProcess = errors.New("unknown process")
)

// Result is one process's outcome from a bulk start/stop/restart.
type Result struct {
	PID     int
	Success bool
}

// Supervisor holds every Group, the last-applied configuration (for reload
// diffing), and the process-wide PID registry.
type Supervisor struct {
	mu         sync.RWMutex
	groups     map[string]*group.Group
	lastConfig map[string]program.Spec
	registry   *registry.Registry
	logger     zerolog.Logger

	// reloadMu serialises whole Reload calls against each other. It is
	// distinct from mu (which only ever guards the groups map itself)
	// because Reload must release mu before calling drainGroup — drainGroup
	// may invoke onDrained synchronously, and onDrained re-locks mu to
	// update the groups map, which would self-deadlock on a non-reentrant
	// RWMutex if mu were still held.
	reloadMu sync.Mutex

	configMu          sync.Mutex
	pendingConfigPath string

	reapSig  chan os.Signal
	reapDone chan struct{}
}

// New returns an empty Supervisor. Call Reload once with the initial
// configuration to populate it, and StartReaping to begin reaping SIGCHLD.
func New(logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		groups:     make(map[string]*group.Group),
		lastConfig: make(map[string]program.Spec),
		registry:   registry.New(),
		logger:     logger,
	}
}

// StartReaping installs the SIGCHLD handler described in spec.md §4.4: the
// OS-level handler only enqueues a signal notification; a worker goroutine
// drains all pending zombies with Wait4(-1, WNOHANG) and resolves each pid
// through the registry.
func (s *Supervisor) StartReaping() {
	s.reapSig = make(chan os.Signal, 64)
	s.reapDone = make(chan struct{})
	signal.Notify(s.reapSig, syscall.SIGCHLD)

	go func() {
		for {
			select {
			case <-s.reapDone:
				return
			case <-s.reapSig:
				go s.reapOnce()
			}
		}
	}()
}

// StopReaping stops listening for SIGCHLD. Safe to call once.
func (s *Supervisor) StopReaping() {
	if s.reapSig != nil {
		signal.Stop(s.reapSig)
	}
	if s.reapDone != nil {
		close(s.reapDone)
	}
}

// reapOnce drains every zombie currently waitable, because multiple
// children can exit while one SIGCHLD is already pending (spec.md §4.4).
func (s *Supervisor) reapOnce() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		owner, ok := s.registry.Lookup(pid)
		if !ok {
			s.logger.Warn().Int("pid", pid).Msg("reaped unregistered pid")
			continue
		}
		owner.OnSigchld(exitCodeFromStatus(ws))
	}
}

func exitCodeFromStatus(ws syscall.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 1
	}
}

// StageConfigPath records a path for the next Reload to use, implementing
// the "config <path>" command (spec.md §6).
func (s *Supervisor) StageConfigPath(path string) {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.pendingConfigPath = path
}

// PendingConfigPath returns the last staged path, or "".
func (s *Supervisor) PendingConfigPath() string {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.pendingConfigPath
}

// Reload applies newConfig per spec.md §4.3's diff procedure: groups
// present only in the old config are drained then removed; groups present
// only in the new config are constructed and (if autostart) started; groups
// in both with an unchanged raw spec are left entirely alone — applying the
// same config twice causes no child restarts (spec.md §8's idempotence
// property).
func (s *Supervisor) Reload(newConfig map[string]program.Spec) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	s.mu.Lock()
	removed, added, same := diffKeys(s.lastConfig, newConfig)
	changed := make([]string, 0, len(same))
	for _, name := range same {
		if !specEqual(s.lastConfig[name], newConfig[name]) {
			changed = append(changed, name)
		}
	}
	removedGroups := make(map[string]*group.Group, len(removed))
	for _, name := range removed {
		removedGroups[name] = s.groups[name]
	}
	changedGroups := make(map[string]*group.Group, len(changed))
	for _, name := range changed {
		changedGroups[name] = s.groups[name]
	}
	s.lastConfig = newConfig
	s.mu.Unlock()

	// drainGroup is called with mu released: it may invoke onDrained
	// synchronously (when the group has no live process left to wait on),
	// and onDrained below re-locks mu itself.
	for _, name := range removed {
		name := name
		s.drainGroup(removedGroups[name], func() {
			s.mu.Lock()
			delete(s.groups, name)
			s.mu.Unlock()
		})
	}

	for _, name := range added {
		spec := newConfig[name]
		g := group.New(name, spec, s.registry, s.logger)
		s.mu.Lock()
		s.groups[name] = g
		s.mu.Unlock()
		if spec.AutoStart {
			for _, p := range g.Processes() {
				p.Spawn(nil, nil)
			}
		}
	}

	for _, name := range changed {
		name := name
		spec := newConfig[name]
		s.drainGroup(changedGroups[name], func() {
			newGroup := group.New(name, spec, s.registry, s.logger)
			s.mu.Lock()
			s.groups[name] = newGroup
			s.mu.Unlock()
			if spec.AutoStart {
				for _, p := range newGroup.Processes() {
					p.Spawn(nil, nil)
				}
			}
		})
	}
}

// drainGroup stops every live process in g, invoking onDrained exactly once
// after the last one reaches a terminal non-live state — counting
// outstanding live processes explicitly so concurrent completions never
// double-process the replacement (spec.md §9's Open Question resolution).
func (s *Supervisor) drainGroup(g *group.Group, onDrained func()) {
	var pending []*process.Process
	for _, p := range g.Processes() {
		if p.State().Live() {
			pending = append(pending, p)
		}
	}
	if len(pending) == 0 {
		onDrained()
		return
	}

	var remaining = int64(len(pending))
	var mu sync.Mutex
	done := func() {
		mu.Lock()
		remaining--
		r := remaining
		mu.Unlock()
		if r == 0 {
			onDrained()
		}
	}
	for _, p := range pending {
		if !p.Kill(func(string, int) { done() }) {
			done()
		}
	}
}

func diffKeys(old, new map[string]program.Spec) (removed, added, same []string) {
	for k := range old {
		if _, ok := new[k]; ok {
			same = append(same, k)
		} else {
			removed = append(removed, k)
		}
	}
	for k := range new {
		if _, ok := old[k]; !ok {
			added = append(added, k)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	sort.Strings(same)
	return
}

func specEqual(a, b program.Spec) bool {
	return reflect.DeepEqual(a, b)
}

// resolve returns the named group under the read lock, or ErrUnknownGroup.
func (s *Supervisor) resolve(groupName string) (*group.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupName]
	if !ok {
		return nil, ErrUnknownGroup
	}
	return g, nil
}

// targetsOf resolves the addressed processes: all of g if processName=="",
// else just that one.
func targetsOf(g *group.Group, processName string) ([]*process.Process, error) {
	if processName == "" {
		return g.Processes(), nil
	}
	p, ok := g.Process(processName)
	if !ok {
		return nil, ErrUnknownProcess
	}
	return []*process.Process{p}, nil
}

// Start spawns every addressed process and blocks until each has either
// reached running (readiness confirmed) or fatal (retries exhausted),
// returning one Result per addressed process (spec.md §8's bulk-op
// completeness property).
func (s *Supervisor) Start(groupName, processName string) (map[string]Result, error) {
	g, err := s.resolve(groupName)
	if err != nil {
		return nil, err
	}
	targets, err := targetsOf(g, processName)
	if err != nil {
		return nil, err
	}

	result := make(map[string]Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range targets {
		name := p.Name()
		result[name] = Result{}
		wg.Add(1)

		onSpawn := func(n string, pid int) {
			mu.Lock()
			result[n] = Result{PID: pid, Success: true}
			mu.Unlock()
			wg.Done()
		}
		onFail := func(n string, pid int) {
			mu.Lock()
			result[n] = Result{PID: pid, Success: false}
			mu.Unlock()
			wg.Done()
		}
		if !g.Start(name, onSpawn, onFail) {
			wg.Done()
		}
	}

	wg.Wait()
	return result, nil
}

// Stop kills every addressed process and blocks until each is reaped.
func (s *Supervisor) Stop(groupName, processName string) (map[string]Result, error) {
	g, err := s.resolve(groupName)
	if err != nil {
		return nil, err
	}
	targets, err := targetsOf(g, processName)
	if err != nil {
		return nil, err
	}

	result := make(map[string]Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range targets {
		name := p.Name()
		lastPID := p.PID()
		result[name] = Result{PID: lastPID}
		wg.Add(1)

		onKill := func(n string, pid int) {
			mu.Lock()
			result[n] = Result{PID: lastPID, Success: true}
			mu.Unlock()
			wg.Done()
		}
		if !g.Stop(name, onKill) {
			wg.Done()
		}
	}

	wg.Wait()
	return result, nil
}

// Restart stops then starts every addressed process, blocking on final
// completion exactly like Start.
func (s *Supervisor) Restart(groupName, processName string) (map[string]Result, error) {
	g, err := s.resolve(groupName)
	if err != nil {
		return nil, err
	}
	targets, err := targetsOf(g, processName)
	if err != nil {
		return nil, err
	}

	result := make(map[string]Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range targets {
		name := p.Name()
		result[name] = Result{}
		wg.Add(1)

		onSpawn := func(n string, pid int) {
			mu.Lock()
			result[n] = Result{PID: pid, Success: true}
			mu.Unlock()
			wg.Done()
		}
		onFail := func(n string, pid int) {
			mu.Lock()
			result[n] = Result{PID: pid, Success: false}
			mu.Unlock()
			wg.Done()
		}
		if !g.Restart(name, onSpawn, onFail) {
			wg.Done()
		}
	}

	wg.Wait()
	return result, nil
}

// Status returns a snapshot for one process, or the whole group's
// snapshots in {group}0,{group}1,... order when processName=="".
func (s *Supervisor) Status(groupName, processName string) ([]*group.Snapshot, error) {
	g, err := s.resolve(groupName)
	if err != nil {
		return nil, err
	}

	if processName != "" {
		snap := g.Status(processName)
		if snap == nil {
			return nil, ErrUnknownProcess
		}
		return []*group.Snapshot{snap}, nil
	}

	out := make([]*group.Snapshot, 0, len(g.Processes()))
	for _, p := range g.Processes() {
		out = append(out, g.Status(p.Name()))
	}
	return out, nil
}

// PID returns the current child pid for one process, or -1 if unknown.
func (s *Supervisor) PID(groupName, processName string) int {
	g, err := s.resolve(groupName)
	if err != nil {
		return -1
	}
	p, ok := g.Process(processName)
	if !ok {
		return -1
	}
	return p.PID()
}

// Attach returns a puller: each call to next() blocks briefly and returns
// newly appended stdout bytes for the process, an empty string if nothing
// new has appeared yet, and ok=false once the process or group no longer
// exists. It is the Go-idiomatic mapping of spec.md §4.3's "lazy, infinite
// sequence... suspension at each pull" generator: cancellation is the
// caller simply stopping calling next (e.g. because its socket closed).
// The program's stdout_logfile setting is opened as a literal path, so for
// AUTO (whose temporary file name is not kept) and NONE no output is ever
// returned.
func (s *Supervisor) Attach(groupName, processName string) (next func() (string, bool), err error) {
	g, err := s.resolve(groupName)
	if err != nil {
		return nil, err
	}
	p, ok := g.Process(processName)
	if !ok {
		return nil, ErrUnknownProcess
	}

	logfile := p.Spec().StdoutLogfile
	var f *os.File
	var pos int64

	return func() (string, bool) {
		if cur, resolveErr := s.resolve(groupName); resolveErr != nil || cur != g {
			return "", false
		}
		if f == nil {
			opened, openErr := os.Open(logfile)
			if openErr != nil {
				time.Sleep(200 * time.Millisecond)
				return "", true
			}
			f = opened
			pos = 0
			if info, statErr := f.Stat(); statErr == nil {
				pos = info.Size()
			}
		}

		info, statErr := f.Stat()
		if statErr != nil || info.Size() <= pos {
			time.Sleep(200 * time.Millisecond)
			return "", true
		}

		if _, err := f.Seek(pos, 0); err != nil {
			return "", true
		}
		buf := make([]byte, info.Size()-pos)
		n, _ := f.Read(buf)
		pos += int64(n)
		return string(buf[:n]), true
	}, nil
}

// Shutdown stops every process in every group, used on SIGTERM/SIGINT/
// SIGQUIT (spec.md §4.6). It blocks until all groups have drained.
func (s *Supervisor) Shutdown() {
	s.mu.RLock()
	groups := make([]*group.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, g := range groups {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.drainGroup(g, func() {})
		}()
	}
	wg.Wait()
}

// GroupNames returns the currently configured group names, sorted.
func (s *Supervisor) GroupNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
