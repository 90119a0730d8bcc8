// Package group implements spec.md §4.2: a fixed set of numprocs sibling
// Processes sharing one program spec, addressed by name within the group.
// Grounded on original_source/supervisor/group.py, generalized to the
// callback-based completion semantics the rest of the core uses.
package group

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/baylakmongush/taskmaster/internal/process"
	"github.com/baylakmongush/taskmaster/internal/program"
	"github.com/baylakmongush/taskmaster/internal/registry"
)

// Group is a set of numprocs sibling processes. Its process set is fixed for
// its lifetime (spec.md §3); reconfiguration always replaces the Group
// object wholesale rather than mutating this one.
type Group struct {
	Name    string
	Spec    program.Spec
	order   []string
	procs   map[string]*process.Process
}

// New constructs a Group with spec.NumProcs freshly-stopped Process entries
// named "{name}0".."{name}{numprocs-1}".
func New(name string, spec program.Spec, reg *registry.Registry, logger zerolog.Logger) *Group {
	g := &Group{
		Name:  name,
		Spec:  spec,
		procs: make(map[string]*process.Process, spec.NumProcs),
	}
	plog := logger.With().Str("group", name).Logger()
	for i := 0; i < spec.NumProcs; i++ {
		p := process.New(name, i, spec, reg, plog)
		g.order = append(g.order, p.Name())
		g.procs[p.Name()] = p
	}
	return g
}

// Processes returns the group's Processes in stable {group}0,{group}1,...
// order.
func (g *Group) Processes() []*process.Process {
	out := make([]*process.Process, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.procs[name])
	}
	return out
}

// Process looks up one member by its external name, e.g. "alpha0".
func (g *Group) Process(name string) (*process.Process, bool) {
	p, ok := g.procs[name]
	return p, ok
}

// Start spawns the named process if it is in a spawnable state. Returns the
// inner Spawn result.
func (g *Group) Start(name string, onSpawn, onFail process.Callback) bool {
	p, ok := g.procs[name]
	if !ok {
		return false
	}
	if !p.State().Spawnable() {
		return false
	}
	return p.Spawn(onSpawn, onFail)
}

// Stop delegates to the named process's Kill.
func (g *Group) Stop(name string, onKill process.Callback) bool {
	p, ok := g.procs[name]
	if !ok {
		return false
	}
	return p.Kill(onKill)
}

// Restart issues a stop-then-start when the process is live, or a direct
// start otherwise. The result reflects whether any work was scheduled.
func (g *Group) Restart(name string, onSpawn, onFail process.Callback) bool {
	p, ok := g.procs[name]
	if !ok {
		return false
	}

	if p.State().Live() {
		return p.Kill(func(n string, pid int) {
			// The process is guaranteed stopped now; Spawn's precondition
			// holds unless something else raced it into a non-spawnable
			// state, in which case the start is skipped here and
			// onSpawn/onFail are never invoked.
			if p.State().Spawnable() {
				p.Spawn(onSpawn, onFail)
			}
		})
	}

	if !p.State().Spawnable() {
		return false
	}
	return p.Spawn(onSpawn, onFail)
}

// Status returns a point-in-time snapshot, or nil if name is unknown.
func (g *Group) Status(name string) *Snapshot {
	p, ok := g.procs[name]
	if !ok {
		return nil
	}
	return snapshotOf(g.Name, p)
}

// Snapshot is a read-only view of one Process, safe to hold after the
// Process has moved on.
type Snapshot struct {
	Name     string
	Group    string
	PID      int
	State    process.State
	Restarts int
}

func (s Snapshot) String() string {
	if s.PID > 0 {
		return fmt.Sprintf("%s\t%s\tpid %d", s.Name, s.State, s.PID)
	}
	return fmt.Sprintf("%s\t%s", s.Name, s.State)
}

func snapshotOf(groupName string, p *process.Process) *Snapshot {
	return &Snapshot{
		Name:     p.Name(),
		Group:    groupName,
		PID:      p.PID(),
		State:    p.State(),
		Restarts: p.Restarts(),
	}
}
