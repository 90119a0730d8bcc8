// Package dispatch implements spec.md §4.5: parses one line received over
// the control socket, calls into the Supervisor, and formats a reply.
// Grounded on original_source/command_handler.py (the command set, the
// per-command help text, the group/process target shape) adapted from its
// socket-direct-send style to a string-returning one the control endpoint
// writes out itself.
package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/baylakmongush/taskmaster/internal/config"
	"github.com/baylakmongush/taskmaster/internal/supervisor"
)

// Version is reported by the "version" command.
const Version = "taskmaster 1.0"

var availableCommands = []string{
	"start", "stop", "restart", "status", "pid", "attach",
	"reload", "config", "help", "version", "quit", "exit",
}

var commandHelp = map[string]string{
	"start":   "start <group>:<process>\tStart a single process\nstart <group>:\t\tStart every process in a group",
	"stop":    "stop <group>:<process>\tStop a single process\nstop <group>:\t\tStop every process in a group",
	"restart": "restart <group>:<process>\tRestart a single process\nrestart <group>:\t\tRestart every process in a group",
	"status":  "status <group>:<process>\tGet status for a single process\nstatus <group>:\t\tGet status for every process in a group",
	"pid":     "pid <group>:<process>\tGet pid for a single process\npid <group>:\t\tGet pid for every process in a group",
	"attach":  "attach <group>:<process>\tStream a process's stdout as it is produced",
	"reload":  "reload\t\tReload configuration from the last path used or staged via 'config <path>'",
	"config":  "config <path>\t\tStage a configuration path for the next reload",
	"help":    "help\t\tList available commands\nhelp <command>\t\tShow help for a single command",
	"version": "version\t\tShow the daemon's version string",
	"quit":    "quit\t\tClose this control connection",
	"exit":    "exit\t\tClose this control connection",
}

// Dispatcher holds what a command needs beyond the line itself: the
// Supervisor to act on and the most-recently-resolved config path, used as
// the fallback for a bare "reload".
type Dispatcher struct {
	mu               sync.Mutex
	super            *supervisor.Supervisor
	activeConfigPath string
}

// New constructs a Dispatcher over super, whose initial configuration was
// loaded from activeConfigPath.
func New(super *supervisor.Supervisor, activeConfigPath string) *Dispatcher {
	return &Dispatcher{super: super, activeConfigPath: activeConfigPath}
}

// Outcome is what Dispatch returns: reply text to write back to the client,
// whether the connection should now be closed (quit/exit), and — for
// attach only — a puller the control endpoint streams from instead of
// writing Reply once.
type Outcome struct {
	Reply      string
	Close      bool
	attachNext func() (string, bool)
}

// AttachNext exposes the puller set by an "attach" command, or nil for
// every other command.
func (o Outcome) AttachNext() func() (string, bool) {
	return o.attachNext
}

// target is a parsed "group:process" or "group:" address.
type target struct {
	group   string
	process string // "" means the whole group
}

// parseTarget implements spec.md §4.5's addressing: "group:process" or a
// bare "group:" for every process in the group. A target missing the colon
// entirely is malformed.
func parseTarget(raw string) (target, error) {
	idx := strings.IndexByte(raw, ':')
	if idx < 0 {
		return target{}, fmt.Errorf("*** Bad target format: %q (expected group:process or group:)", raw)
	}
	return target{group: raw[:idx], process: raw[idx+1:]}, nil
}

// Dispatch tokenises line and executes it, per spec.md §4.5. Commands are
// executed one at a time, whichever connection they arrive on.
func (d *Dispatcher) Dispatch(line string) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Outcome{Reply: ""}
	}

	action := fields[0]
	args := fields[1:]

	switch action {
	case "start":
		return d.bulk(action, args, d.super.Start)
	case "stop":
		return d.bulk(action, args, d.super.Stop)
	case "restart":
		return d.bulk(action, args, d.super.Restart)
	case "status":
		return d.status(args)
	case "pid":
		return d.pid(args)
	case "attach":
		return d.attach(args)
	case "reload":
		return d.reload()
	case "config":
		return d.config(args)
	case "help":
		return d.help(args)
	case "version":
		return Outcome{Reply: Version + "\n"}
	case "quit", "exit":
		return Outcome{Reply: "", Close: true}
	default:
		return Outcome{Reply: fmt.Sprintf("*** Unknown syntax: %s\n", line)}
	}
}

// bulk handles start/stop/restart, which all share the same
// {group}:{process?} argument shape and the same reply format.
func (d *Dispatcher) bulk(name string, args []string, op func(group, process string) (map[string]supervisor.Result, error)) Outcome {
	if len(args) != 1 {
		return Outcome{Reply: helpFor(name)}
	}
	t, err := parseTarget(args[0])
	if err != nil {
		return Outcome{Reply: err.Error() + "\n"}
	}

	result, err := op(t.group, t.process)
	if err != nil {
		return Outcome{Reply: errorReply(err, t)}
	}

	names := make([]string, 0, len(result))
	for n := range result {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		r := result[n]
		if r.Success {
			fmt.Fprintf(&b, "%s: %s (pid %d)\n", n, verbPast(name), r.PID)
		} else {
			fmt.Fprintf(&b, "%s: failed\n", n)
		}
	}
	return Outcome{Reply: b.String()}
}

func verbPast(action string) string {
	switch action {
	case "start":
		return "started"
	case "stop":
		return "stopped"
	case "restart":
		return "restarted"
	default:
		return action
	}
}

func (d *Dispatcher) status(args []string) Outcome {
	if len(args) != 1 {
		return Outcome{Reply: helpFor("status")}
	}
	t, err := parseTarget(args[0])
	if err != nil {
		return Outcome{Reply: err.Error() + "\n"}
	}

	snaps, err := d.super.Status(t.group, t.process)
	if err != nil {
		return Outcome{Reply: errorReply(err, t)}
	}

	var b strings.Builder
	for _, s := range snaps {
		b.WriteString(s.String())
		b.WriteByte('\n')
	}
	return Outcome{Reply: b.String()}
}

func (d *Dispatcher) pid(args []string) Outcome {
	if len(args) != 1 {
		return Outcome{Reply: helpFor("pid")}
	}
	t, err := parseTarget(args[0])
	if err != nil {
		return Outcome{Reply: err.Error() + "\n"}
	}

	if t.process == "" {
		snaps, err := d.super.Status(t.group, "")
		if err != nil {
			return Outcome{Reply: errorReply(err, t)}
		}
		var b strings.Builder
		for _, s := range snaps {
			if s.PID > 0 {
				fmt.Fprintf(&b, "%s: %d\n", s.Name, s.PID)
			} else {
				fmt.Fprintf(&b, "%s: UNKNOWN\n", s.Name)
			}
		}
		return Outcome{Reply: b.String()}
	}

	pid := d.super.PID(t.group, t.process)
	if pid > 0 {
		return Outcome{Reply: fmt.Sprintf("%d\n", pid)}
	}
	return Outcome{Reply: fmt.Sprintf("%s:%s UNKNOWN\n", t.group, t.process)}
}

// attach is handled specially by the control endpoint (it streams, it does
// not return a single reply); here Dispatch validates the target, obtains
// the puller from the Supervisor, and hands it to the endpoint in Outcome.
func (d *Dispatcher) attach(args []string) Outcome {
	if len(args) != 1 {
		return Outcome{Reply: helpFor("attach")}
	}
	t, err := parseTarget(args[0])
	if err != nil {
		return Outcome{Reply: err.Error() + "\n"}
	}
	if t.process == "" {
		return Outcome{Reply: "*** attach requires a single process, not a whole group\n"}
	}
	next, err := d.super.Attach(t.group, t.process)
	if err != nil {
		return Outcome{Reply: errorReply(err, t)}
	}
	return Outcome{Reply: "", attachNext: next}
}

func (d *Dispatcher) reload() Outcome {
	path := d.super.PendingConfigPath()
	if path == "" {
		path = d.activeConfigPath
	}
	if path == "" {
		return Outcome{Reply: "*** Error: no configuration path known; use 'config <path>' first\n"}
	}

	resolved, err := config.Resolve(path)
	if err != nil {
		return Outcome{Reply: fmt.Sprintf("*** Error: %s\n", err)}
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return Outcome{Reply: fmt.Sprintf("*** Error: invalid configuration, previous configuration left in force: %s\n", err)}
	}

	d.super.Reload(cfg.Programs)
	d.activeConfigPath = resolved
	return Outcome{Reply: "Configuration updated\n"}
}

func (d *Dispatcher) config(args []string) Outcome {
	if len(args) != 1 {
		return Outcome{Reply: helpFor("config")}
	}
	d.super.StageConfigPath(args[0])
	return Outcome{Reply: fmt.Sprintf("staged %q for the next reload\n", args[0])}
}

func (d *Dispatcher) help(args []string) Outcome {
	if len(args) == 0 {
		var b strings.Builder
		b.WriteString("default commands (type help <topic>):\n")
		b.WriteString("=====================================\n")
		b.WriteString(strings.Join(availableCommands, " "))
		b.WriteByte('\n')
		return Outcome{Reply: b.String()}
	}
	return Outcome{Reply: helpFor(args[0])}
}

func helpFor(command string) string {
	if text, ok := commandHelp[command]; ok {
		return text + "\n"
	}
	return fmt.Sprintf("Help information not available for command: %s\n", command)
}

func errorReply(err error, t target) string {
	if t.process != "" {
		return fmt.Sprintf("*** No such process: %s:%s (%s)\n", t.group, t.process, err)
	}
	return fmt.Sprintf("*** No such group: %s (%s)\n", t.group, err)
}
