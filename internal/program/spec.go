// Package program holds the validated, immutable configuration record for
// one supervised program (spec.md §3's ProgramSpec) and the YAML shape it is
// read from.
package program

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Autorestart is the restart policy applied when a process exits from the
// running state.
type Autorestart string

const (
	AutorestartAlways     Autorestart = "always"
	AutorestartUnexpected Autorestart = "unexpected"
	AutorestartNever      Autorestart = "never"
)

func (a Autorestart) valid() bool {
	switch a {
	case AutorestartAlways, AutorestartUnexpected, AutorestartNever:
		return true
	default:
		return false
	}
}

// Spec is the immutable, validated configuration of one program. Values are
// fully resolved: no field still needs a default applied.
type Spec struct {
	Command       []string
	NumProcs      int
	AutoStart     bool
	AutoRestart   Autorestart
	ExitCodes     map[int]struct{}
	StartSecs     int
	StartRetries  int
	StopSignal    syscall.Signal
	StopWaitSecs  int
	StdoutLogfile string
	StderrLogfile string
	Environment   map[string]string
	Directory     string // empty means: do not chdir
	Umask         *int   // nil means: do not change umask
}

// Raw is the as-read YAML shape for one program entry, before defaults and
// validation are applied. Every field is a pointer or has a YAML-observable
// zero value so "missing" can be told apart from "explicitly zero".
type Raw struct {
	Command       *string           `yaml:"command"`
	NumProcs      *int              `yaml:"numprocs"`
	AutoStart     *bool             `yaml:"autostart"`
	AutoRestart   *string           `yaml:"autorestart"`
	ExitCodes     []int             `yaml:"exitcodes"`
	StartSecs     *int              `yaml:"startsecs"`
	StartRetries  *int              `yaml:"startretries"`
	StopSignal    *string           `yaml:"stopsignal"`
	StopWaitSecs  *int              `yaml:"stopwaitsecs"`
	StdoutLogfile *string           `yaml:"stdout_logfile"`
	StderrLogfile *string           `yaml:"stderr_logfile"`
	Environment   map[string]string `yaml:"environment"`
	Directory     *string           `yaml:"directory"`
	Umask         *string           `yaml:"umask"`
}

// Validate applies defaults (spec.md §3) and checks constraints, returning
// the immutable Spec or the first error encountered. name is used only to
// make error messages actionable.
func (r Raw) Validate(name string) (Spec, error) {
	s := Spec{
		NumProcs:      1,
		AutoStart:     true,
		AutoRestart:   AutorestartUnexpected,
		ExitCodes:     map[int]struct{}{0: {}},
		StartSecs:     1,
		StartRetries:  3,
		StopSignal:    syscall.SIGTERM,
		StopWaitSecs:  10,
		StdoutLogfile: "AUTO",
		StderrLogfile: "AUTO",
		Environment:   map[string]string{},
	}

	if r.Command == nil || strings.TrimSpace(*r.Command) == "" {
		return Spec{}, fmt.Errorf("program %q: command is required", name)
	}
	s.Command = strings.Fields(*r.Command)
	if len(s.Command) == 0 {
		return Spec{}, fmt.Errorf("program %q: command must not be empty", name)
	}

	if r.NumProcs != nil {
		if *r.NumProcs <= 0 {
			return Spec{}, fmt.Errorf("program %q: numprocs must be positive, got %d", name, *r.NumProcs)
		}
		s.NumProcs = *r.NumProcs
	}

	if r.AutoStart != nil {
		s.AutoStart = *r.AutoStart
	}

	if r.AutoRestart != nil {
		s.AutoRestart = Autorestart(*r.AutoRestart)
		if !s.AutoRestart.valid() {
			return Spec{}, fmt.Errorf("program %q: autorestart must be one of always|unexpected|never, got %q", name, *r.AutoRestart)
		}
	}

	if len(r.ExitCodes) > 0 {
		s.ExitCodes = make(map[int]struct{}, len(r.ExitCodes))
		for _, c := range r.ExitCodes {
			s.ExitCodes[c] = struct{}{}
		}
	}

	if r.StartSecs != nil {
		if *r.StartSecs < 0 {
			return Spec{}, fmt.Errorf("program %q: startsecs must be non-negative, got %d", name, *r.StartSecs)
		}
		s.StartSecs = *r.StartSecs
	}

	if r.StartRetries != nil {
		if *r.StartRetries < 0 {
			return Spec{}, fmt.Errorf("program %q: startretries must be non-negative, got %d", name, *r.StartRetries)
		}
		s.StartRetries = *r.StartRetries
	}

	if r.StopSignal != nil {
		sig, err := ParseSignal(*r.StopSignal)
		if err != nil {
			return Spec{}, fmt.Errorf("program %q: stopsignal: %w", name, err)
		}
		s.StopSignal = sig
	}

	if r.StopWaitSecs != nil {
		if *r.StopWaitSecs < 0 {
			return Spec{}, fmt.Errorf("program %q: stopwaitsecs must be non-negative, got %d", name, *r.StopWaitSecs)
		}
		s.StopWaitSecs = *r.StopWaitSecs
	}

	if r.StdoutLogfile != nil {
		s.StdoutLogfile = *r.StdoutLogfile
	}
	if err := validateLogfilePath("stdout_logfile", s.StdoutLogfile, name); err != nil {
		return Spec{}, err
	}
	if r.StderrLogfile != nil {
		s.StderrLogfile = *r.StderrLogfile
	}
	if err := validateLogfilePath("stderr_logfile", s.StderrLogfile, name); err != nil {
		return Spec{}, err
	}

	if r.Environment != nil {
		s.Environment = r.Environment
	}

	if r.Directory != nil {
		s.Directory = *r.Directory
	}

	if r.Umask != nil {
		um, err := parseUmask(*r.Umask)
		if err != nil {
			return Spec{}, fmt.Errorf("program %q: umask: %w", name, err)
		}
		s.Umask = &um
	}

	return s, nil
}

// validateLogfilePath rejects a literal stdout_logfile/stderr_logfile path
// whose directory does not exist. "AUTO" and "NONE" are sentinels, not
// paths, and are left alone; a real path is refused upfront (spec.md §7)
// rather than silently falling back to /dev/null at spawn time, which is a
// distinct runtime behaviour (spec.md §6) for a log-open failure that
// happens after validation already passed.
func validateLogfilePath(field, value, name string) error {
	if value == "AUTO" || value == "NONE" || value == "" {
		return nil
	}
	dir := filepath.Dir(value)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("program %q: %s: directory %q does not exist", name, field, dir)
	}
	return nil
}

// parseUmask accepts either a bare octal string ("022") or a Go-style
// "0o022"/"0022" literal, mirroring validation.py's acceptance of both an
// int and an octal string.
func parseUmask(val string) (int, error) {
	val = strings.TrimSpace(val)
	val = strings.TrimPrefix(val, "0o")
	val = strings.TrimPrefix(val, "0O")
	if val == "" {
		val = "0"
	}
	um, err := strconv.ParseInt(val, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal value %q", val)
	}
	if um < 0 || um > 0o777 {
		return 0, fmt.Errorf("value %o out of range 0-0777", um)
	}
	return int(um), nil
}
