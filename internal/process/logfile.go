package process

import (
	"fmt"
	"os"
)

// openLogFile implements the AUTO/NONE/path child-I/O policy of spec.md §6,
// grounded on original_source/supervisor/process.py's _redirect_fd_into_logfile.
func openLogFile(name, logfile, suffix string) (*os.File, error) {
	switch logfile {
	case "AUTO":
		f, err := os.CreateTemp("", name+"*"+suffix)
		if err != nil {
			return nil, fmt.Errorf("create auto logfile for %s: %w", name, err)
		}
		return f, nil
	case "NONE":
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	default:
		f, err := os.OpenFile(logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			// Fall back to /dev/null on any failure, per spec.md §6.
			return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		}
		return f, nil
	}
}
