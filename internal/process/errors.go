package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// isForkFailure distinguishes a true fork/resource failure (spec.md §7:
// "Fork failure" — spawn returns false, state untouched) from an exec-class
// failure (missing/unexecutable binary — spec.md §7: "exec failure inside
// the child" — observed asynchronously through the reap path instead).
//
// Go's os/exec reports both classes synchronously from Cmd.Start (it uses an
// error pipe across the fork to do so, unlike a bare fork(2)+execve(2)), so
// this package tells them apart by error shape instead of by which side of
// the fork produced them.
func isForkFailure(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE, syscall.ENOSPC:
			return true
		}
		return false
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		// LookPath failure: "not found" — treated as an exec-class failure.
		return false
	}
	// Anything else (e.g. *fs.PathError for ENOENT/EACCES on the binary)
	// is exec-class: the binary could not be run, not that fork failed.
	return false
}
