// Package shellexec implements the command-execution seam spec.md §4.G
// requires: every external tool invocation (mkfs.*, dd, genisoimage,
// exec-pre/exec-post scripts, the mv/mkdir/chmod/chown calls behind
// mountpoint staging) goes through one Executor interface so tests can
// substitute a recording fake instead of touching the real filesystem.
//
// Grounded on _examples/original_source/util.c's systemp (a logged printf
// wrapper around system(3)); the default implementation replaces system(3)
// with os/exec plus github.com/mattn/go-shellwords for safely tokenizing a
// configured extra-arguments string and github.com/alessio/shellescape for
// rendering a readable, copy-pasteable log line of what was run.
package shellexec

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/mattn/go-shellwords"
)

// Logf receives one line per command run, the way image_log(image, 2, "cmd:
// %s\n", buf) does at verbosity level 2.
type Logf func(format string, args ...interface{})

// Executor runs external commands. It satisfies internal/handler.Executor.
type Executor struct {
	Log Logf
}

// New creates an Executor that logs through log, or discards log lines if
// log is nil.
func New(log Logf) *Executor {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Executor{Log: log}
}

// Run executes name with args in dir (the current directory if dir is
// empty), streaming the child's stdout/stderr to this process's.
func (e *Executor) Run(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	e.Log("cmd: %s\n", shellescape.QuoteCommand(append([]string{name}, args...)))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shellexec: %s: %w", name, err)
	}
	return nil
}

// RunShell executes script through /bin/sh -c, the same as systemp's
// system(3) call, with env appended to the child's environment. Used for
// exec-pre/exec-post.
func (e *Executor) RunShell(dir string, script string, env []string) error {
	cmd := exec.Command("sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	e.Log("cmd: %s\n", script)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shellexec: shell: %w", err)
	}
	return nil
}

// SplitArgs tokenizes a shell-like string of extra arguments (e.g. a
// configured "mke2fs-extraargs" value) the way genimage's config options
// that accept free-form tool flags are meant to be appended to an argv.
func SplitArgs(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	args, err := shellwords.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("shellexec: parsing %q: %w", s, err)
	}
	return args, nil
}
