package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gravlauncher/internal/orchestrator"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError carries a process exit code out of a command. quiet is set when
// the failure was already shown to the user.
type exitError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// execute runs the CLI with args (without the program name) and returns the
// process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(args)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return exitCode(cmd.Execute(), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return orchestrator.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil && !ee.quiet {
			_, _ = fmt.Fprintf(stderr, "Error: %s\n", orchestrator.Describe(ee.err))
		}
		return ee.code
	}
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return orchestrator.ExitFatal
}

// resultError turns a finished run into the command's error.
func resultError(res orchestrator.Result) error {
	if res.ExitCode == orchestrator.ExitOK {
		return nil
	}
	return &exitError{code: res.ExitCode, err: res.Err, quiet: true}
}
