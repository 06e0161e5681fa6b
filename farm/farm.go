// Package farm dispatches the external command lines the batch merger
// constructs, either synchronously in the current process or through an LSF
// farm queue.
package farm

import (
	"context"
	"os"
	"os/exec"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// submitBin is the queue submission tool used for farmed commands.
const submitBin = "bsub"

// Runner dispatches a shell command line on behalf of the batch merger.
type Runner interface {
	// Run executes cmdline. When queue is empty the command runs
	// synchronously through /bin/sh and Run returns its result. When queue is
	// nonempty the command is submitted to the named farm queue and Run
	// returns as soon as the submission is accepted; completion of the
	// command itself is not awaited. logPath, when nonempty, receives the
	// command's stdout and stderr.
	Run(ctx context.Context, cmdline, queue, logPath string) error
}

// Shell is the production Runner.
type Shell struct{}

// Run implements Runner.
func (Shell) Run(ctx context.Context, cmdline, queue, logPath string) error {
	if queue != "" {
		args := []string{"-q", queue}
		if logPath != "" {
			args = append(args, "-o", logPath)
		}
		args = append(args, cmdline)
		cmd := exec.CommandContext(ctx, submitBin, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		log.Debug.Printf("submit to %s: %s", queue, cmdline)
		if err := cmd.Run(); err != nil {
			return errors.Wrapf(err, "submit to %s: %s", queue, cmdline)
		}
		return nil
	}
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	var out *os.File
	if logPath != "" {
		var err error
		if out, err = os.Create(logPath); err != nil {
			return errors.Wrapf(err, "create log %s", logPath)
		}
		cmd.Stdout = out
		cmd.Stderr = out
	}
	log.Debug.Printf("run: %s", cmdline)
	err := cmd.Run()
	if out != nil {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return errors.Wrapf(err, "%s", cmdline)
	}
	return nil
}

// CheckQueueTool verifies that the queue submission tool is on PATH. Called
// before a farmed run so a missing tool surfaces once, up front, instead of
// once per manifest entry.
func CheckQueueTool() error {
	if _, err := lookpath.Look(envvar.SliceToMap(os.Environ()), submitBin); err != nil {
		return errors.Wrapf(err, "farm submission needs %s on PATH", submitBin)
	}
	return nil
}
