// Package batch turns manifest entries into merge jobs and drives them
// through the external merge, link and index collaborators.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genomeops/bammerge/farm"
	"github.com/genomeops/bammerge/manifest"
	"github.com/genomeops/bammerge/merger"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

const bamExt = ".bam"

// DefaultMergeBin is the picard MergeSamFiles deployment path used across the
// pipeline.
const DefaultMergeBin = "/seq/software/picard/current/bin/MergeSamFiles.jar"

// Opts configures one batch run. It is immutable once the run starts.
type Opts struct {
	// OutputDir receives the stamped outputs, stable links and merge logs.
	OutputDir string
	// Farm names the queue merge commands are submitted to. Empty runs them
	// in the current process.
	Farm string
	// IgnoreExisting forces re-merge and re-link even when the targets are
	// already present.
	IgnoreExisting bool
	// Builtin merges in-process instead of invoking picard. Inputs must be
	// coordinate sorted and share reference sequences.
	Builtin bool
	// MergeBin is the picard MergeSamFiles jar.
	MergeBin string
	// JavaMemMB bounds the picard JVM heap.
	JavaMemMB int
	// Date stamps every output of the run. It is computed once so that all
	// entries of one invocation share it.
	Date time.Time
}

// Job is the work derived from one manifest entry.
type Job struct {
	Name        string
	Sources     []string
	StampedPath string // dated merge output
	LinkPath    string // stable alias to StampedPath
	LogPath     string // stdout of the merge command
}

// NewJob resolves entry's glob patterns and lays out the output paths for it.
// An entry whose patterns match no files at all is an error: dispatching a
// merge with zero inputs would only fail later, remotely and less clearly.
func NewJob(opts Opts, entry manifest.Entry) (Job, error) {
	sources, err := entry.Expand()
	if err != nil {
		return Job{}, err
	}
	if len(sources) == 0 {
		return Job{}, errors.Errorf("%s: no files match %s", entry.Name, strings.Join(entry.Patterns, " "))
	}
	stamp := opts.Date.Format("2006-01-02")
	return Job{
		Name:        entry.Name,
		Sources:     sources,
		StampedPath: filepath.Join(opts.OutputDir, entry.Name+"_"+stamp+bamExt),
		LinkPath:    filepath.Join(opts.OutputDir, entry.Name+bamExt),
		LogPath:     filepath.Join(opts.OutputDir, entry.Name+".stdout"),
	}, nil
}

// MergeCommand is the picard invocation for the job. Inputs keep manifest
// pattern order. Validation runs silent and inputs are assumed sorted, as
// everywhere else in the pipeline.
func (j Job) MergeCommand(opts Opts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "java -Xmx%dm -jar %s AS=true O=%s VALIDATION_STRINGENCY=SILENT",
		opts.JavaMemMB, opts.MergeBin, j.StampedPath)
	for _, src := range j.Sources {
		b.WriteString(" I=")
		b.WriteString(src)
	}
	return b.String()
}

// LinkCommand replaces the stable alias so it points at the stamped output.
func (j Job) LinkCommand() string {
	return "ln -sfn " + j.StampedPath + " " + j.LinkPath
}

// IndexCommand refreshes the BAM index behind the stable alias.
func (j Job) IndexCommand() string {
	return "samtools index " + j.LinkPath
}

// Run processes every manifest entry, sequentially and in file order. Entries
// are independent: a failing entry is logged and does not stop the rest. The
// returned error summarizes how many entries failed.
func Run(ctx context.Context, opts Opts, entries []manifest.Entry, runner farm.Runner) error {
	nErr := 0
	for _, entry := range entries {
		if err := runOne(ctx, opts, entry, runner); err != nil {
			log.Error.Printf("%s: %v", entry.Name, err)
			nErr++
		}
	}
	if nErr > 0 {
		return errors.Errorf("%d of %d manifest entries failed", nErr, len(entries))
	}
	return nil
}

func runOne(ctx context.Context, opts Opts, entry manifest.Entry, runner farm.Runner) error {
	job, err := NewJob(opts, entry)
	if err != nil {
		return err
	}
	if opts.IgnoreExisting || !exists(job.StampedPath) {
		if opts.Builtin {
			log.Printf("%s: merging %d inputs into %s", job.Name, len(job.Sources), job.StampedPath)
			if err := merger.Merge(ctx, job.Sources, job.StampedPath); err != nil {
				return err
			}
		} else {
			cmd := job.MergeCommand(opts)
			fmt.Println(cmd)
			if err := runner.Run(ctx, cmd, opts.Farm, job.LogPath); err != nil {
				return err
			}
		}
	}
	if opts.IgnoreExisting || !linkExists(job.LinkPath) {
		cmd := job.LinkCommand()
		fmt.Println(cmd)
		// The link always lands locally, even when merges go to the farm.
		if err := runner.Run(ctx, cmd, "", ""); err != nil {
			return err
		}
		cmd = job.IndexCommand()
		fmt.Println(cmd)
		// The index result is not consumed; a farmed merge may not have
		// produced the link target yet.
		if err := runner.Run(ctx, cmd, "", ""); err != nil {
			log.Error.Printf("%s: index: %v", job.Name, err)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// linkExists is true for dangling symlinks too: a stale alias is still an
// alias.
func linkExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
