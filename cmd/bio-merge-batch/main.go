package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/genomeops/bammerge/batch"
	"github.com/genomeops/bammerge/farm"
	"github.com/genomeops/bammerge/manifest"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	farmQueue      string
	outputDir      string
	ignoreExisting bool
	builtinMerge   bool
	mergeBin       string
	javaMemMB      int
)

func init() {
	flag.StringVar(&farmQueue, "farm", "", "Farm queue to send merge jobs to; merges run locally when unset")
	flag.StringVar(&farmQueue, "f", "", "Alias for -farm")
	flag.StringVar(&outputDir, "dir", "./", "Output directory")
	flag.StringVar(&outputDir, "d", "./", "Alias for -dir")
	flag.BoolVar(&ignoreExisting, "ignore-existing-files", false, "Re-merge and re-link even when the outputs already exist")
	flag.BoolVar(&ignoreExisting, "i", false, "Alias for -ignore-existing-files")
	flag.BoolVar(&builtinMerge, "builtin-merge", false, "Merge in-process instead of invoking picard; inputs must be coordinate sorted against one reference")
	flag.StringVar(&mergeBin, "merge-bin", batch.DefaultMergeBin, "Picard MergeSamFiles jar used for merges")
	flag.IntVar(&javaMemMB, "java-mem-mb", 4096, "JVM heap for picard, in MB")
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <manifest>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	if builtinMerge && farmQueue != "" {
		log.Fatalf("-builtin-merge runs in-process and cannot be combined with -farm")
	}
	if farmQueue != "" {
		if err := farm.CheckQueueTool(); err != nil {
			log.Fatalf("%v", err)
		}
	}

	ctx := vcontext.Background()
	entries, err := manifest.Read(ctx, flag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}
	opts := batch.Opts{
		OutputDir:      outputDir,
		Farm:           farmQueue,
		IgnoreExisting: ignoreExisting,
		Builtin:        builtinMerge,
		MergeBin:       mergeBin,
		JavaMemMB:      javaMemMB,
		Date:           time.Now(),
	}
	if err := batch.Run(ctx, opts, entries, farm.Shell{}); err != nil {
		log.Fatalf("%v", err)
	}
	log.Debug.Printf("processed %d manifest entries", len(entries))
}
