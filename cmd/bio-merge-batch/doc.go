/*
bio-merge-batch merges groups of BAM files described by a manifest. Each
manifest line names a logical output followed by glob patterns for its
inputs:

	sampleA  /seq/lanes/sampleA/a_*.bam /seq/lanes/sampleA/b_*.bam
	# comments and blank lines are skipped

For each line the tool produces a date-stamped merge output
(<dir>/sampleA_2024-01-01.bam), a stable symlink alias (<dir>/sampleA.bam)
pointing at the newest stamped output, and a refreshed BAM index behind the
alias. Outputs that already exist are skipped unless -ignore-existing-files
is given, so re-running the same manifest on the same day is cheap.

Merges are performed by picard MergeSamFiles, either locally or submitted to
an LSF farm queue with -farm; with -builtin-merge, coordinate-sorted inputs
sharing a reference are instead merged in-process.

Sample usage:
	bio-merge-batch -d /seq/merged -f week manifest.txt
*/
package main
