package merger_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/genomeops/bammerge/merger"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// rec describes a test record compactly: refIdx < 0 means unmapped.
type rec struct {
	name   string
	refIdx int
	pos    int
}

func newHeader(t *testing.T, refNames ...string) (*sam.Header, []*sam.Reference) {
	refs := make([]*sam.Reference, len(refNames))
	for i, name := range refNames {
		ref, err := sam.NewReference(name, "", "", 10000, nil, nil)
		require.NoError(t, err)
		refs[i] = ref
	}
	header, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	return header, refs
}

func writeBAM(t *testing.T, path string, refNames []string, recs []rec) {
	header, refs := newHeader(t, refNames...)
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := bam.NewWriter(f, header, 1)
	require.NoError(t, err)
	cigar := []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, 10)}
	for _, r := range recs {
		record := &sam.Record{Name: r.name, Pos: r.pos, MapQ: 60, MatePos: -1}
		if r.refIdx >= 0 {
			record.Ref = refs[r.refIdx]
			record.Cigar = cigar
		} else {
			record.Pos = -1
			record.Flags = sam.Unmapped
		}
		require.NoError(t, w.Write(record))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func readBAM(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := bam.NewReader(f, 1)
	require.NoError(t, err)
	defer r.Close()
	var got []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		refName := "*"
		if record.Ref != nil {
			refName = record.Ref.Name()
		}
		got = append(got, fmt.Sprintf("%s@%s:%d", record.Name, refName, record.Pos))
	}
	return got
}

func TestMerge(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	refs := []string{"chr1", "chr2"}
	in0 := filepath.Join(dir, "0.bam")
	in1 := filepath.Join(dir, "1.bam")
	in2 := filepath.Join(dir, "2.bam")
	writeBAM(t, in0, refs, []rec{
		{"a0", 0, 10}, {"a1", 0, 500}, {"a2", 1, 5}, {"a3", -1, 0},
	})
	writeBAM(t, in1, refs, []rec{
		{"b0", 0, 100}, {"b1", 1, 1}, {"b2", 1, 900},
	})
	writeBAM(t, in2, refs, nil) // header only

	out := filepath.Join(dir, "merged.bam")
	require.NoError(t, merger.Merge(context.Background(), []string{in0, in1, in2}, out))
	expect.EQ(t, readBAM(t, out), []string{
		"a0@chr1:10", "b0@chr1:100", "a1@chr1:500",
		"b1@chr2:1", "a2@chr2:5", "b2@chr2:900",
		"a3@*:-1",
	})
}

func TestMergeSingleInput(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	in := filepath.Join(dir, "in.bam")
	writeBAM(t, in, []string{"chr1"}, []rec{{"a0", 0, 1}, {"a1", 0, 2}})

	out := filepath.Join(dir, "merged.bam")
	require.NoError(t, merger.Merge(context.Background(), []string{in}, out))
	expect.EQ(t, readBAM(t, out), []string{"a0@chr1:1", "a1@chr1:2"})
}

func TestMergeUnsortedInput(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	in := filepath.Join(dir, "in.bam")
	writeBAM(t, in, []string{"chr1"}, []rec{{"a0", 0, 100}, {"a1", 0, 50}})

	err := merger.Merge(context.Background(), []string{in}, filepath.Join(dir, "merged.bam"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not coordinate sorted")
}

func TestMergeMismatchedReferences(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	in0 := filepath.Join(dir, "0.bam")
	in1 := filepath.Join(dir, "1.bam")
	writeBAM(t, in0, []string{"chr1"}, []rec{{"a0", 0, 1}})
	writeBAM(t, in1, []string{"chr2"}, []rec{{"b0", 0, 1}})

	err := merger.Merge(context.Background(), []string{in0, in1}, filepath.Join(dir, "merged.bam"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "picard")
}

func TestMergeNoInputs(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	require.Error(t, merger.Merge(context.Background(), nil, filepath.Join(dir, "merged.bam")))
}

func TestMergeMissingInput(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	err := merger.Merge(context.Background(), []string{filepath.Join(dir, "nope.bam")}, filepath.Join(dir, "merged.bam"))
	require.Error(t, err)
}
