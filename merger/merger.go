// Package merger implements an in-process k-way merge of coordinate-sorted
// BAM files. It covers the common case where all inputs were aligned against
// the same reference; anything fancier (header rewriting, resorting) stays
// with picard.
package merger

import (
	"container/heap"
	"context"
	"io"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	perrors "github.com/pkg/errors"
)

// stream is one open input and its current record.
type stream struct {
	path    string
	in      file.File
	r       *bam.Reader
	rec     *sam.Record
	lastKey uint64
	nRecs   int
}

// sortKey orders records by (reference, position) with unmapped records
// last, matching the coordinate sort order picard and samtools produce.
func sortKey(rec *sam.Record) uint64 {
	refID := -1
	if rec.Ref != nil {
		refID = rec.Ref.ID()
	}
	return uint64(uint32(int32(refID)))<<32 | uint64(uint32(int32(rec.Pos)))
}

// advance reads the next record, clearing s.rec at EOF. Inputs are assumed
// coordinate sorted, so an out-of-order record is an error rather than a
// silently mis-sorted output.
func (s *stream) advance() error {
	rec, err := s.r.Read()
	if err == io.EOF {
		s.rec = nil
		return nil
	}
	if err != nil {
		return perrors.Wrapf(err, "%s: read record %d", s.path, s.nRecs)
	}
	key := sortKey(rec)
	if s.nRecs > 0 && key < s.lastKey {
		return perrors.Errorf("%s: record %d out of order; input is not coordinate sorted", s.path, s.nRecs)
	}
	s.lastKey = key
	s.rec = rec
	s.nRecs++
	return nil
}

func (s *stream) close(ctx context.Context) error {
	err := s.r.Close()
	if e := s.in.Close(ctx); err == nil {
		err = e
	}
	return err
}

// mergeHeap orders the nonempty streams by their current record.
type mergeHeap []*stream

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return sortKey(h[i].rec) < sortKey(h[j].rec) }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(*stream)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	s := old[n-1]
	*h = old[:n-1]
	return s
}

// mergedHeader combines the input headers. The reference sequences must be
// identical across inputs; a reordering or superset header would invalidate
// the record sort keys.
func mergedHeader(streams []*stream) (*sam.Header, error) {
	headers := make([]*sam.Header, len(streams))
	for i, s := range streams {
		headers[i] = s.r.Header()
	}
	header, refTranslations, err := sam.MergeHeaders(headers)
	if err != nil {
		return nil, err
	}
	for i, t := range refTranslations {
		for j, ref := range t {
			if ref.ID() != j {
				return nil, perrors.Errorf("%s: reference sequences differ between inputs; merge with picard instead", streams[i].path)
			}
		}
	}
	header.SortOrder = sam.Coordinate
	return header, nil
}

// Merge k-way merges the coordinate-sorted BAM files in srcPaths into a
// single coordinate-sorted BAM at outPath.
func Merge(ctx context.Context, srcPaths []string, outPath string) (err error) {
	if len(srcPaths) == 0 {
		return perrors.New("no input files")
	}
	e := errors.Once{}
	streams := make([]*stream, 0, len(srcPaths))
	defer func() {
		for _, s := range streams {
			e.Set(s.close(ctx))
		}
		if err == nil {
			err = e.Err()
		}
	}()
	for _, path := range srcPaths {
		in, err := file.Open(ctx, path)
		if err != nil {
			return perrors.Wrapf(err, "open %s", path)
		}
		r, err := bam.NewReader(in.Reader(ctx), 1)
		if err != nil {
			e.Set(perrors.Wrapf(err, "%s: not a BAM file", path))
			e.Set(in.Close(ctx))
			return e.Err()
		}
		streams = append(streams, &stream{path: path, in: in, r: r})
	}

	header, err := mergedHeader(streams)
	if err != nil {
		return err
	}
	out, err := file.Create(ctx, outPath)
	if err != nil {
		return perrors.Wrapf(err, "create %s", outPath)
	}
	w, err := bam.NewWriter(out.Writer(ctx), header, runtime.NumCPU())
	if err != nil {
		e.Set(err)
		e.Set(out.Close(ctx))
		return e.Err()
	}

	h := mergeHeap{}
	for _, s := range streams {
		if err := s.advance(); err != nil {
			e.Set(err)
		} else if s.rec != nil {
			h = append(h, s)
		}
	}
	heap.Init(&h)
	nOut := 0
	for e.Err() == nil && h.Len() > 0 {
		s := h[0]
		e.Set(w.Write(s.rec))
		nOut++
		if err := s.advance(); err != nil {
			e.Set(err)
		} else if s.rec == nil {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	e.Set(w.Close())
	e.Set(out.Close(ctx))
	if e.Err() == nil {
		log.Printf("%s: wrote %d records from %d inputs", outPath, nOut, len(srcPaths))
	}
	return e.Err()
}
