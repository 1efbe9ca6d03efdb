// Package regions implements the BED-region restriction spec.md §6
// lists for component K's statistics table: counting can be limited to
// positions falling inside a supplied BED file instead of the whole
// genome.
//
// Grounded on fastats.ParseBed (github.com/jgbaldwinbrown/fastats),
// the same BED parser sawdist/sdist.go and
// tensorflow_comparison/pkg/prepare.go use; this package only needs
// chrom/start/end, so its field callback discards everything past
// them, exactly as tensorflow_comparison/pkg/prepare.go's ReadWinBed
// does for its own chrom-span-only BED reads.
package regions

import (
	"io"
	"sort"

	fastats "github.com/jgbaldwinbrown/fastats/pkg"
	"github.com/jgbaldwinbrown/seqoutbias/internal/bioerr"
	"github.com/jgbaldwinbrown/seqoutbias/internal/ioutilx"
)

// span is a half-open [Start, End) interval, sorted and non-overlapping
// within a chromosome's Set entry.
type span struct {
	start, end int64
}

// Set is an immutable collection of BED intervals, grouped by
// chromosome and sorted by start for binary-search membership tests.
type Set struct {
	chroms map[string][]span
}

// Load reads a (possibly gzip-compressed) BED file at path into a Set.
// Columns past chrom/start/end are discarded; component K only needs
// interval membership, not the extra fields.
func Load(path string) (*Set, error) {
	h := bioerr.Handle("regions.Load", bioerr.ErrIO)

	r, e := ioutilx.OpenMaybeGz(path)
	if e != nil {
		return nil, h(e)
	}
	defer r.Close()

	s, e := LoadReader(r)
	if e != nil {
		return nil, h(e)
	}
	return s, nil
}

// LoadReader is Load over an already-open reader, used by tests.
func LoadReader(r io.Reader) (*Set, error) {
	bed := fastats.ParseBed[struct{}](r, func(fields []string) (struct{}, error) {
		return struct{}{}, nil
	})

	set := &Set{chroms: map[string][]span{}}
	err := bed.Iterate(func(entry fastats.BedEntry[struct{}]) error {
		cs := entry.ChrSpan
		set.chroms[cs.Chr] = append(set.chroms[cs.Chr], span{start: cs.Span.Start, end: cs.Span.End})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for chrom, spans := range set.chroms {
		sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		merged := spans[:1]
		for _, sp := range spans[1:] {
			last := &merged[len(merged)-1]
			if sp.start <= last.end {
				if sp.end > last.end {
					last.end = sp.end
				}
				continue
			}
			merged = append(merged, sp)
		}
		set.chroms[chrom] = merged
	}
	return set, nil
}

// Contains reports whether pos (0-based) on chrom falls inside any
// interval of the set. A nil Set (no restriction configured) is
// treated as "everything included" by callers, not by this method.
func (s *Set) Contains(chrom string, pos int64) bool {
	spans := s.chroms[chrom]
	if len(spans) == 0 {
		return false
	}
	i := sort.Search(len(spans), func(i int) bool { return spans[i].start > pos })
	if i == 0 {
		return false
	}
	sp := spans[i-1]
	return pos >= sp.start && pos < sp.end
}
