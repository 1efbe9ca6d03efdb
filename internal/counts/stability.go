// Windowed scale-factor stability reporting: bins k-mer ids by a
// caller-supplied ordering key (e.g. GC content rank) into fixed-size
// windows and reports the mean and variance of scale factor in each
// window. Windows are not compared with their neighbors and none is
// flagged. A QC supplement (SPEC_FULL.md §2/§3), not part of
// spec.md's literal component table.
//
// Windowing is grounded on github.com/jgbaldwinbrown/slide, the same
// fixed-size/fixed-step binning vs_divergence/pkg/megaseq.go's
// slide_gff_entry_count/slide_gff_bp_covered commands perform over
// GFF coordinates, applied here to an ordered k-mer index instead of a
// chromosome coordinate.
package counts

import (
	slide "github.com/jgbaldwinbrown/slide/pkg"
)

// StabilityWindow summarizes one window of consecutive (by the
// caller's ordering) k-mer rows.
type StabilityWindow struct {
	Start, End int
	Mean       float64
	Variance   float64
}

// WindowedStability bins rows into windows of the given size and
// step, reporting the scale-factor mean/variance per window.
func WindowedStability(rows []Row, size, step int) []StabilityWindow {
	if size <= 0 || len(rows) == 0 {
		return nil
	}
	if step <= 0 {
		step = size
	}

	wins := slide.Windows(len(rows), size, step)
	out := make([]StabilityWindow, 0, len(wins))
	for _, w := range wins {
		if w.Start < 0 || w.End > len(rows) || w.Start >= w.End {
			continue
		}
		mean, variance := meanVariance(rows[w.Start:w.End])
		out = append(out, StabilityWindow{Start: w.Start, End: w.End, Mean: mean, Variance: variance})
	}
	return out
}

func meanVariance(rows []Row) (mean, variance float64) {
	if len(rows) == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range rows {
		sum += r.Scale
	}
	mean = sum / float64(len(rows))

	var sq float64
	for _, r := range rows {
		d := r.Scale - mean
		sq += d * d
	}
	variance = sq / float64(len(rows))
	return mean, variance
}
