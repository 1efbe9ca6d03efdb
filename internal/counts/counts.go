// Package counts implements spec.md §4.K (implicit in its component
// table as the Statistics/Counts Table consumer of G's scale vector)
// and the QC diagnostics supplement in SPEC_FULL.md §2/§3: a per-k-mer
// TSV report plus optional region restriction, correlation, GC
// regression and windowed stability summaries.
//
// TSV emission follows informative_cut_sites/filter_cut_sites.go's
// csv.Writer-with-tab-Comma idiom rather than hand-rolled
// fmt.Fprintf joins.
package counts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/jgbaldwinbrown/seqoutbias/internal/bind"
	"github.com/jgbaldwinbrown/seqoutbias/internal/kmer"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mask"
	"github.com/jgbaldwinbrown/seqoutbias/internal/regions"
	"github.com/jgbaldwinbrown/seqoutbias/internal/seqtable"
	"github.com/montanaflynn/stats"
	"github.com/sajari/regression"
)

// Row is one k-mer id's statistics line, spec.md §6's
// "<k-mer sequence under mask>\t<observed>\t<expected>\t<ratio>".
type Row struct {
	ID       uint32
	Sequence string
	Observed uint64
	Expected uint64
	Ratio    float64
	Scale    float64
}

// Tabulate builds one Row per k-mer id from the observed/expected
// vectors and, when scale is non-nil, the Scaler's output (component G).
func Tabulate(m mask.Mask, observed, expected []uint64, sc []float64) []Row {
	rows := make([]Row, len(expected))
	for id := range rows {
		r := Row{
			ID:       uint32(id),
			Sequence: kmer.Sequence(uint32(id), m.Informative),
			Expected: expected[id],
		}
		if id < len(observed) {
			r.Observed = observed[id]
		}
		if r.Expected > 0 {
			r.Ratio = float64(r.Observed) / float64(r.Expected)
		}
		if sc != nil && id < len(sc) {
			r.Scale = sc[id]
		}
		rows[id] = r
	}
	return rows
}

// WriteTSV writes rows as a tab-separated table with a header line.
func WriteTSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	defer cw.Flush()

	if e := cw.Write([]string{"kmer", "observed", "expected", "ratio", "scale"}); e != nil {
		return e
	}
	for _, r := range rows {
		rec := []string{
			r.Sequence,
			strconv.FormatUint(r.Observed, 10),
			strconv.FormatUint(r.Expected, 10),
			strconv.FormatFloat(r.Ratio, 'g', -1, 64),
			strconv.FormatFloat(r.Scale, 'g', -1, 64),
		}
		if e := cw.Write(rec); e != nil {
			return e
		}
	}
	return cw.Error()
}

// RestrictToRegions recomputes observed/expected vectors using only
// genomic positions inside set, the BED-region-restriction supplement
// (SPEC_FULL.md §2's internal/regions wiring).
func RestrictToRegions(table *seqtable.Table, res *bind.Result, set *regions.Set) (observed, expected []uint64) {
	observed = make([]uint64, len(res.Observed))
	expected = make([]uint64, len(table.Expected))

	for _, cp := range table.Chroms {
		for pos, e := range cp.Entries {
			if !set.Contains(cp.Name, int64(pos)) {
				continue
			}
			if e.PlusID != kmer.Invalid {
				expected[e.PlusID]++
			}
			if e.MinusID != kmer.Invalid {
				expected[e.MinusID]++
			}
		}
	}

	plusOffset, minusOffset, width := table.Mask.PlusOffset, table.Mask.MinusOffset, table.Mask.Width
	for chrom, positions := range res.PileUp {
		cp := table.Chrom(chrom)
		if cp == nil {
			continue
		}
		for cut, pe := range positions {
			if !set.Contains(chrom, int64(cut)) {
				continue
			}
			if pe.Plus > 0 {
				if ws := cut - plusOffset; ws >= 0 && ws < len(cp.Entries) {
					if id := cp.Entries[ws].PlusID; id != kmer.Invalid {
						observed[id] += pe.Plus
					}
				}
			}
			if pe.Minus > 0 {
				if ws := cut - (width - 1 - minusOffset); ws >= 0 && ws < len(cp.Entries) {
					if id := cp.Entries[ws].MinusID; id != kmer.Invalid {
						observed[id] += pe.Minus
					}
				}
			}
		}
	}
	return observed, expected
}

// Correlation reports the Pearson correlation between observed and
// expected counts across all k-mer ids, mirroring
// input_est_avg.go's stats.Correlation(input, fpkms) calls.
func Correlation(observed, expected []uint64) (float64, error) {
	obs := make(stats.Float64Data, len(expected))
	exp := make(stats.Float64Data, len(expected))
	for i := range expected {
		exp[i] = float64(expected[i])
		if i < len(observed) {
			obs[i] = float64(observed[i])
		}
	}
	return stats.Correlation(obs, exp)
}

// GCContent returns the fraction of G/C bases in a k-mer sequence
// string, used as the independent variable for the GC-bias regression
// diagnostic below.
func GCContent(seq string) float64 {
	if len(seq) == 0 {
		return 0
	}
	gc := 0
	for _, b := range seq {
		if b == 'G' || b == 'C' {
			gc++
		}
	}
	return float64(gc) / float64(len(seq))
}

// FitGCRegression trains a linear model of scale factor against
// k-mer GC content, the QC supplement grounded on
// go_pairviz/pkg/ecnorm_lm.go's TrainTable/BuildModel pattern
// (SetObserved/SetVar/Train/Run over sajari/regression.DataPoints).
func FitGCRegression(rows []Row) (*regression.Regression, error) {
	r := new(regression.Regression)
	r.SetObserved("scale")
	r.SetVar(0, "gc_content")

	var points regression.DataPoints
	for _, row := range rows {
		if row.Scale == 0 {
			continue
		}
		gc := GCContent(row.Sequence)
		points = append(points, regression.DataPoint(row.Scale, []float64{gc}))
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("counts.FitGCRegression: no nonzero scale rows to train on")
	}
	r.Train(points...)
	r.Run()
	return r, nil
}
