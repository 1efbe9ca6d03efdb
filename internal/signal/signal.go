// Package signal implements spec.md §4.H, the Signal Emitter: walking
// a bind.Result's pile-up in chromosome/position order and writing a
// fixed-step text track, optionally scaled, stranded or summed, with
// the minus-strand shift supplement from original_source/src/scale.rs.
//
// Conversion of that text to a compressed binary track is delegated to
// an external tool invoked via os/exec, the same division
// register/pkg/multi_and_plot.go's RunPlot draws between "this
// program writes an intermediate file" and "a separate installed
// binary turns it into the final artifact".
package signal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jgbaldwinbrown/seqoutbias/internal/bind"
	"github.com/jgbaldwinbrown/seqoutbias/internal/kmer"
	"github.com/jgbaldwinbrown/seqoutbias/internal/seqtable"
)

// Options configures emission, per spec.md §4.H plus the
// minus-strand-shift supplement.
type Options struct {
	Stranded bool
	Scale    []float64 // nil disables scaling; emits raw counts.
	// ShiftMinus offsets minus-strand pile-up positions by this many
	// bases before emission, so plus/minus tracks align on the same
	// footprint center (original_source's --shift-counts).
	ShiftMinus int
	// ChromOrder fixes emission order; chromosomes absent from it are
	// skipped (spec.md §5: "declared chromosome order of the reference").
	ChromOrder []string
}

// Emit writes fixed-step signal text to w for every non-zero pile-up
// entry, in chromosome-declared then ascending-position order.
func Emit(w io.Writer, table *seqtable.Table, res *bind.Result, opts Options) error {
	bw := bufio.NewWriter(w)

	for _, chrom := range opts.ChromOrder {
		if _, ok := res.PileUp[chrom]; !ok {
			continue
		}
		cp := table.Chrom(chrom)

		err := res.Sorted(chrom).Iterate(func(pp bind.PosPile) error {
			pos, pe := pp.Pos, pp.Entry
			plusVal, minusVal := weighted(table, cp, pos, pe, opts)

			if opts.Stranded {
				if plusVal != 0 {
					if e := writeLine(bw, chrom, pos, plusVal); e != nil {
						return e
					}
				}
				minusPos := pos + opts.ShiftMinus
				if minusVal != 0 {
					if e := writeLine(bw, chrom, minusPos, -minusVal); e != nil {
						return e
					}
				}
			} else {
				total := plusVal + minusVal
				if total != 0 {
					if e := writeLine(bw, chrom, pos, total); e != nil {
						return e
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

func weighted(table *seqtable.Table, cp *seqtable.ChromPositions, pos int, pe *bind.PileEntry, opts Options) (plusVal, minusVal float64) {
	plusVal, minusVal = float64(pe.Plus), float64(pe.Minus)
	if opts.Scale == nil || cp == nil {
		return plusVal, minusVal
	}
	// pos is a cut site; the table holds each cut's id at its window
	// start, the same index bind.Binder.cutSite reads it from.
	m := table.Mask
	if ws := pos - m.PlusOffset; pe.Plus > 0 && ws >= 0 && ws < len(cp.Entries) {
		if id := cp.Entries[ws].PlusID; id != kmer.Invalid {
			plusVal = float64(pe.Plus) * opts.Scale[id]
		}
	}
	if ws := pos - (m.Width - 1 - m.MinusOffset); pe.Minus > 0 && ws >= 0 && ws < len(cp.Entries) {
		if id := cp.Entries[ws].MinusID; id != kmer.Invalid {
			minusVal = float64(pe.Minus) * opts.Scale[id]
		}
	}
	return plusVal, minusVal
}

func writeLine(w *bufio.Writer, chrom string, pos int, val float64) error {
	_, e := fmt.Fprintf(w, "%s\t%d\t%v\n", chrom, pos+1, val) // fixed-step tracks are 1-based.
	return e
}

// Convert shells out to an external converter (e.g. bedGraphToBigWig)
// to turn the fixed-step text at textPath into a compressed binary
// signal container at outPath, mirroring bigwig.rs's role: it also
// shells out rather than encoding BigWig itself.
func Convert(ctx context.Context, converterPath, textPath, chromSizes, outPath string) error {
	cmd := exec.CommandContext(ctx, converterPath, textPath, chromSizes, outPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
