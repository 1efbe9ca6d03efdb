// Package mask implements spec.md §4.A, the k-mer position mask
// algebra: parsing a mask string of N (use)/X (skip)/C (cut-site)
// codes into the informative width, k-mer id layout and the
// plus/minus cut-site offsets.
//
// Grounded on original_source/src/seqtable/mod.rs's
// SeqTableParams::new, which derives kmer_length/plus_offset/minus_offset
// from a mask string when one is supplied, and on spec.md §3/§4.A's
// two-C-per-side generalization of that single-C form.
package mask

import (
	"fmt"
	"strings"

	"github.com/jgbaldwinbrown/seqoutbias/internal/bioerr"
)

// Code is one position code in a mask.
type Code byte

const (
	Use  Code = 'N'
	Skip Code = 'X'
	Cut  Code = 'C'
)

// Mask is a parsed, validated k-mer position mask.
type Mask struct {
	Codes []Code // full physical span, left to right on the plus strand
	// Width is the physical span of the mask (len(Codes)).
	Width int
	// Informative is the number of Use positions; the k-mer alphabet
	// has 4^Informative ids.
	Informative int
	// PlusOffset is the 0-based offset of the plus-strand cut site
	// from the start of the window.
	PlusOffset int
	// MinusOffset is the 0-based offset of the minus-strand cut site,
	// measured from the end of the window (see spec.md §4.F).
	MinusOffset int
	// Symmetric is true when the mask carried exactly one C and both
	// offsets were derived from it (spec.md §9's open question); false
	// when two Cs (or an explicit override) gave independent offsets.
	Symmetric bool
}

// UsePositions returns the indices (into Codes) of every Use position,
// left to right — the plus-strand k-mer id is the concatenation of
// bases read at these indices, in this order.
func (m Mask) UsePositions() []int {
	out := make([]int, 0, m.Informative)
	for i, c := range m.Codes {
		if c == Use {
			out = append(out, i)
		}
	}
	return out
}

// Parse parses a mask string of N/X/C codes (case-insensitive),
// deriving the cut-site offsets from the C position(s) present, per
// spec.md §4.A and the single-C shorthand in original_source's
// SeqTableParams::new.
func Parse(s string) (Mask, error) {
	h := bioerr.Handle("mask.Parse", bioerr.ErrInvalidMask)
	if len(s) == 0 {
		return Mask{}, h(fmt.Errorf("empty mask"))
	}

	codes := make([]Code, 0, len(s))
	cutIdx := []int{}
	for i, r := range strings.ToUpper(s) {
		switch Code(r) {
		case Use:
			codes = append(codes, Use)
		case Skip:
			codes = append(codes, Skip)
		case Cut:
			codes = append(codes, Cut)
			cutIdx = append(cutIdx, i)
		default:
			return Mask{}, h(fmt.Errorf("unrecognized mask code %q at position %d", r, i))
		}
	}

	informative := 0
	for _, c := range codes {
		if c == Use {
			informative++
		}
	}
	if informative == 0 {
		return Mask{}, h(fmt.Errorf("mask has no USE (N) positions"))
	}

	switch len(cutIdx) {
	case 1:
		plus := cutIdx[0]
		minus := len(codes) - 1 - cutIdx[0]
		return Mask{
			Codes:       codes,
			Width:       len(codes),
			Informative: informative,
			PlusOffset:  plus,
			MinusOffset: minus,
			Symmetric:   true,
		}, nil
	case 2:
		plus := cutIdx[0]
		minus := len(codes) - 1 - cutIdx[len(cutIdx)-1]
		return Mask{
			Codes:       codes,
			Width:       len(codes),
			Informative: informative,
			PlusOffset:  plus,
			MinusOffset: minus,
			Symmetric:   false,
		}, nil
	default:
		return Mask{}, h(fmt.Errorf("mask must contain 1 or 2 CUT-SITE (C) positions, got %d", len(cutIdx)))
	}
}

// ParseWithOffsets parses a mask's Use/Skip layout but overrides the
// derived cut-site offsets with explicit ones, for the CLI's "custom
// plus/minus cut-site offset override" surface (spec.md §6) and to
// force the asymmetric interpretation of a single-C mask (spec.md §9).
func ParseWithOffsets(s string, plusOffset, minusOffset int) (Mask, error) {
	m, err := Parse(s)
	if err != nil {
		return Mask{}, err
	}
	m.PlusOffset = plusOffset
	m.MinusOffset = minusOffset
	m.Symmetric = false
	return m, nil
}

// NMerCount returns 4^Informative, the size of the k-mer id alphabet
// (spec.md §3's "the k-mer alphabet has 4^w ids").
func (m Mask) NMerCount() uint64 {
	return uint64(1) << uint(2*m.Informative)
}

// String renders the mask back to its N/X/C form.
func (m Mask) String() string {
	var b strings.Builder
	for _, c := range m.Codes {
		b.WriteByte(byte(c))
	}
	return b.String()
}
