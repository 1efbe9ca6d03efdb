// Package kmer implements spec.md §4.D, the k-mer encoder: given a
// base window and a mask, produce a canonical plus- and minus-strand
// k-mer id, or the "invalid" sentinel when the window contains an N
// under a USE position.
//
// Grounded on original_source/src/fasta/context's EnzContext family
// (KmerIndex{plus, minus Option<u32>}), generalized to spec.md's
// explicit Mask type instead of the original's fixed bitmask slice.
package kmer

import "github.com/jgbaldwinbrown/seqoutbias/internal/mask"

// Base is a 2-bit nucleotide code. N has no 2-bit code; any window
// byte that isn't one of A/C/G/T renders the covering k-mer invalid.
type Base byte

const (
	A Base = 0
	C Base = 1
	G Base = 2
	T Base = 3
)

// Invalid is the sentinel k-mer id denoting "no valid k-mer here",
// spec.md §3's "distinguished sentinel value". It is never a valid id
// since valid ids are in [0, 4^w).
const Invalid uint32 = 1<<32 - 1

// Encode maps an uppercase ASCII base byte to its 2-bit code, and
// reports false for N (or any other non-ACGT byte).
func Encode(b byte) (Base, bool) {
	switch b {
	case 'A':
		return A, true
	case 'C':
		return C, true
	case 'G':
		return G, true
	case 'T':
		return T, true
	default:
		return 0, false
	}
}

// complement returns the Watson-Crick complement of a 2-bit base.
func complement(b Base) Base {
	return 3 - b
}

// complementByte returns the complement of a base byte, passing N
// through unchanged.
func complementByte(b byte) byte {
	switch b {
	case 'A':
		return 'T'
	case 'C':
		return 'G'
	case 'G':
		return 'C'
	case 'T':
		return 'A'
	default:
		return b // N or anything else: not meaningful under a mask anyway
	}
}

// ReverseComplement returns the reverse complement of window, the
// same operation original_source/src/fasta.rs's reverse_complement
// performs on an already-encoded k-mer id, done here on the raw base
// window before encoding so it composes with an arbitrary mask.
func ReverseComplement(window []byte) []byte {
	out := make([]byte, len(window))
	n := len(window)
	for i, b := range window {
		out[n-1-i] = complementByte(b)
	}
	return out
}

// PlusID computes the plus-strand k-mer id for a window of length
// mask.Width, or (Invalid, false) if any USE position holds a
// non-ACGT byte. The id is the lexicographic concatenation of 2-bit
// codes at the mask's USE positions, left to right (spec.md §4.A).
func PlusID(window []byte, m mask.Mask) (uint32, bool) {
	if len(window) != m.Width {
		return Invalid, false
	}
	var id uint32
	for _, pos := range m.UsePositions() {
		b, ok := Encode(window[pos])
		if !ok {
			return Invalid, false
		}
		id = id<<2 | uint32(b)
	}
	return id, true
}

// MinusID computes the minus-strand k-mer id at the same physical
// window: the reverse complement of window, read under the same mask
// layout (spec.md §3: "the minus-strand k-mer at position p is the
// reverse complement of the bases under the mask").
func MinusID(window []byte, m mask.Mask) (uint32, bool) {
	rc := ReverseComplement(window)
	return PlusID(rc, m)
}

// Sequence renders a k-mer id back to its base-letter string, in
// USE-position order, for the counts-table output (spec.md §6:
// "<k-mer sequence under mask>").
func Sequence(id uint32, informativeWidth int) string {
	letters := [4]byte{'A', 'C', 'G', 'T'}
	out := make([]byte, informativeWidth)
	for i := informativeWidth - 1; i >= 0; i-- {
		out[i] = letters[id&3]
		id >>= 2
	}
	return string(out)
}
