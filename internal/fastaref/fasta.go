// Package fastaref implements spec.md §4.B, the Sequence Reader:
// opening a possibly-compressed reference FASTA and yielding, per
// chromosome, its name, length and base stream, preserving original
// ordering and names.
//
// Grounded on fastats.ParseFasta (github.com/jgbaldwinbrown/fastats),
// the same parser the teacher uses for every FASTA-consuming tool
// (window_measures/pkg/winpairs.go, tensorflow_comparison/pkg/prepare.go),
// wrapped with the gz-transparent open helper from internal/ioutilx
// instead of the teacher's raw os.Open, since spec.md §6 requires
// transparent gzip support for the reference input.
package fastaref

import (
	"io"
	"strings"

	fastats "github.com/jgbaldwinbrown/fastats/pkg"
	"github.com/jgbaldwinbrown/seqoutbias/internal/bioerr"
	"github.com/jgbaldwinbrown/seqoutbias/internal/ioutilx"
)

// Chromosome is one reference sequence: its name, length, and
// uppercased base bytes (A/C/G/T/N; any other IUPAC ambiguity code is
// folded to N per spec.md §6: "ambiguity codes other than N treated
// as N").
type Chromosome struct {
	Name   string
	Length int
	Bases  []byte
}

// normalize uppercases a FASTA sequence and folds every non-ACGTN
// byte to N, in place.
func normalize(seq []byte) []byte {
	for i, b := range seq {
		switch b {
		case 'a':
			seq[i] = 'A'
		case 'c':
			seq[i] = 'C'
		case 'g':
			seq[i] = 'G'
		case 't':
			seq[i] = 'T'
		case 'A', 'C', 'G', 'T':
		default:
			seq[i] = 'N'
		}
	}
	return seq
}

// Each opens path (transparently gzip-decompressed) and invokes fn
// once per chromosome, in FASTA order, stopping and propagating the
// first error either fn or the parser returns. Malformed FASTA
// structure or a read failure mid-stream surfaces as
// bioerr.ErrInvalidReference, per spec.md §4.B.
func Each(path string, fn func(Chromosome) error) error {
	h := bioerr.Handle("fastaref.Each", bioerr.ErrInvalidReference)

	r, e := ioutilx.OpenMaybeGz(path)
	if e != nil {
		return h(e)
	}
	defer r.Close()

	return EachReader(r, fn)
}

// EachReader is Each over an already-open reader, for tests and for
// composing with other decompression layers.
func EachReader(r io.Reader, fn func(Chromosome) error) error {
	h := bioerr.Handle("fastaref.EachReader", bioerr.ErrInvalidReference)

	it := fastats.ParseFasta(r)
	seen := 0
	err := it.Iterate(func(entry fastats.FaEntry) error {
		seen++
		name := entry.Header
		if idx := strings.IndexByte(name, ' '); idx >= 0 {
			name = name[:idx]
		}
		bases := normalize([]byte(entry.Seq))
		return fn(Chromosome{Name: name, Length: len(bases), Bases: bases})
	})
	if err != nil {
		return h(err)
	}
	if seen == 0 {
		return h(io.ErrUnexpectedEOF)
	}
	return nil
}

// Names returns just the chromosome names and lengths in file order,
// used by components that need the reference's coordinate space
// without materializing every base (e.g. sizing a Position Table
// before streaming bases into it).
func Names(path string) ([]Chromosome, error) {
	var out []Chromosome
	err := Each(path, func(c Chromosome) error {
		out = append(out, Chromosome{Name: c.Name, Length: c.Length})
		return nil
	})
	return out, err
}
