// Package mappability implements spec.md §4.C, the Mappability
// Reader: per-reference-position bitmaps saying "a read of length L
// starting here aligns uniquely", keyed by read length.
//
// spec.md §6 requires accepting both an interval-text form (chrom,
// start, end, unique?) and a per-position binary bitmap, with
// conversion between the two the core's responsibility. The
// interval-text form is scanned with fasttsv.NewScanner, the same
// tab-scanner the teacher uses for every whitespace-delimited record
// stream it reads (pairviz.go's ChromosomeStats,
// go_pairviz/main.go's WinStats).
package mappability

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/jgbaldwinbrown/fasttsv"
	"github.com/jgbaldwinbrown/seqoutbias/internal/bioerr"
	"github.com/jgbaldwinbrown/seqoutbias/internal/ioutilx"
)

// Bitmap is one chromosome's mappability vector: Get(p) is true iff a
// read of the configured length starting at p maps uniquely.
type Bitmap struct {
	Length int
	bits   []uint64
}

func NewBitmap(length int) *Bitmap {
	return &Bitmap{Length: length, bits: make([]uint64, (length+63)/64)}
}

func (b *Bitmap) Set(pos int) {
	if pos < 0 || pos >= b.Length {
		return
	}
	b.bits[pos/64] |= 1 << uint(pos%64)
}

func (b *Bitmap) Get(pos int) bool {
	if pos < 0 || pos >= b.Length {
		return false
	}
	return b.bits[pos/64]&(1<<uint(pos%64)) != 0
}

// AllOnesBitmap returns a bitmap of the given length with every
// position set — used by tests exercising spec.md §8's "if the
// mappability bitmap is all-one" invariant, and by internal/seqtable to
// treat a chromosome with no mappability bitmap (including "no
// mappability file supplied") as "everything is mappable".
func AllOnesBitmap(length int) *Bitmap {
	b := NewBitmap(length)
	for i := 0; i < length; i++ {
		b.Set(i)
	}
	return b
}

// Map holds one bitmap per chromosome, for a single read length.
type Map struct {
	ReadLength int
	Chroms     map[string]*Bitmap
}

func (m *Map) Get(chrom string) *Bitmap {
	return m.Chroms[chrom]
}

var ErrMissing = bioerr.ErrMissingMappability

// Open loads a mappability file for the given chromosome lengths and
// read length. The required file not existing surfaces as
// bioerr.ErrMissingMappability (spec.md §4.C).
func Open(path string, readLength int, chromLengths map[string]int) (*Map, error) {
	h := bioerr.Handle("mappability.Open", bioerr.ErrMissingMappability)

	r, e := ioutilx.OpenMaybeGz(path)
	if e != nil {
		return nil, h(e)
	}
	defer r.Close()

	br := bufio.NewReader(r)
	magic, e := br.Peek(len(binaryMagic))
	if e == nil && string(magic) == binaryMagic {
		return readBinary(br, readLength)
	}
	return readIntervalText(br, readLength, chromLengths)
}

const binaryMagic = "SOBMAPB1"

// readIntervalText parses the (chrom, start, end, unique?) text form
// described in spec.md §6. unique? is "1"/"0" or "true"/"false"; every
// position in [start, end) is marked per the unique flag.
func readIntervalText(r io.Reader, readLength int, chromLengths map[string]int) (*Map, error) {
	h := bioerr.Handle("mappability.readIntervalText", bioerr.ErrMissingMappability)

	m := &Map{ReadLength: readLength, Chroms: map[string]*Bitmap{}}
	for chrom, length := range chromLengths {
		m.Chroms[chrom] = NewBitmap(length)
	}

	s := fasttsv.NewScanner(r)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := s.Line()
		if len(line) < 4 {
			return nil, h(fmt.Errorf("line %d: expected 4 fields, got %d", lineNo, len(line)))
		}
		chrom := line[0]
		start, e1 := strconv.Atoi(line[1])
		end, e2 := strconv.Atoi(line[2])
		if e1 != nil || e2 != nil {
			return nil, h(fmt.Errorf("line %d: invalid interval bounds", lineNo))
		}
		unique := line[3] == "1" || line[3] == "true"
		if !unique {
			continue
		}
		bm, ok := m.Chroms[chrom]
		if !ok {
			continue // unknown chromosome, ignored like counts.rs's BedRanges unknown-chrom handling
		}
		if end > bm.Length {
			end = bm.Length
		}
		for p := start; p < end; p++ {
			bm.Set(p)
		}
	}
	return m, nil
}

// WriteBinary serializes a Map to the core's own per-position bitmap
// form, the binary alternative spec.md §6 requires accepting: a
// magic header, read length, then per chromosome a name, length and
// packed bit-vector. Produced artifacts round-trip through readBinary.
func WriteBinary(w io.Writer, m *Map, order []string) error {
	bw := bufio.NewWriter(w)
	if _, e := bw.WriteString(binaryMagic); e != nil {
		return e
	}
	if e := binary.Write(bw, binary.LittleEndian, uint32(m.ReadLength)); e != nil {
		return e
	}
	if e := binary.Write(bw, binary.LittleEndian, uint32(len(order))); e != nil {
		return e
	}
	for _, name := range order {
		bm := m.Chroms[name]
		if e := binary.Write(bw, binary.LittleEndian, uint32(len(name))); e != nil {
			return e
		}
		if _, e := bw.WriteString(name); e != nil {
			return e
		}
		if e := binary.Write(bw, binary.LittleEndian, uint32(bm.Length)); e != nil {
			return e
		}
		for _, word := range bm.bits {
			if e := binary.Write(bw, binary.LittleEndian, word); e != nil {
				return e
			}
		}
	}
	return bw.Flush()
}

func readBinary(r io.Reader, readLength int) (*Map, error) {
	h := bioerr.Handle("mappability.readBinary", bioerr.ErrMissingMappability)

	magic := make([]byte, len(binaryMagic))
	if _, e := io.ReadFull(r, magic); e != nil {
		return nil, h(e)
	}
	if string(magic) != binaryMagic {
		return nil, h(fmt.Errorf("bad magic"))
	}
	var fileReadLength, nChroms uint32
	if e := binary.Read(r, binary.LittleEndian, &fileReadLength); e != nil {
		return nil, h(e)
	}
	if e := binary.Read(r, binary.LittleEndian, &nChroms); e != nil {
		return nil, h(e)
	}
	m := &Map{ReadLength: int(fileReadLength), Chroms: map[string]*Bitmap{}}
	for i := uint32(0); i < nChroms; i++ {
		var nameLen uint32
		if e := binary.Read(r, binary.LittleEndian, &nameLen); e != nil {
			return nil, h(e)
		}
		nameBuf := make([]byte, nameLen)
		if _, e := io.ReadFull(r, nameBuf); e != nil {
			return nil, h(e)
		}
		var length uint32
		if e := binary.Read(r, binary.LittleEndian, &length); e != nil {
			return nil, h(e)
		}
		bm := NewBitmap(int(length))
		for w := range bm.bits {
			if e := binary.Read(r, binary.LittleEndian, &bm.bits[w]); e != nil {
				return nil, h(e)
			}
		}
		m.Chroms[string(nameBuf)] = bm
	}
	if readLength != 0 && m.ReadLength != readLength {
		return nil, h(fmt.Errorf("mappability file is for read length %d, requested %d", m.ReadLength, readLength))
	}
	return m, nil
}
