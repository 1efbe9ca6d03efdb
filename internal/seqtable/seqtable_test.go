package seqtable

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/jgbaldwinbrown/seqoutbias/internal/fastaref"
	"github.com/jgbaldwinbrown/seqoutbias/internal/kmer"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mappability"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mask"
)

func TestScanChromosomeEdgesInvalid(t *testing.T) {
	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}
	c := fastaref.Chromosome{Name: "chr1", Length: 8, Bases: []byte("ACGTACGT")}
	bm := mappability.AllOnesBitmap(c.Length)

	entries := scanChromosome(c, m, bm)
	if len(entries) != c.Length {
		t.Fatalf("len(entries) = %d, want %d", len(entries), c.Length)
	}

	last := c.Length - m.Width // 5
	for p := last + 1; p < c.Length; p++ {
		if entries[p].PlusID != kmer.Invalid || entries[p].MinusID != kmer.Invalid {
			t.Errorf("position %d: expected both invalid past window edge, got %+v", p, entries[p])
		}
	}
	// position 0 ("ACG") has no N under a USE position, so both ids should be valid.
	if entries[0].PlusID == kmer.Invalid {
		t.Errorf("position 0: expected a valid plus id")
	}
}

func TestScanChromosomeRespectsMappability(t *testing.T) {
	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}
	c := fastaref.Chromosome{Name: "chr1", Length: 8, Bases: []byte("ACGTACGT")}
	bm := mappability.NewBitmap(c.Length) // all zero: nothing mappable

	entries := scanChromosome(c, m, bm)
	for p, e := range entries {
		if e.PlusID != kmer.Invalid || e.MinusID != kmer.Invalid {
			t.Errorf("position %d: expected invalid under an all-unmappable bitmap, got %+v", p, e)
		}
	}
}

func TestBuildAndPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	faPath := filepath.Join(dir, "ref.fa")
	fa := ">chr1\nACGTACGTACGTACGT\n>chr2\nTTTTGGGGCCCCAAAA\n"
	if e := os.WriteFile(faPath, []byte(fa), 0644); e != nil {
		t.Fatal(e)
	}

	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}

	fp, e := ComputeFingerprint(faPath, "", m, 36, "test")
	if e != nil {
		t.Fatal(e)
	}

	table, e := Build(faPath, m, 36, nil, fp, nil)
	if e != nil {
		t.Fatal(e)
	}
	if len(table.Chroms) != 2 {
		t.Fatalf("len(Chroms) = %d, want 2", len(table.Chroms))
	}
	if table.Chrom("chr1") == nil || table.Chrom("chr2") == nil {
		t.Fatalf("expected both chromosomes present")
	}
	if uint64(len(table.Expected)) != m.NMerCount() {
		t.Errorf("len(Expected) = %d, want %d", len(table.Expected), m.NMerCount())
	}

	tblPath := filepath.Join(dir, "table.bin")
	if e := WriteFile(tblPath, table); e != nil {
		t.Fatal(e)
	}

	loaded, e := ReadFile(tblPath, fp)
	if e != nil {
		t.Fatal(e)
	}
	if loaded.ReadLength != 36 {
		t.Errorf("ReadLength = %d, want 36", loaded.ReadLength)
	}
	got := loaded.Chrom("chr1")
	want := table.Chrom("chr1")
	if got == nil || len(got.Entries) != len(want.Entries) {
		t.Fatalf("chr1 entries mismatch after round trip")
	}
	for i := range want.Entries {
		if got.Entries[i] != want.Entries[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got.Entries[i], want.Entries[i])
		}
	}

	if _, e := ReadFile(tblPath, Fingerprint{0xff}); e == nil {
		t.Errorf("expected fingerprint mismatch error for a wrong fingerprint")
	}
}

func TestBuildConcurrentMatchesBuild(t *testing.T) {
	dir := t.TempDir()
	faPath := filepath.Join(dir, "ref.fa")
	fa := ">chr1\nACGTACGTACGTACGT\n>chr2\nTTTTGGGGCCCCAAAA\n>chr3\nGGGGAAAATTTTCCCC\n"
	if e := os.WriteFile(faPath, []byte(fa), 0644); e != nil {
		t.Fatal(e)
	}

	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}

	sequential, e := Build(faPath, m, 36, nil, Fingerprint{}, nil)
	if e != nil {
		t.Fatal(e)
	}
	concurrent, e := BuildConcurrent(faPath, m, 36, nil, Fingerprint{}, nil, 2)
	if e != nil {
		t.Fatal(e)
	}

	if len(sequential.Chroms) != len(concurrent.Chroms) {
		t.Fatalf("len(Chroms) = %d, want %d", len(concurrent.Chroms), len(sequential.Chroms))
	}
	for _, name := range []string{"chr1", "chr2", "chr3"} {
		want := sequential.Chrom(name)
		got := concurrent.Chrom(name)
		if got == nil || want == nil {
			t.Fatalf("missing chromosome %s", name)
		}
		if len(got.Entries) != len(want.Entries) {
			t.Fatalf("%s: entries length mismatch", name)
		}
		for i := range want.Entries {
			if got.Entries[i] != want.Entries[i] {
				t.Errorf("%s entry %d: got %+v, want %+v", name, i, got.Entries[i], want.Entries[i])
			}
		}
	}
	for id := range sequential.Expected {
		if sequential.Expected[id] != concurrent.Expected[id] {
			t.Errorf("Expected[%d] = %d, want %d", id, concurrent.Expected[id], sequential.Expected[id])
		}
	}
}

func TestDumpRange(t *testing.T) {
	dir := t.TempDir()
	faPath := filepath.Join(dir, "ref.fa")
	if e := os.WriteFile(faPath, []byte(">chr1\nACGTACGTACGT\n"), 0644); e != nil {
		t.Fatal(e)
	}
	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}
	table, e := Build(faPath, m, 36, nil, Fingerprint{}, nil)
	if e != nil {
		t.Fatal(e)
	}

	var buf bytes.Buffer
	if e := DumpRange(&buf, table, "chr1", 0, 3); e != nil {
		t.Fatal(e)
	}
	if buf.Len() == 0 {
		t.Errorf("expected non-empty dump output")
	}

	if e := DumpRange(&buf, table, "nope", 0, 3); e == nil {
		t.Errorf("expected an error for an unknown chromosome")
	}
}
