package kmer

import (
	"testing"

	"github.com/jgbaldwinbrown/seqoutbias/internal/mask"
)

func TestPlusIDBasic(t *testing.T) {
	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}
	// window "ACG": USE positions 0,2 -> bases A,G -> 00 10 = 2
	id, ok := PlusID([]byte("ACG"), m)
	if !ok {
		t.Fatalf("expected valid id")
	}
	if id != 0b0010 {
		t.Errorf("id = %b, want %b", id, 0b0010)
	}
}

func TestPlusIDInvalidOnN(t *testing.T) {
	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}
	if _, ok := PlusID([]byte("ACN"), m); ok {
		t.Errorf("expected invalid id for N under a USE position")
	}
}

func TestPlusIDIgnoresSkipN(t *testing.T) {
	m, e := mask.Parse("NXCXN")
	if e != nil {
		t.Fatal(e)
	}
	// SKIP position holding N must not invalidate the k-mer.
	id, ok := PlusID([]byte("ANCNG"), m)
	if !ok {
		t.Fatalf("expected valid id despite N at a SKIP position")
	}
	// USE positions 0, 4 -> A, G -> 00 10
	if id != 0b0010 {
		t.Errorf("id = %b, want %b", id, 0b0010)
	}
}

func TestReverseComplement(t *testing.T) {
	rc := ReverseComplement([]byte("ACGT"))
	if string(rc) != "ACGT" {
		t.Errorf("ReverseComplement(ACGT) = %s, want ACGT", rc)
	}
	rc = ReverseComplement([]byte("AACG"))
	if string(rc) != "CGTT" {
		t.Errorf("ReverseComplement(AACG) = %s, want CGTT", rc)
	}
}

func TestMinusIDMatchesPlusIDOfReverseComplement(t *testing.T) {
	m, e := mask.Parse("NNCNN")
	if e != nil {
		t.Fatal(e)
	}
	window := []byte("ACGTA")
	minusID, ok := MinusID(window, m)
	if !ok {
		t.Fatal("expected valid minus id")
	}
	plusID, ok := PlusID(ReverseComplement(window), m)
	if !ok {
		t.Fatal("expected valid plus id of reverse complement")
	}
	if minusID != plusID {
		t.Errorf("MinusID = %d, PlusID(rc) = %d", minusID, plusID)
	}
}

func TestSequenceRoundTrip(t *testing.T) {
	m, e := mask.Parse("NNCNN")
	if e != nil {
		t.Fatal(e)
	}
	id, ok := PlusID([]byte("ACGTA"), m)
	if !ok {
		t.Fatal("expected valid id")
	}
	seq := Sequence(id, m.Informative)
	if seq != "ACTA" {
		t.Errorf("Sequence = %s, want ACTA (USE positions skip the C)", seq)
	}
}
