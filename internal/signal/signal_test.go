package signal

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jgbaldwinbrown/seqoutbias/internal/bind"
	"github.com/jgbaldwinbrown/seqoutbias/internal/seqtable"
)

func TestEmitUnstrandedSumsStrands(t *testing.T) {
	res := &bind.Result{PileUp: map[string]map[int]*bind.PileEntry{
		"chr1": {10: {Plus: 3, Minus: 2}},
	}}
	var buf bytes.Buffer
	opts := Options{ChromOrder: []string{"chr1"}}
	if e := Emit(&buf, &seqtable.Table{}, res, opts); e != nil {
		t.Fatal(e)
	}
	out := buf.String()
	if !strings.Contains(out, "chr1\t11\t5") {
		t.Errorf("expected summed unstranded output, got %q", out)
	}
}

func TestEmitStrandedSeparatesSigns(t *testing.T) {
	res := &bind.Result{PileUp: map[string]map[int]*bind.PileEntry{
		"chr1": {10: {Plus: 3, Minus: 2}},
	}}
	var buf bytes.Buffer
	opts := Options{Stranded: true, ChromOrder: []string{"chr1"}}
	if e := Emit(&buf, &seqtable.Table{}, res, opts); e != nil {
		t.Fatal(e)
	}
	out := buf.String()
	if !strings.Contains(out, "chr1\t11\t3") {
		t.Errorf("expected plus line, got %q", out)
	}
	if !strings.Contains(out, "-2") {
		t.Errorf("expected negative minus-strand value, got %q", out)
	}
}

func TestEmitRespectsChromOrder(t *testing.T) {
	res := &bind.Result{PileUp: map[string]map[int]*bind.PileEntry{
		"chr2": {1: {Plus: 1}},
		"chr1": {1: {Plus: 1}},
	}}
	var buf bytes.Buffer
	opts := Options{ChromOrder: []string{"chr1"}}
	if e := Emit(&buf, &seqtable.Table{}, res, opts); e != nil {
		t.Fatal(e)
	}
	if strings.Contains(buf.String(), "chr2") {
		t.Errorf("expected chr2 to be skipped when absent from ChromOrder, got %q", buf.String())
	}
}

func TestEmitShiftsMinusStrand(t *testing.T) {
	res := &bind.Result{PileUp: map[string]map[int]*bind.PileEntry{
		"chr1": {10: {Minus: 4}},
	}}
	var buf bytes.Buffer
	opts := Options{Stranded: true, ShiftMinus: 5, ChromOrder: []string{"chr1"}}
	if e := Emit(&buf, &seqtable.Table{}, res, opts); e != nil {
		t.Fatal(e)
	}
	if !strings.Contains(buf.String(), "chr1\t16\t-4") {
		t.Errorf("expected minus-strand position shifted by 5, got %q", buf.String())
	}
}
