package bind

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/jgbaldwinbrown/seqoutbias/internal/kmer"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mask"
	"github.com/jgbaldwinbrown/seqoutbias/internal/seqtable"
)

func buildTestTable(t *testing.T) *seqtable.Table {
	t.Helper()
	dir := t.TempDir()
	faPath := filepath.Join(dir, "ref.fa")
	if e := os.WriteFile(faPath, []byte(">chr1\n"+stringsRepeat("ACGTACGTAC", 10)+"\n"), 0644); e != nil {
		t.Fatal(e)
	}
	m, e := mask.Parse("NCN")
	if e != nil {
		t.Fatal(e)
	}
	table, e := seqtable.Build(faPath, m, 36, nil, seqtable.Fingerprint{}, nil)
	if e != nil {
		t.Fatal(e)
	}
	return table
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func newRecord(t *testing.T, ref *sam.Reference, pos int, reverse bool, length int) *sam.Record {
	t.Helper()
	flags := sam.Flags(0)
	if reverse {
		flags |= sam.Reverse
	}
	cig := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, length)}
	rec := &sam.Record{
		Name:  "r1",
		Ref:   ref,
		Pos:   pos,
		MapQ:  60,
		Cigar: cig,
		Flags: flags,
		Seq:   sam.Seq{Length: length},
	}
	return rec
}

func TestBindOnePlusStrand(t *testing.T) {
	table := buildTestTable(t)
	ref, e := sam.NewReference("chr1", "", "", 100, nil, nil)
	if e != nil {
		t.Fatal(e)
	}

	b := NewBinder(table, DefaultPolicy)
	res := newResult(uint64(len(table.Expected)))

	rec := newRecord(t, ref, 10, false, 36)
	if e := b.bindOne(rec, res); e != nil {
		t.Fatal(e)
	}

	cp := table.Chrom("chr1")
	windowStart := 10 + table.Mask.PlusOffset - table.Mask.PlusOffset // = 10
	want := cp.Entries[windowStart].PlusID
	if want == kmer.Invalid {
		t.Skip("fixture position happens to be invalid, pick a different offset in a future revision")
	}
	if res.Observed[want] != 1 {
		t.Errorf("Observed[%d] = %d, want 1", want, res.Observed[want])
	}
	pe := res.PileUp["chr1"][10+table.Mask.PlusOffset]
	if pe == nil || pe.Plus != 1 {
		t.Errorf("expected plus pile-up of 1 at the cut site, got %+v", pe)
	}
}

func TestBindOneSkipsUnmapped(t *testing.T) {
	table := buildTestTable(t)
	ref, e := sam.NewReference("chr1", "", "", 100, nil, nil)
	if e != nil {
		t.Fatal(e)
	}

	b := NewBinder(table, DefaultPolicy)
	res := newResult(uint64(len(table.Expected)))

	rec := newRecord(t, ref, 10, false, 36)
	rec.Flags |= sam.Unmapped
	if e := b.bindOne(rec, res); e != nil {
		t.Fatal(e)
	}
	for i, v := range res.Observed {
		if v != 0 {
			t.Fatalf("expected no observations for an unmapped read, Observed[%d] = %d", i, v)
		}
	}
}

func TestBindOneHonorsDuplicateFlagByDefault(t *testing.T) {
	table := buildTestTable(t)
	ref, e := sam.NewReference("chr1", "", "", 100, nil, nil)
	if e != nil {
		t.Fatal(e)
	}

	b := NewBinder(table, DefaultPolicy)
	res := newResult(uint64(len(table.Expected)))

	rec := newRecord(t, ref, 10, false, 36)
	rec.Flags |= sam.Duplicate
	if e := b.bindOne(rec, res); e != nil {
		t.Fatal(e)
	}
	for i, v := range res.Observed {
		if v != 0 {
			t.Fatalf("expected duplicate-flagged read to be skipped by default policy, Observed[%d] = %d", i, v)
		}
	}
}

func TestBindOneSkipsBelowMinMapQ(t *testing.T) {
	table := buildTestTable(t)
	ref, e := sam.NewReference("chr1", "", "", 100, nil, nil)
	if e != nil {
		t.Fatal(e)
	}

	policy := DefaultPolicy
	policy.MinMapQ = 30
	b := NewBinder(table, policy)
	res := newResult(uint64(len(table.Expected)))

	rec := newRecord(t, ref, 10, false, 36)
	rec.MapQ = 20
	if e := b.bindOne(rec, res); e != nil {
		t.Fatal(e)
	}
	for i, v := range res.Observed {
		if v != 0 {
			t.Fatalf("expected a read below MinMapQ to be skipped, Observed[%d] = %d", i, v)
		}
	}

	rec.MapQ = 30
	if e := b.bindOne(rec, res); e != nil {
		t.Fatal(e)
	}
	total := uint64(0)
	for _, v := range res.Observed {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected a read at exactly MinMapQ to be bound, got %d observations", total)
	}
}

func TestBindOneSkipsCutOutsideAlignedSpan(t *testing.T) {
	table := buildTestTable(t)
	ref, e := sam.NewReference("chr1", "", "", 100, nil, nil)
	if e != nil {
		t.Fatal(e)
	}

	b := NewBinder(table, DefaultPolicy)
	res := newResult(uint64(len(table.Expected)))

	rec := newRecord(t, ref, 10, false, 36)
	// A cigar shorter than the read's Seq.Length makes rec.End() fall
	// before the minus-strand cut site cutSite would otherwise compute,
	// simulating a strand-inconsistent offset outside the aligned span.
	rec.Cigar = sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 1)}
	if e := b.bindOne(rec, res); e != nil {
		t.Fatal(e)
	}
	for i, v := range res.Observed {
		if v != 0 {
			t.Fatalf("expected a cut site outside the aligned span to be skipped, Observed[%d] = %d", i, v)
		}
	}
}

func TestBindOneDuplicateCollapse(t *testing.T) {
	table := buildTestTable(t)
	ref, e := sam.NewReference("chr1", "", "", 100, nil, nil)
	if e != nil {
		t.Fatal(e)
	}

	policy := DefaultPolicy
	policy.Duplicate = DupCollapse
	b := NewBinder(table, policy)
	res := newResult(uint64(len(table.Expected)))

	for i := 0; i < 3; i++ {
		rec := newRecord(t, ref, 10, false, 36)
		if e := b.bindOne(rec, res); e != nil {
			t.Fatal(e)
		}
	}

	var total uint64
	for _, v := range res.Observed {
		total += v
	}
	if total != 1 {
		t.Errorf("expected exactly one counted observation under collapse policy, got %d", total)
	}
}

func TestResultSortedYieldsAscendingPositions(t *testing.T) {
	res := newResult(4)
	res.pile("chr1", 30).Plus = 1
	res.pile("chr1", 10).Plus = 2
	res.pile("chr1", 20).Minus = 3

	var got []int
	e := res.Sorted("chr1").Iterate(func(pp PosPile) error {
		got = append(got, pp.Pos)
		return nil
	})
	if e != nil {
		t.Fatal(e)
	}
	want := []int{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}

func TestResultSortedEmptyChromYieldsNothing(t *testing.T) {
	res := newResult(4)
	n := 0
	e := res.Sorted("nope").Iterate(func(pp PosPile) error {
		n++
		return nil
	})
	if e != nil {
		t.Fatal(e)
	}
	if n != 0 {
		t.Errorf("expected no entries for an absent chromosome, got %d", n)
	}
}

func TestResultMerge(t *testing.T) {
	a := newResult(4)
	b := newResult(4)
	a.Observed[1] = 2
	b.Observed[1] = 3
	a.pile("chr1", 5).Plus = 1
	b.pile("chr1", 5).Plus = 4
	a.Merge(b)
	if a.Observed[1] != 5 {
		t.Errorf("Observed[1] = %d, want 5", a.Observed[1])
	}
	if a.PileUp["chr1"][5].Plus != 5 {
		t.Errorf("PileUp[chr1][5].Plus = %d, want 5", a.PileUp["chr1"][5].Plus)
	}
}
