package mappability

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if e := os.WriteFile(path, []byte(body), 0644); e != nil {
		t.Fatal(e)
	}
}

func createFile(t *testing.T, path string) *os.File {
	t.Helper()
	f, e := os.Create(path)
	if e != nil {
		t.Fatal(e)
	}
	return f
}

func TestBitmapSetGet(t *testing.T) {
	b := NewBitmap(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)
	for _, p := range []int{0, 64, 129} {
		if !b.Get(p) {
			t.Errorf("Get(%d) = false, want true", p)
		}
	}
	if b.Get(1) || b.Get(63) || b.Get(128) {
		t.Errorf("unset positions reported as set")
	}
	if b.Get(-1) || b.Get(130) {
		t.Errorf("out-of-range Get should report false, not panic")
	}
}

func TestAllOnesBitmap(t *testing.T) {
	b := AllOnesBitmap(10)
	for i := 0; i < 10; i++ {
		if !b.Get(i) {
			t.Errorf("AllOnesBitmap position %d unset", i)
		}
	}
}

func TestOpenIntervalText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.txt")
	body := "chr1\t0\t5\t1\nchr1\t5\t10\t0\nchr2\t0\t3\ttrue\n"
	writeFile(t, path, body)

	m, e := Open(path, 36, map[string]int{"chr1": 10, "chr2": 3})
	if e != nil {
		t.Fatal(e)
	}
	if m.ReadLength != 36 {
		t.Errorf("ReadLength = %d, want 36", m.ReadLength)
	}
	chr1 := m.Get("chr1")
	for i := 0; i < 5; i++ {
		if !chr1.Get(i) {
			t.Errorf("chr1[%d] should be mappable", i)
		}
	}
	for i := 5; i < 10; i++ {
		if chr1.Get(i) {
			t.Errorf("chr1[%d] should not be mappable", i)
		}
	}
	chr2 := m.Get("chr2")
	for i := 0; i < 3; i++ {
		if !chr2.Get(i) {
			t.Errorf("chr2[%d] should be mappable", i)
		}
	}
}

func TestOpenIntervalTextUnknownChromIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.txt")
	writeFile(t, path, "chrUnknown\t0\t5\t1\n")

	m, e := Open(path, 36, map[string]int{"chr1": 10})
	if e != nil {
		t.Fatal(e)
	}
	if m.Get("chrUnknown") != nil {
		t.Errorf("unknown chromosome should not appear in the map")
	}
}

func TestWriteBinaryRoundTrips(t *testing.T) {
	m := &Map{ReadLength: 50, Chroms: map[string]*Bitmap{}}
	b1 := NewBitmap(20)
	b1.Set(3)
	b1.Set(19)
	m.Chroms["chr1"] = b1
	b2 := NewBitmap(5)
	b2.Set(0)
	m.Chroms["chr2"] = b2

	dir := t.TempDir()
	path := filepath.Join(dir, "map.bin")
	f := createFile(t, path)
	if e := WriteBinary(f, m, []string{"chr1", "chr2"}); e != nil {
		t.Fatal(e)
	}
	f.Close()

	got, e := Open(path, 50, nil)
	if e != nil {
		t.Fatal(e)
	}
	if got.ReadLength != 50 {
		t.Errorf("ReadLength = %d, want 50", got.ReadLength)
	}
	gc1 := got.Get("chr1")
	if gc1 == nil || gc1.Length != 20 || !gc1.Get(3) || !gc1.Get(19) || gc1.Get(4) {
		t.Errorf("chr1 bitmap mismatch: %+v", gc1)
	}
	gc2 := got.Get("chr2")
	if gc2 == nil || gc2.Length != 5 || !gc2.Get(0) {
		t.Errorf("chr2 bitmap mismatch: %+v", gc2)
	}
}

func TestOpenBinaryReadLengthMismatch(t *testing.T) {
	m := &Map{ReadLength: 50, Chroms: map[string]*Bitmap{"chr1": NewBitmap(4)}}
	dir := t.TempDir()
	path := filepath.Join(dir, "map.bin")
	f := createFile(t, path)
	if e := WriteBinary(f, m, []string{"chr1"}); e != nil {
		t.Fatal(e)
	}
	f.Close()

	if _, e := Open(path, 36, nil); e == nil {
		t.Errorf("expected a read-length mismatch error")
	}
}
