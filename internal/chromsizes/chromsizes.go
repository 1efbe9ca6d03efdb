// Package chromsizes reads the UCSC-style two-column chrom\tsize files
// the external bigWig converter (internal/signal.Convert) expects as
// its chrom.sizes argument, and that internal/pipeline can also use to
// fix an emission chromosome order independent of a reference's own
// FASTA order.
//
// Field splitting is done with github.com/jgbaldwinbrown/lscan, the
// same ByByte('\t')-over-a-reused-buffer idiom
// go_downsample/pkg/count.go's IsUnique and go_intersect/pkg/intersect.go
// use for their own simple tab-separated line scans, rather than
// encoding/csv, since this format has no quoting to speak of.
package chromsizes

import (
	"bufio"
	"io"
	"strconv"

	lscan "github.com/jgbaldwinbrown/lscan/pkg"
	"github.com/jgbaldwinbrown/seqoutbias/internal/bioerr"
	"github.com/jgbaldwinbrown/seqoutbias/internal/ioutilx"
)

var tabSplit = lscan.ByByte('\t')

// Load reads a (possibly gzip-compressed) chrom.sizes file at path,
// returning chromosome names in file order and a name-to-length map.
func Load(path string) (order []string, sizes map[string]int, err error) {
	h := bioerr.Handle("chromsizes.Load", bioerr.ErrIO)

	r, e := ioutilx.OpenMaybeGz(path)
	if e != nil {
		return nil, nil, h(e)
	}
	defer r.Close()

	order, sizes, e = LoadReader(r)
	if e != nil {
		return nil, nil, h(e)
	}
	return order, sizes, nil
}

// LoadReader is Load over an already-open reader, used by tests.
func LoadReader(r io.Reader) ([]string, map[string]int, error) {
	sizes := map[string]int{}
	var order []string

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var linebuf []string
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		linebuf = lscan.SplitByFunc(linebuf, line, tabSplit)
		if len(linebuf) < 2 {
			continue
		}
		n, e := strconv.Atoi(linebuf[1])
		if e != nil {
			return nil, nil, e
		}
		name := linebuf[0]
		if _, seen := sizes[name]; !seen {
			order = append(order, name)
		}
		sizes[name] = n
	}
	if e := s.Err(); e != nil {
		return nil, nil, e
	}
	return order, sizes, nil
}
