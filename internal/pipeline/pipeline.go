// Package pipeline implements spec.md §4.J, the Pipeline Driver:
// wiring components B/C/E/F/G/H into one run, managing the
// seqtable artifact cache, and exposing the original tool's
// tallymer/seqtable/scale sub-phases (SPEC_FULL.md §3) as an
// in-process bitmask so cmd/seqoutbias can offer the same phased
// entry points without the core depending on a CLI framework.
//
// Multi-BAM batch mode and its concurrency follow
// register/pkg/multi_and_plot.go's RegisterMulti/Job shape: a stream
// of JSON job objects decoded with encoding/json, run with
// errgroup.WithContext + SetLimit.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jgbaldwinbrown/seqoutbias/internal/bind"
	"github.com/jgbaldwinbrown/seqoutbias/internal/chromsizes"
	"github.com/jgbaldwinbrown/seqoutbias/internal/counts"
	"github.com/jgbaldwinbrown/seqoutbias/internal/diag"
	"github.com/jgbaldwinbrown/seqoutbias/internal/fastaref"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mappability"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mask"
	"github.com/jgbaldwinbrown/seqoutbias/internal/regions"
	"github.com/jgbaldwinbrown/seqoutbias/internal/scale"
	"github.com/jgbaldwinbrown/seqoutbias/internal/seqtable"
	"github.com/jgbaldwinbrown/seqoutbias/internal/signal"
	"golang.org/x/sync/errgroup"
)

// Phases selects which of the original tool's independent sub-phases
// to run (SPEC_FULL.md §3's "tallymer/seqtable/scale/table/dump
// sub-phases" supplement).
type Phases int

const (
	// PhaseTallymer loads the mappability map (component C) from
	// MappabilityPath; it does not build one.
	PhaseTallymer Phases = 1 << iota
	// PhaseSeqtable builds or loads the k-mer position table (E/I).
	PhaseSeqtable
	// PhaseScale binds reads, computes scale factors and emits signal
	// (F/G/H).
	PhaseScale
)

// PhaseAll runs every phase, the default single-invocation behavior.
const PhaseAll = PhaseTallymer | PhaseSeqtable | PhaseScale

// ToolVersion is embedded in the seqtable fingerprint (spec.md §4.E)
// so a binary upgrade invalidates cached tables built by an older one.
const ToolVersion = "seqoutbias-go/1"

// Plan describes one end-to-end run.
type Plan struct {
	Phases Phases

	RefPath          string
	MappabilityPath  string // empty: treat every position as mappable
	Mask             mask.Mask
	ReadLength       int
	SeqTablePath     string // cache location; empty disables the cache
	BAMPaths         []string
	Policy           bind.Policy
	ScaleOpts        scale.Options
	SignalOpts       signal.Options
	RegionsPath      string // empty disables region restriction
	Threads          int    // chromosome/job concurrency; <=0 means unlimited
	ScratchDir       string // created by Run if set; Run writes no file into it
	ConverterPath    string // external bigWig converter, empty skips conversion
	ChromSizesPath   string
	SignalOutPath    string
	BigWigOutPath    string
	CountsOutPath    string
}

// Result carries the artifacts a Run produced, for a caller that wants
// them in memory rather than re-reading the files Run wrote.
type Result struct {
	Mappability *mappability.Map
	Table       *seqtable.Table
	Bound       *bind.Result
	Scale       []float64
	Rows        []counts.Row
}

// Driver runs a Plan. It creates Plan.ScratchDir when one is set but
// places no intermediate artifact there; outputs go to the paths the
// Plan names.
type Driver struct {
	Log *diag.Logger
}

func NewDriver(log *diag.Logger) *Driver {
	if log == nil {
		log = diag.Default
	}
	return &Driver{Log: log}
}

// Run executes p's selected phases in order, returning whatever
// components were built along the way.
func (d *Driver) Run(ctx context.Context, p Plan) (*Result, error) {
	if p.ScratchDir != "" {
		if e := os.MkdirAll(p.ScratchDir, 0755); e != nil {
			return nil, fmt.Errorf("pipeline.Run: creating scratch dir: %w", e)
		}
	}

	res := &Result{}

	if p.Phases&PhaseTallymer != 0 {
		d.Log.Progress("tallymer: loading mappability")
		m, e := d.tallymer(p)
		if e != nil {
			return res, e
		}
		res.Mappability = m
	}

	if p.Phases&PhaseSeqtable != 0 {
		d.Log.Progress("seqtable: building or loading k-mer position table")
		t, e := d.seqtablePhase(p, res.Mappability)
		if e != nil {
			return res, e
		}
		res.Table = t
	}

	if p.Phases&PhaseScale != 0 {
		if res.Table == nil && p.SeqTablePath != "" {
			// PhaseSeqtable wasn't requested (e.g. the scale sub-command,
			// which mirrors original_source/src/main.rs's cmd_scale:
			// operates purely off an existing .tbl file, no FASTA needed).
			t, e := seqtable.ReadFileAny(p.SeqTablePath)
			if e != nil {
				return res, e
			}
			res.Table = t
		}
		if res.Table == nil {
			return res, fmt.Errorf("pipeline.Run: scale phase requires a seqtable (run PhaseSeqtable first, or set SeqTablePath to a cached table)")
		}
		d.Log.Progress("scale: binding %d BAM file(s)", len(p.BAMPaths))
		bound, e := d.bindAll(ctx, p, res.Table)
		if e != nil {
			return res, e
		}
		res.Bound = bound

		observed, expected := bound.Observed, res.Table.Expected
		if p.RegionsPath != "" {
			set, e := regions.Load(p.RegionsPath)
			if e != nil {
				return res, e
			}
			observed, expected = counts.RestrictToRegions(res.Table, bound, set)
		}

		sc := scale.Compute(observed, expected, p.ScaleOpts)
		res.Scale = sc
		res.Rows = counts.Tabulate(res.Table.Mask, observed, expected, sc)

		if p.CountsOutPath != "" {
			if e := writeFile(p.CountsOutPath, func(w io.Writer) error {
				return counts.WriteTSV(w, res.Rows)
			}); e != nil {
				return res, e
			}
		}

		if p.SignalOutPath != "" {
			opts := p.SignalOpts
			opts.Scale = sc
			if opts.ChromOrder == nil {
				opts.ChromOrder = d.resolveChromOrder(p, res.Table)
			}
			if e := writeFile(p.SignalOutPath, func(w io.Writer) error {
				return signal.Emit(w, res.Table, bound, opts)
			}); e != nil {
				return res, e
			}

			if p.ConverterPath != "" && p.BigWigOutPath != "" {
				d.Log.Progress("converting signal text to %s", p.BigWigOutPath)
				if e := signal.Convert(ctx, p.ConverterPath, p.SignalOutPath, p.ChromSizesPath, p.BigWigOutPath); e != nil {
					return res, fmt.Errorf("pipeline.Run: signal conversion: %w", e)
				}
			}
		}
	}

	return res, nil
}

func (d *Driver) tallymer(p Plan) (*mappability.Map, error) {
	if p.MappabilityPath == "" {
		return nil, nil // every position treated as mappable, per internal/mappability's convention
	}
	names, e := fastaref.Names(p.RefPath)
	if e != nil {
		return nil, e
	}
	lengths := make(map[string]int, len(names))
	for _, c := range names {
		lengths[c.Name] = c.Length
	}
	return mappability.Open(p.MappabilityPath, p.ReadLength, lengths)
}

func (d *Driver) seqtablePhase(p Plan, mapp *mappability.Map) (*seqtable.Table, error) {
	fp, e := seqtable.ComputeFingerprint(p.RefPath, p.MappabilityPath, p.Mask, p.ReadLength, ToolVersion)
	if e != nil {
		return nil, e
	}

	if p.SeqTablePath != "" {
		if t, e := seqtable.ReadFile(p.SeqTablePath, fp); e == nil {
			d.Log.Progress("seqtable: reused cached table at %s", p.SeqTablePath)
			return t, nil
		}
		// A missing file or a fingerprint mismatch both fall through to
		// a rebuild; spec.md §4.E treats a mismatch as "rebuild", not fatal.
	}

	t, e := seqtable.BuildConcurrent(p.RefPath, p.Mask, p.ReadLength, mapp, fp, d.Log, p.Threads)
	if e != nil {
		return nil, e
	}

	if p.SeqTablePath != "" {
		if e := seqtable.WriteFile(p.SeqTablePath, t); e != nil {
			return nil, e
		}
	}
	return t, nil
}

// bindAll binds every configured BAM file against table, merging their
// pile-ups, with one file bound per goroutine up to p.Threads at a
// time (register/pkg/multi_and_plot.go's RegisterMulti idiom).
func (d *Driver) bindAll(ctx context.Context, p Plan, table *seqtable.Table) (*bind.Result, error) {
	if len(p.BAMPaths) == 0 {
		return nil, fmt.Errorf("pipeline.bindAll: no BAM files configured")
	}

	results := make([]*bind.Result, len(p.BAMPaths))
	g, _ := errgroup.WithContext(ctx)
	if p.Threads > 0 {
		g.SetLimit(p.Threads)
	}
	for i, path := range p.BAMPaths {
		i, path := i, path
		g.Go(func() error {
			binder := bind.NewBinder(table, p.Policy)
			r, e := binder.BindFile(path)
			if e != nil {
				return fmt.Errorf("binding %s: %w", path, e)
			}
			results[i] = r
			return nil
		})
	}
	if e := g.Wait(); e != nil {
		return nil, e
	}

	merged := results[0]
	for _, r := range results[1:] {
		merged.Merge(r)
	}
	return merged, nil
}

func chromOrder(t *seqtable.Table) []string {
	out := make([]string, len(t.Chroms))
	for i, c := range t.Chroms {
		out[i] = c.Name
	}
	return out
}

// resolveChromOrder prefers a configured chrom.sizes file's declared
// order (the order the external bigWig converter will itself expect)
// over the reference FASTA's order, falling back to the table's own
// order when no chrom.sizes path is configured or it fails to parse.
func (d *Driver) resolveChromOrder(p Plan, t *seqtable.Table) []string {
	if p.ChromSizesPath == "" {
		return chromOrder(t)
	}
	order, _, e := chromsizes.Load(p.ChromSizesPath)
	if e != nil {
		d.Log.Warn("chromsizes: %v, falling back to reference order", e)
		return chromOrder(t)
	}
	return order
}

func writeFile(path string, fn func(io.Writer) error) error {
	if e := os.MkdirAll(filepath.Dir(path), 0755); e != nil {
		return e
	}
	f, e := os.Create(path)
	if e != nil {
		return e
	}
	defer f.Close()
	return fn(f)
}

// Job is one entry in a multi-BAM batch, one JSON object per job,
// mirroring register/pkg/multi_and_plot.go's FullRegisterMulti.
type Job struct {
	BAMPath       string `json:"bam_path"`
	SignalOutPath string `json:"signal_out_path"`
	CountsOutPath string `json:"counts_out_path"`
}

// RunBatch decodes a stream of concatenated JSON Job objects (not a
// JSON array) from r, running the shared Plan
// once per job (substituting BAMPaths/SignalOutPath/CountsOutPath),
// up to threads at a time.
func RunBatch(ctx context.Context, d *Driver, base Plan, r io.Reader, threads int) error {
	dec := json.NewDecoder(r)
	var jobs []Job
	for {
		var j Job
		e := dec.Decode(&j)
		if e == io.EOF {
			break
		}
		if e != nil {
			return fmt.Errorf("pipeline.RunBatch: decoding job list: %w", e)
		}
		jobs = append(jobs, j)
	}

	g, ctx2 := errgroup.WithContext(ctx)
	if threads > 0 {
		g.SetLimit(threads)
	}
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			p := base
			p.BAMPaths = []string{j.BAMPath}
			p.SignalOutPath = j.SignalOutPath
			p.CountsOutPath = j.CountsOutPath
			_, e := d.Run(ctx2, p)
			return e
		})
	}
	return g.Wait()
}
