// Command seqoutbias drives the k-mer enzymatic bias correction
// pipeline (internal/pipeline) from the command line through the
// tallymer / seqtable / dump / scale sub-commands of
// original_source/src/main.rs's surface, plus a "run" sub-command that
// runs every phase (the original's table sub-command has no
// counterpart here; -counts-out on scale/run writes that table), and the teacher's GetFlags-panics-on-missing-required
// idiom (pairviz.go's GetFlags) instead of a third-party CLI framework.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jgbaldwinbrown/seqoutbias/internal/bind"
	"github.com/jgbaldwinbrown/seqoutbias/internal/diag"
	"github.com/jgbaldwinbrown/seqoutbias/internal/mask"
	"github.com/jgbaldwinbrown/seqoutbias/internal/pipeline"
	"github.com/jgbaldwinbrown/seqoutbias/internal/scale"
	"github.com/jgbaldwinbrown/seqoutbias/internal/seqtable"
	"github.com/jgbaldwinbrown/seqoutbias/internal/signal"
)

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  seqoutbias tallymer -fasta <ref.fa> -read-size <n> -mappability <file>
  seqoutbias seqtable -fasta <ref.fa> -mask <mask> -read-size <n> -table <table-file> [-mappability <file>]
  seqoutbias dump -table <table-file> -chrom <name> -start <n> -end <n>
  seqoutbias scale -table <table-file> [options] <bam>...
  seqoutbias run -fasta <ref.fa> -mask <mask> -read-size <n> [options] <bam>...`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var e error
	switch os.Args[1] {
	case "tallymer":
		e = runTallymer(os.Args[2:])
	case "seqtable":
		e = runSeqtable(os.Args[2:])
	case "dump":
		e = runDump(os.Args[2:])
	case "scale":
		e = runPhased(os.Args[2:], pipeline.PhaseScale)
	case "run":
		e = runPhased(os.Args[2:], pipeline.PhaseAll)
	default:
		usage()
		os.Exit(2)
	}
	if e != nil {
		diag.Error("%v", e)
		os.Exit(1)
	}
}

// commonFlags are shared across every sub-command that touches a
// reference or a k-mer table, per original_source/src/main.rs's
// shared --kmer-mask/--read-size/--out surface.
type commonFlags struct {
	fasta        string
	maskStr      string
	readSize     int
	tablePath    string
	mappability  string
	regionsPath  string
	threads      int
	chromSizes   string
	converter    string
	signalOut    string
	bigWigOut    string
	countsOut    string
	stranded     bool
	shiftMinus   int
	noScale      bool
	pseudocount  float64
	floor, ceil  float64
	dupPolicy    string
	tailEdge     bool
	exactLength  bool
	requirePair  bool
	pairMin      int
	pairMax      int
	minMapQ      int
}

func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVar(&f.fasta, "fasta", "", "Reference FASTA (required for tallymer/seqtable/run).")
	fs.StringVar(&f.maskStr, "mask", "", "Kmer position mask, e.g. NNCNN (required for seqtable/run).")
	fs.IntVar(&f.readSize, "read-size", 36, "Read length.")
	fs.StringVar(&f.tablePath, "table", "", "Seqtable cache path.")
	fs.StringVar(&f.mappability, "mappability", "", "Mappability file (interval text or binary bitmap).")
	fs.StringVar(&f.regionsPath, "regions", "", "Restrict counting to this BED file.")
	fs.IntVar(&f.threads, "threads", 0, "Concurrency limit (0 = unlimited).")
	fs.StringVar(&f.chromSizes, "chrom-sizes", "", "chrom.sizes file for bigWig conversion / signal ordering.")
	fs.StringVar(&f.converter, "bw-converter", "", "External bedGraph-to-bigWig converter binary path.")
	fs.StringVar(&f.signalOut, "signal-out", "", "Fixed-step signal text output path.")
	fs.StringVar(&f.bigWigOut, "bw-out", "", "BigWig output path (requires -bw-converter and -chrom-sizes).")
	fs.StringVar(&f.countsOut, "counts-out", "", "Per-k-mer statistics TSV output path.")
	fs.BoolVar(&f.stranded, "stranded", false, "Emit separate plus/minus signal tracks.")
	fs.IntVar(&f.shiftMinus, "shift-counts", 0, "Shift minus-strand pile-up positions by this many bases.")
	fs.BoolVar(&f.noScale, "no-scale", false, "Emit raw (unscaled) counts.")
	fs.Float64Var(&f.pseudocount, "pseudocount", 1, "Scale factor pseudocount.")
	fs.Float64Var(&f.floor, "floor", 0, "Minimum scale factor (0 disables the floor).")
	fs.Float64Var(&f.ceil, "ceiling", 0, "Maximum scale factor (0 disables the ceiling).")
	fs.StringVar(&f.dupPolicy, "dup-policy", "honor", "Duplicate handling: honor, collapse, or all.")
	fs.BoolVar(&f.tailEdge, "tail-edge", false, "Bind the read's 3' end instead of its 5'.")
	fs.BoolVar(&f.exactLength, "exact-length", false, "Require reads to match -read-size exactly.")
	fs.BoolVar(&f.requirePair, "only-paired", false, "Require a concordant mapped pair.")
	fs.IntVar(&f.pairMin, "pdist-min", 0, "Minimum paired template length.")
	fs.IntVar(&f.pairMax, "pdist-max", 0, "Maximum paired template length (0 = unbounded).")
	fs.IntVar(&f.minMapQ, "qual", 0, "Minimum read mapping quality (original's --qual).")
}

func (f *commonFlags) policy() bind.Policy {
	p := bind.DefaultPolicy
	switch f.dupPolicy {
	case "collapse":
		p.Duplicate = bind.DupCollapse
	case "all":
		p.Duplicate = bind.DupAll
	default:
		p.Duplicate = bind.DupHonor
	}
	if f.tailEdge {
		p.Edge = bind.EdgeTail
	}
	p.ExactLength = f.exactLength
	p.RequirePaired = f.requirePair
	p.PairMin, p.PairMax = f.pairMin, f.pairMax
	p.MinMapQ = f.minMapQ
	return p
}

func (f *commonFlags) scaleOpts() scale.Options {
	return scale.Options{
		Pseudocount: f.pseudocount,
		Floor:       f.floor,
		Ceiling:     f.ceil,
		NoScale:     f.noScale,
	}
}

func (f *commonFlags) signalOpts() signal.Options {
	return signal.Options{Stranded: f.stranded, ShiftMinus: f.shiftMinus}
}

func runTallymer(args []string) error {
	fs := flag.NewFlagSet("tallymer", flag.ExitOnError)
	var f commonFlags
	addCommonFlags(fs, &f)
	fs.Parse(args)
	if f.fasta == "" {
		panic(fmt.Errorf("tallymer: -fasta is required"))
	}

	d := pipeline.NewDriver(nil)
	_, e := d.Run(context.Background(), pipeline.Plan{
		Phases:          pipeline.PhaseTallymer,
		RefPath:         f.fasta,
		MappabilityPath: f.mappability,
		ReadLength:      f.readSize,
		Threads:         f.threads,
	})
	return e
}

func runSeqtable(args []string) error {
	fs := flag.NewFlagSet("seqtable", flag.ExitOnError)
	var f commonFlags
	addCommonFlags(fs, &f)
	fs.Parse(args)
	if f.fasta == "" || f.maskStr == "" {
		panic(fmt.Errorf("seqtable: -fasta and -mask are required"))
	}

	m, e := mask.Parse(f.maskStr)
	if e != nil {
		return e
	}

	d := pipeline.NewDriver(nil)
	_, e = d.Run(context.Background(), pipeline.Plan{
		Phases:          pipeline.PhaseTallymer | pipeline.PhaseSeqtable,
		RefPath:         f.fasta,
		MappabilityPath: f.mappability,
		Mask:            m,
		ReadLength:      f.readSize,
		SeqTablePath:    f.tablePath,
		Threads:         f.threads,
	})
	return e
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	var tablePath, chrom string
	var start, end int
	fs.StringVar(&tablePath, "table", "", "Seqtable cache path (required).")
	fs.StringVar(&chrom, "chrom", "", "Chromosome name (required).")
	fs.IntVar(&start, "start", 0, "Range start.")
	fs.IntVar(&end, "end", 0, "Range end.")
	fs.Parse(args)
	if tablePath == "" || chrom == "" {
		panic(fmt.Errorf("dump: -table and -chrom are required"))
	}

	t, e := seqtable.ReadFileAny(tablePath)
	if e != nil {
		return e
	}
	return seqtable.DumpRange(os.Stdout, t, chrom, start, end)
}

// runPhased drives both the "scale" sub-command (PhaseScale alone,
// operating purely off an existing -table file, no FASTA needed — see
// original_source/src/main.rs's cmd_scale) and the "run" sub-command
// (PhaseAll). phases is used exactly as given: unlike an earlier
// revision, it is never OR'd with PhaseTallymer/PhaseSeqtable, since
// doing so made "scale" indistinguishable from "run" and forced a
// FASTA even when only a cached table was needed.
func runPhased(args []string, phases pipeline.Phases) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var f commonFlags
	addCommonFlags(fs, &f)
	fs.Parse(args)
	bamPaths := fs.Args()

	if phases&pipeline.PhaseSeqtable != 0 && (f.fasta == "" || f.maskStr == "") {
		panic(fmt.Errorf("%s: -fasta and -mask are required", fs.Name()))
	}
	if phases&pipeline.PhaseSeqtable == 0 && f.tablePath == "" {
		panic(fmt.Errorf("%s: -table is required", fs.Name()))
	}
	if len(bamPaths) == 0 {
		panic(fmt.Errorf("%s: at least one BAM file is required", fs.Name()))
	}

	var m mask.Mask
	var e error
	if f.maskStr != "" {
		m, e = mask.Parse(f.maskStr)
		if e != nil {
			return e
		}
	}

	d := pipeline.NewDriver(nil)
	_, e = d.Run(context.Background(), pipeline.Plan{
		Phases:          phases,
		RefPath:         f.fasta,
		MappabilityPath: f.mappability,
		Mask:            m,
		ReadLength:      f.readSize,
		SeqTablePath:    f.tablePath,
		BAMPaths:        bamPaths,
		Policy:          f.policy(),
		ScaleOpts:       f.scaleOpts(),
		SignalOpts:      f.signalOpts(),
		RegionsPath:     f.regionsPath,
		Threads:         f.threads,
		ConverterPath:   f.converter,
		ChromSizesPath:  f.chromSizes,
		SignalOutPath:   f.signalOut,
		BigWigOutPath:   f.bigWigOut,
		CountsOutPath:   f.countsOut,
	})
	return e
}
