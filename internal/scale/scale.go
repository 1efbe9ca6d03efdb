// Package scale implements spec.md §4.G, the Scaler: turning the
// expected-count vector (component E) and observed-count vector
// (component F) into a per-k-mer scale factor, with the zero-handling
// rules and optional clipping spec.md specifies, plus the
// original_source/src/scale.rs `--no-scale` passthrough supplement.
package scale

// Options configures the optional clipping and pseudocount behavior
// spec.md §4.G leaves to the caller.
type Options struct {
	// Pseudocount floors observed[id] in the denominator so a k-mer
	// with nonzero expected and nonzero observed never divides by
	// zero from floating error alone. Spec default is 1.
	Pseudocount float64
	// Floor and Ceiling optionally clamp every nonzero scale value;
	// zero for either disables that bound.
	Floor, Ceiling float64
	// NoScale bypasses the computation entirely: Compute returns a
	// vector of all 1s, so the same downstream code path (component H)
	// emits raw pile-up counts unchanged. Mirrors main.rs's --no-scale.
	NoScale bool
}

// DefaultOptions matches spec.md §4.G's stated pseudocount of 1 and no
// clipping.
var DefaultOptions = Options{Pseudocount: 1}

// Compute returns scale[id] for every k-mer id, per spec.md §4.G:
//
//	scale[id] = (sum(observed)/sum(expected)) * (expected[id]/max(observed[id], pseudocount))
//
// with expected[id] == 0 or observed[id] == 0 (and expected[id] > 0)
// forced to zero, and clipping applied last.
func Compute(observed, expected []uint64, opts Options) []float64 {
	out := make([]float64, len(expected))
	if opts.NoScale {
		for i := range out {
			out[i] = 1
		}
		return out
	}

	var sumObserved, sumExpected float64
	for _, v := range observed {
		sumObserved += float64(v)
	}
	for _, v := range expected {
		sumExpected += float64(v)
	}

	if sumExpected == 0 {
		return out // every id has expected[id] == 0 too; all scales stay zero.
	}
	totalRatio := sumObserved / sumExpected

	pseudo := opts.Pseudocount
	if pseudo <= 0 {
		pseudo = 1
	}

	for id := range out {
		exp := float64(expected[id])
		if exp == 0 {
			continue // spec.md §4.G: no mappable occurrences, discard by zeroing.
		}
		obs := float64(0)
		if id < len(observed) {
			obs = float64(observed[id])
		}
		if obs == 0 {
			continue // spec.md §4.G: no correction possible, emit zero.
		}
		denom := obs
		if denom < pseudo {
			denom = pseudo
		}
		v := totalRatio * (exp / denom)
		out[id] = clip(v, opts.Floor, opts.Ceiling)
	}
	return out
}

func clip(v, floor, ceiling float64) float64 {
	if floor != 0 && v < floor {
		return floor
	}
	if ceiling != 0 && v > ceiling {
		return ceiling
	}
	return v
}
