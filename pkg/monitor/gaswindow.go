package monitor

import (
	"math/big"
	"sort"
)

// gasWindow keeps the most recent gas price samples for one chain and judges
// short-term price stability. The window is only touched from the monitor's
// own goroutine, so it needs no locking.
type gasWindow struct {
	samples   []*big.Int
	size      int
	maxDevPct int64
}

func newGasWindow(size int, maxDevPct int64) *gasWindow {
	if size < 3 {
		size = 3
	}
	return &gasWindow{size: size, maxDevPct: maxDevPct}
}

func (w *gasWindow) observe(price *big.Int) {
	w.samples = append(w.samples, new(big.Int).Set(price))
	if len(w.samples) > w.size {
		w.samples = w.samples[1:]
	}
}

// stable reports whether the newest sample is within maxDevPct of the window
// median. With fewer than three samples there is nothing to compare against
// and the window counts as stable.
func (w *gasWindow) stable() bool {
	if len(w.samples) < 3 {
		return true
	}
	sorted := make([]*big.Int, len(w.samples))
	copy(sorted, w.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	median := sorted[len(sorted)/2]
	if median.Sign() == 0 {
		return true
	}

	latest := w.samples[len(w.samples)-1]
	diff := new(big.Int).Sub(latest, median)
	diff.Abs(diff)
	// deviation% = |latest - median| * 100 / median
	dev := diff.Mul(diff, big.NewInt(100))
	dev.Div(dev, median)
	return dev.Cmp(big.NewInt(w.maxDevPct)) <= 0
}
