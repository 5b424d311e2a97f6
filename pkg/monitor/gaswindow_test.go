package monitor

import (
	"math/big"
	"testing"
)

func observeAll(w *gasWindow, prices ...int64) {
	for _, p := range prices {
		w.observe(big.NewInt(p))
	}
}

func TestGasWindow_StableWithFewSamples(t *testing.T) {
	w := newGasWindow(8, 50)
	observeAll(w, 100, 5000)
	if !w.stable() {
		t.Error("window with fewer than three samples should count as stable")
	}
}

func TestGasWindow_StableWithinDeviation(t *testing.T) {
	w := newGasWindow(8, 50)
	observeAll(w, 100, 100, 110, 120)
	if !w.stable() {
		t.Error("20% deviation from median should be stable at a 50% bound")
	}
}

func TestGasWindow_UnstableBeyondDeviation(t *testing.T) {
	w := newGasWindow(8, 50)
	observeAll(w, 100, 100, 100, 200)
	if w.stable() {
		t.Error("100% deviation from median should be unstable at a 50% bound")
	}
}

func TestGasWindow_RecoversAsSpikeAgesOut(t *testing.T) {
	w := newGasWindow(3, 50)
	observeAll(w, 100, 100, 300)
	if w.stable() {
		t.Fatal("spike should be unstable")
	}
	observeAll(w, 290, 300)
	if !w.stable() {
		t.Error("window should settle around the new price level")
	}
}

func TestGasWindow_HugeSpikeIsUnstable(t *testing.T) {
	w := newGasWindow(3, 50)
	w.observe(big.NewInt(100))
	w.observe(big.NewInt(100))
	// deviation% overflows int64; the comparison must stay in big-int space
	spike := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	w.observe(spike)
	if w.stable() {
		t.Error("deviation beyond int64 range must still be unstable")
	}
}

func TestGasWindow_ZeroMedian(t *testing.T) {
	w := newGasWindow(3, 50)
	observeAll(w, 0, 0, 0)
	if !w.stable() {
		t.Error("all-zero window must not divide by zero")
	}
}
