// Package detector turns per-window counts of high-value transactions into
// alert decisions against an exponentially weighted baseline.
package detector

import "fmt"

// Window is an inclusive block range [Start, End].
type Window struct {
	Start uint64
	End   uint64
}

// WindowFor returns the window of size blocks ending at tip, clamped at genesis.
func WindowFor(tip, size uint64) Window {
	if size == 0 {
		size = 1
	}
	start := uint64(0)
	if tip+1 > size {
		start = tip - size + 1
	}
	return Window{Start: start, End: tip}
}

// Len is the number of blocks in the window.
func (w Window) Len() uint64 {
	return w.End - w.Start + 1
}

func (w Window) String() string {
	return fmt.Sprintf("[%d..%d]", w.Start, w.End)
}
