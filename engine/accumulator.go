package engine

// Accumulator keeps the running sum of one frame pass.
type Accumulator struct {
	sum   uint64
	count uint32
}

func (a *Accumulator) Reset() {
	a.sum = 0
	a.count = 0
}

func (a *Accumulator) Accumulate(v uint8) {
	a.sum += uint64(v)
	a.count++
}

func (a *Accumulator) Count() uint32 {
	return a.count
}

// Mean returns sum/count with integer division, or 0 before any pixel was accumulated.
func (a *Accumulator) Mean() uint32 {
	if a.count == 0 {
		return 0
	}
	return uint32(a.sum / uint64(a.count))
}
