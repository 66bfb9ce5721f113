package runner

// Slice is the contiguous range of request identifiers one worker owns:
// [StartID, StartID+Count).
type Slice struct {
	Worker  int
	Count   uint64
	StartID uint64
}

// End returns the first identifier past the slice.
func (s Slice) End() uint64 {
	return s.StartID + s.Count
}

// Partition splits total tasks across workers. Every worker gets total/workers
// tasks and the first total%workers workers get one more, so the slices are
// contiguous, ascending and cover [0, total) exactly once. A worker count
// below one is treated as one.
func Partition(total uint64, workers int) []Slice {
	if workers < 1 {
		workers = 1
	}

	n := uint64(workers)
	base := total / n
	rem := total % n

	slices := make([]Slice, workers)
	for i := range slices {
		idx := uint64(i)
		count := base
		if idx < rem {
			count++
		}
		slices[i] = Slice{
			Worker:  i,
			Count:   count,
			StartID: idx*base + min(idx, rem),
		}
	}
	return slices
}
