package collector

import "fmt"

// BlockRange represents an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits a block range into batches of size batchSize.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}

// PlanRange picks the next block window of a query. When some blocks are
// already covered (stored rows or a scan checkpoint) the window resumes at the
// block after covered; otherwise it starts at fromBlock, or covers the most
// recent span blocks when fromBlock is zero. The window is clamped to latest;
// ok is false when there is nothing new to fetch.
func PlanRange(covered *uint64, fromBlock, span, latest uint64) (BlockRange, bool) {
	if span == 0 {
		span = 1
	}

	var start uint64
	switch {
	case covered != nil:
		start = *covered + 1
		if fromBlock > start {
			start = fromBlock
		}
	case fromBlock > 0:
		start = fromBlock
	case latest+1 > span:
		start = latest + 1 - span
	}

	if start > latest {
		return BlockRange{}, false
	}
	end := start + span - 1
	if end > latest || end < start {
		end = latest
	}
	return BlockRange{From: start, To: end}, true
}
