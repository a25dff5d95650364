package payout

// AggregateDistributionStatus derives a distribution status from its batches.
//
//   - no batches, or every batch COMPLETED: COMPLETED
//   - any batch IN_PROGRESS: IN_PROGRESS
//   - at least one COMPLETED or PARTIALLY_COMPLETED batch: PARTIALLY_COMPLETED
//   - only FAILED batches: FAILED once every holder is exhausted, otherwise
//     IN_PROGRESS while retries are pending
func AggregateDistributionStatus(batches []*BatchPayout, holdersByBatch map[string][]*Holder, ceiling int) DistributionStatus {
	if len(batches) == 0 {
		return DistributionStatusCompleted
	}

	var completed, partial, inProgress int
	for _, b := range batches {
		switch b.Status {
		case BatchPayoutStatusCompleted:
			completed++
		case BatchPayoutStatusPartiallyCompleted:
			partial++
		case BatchPayoutStatusInProgress:
			inProgress++
		}
	}

	switch {
	case inProgress > 0:
		return DistributionStatusInProgress
	case completed == len(batches):
		return DistributionStatusCompleted
	case completed > 0 || partial > 0:
		return DistributionStatusPartiallyCompleted
	}

	for _, b := range batches {
		for _, h := range holdersByBatch[b.ID] {
			if h.Retriable(ceiling) {
				return DistributionStatusInProgress
			}
		}
	}
	return DistributionStatusFailed
}
