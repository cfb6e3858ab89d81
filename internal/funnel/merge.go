package funnel

// Merge folds a new observation of a lead into the stored one and returns the
// lead to persist. Milestones only ever move forward, and so does the current
// stage: it is replaced only by a strictly higher-ranked one. A lead counts as
// deleted only while both observations say so.
//
// RecordedAt is taken from incoming unconditionally, even when that clears a
// previously known meeting time.
func Merge(existing, incoming Lead, ranks Ranks) Lead {
	merged := existing

	merged.IsQualified = existing.IsQualified || incoming.IsQualified
	merged.IsRecorded = existing.IsRecorded || incoming.IsRecorded
	merged.IsMet = existing.IsMet || incoming.IsMet
	merged.IsSold = existing.IsSold || incoming.IsSold
	merged.enforceOrder()

	merged.IsDeleted = existing.IsDeleted && incoming.IsDeleted
	merged.RecordedAt = incoming.RecordedAt

	if ranks.Rank(incoming.PipelineID, incoming.StatusID) > ranks.Rank(existing.PipelineID, existing.StatusID) {
		merged.PipelineID = incoming.PipelineID
		merged.StatusID = incoming.StatusID
	}
	if incoming.UpdatedAt > merged.UpdatedAt {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	return merged
}
