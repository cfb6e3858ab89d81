package funnel

import "slices"

// Rank thresholds of the funnel taxonomy.
const (
	// QualifiedRank is the rank a lead must exceed to count as qualified.
	QualifiedRank = 31
	// ReviewRank is the rank of the review stage, which counts as qualified
	// only when the lead was not rejected at qualification.
	ReviewRank = 11000
)

// Default reject reasons. QualificationRejects excludes a lead in review from
// the qualified milestone; MeetingRejects excludes it from the met milestone.
var (
	DefaultQualificationRejects = []string{"Did not pass qualification", "No answer"}
	DefaultMeetingRejects       = []string{"Did not pass qualification", "No answer", "Booked but dropped"}
)

// Rules carries the installation-specific parameters of classification.
type Rules struct {
	CommonPipeline  int64
	SuccessPipeline int64
	DecisionStatus  int64

	QualificationRejects []string
	MeetingRejects       []string

	Fields FieldTable
}

// RawLead is a lead as fetched from the CRM.
type RawLead struct {
	ID           int64      `json:"id"`
	PipelineID   int64      `json:"pipeline_id"`
	StatusID     int64      `json:"status_id"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
	CustomFields []RawField `json:"custom_fields_values"`
}

// Classify computes the milestones a freshly fetched lead has reached. It is a
// pure function of its inputs; malformed custom fields are logged and treated
// as unfilled.
func Classify(raw RawLead, ranks Ranks, rules Rules) Lead {
	lead := Lead{
		ID:         raw.ID,
		PipelineID: raw.PipelineID,
		StatusID:   raw.StatusID,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}

	var rejectReason string
	for _, f := range raw.CustomFields {
		switch rules.Fields.Kind(f) {
		case FieldMeetingTime:
			// A present field counts as booked; an unreadable one reads as
			// Unfilled and leaves RecordedAt nil.
			lead.IsRecorded = true
			values, err := decodeValues(f)
			if err != nil {
				logMalformed(f, err)
				continue
			}
			if ts, ok := epochValue(values[0]); ok {
				lead.RecordedAt = &ts
			}
		case FieldRejectReason:
			rejectReason = fieldText(f)
		}
	}

	rank := ranks.Rank(raw.PipelineID, raw.StatusID)

	if (rank > QualifiedRank && rank != ReviewRank) ||
		(rank == ReviewRank && !slices.Contains(rules.QualificationRejects, rejectReason)) {
		lead.IsQualified = true
	}

	decisionRank := ranks.Rank(rules.CommonPipeline, rules.DecisionStatus)
	if raw.StatusID == rules.DecisionStatus ||
		(rank >= decisionRank && !slices.Contains(rules.MeetingRejects, rejectReason)) {
		lead.IsMet = true
	}

	if rank > SuccessRankOffset {
		lead.IsSold = true
	}

	lead.enforceOrder()
	return lead
}
