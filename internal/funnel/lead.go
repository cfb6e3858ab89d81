package funnel

import "fmt"

// Lead is one CRM deal as stored locally, with the funnel milestones it has
// reached so far.
type Lead struct {
	ID         int64  `json:"id"`
	PipelineID int64  `json:"pipeline_id"`
	StatusID   int64  `json:"status_id"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	RecordedAt *int64 `json:"recorded_at,omitempty"`

	IsQualified bool `json:"is_qualified"`
	IsRecorded  bool `json:"is_recorded"`
	IsMet       bool `json:"is_met"`
	IsSold      bool `json:"is_sold"`
	IsDeleted   bool `json:"is_deleted"`
}

// Milestones holds the four funnel flags in order.
type Milestones struct {
	Qualified bool `json:"qualified"`
	Recorded  bool `json:"recorded"`
	Met       bool `json:"met"`
	Sold      bool `json:"sold"`
}

// Milestones returns the lead's funnel flags.
func (l Lead) Milestones() Milestones {
	return Milestones{
		Qualified: l.IsQualified,
		Recorded:  l.IsRecorded,
		Met:       l.IsMet,
		Sold:      l.IsSold,
	}
}

// Consistent reports whether sold ⇒ met ⇒ recorded ⇒ qualified holds.
func (l Lead) Consistent() bool {
	return (!l.IsSold || l.IsMet) &&
		(!l.IsMet || l.IsRecorded) &&
		(!l.IsRecorded || l.IsQualified)
}

// enforceOrder propagates downstream milestones to every upstream one.
func (l *Lead) enforceOrder() {
	if l.IsSold {
		l.IsMet = true
	}
	if l.IsMet {
		l.IsRecorded = true
	}
	if l.IsRecorded {
		l.IsQualified = true
	}
}

func (l Lead) String() string {
	return fmt.Sprintf("id: %d; pipeline: %d; status: %d", l.ID, l.PipelineID, l.StatusID)
}
