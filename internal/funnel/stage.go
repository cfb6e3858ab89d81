// Package funnel classifies CRM leads against the sales-funnel taxonomy and
// merges repeated observations of the same lead.
package funnel

// UnknownRank is returned for (pipeline, status) pairs with no stored stage.
const UnknownRank = -1

// SuccessRankOffset is added to every rank of the success pipeline so its
// statuses outrank any status of an ordinary pipeline.
const SuccessRankOffset = 100000

// Stage is one status of a CRM pipeline with its ordinal rank.
type Stage struct {
	PipelineID int64  `json:"pipeline_id"`
	StatusID   int64  `json:"status_id"`
	Name       string `json:"name"`
	Rank       int    `json:"rank"`
}

// StageFromSort builds a Stage from the CRM sort value of a status. Statuses of
// a high-priority (success) pipeline are shifted by SuccessRankOffset. A sort of
// UnknownRank is kept as is and such stages are never stored.
func StageFromSort(pipelineID, statusID int64, name string, sort int, highPriority bool) Stage {
	rank := sort
	if highPriority && sort != UnknownRank {
		rank = sort + SuccessRankOffset
	}
	return Stage{
		PipelineID: pipelineID,
		StatusID:   statusID,
		Name:       name,
		Rank:       rank,
	}
}

// Storable reports whether the stage carries a usable rank.
func (s Stage) Storable() bool {
	return s.Rank != UnknownRank
}

type stageKey struct {
	pipeline int64
	status   int64
}

// Ranks is an immutable (pipeline, status) → rank table. The zero value is an
// empty table in which every lookup yields UnknownRank.
type Ranks struct {
	m map[stageKey]int
}

// NewRanks builds a rank table. When two stages share a (pipeline, status)
// pair the last one wins.
func NewRanks(stages []Stage) Ranks {
	m := make(map[stageKey]int, len(stages))
	for _, s := range stages {
		m[stageKey{s.PipelineID, s.StatusID}] = s.Rank
	}
	return Ranks{m: m}
}

// Rank returns the rank of the status inside the pipeline, or UnknownRank.
func (r Ranks) Rank(pipelineID, statusID int64) int {
	if rank, ok := r.m[stageKey{pipelineID, statusID}]; ok {
		return rank
	}
	return UnknownRank
}

// Len returns the number of stages in the table.
func (r Ranks) Len() int {
	return len(r.m)
}

// Status is a pipeline status as listed by the CRM, before ranking.
type Status struct {
	ID   int64
	Name string
	Sort int
}

// PipelineStages ranks the statuses of one pipeline and drops those that
// cannot be stored.
func PipelineStages(pipelineID int64, statuses []Status, highPriority bool) []Stage {
	out := make([]Stage, 0, len(statuses))
	for _, st := range statuses {
		s := StageFromSort(pipelineID, st.ID, st.Name, st.Sort, highPriority)
		if s.Storable() {
			out = append(out, s)
		}
	}
	return out
}
