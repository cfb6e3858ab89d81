// Package stats aggregates stored leads into the daily funnel counters.
package stats

import (
	"context"
	"time"

	"github.com/sells-group/funnel-sync/internal/funnel"
	"github.com/sells-group/funnel-sync/internal/window"
)

// Statistics are the funnel counters of one window. The *Regressed counters
// count leads that reached a milestone but whose current stage has since
// fallen back below the checkpoint of that milestone.
type Statistics struct {
	Total              int `json:"total"`
	Qualified          int `json:"qualified"`
	QualifiedRegressed int `json:"qualified_regressed"`
	Recorded           int `json:"recorded"`
	RecordedRegressed  int `json:"recorded_regressed"`
	Met                int `json:"met"`
	MetRegressed       int `json:"met_regressed"`
	Sold               int `json:"sold"`
}

// Checkpoints name the statuses of the reference pipeline that mark a
// milestone as passed.
type Checkpoints struct {
	Pipeline  int64
	Qualified string
	Met       string
}

// Source is the store surface the aggregator reads.
type Source interface {
	LeadsInWindow(ctx context.Context, from, to int64) ([]funnel.Lead, error)
	StageRanks(ctx context.Context) (funnel.Ranks, error)
	StageRankByName(ctx context.Context, pipelineID int64, name string) (int, error)
}

// Aggregator computes Statistics from the store.
type Aggregator struct {
	src Source
	cp  Checkpoints
}

// NewAggregator creates an Aggregator.
func NewAggregator(src Source, cp Checkpoints) *Aggregator {
	return &Aggregator{src: src, cp: cp}
}

// Compute counts the non-deleted leads created inside w.
func (a *Aggregator) Compute(ctx context.Context, w window.Window) (Statistics, error) {
	leads, err := a.src.LeadsInWindow(ctx, w.From, w.To)
	if err != nil {
		return Statistics{}, err
	}
	ranks, err := a.src.StageRanks(ctx)
	if err != nil {
		return Statistics{}, err
	}
	qualifiedRank, err := a.src.StageRankByName(ctx, a.cp.Pipeline, a.cp.Qualified)
	if err != nil {
		return Statistics{}, err
	}
	metRank, err := a.src.StageRankByName(ctx, a.cp.Pipeline, a.cp.Met)
	if err != nil {
		return Statistics{}, err
	}
	return Count(leads, ranks, qualifiedRank, metRank), nil
}

// Count aggregates leads. A lead on an unknown stage, or a checkpoint of
// UnknownRank, never counts as regressed.
func Count(leads []funnel.Lead, ranks funnel.Ranks, qualifiedRank, metRank int) Statistics {
	var s Statistics
	for _, l := range leads {
		if l.IsDeleted {
			continue
		}
		s.Total++
		rank := ranks.Rank(l.PipelineID, l.StatusID)
		if l.IsQualified {
			s.Qualified++
			if below(rank, qualifiedRank) {
				s.QualifiedRegressed++
			}
		}
		if l.IsRecorded {
			s.Recorded++
			if l.RecordedAt == nil {
				s.RecordedRegressed++
			}
		}
		if l.IsMet {
			s.Met++
			if below(rank, metRank) {
				s.MetRegressed++
			}
		}
		if l.IsSold {
			s.Sold++
		}
	}
	return s
}

func below(rank, checkpoint int) bool {
	return rank != funnel.UnknownRank && checkpoint != funnel.UnknownRank && rank < checkpoint
}

// RecordsPerDay buckets meeting times by local calendar day and returns the
// number of distinct days seen.
func RecordsPerDay(recordedAts []int64, loc *time.Location) (map[window.Day]int, int) {
	if loc == nil {
		loc = window.DefaultLocation
	}
	perDay := make(map[window.Day]int)
	for _, ts := range recordedAts {
		perDay[window.DayOf(time.Unix(ts, 0), loc)]++
	}
	return perDay, len(perDay)
}
