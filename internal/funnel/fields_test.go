package funnel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageFromSort(t *testing.T) {
	s := StageFromSort(1, 10, "New", 20, false)
	assert.Equal(t, 20, s.Rank)
	assert.True(t, s.Storable())

	s = StageFromSort(2, 99, "Paid", 20, true)
	assert.Equal(t, 100020, s.Rank)

	s = StageFromSort(2, 100, "Hidden", UnknownRank, true)
	assert.Equal(t, UnknownRank, s.Rank, "unknown sort is never offset")
	assert.False(t, s.Storable())
}

func TestRanks_Lookup(t *testing.T) {
	r := NewRanks([]Stage{{PipelineID: 1, StatusID: 10, Rank: 5}})
	assert.Equal(t, 5, r.Rank(1, 10))
	assert.Equal(t, UnknownRank, r.Rank(1, 11))
	assert.Equal(t, UnknownRank, r.Rank(2, 10))
	assert.Equal(t, 1, r.Len())

	var zero Ranks
	assert.Equal(t, UnknownRank, zero.Rank(1, 10))
}

func TestFieldTable_NameNormalization(t *testing.T) {
	table, err := NewFieldTable([]FieldRule{{Name: "Meeting Time", Kind: "meeting_time"}})
	require.NoError(t, err)

	assert.Equal(t, FieldMeetingTime, table.Kind(RawField{Name: "  meeting time "}))
	assert.Equal(t, FieldMeetingTime, table.Kind(RawField{Name: "MEETING TIME"}))
	assert.Equal(t, FieldUnknown, table.Kind(RawField{Name: "Meeting"}))
}

func TestFieldTable_CyrillicDefaults(t *testing.T) {
	table, err := NewFieldTable(DefaultFieldRules)
	require.NoError(t, err)

	assert.Equal(t, FieldMeetingTime, table.Kind(RawField{Name: "время встречи"}))
	assert.Equal(t, FieldRejectReason, table.Kind(RawField{Name: "ЗНР причина"}))
}

func TestFieldTable_IDWinsOverName(t *testing.T) {
	table, err := NewFieldTable([]FieldRule{
		{ID: 7, Kind: "reject_reason"},
		{Name: "Meeting Time", Kind: "meeting_time"},
	})
	require.NoError(t, err)

	assert.Equal(t, FieldRejectReason, table.Kind(RawField{FieldID: 7, Name: "Meeting Time"}))
}

func TestNewFieldTable_Errors(t *testing.T) {
	_, err := NewFieldTable([]FieldRule{{Name: "x", Kind: "budget"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field kind")

	_, err = NewFieldTable([]FieldRule{{Kind: "meeting_time"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither id nor name")
}

func TestFieldText(t *testing.T) {
	tests := []struct {
		name   string
		values string
		want   string
	}{
		{"single", `[{"value": "No answer"}]`, "No answer"},
		{"joined", `[{"value": "a"}, {"value": ""}, {"value": null}, {"value": "b"}]`, "a, b"},
		{"number", `[{"value": 12}]`, "12"},
		{"bool", `[{"value": true}]`, "true"},
		{"empty list", `[]`, Unfilled},
		{"only blanks", `[{"value": ""}, {"value": null}]`, Unfilled},
		{"missing", ``, Unfilled},
		{"null", `null`, Unfilled},
		{"object", `{"value": "x"}`, Unfilled},
		{"nested", `[{"value": {"a": 1}}]`, Unfilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fieldText(RawField{Name: "f", Values: json.RawMessage(tt.values)})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEpochValue(t *testing.T) {
	v, ok := epochValue("1753100000")
	assert.True(t, ok)
	assert.Equal(t, int64(1753100000), v)

	v, ok = epochValue("1753100000.0")
	assert.True(t, ok)
	assert.Equal(t, int64(1753100000), v)

	_, ok = epochValue("soon")
	assert.False(t, ok)

	_, ok = epochValue("0")
	assert.False(t, ok)
}

func TestLoadRulesFile(t *testing.T) {
	content := `
fields:
  - id: 501
    kind: meeting_time
  - name: Reject reason
    kind: reject_reason
reject_reasons:
  qualification: ["Not qualified"]
  meeting: ["Not qualified", "Dropped"]
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rf, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Len(t, rf.Fields, 2)

	rules := Rules{
		QualificationRejects: DefaultQualificationRejects,
		MeetingRejects:       DefaultMeetingRejects,
	}
	require.NoError(t, rf.Apply(&rules))
	assert.Equal(t, []string{"Not qualified"}, rules.QualificationRejects)
	assert.Equal(t, []string{"Not qualified", "Dropped"}, rules.MeetingRejects)
	assert.Equal(t, FieldMeetingTime, rules.Fields.Kind(RawField{FieldID: 501}))
	assert.Equal(t, FieldRejectReason, rules.Fields.Kind(RawField{Name: "reject reason"}))
}

func TestLoadRulesFile_Missing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read rules")
}

func TestRulesFile_ApplyKeepsDefaults(t *testing.T) {
	rules := Rules{QualificationRejects: DefaultQualificationRejects}
	require.NoError(t, (&RulesFile{}).Apply(&rules))
	assert.Equal(t, DefaultQualificationRejects, rules.QualificationRejects)
}

func TestPipelineStages(t *testing.T) {
	stages := PipelineStages(9, []Status{
		{ID: 1, Name: "Incoming", Sort: 10},
		{ID: 2, Name: "Hidden", Sort: UnknownRank},
		{ID: 3, Name: "Won", Sort: 10000},
	}, true)

	assert.Equal(t, []Stage{
		{PipelineID: 9, StatusID: 1, Name: "Incoming", Rank: 100010},
		{PipelineID: 9, StatusID: 3, Name: "Won", Rank: 110000},
	}, stages)
}
