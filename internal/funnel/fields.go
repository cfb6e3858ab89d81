package funnel

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Unfilled replaces the value of a custom field that could not be read.
const Unfilled = "not filled"

// FieldKind identifies the custom fields the classifier understands.
type FieldKind int

const (
	FieldUnknown FieldKind = iota
	// FieldMeetingTime holds the booked meeting time.
	FieldMeetingTime
	// FieldRejectReason holds the free-text reason a lead was rejected.
	FieldRejectReason
)

func (k FieldKind) String() string {
	switch k {
	case FieldMeetingTime:
		return "meeting_time"
	case FieldRejectReason:
		return "reject_reason"
	default:
		return "unknown"
	}
}

// ParseFieldKind converts a configuration name into a FieldKind.
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "meeting_time":
		return FieldMeetingTime, nil
	case "reject_reason":
		return FieldRejectReason, nil
	default:
		return FieldUnknown, eris.Errorf("funnel: unknown field kind %q", s)
	}
}

// RawField is a custom field value list as delivered by the CRM. Values is
// kept undecoded so that a malformed field degrades instead of failing the
// whole lead.
type RawField struct {
	FieldID int64           `json:"field_id"`
	Name    string          `json:"field_name"`
	Code    string          `json:"field_code"`
	Values  json.RawMessage `json:"values"`
}

// FieldRule maps a CRM custom field to a kind, by stable id or display name.
type FieldRule struct {
	ID   int64  `yaml:"id" mapstructure:"id"`
	Name string `yaml:"name" mapstructure:"name"`
	Kind string `yaml:"kind" mapstructure:"kind"`
}

// FieldTable resolves custom fields to kinds. Field ids take precedence over
// display names; names are compared after Unicode normalization and case
// folding.
type FieldTable struct {
	byID   map[int64]FieldKind
	byName map[string]FieldKind
}

// DefaultFieldRules are the display names used by the sales CRM.
var DefaultFieldRules = []FieldRule{
	{Name: "Время встречи", Kind: "meeting_time"},
	{Name: "ЗНР причина", Kind: "reject_reason"},
}

// NewFieldTable builds a table from rules. A rule without id and name, or with
// an unknown kind, is an error.
func NewFieldTable(rules []FieldRule) (FieldTable, error) {
	t := FieldTable{
		byID:   make(map[int64]FieldKind),
		byName: make(map[string]FieldKind),
	}
	for _, r := range rules {
		kind, err := ParseFieldKind(r.Kind)
		if err != nil {
			return FieldTable{}, err
		}
		if r.ID == 0 && strings.TrimSpace(r.Name) == "" {
			return FieldTable{}, eris.Errorf("funnel: field rule for %s has neither id nor name", kind)
		}
		if r.ID != 0 {
			t.byID[r.ID] = kind
		}
		if name := normalizeName(r.Name); name != "" {
			t.byName[name] = kind
		}
	}
	return t, nil
}

// Kind returns the kind of the field, or FieldUnknown.
func (t FieldTable) Kind(f RawField) FieldKind {
	if kind, ok := t.byID[f.FieldID]; ok && f.FieldID != 0 {
		return kind
	}
	if kind, ok := t.byName[normalizeName(f.Name)]; ok {
		return kind
	}
	return FieldUnknown
}

func normalizeName(s string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(s)))
}

type fieldValue struct {
	Value any `json:"value"`
}

// decodeValues returns the non-empty values of the field as strings. A field
// without any non-empty value is malformed.
func decodeValues(f RawField) ([]string, error) {
	raw := bytes.TrimSpace(f.Values)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, eris.New("values missing")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values []fieldValue
	if err := dec.Decode(&values); err != nil {
		return nil, eris.Wrap(err, "decode values")
	}

	out := make([]string, 0, len(values))
	for _, v := range values {
		var s string
		switch val := v.Value.(type) {
		case nil:
			continue
		case string:
			s = strings.TrimSpace(val)
		case json.Number:
			s = val.String()
		case bool:
			s = strconv.FormatBool(val)
		default:
			return nil, eris.Errorf("unsupported value type %T", val)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, eris.New("no values")
	}
	return out, nil
}

// fieldText returns the comma-joined non-empty values, or Unfilled when the
// field is malformed.
func fieldText(f RawField) string {
	values, err := decodeValues(f)
	if err != nil {
		logMalformed(f, err)
		return Unfilled
	}
	return strings.Join(values, ", ")
}

func logMalformed(f RawField, err error) {
	zap.L().Warn("funnel: malformed custom field",
		zap.Int64("field_id", f.FieldID),
		zap.String("field_name", f.Name),
		zap.Error(err),
	)
}

// epochValue parses a meeting time value. Only epoch seconds are understood.
func epochValue(s string) (int64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil && i > 0 {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return int64(f), true
	}
	return 0, false
}
