package funnel

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk form of the classification tables.
type RulesFile struct {
	Fields        []FieldRule `yaml:"fields"`
	RejectReasons struct {
		Qualification []string `yaml:"qualification"`
		Meeting       []string `yaml:"meeting"`
	} `yaml:"reject_reasons"`
}

// LoadRulesFile reads field rules and reject reasons from a YAML file.
func LoadRulesFile(path string) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "funnel: read rules %s", path)
	}

	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrap(err, "funnel: parse rules")
	}
	return &rf, nil
}

// Apply overrides the tables of r with the non-empty sections of the file.
func (rf *RulesFile) Apply(r *Rules) error {
	if len(rf.Fields) > 0 {
		table, err := NewFieldTable(rf.Fields)
		if err != nil {
			return err
		}
		r.Fields = table
	}
	if len(rf.RejectReasons.Qualification) > 0 {
		r.QualificationRejects = rf.RejectReasons.Qualification
	}
	if len(rf.RejectReasons.Meeting) > 0 {
		r.MeetingRejects = rf.RejectReasons.Meeting
	}
	return nil
}
