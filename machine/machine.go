// Package machine describes a gordo machine: a named model trained on a
// dataset of sensor tags within a project.
package machine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// DefaultResolution is used when dataset does not define one
const DefaultResolution = "10T"

var nameRegexp = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// SensorTag represents single sensor tag and the asset it belongs to
type SensorTag struct {
	Name  string `json:"name"`
	Asset string `json:"asset,omitempty"`
}

// UnmarshalJSON accepts either plain tag name or {"name": ..., "asset": ...} object
func (t *SensorTag) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		t.Asset = ""
		return nil
	}
	type plain SensorTag
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, "sensor tag must be a string or an object")
	}
	if p.Name == "" {
		return errors.New("sensor tag without name")
	}
	*t = SensorTag(p)
	return nil
}

// Dataset defines data the machine model was trained on
type Dataset struct {
	TagList        []SensorTag `json:"tag_list"`
	TargetTagList  []SensorTag `json:"target_tag_list,omitempty"`
	TrainStartDate time.Time   `json:"train_start_date"`
	TrainEndDate   time.Time   `json:"train_end_date"`
	Resolution     string      `json:"resolution,omitempty"`
}

// ResolutionDuration returns dataset resolution as time.Duration
func (d Dataset) ResolutionDuration() (time.Duration, error) {
	if d.Resolution == "" {
		return ParseResolution(DefaultResolution)
	}
	return ParseResolution(d.Resolution)
}

// Metadata holds user defined and build metadata of the machine
type Metadata struct {
	UserDefined   map[string]any `json:"user_defined,omitempty"`
	BuildMetadata map[string]any `json:"build_metadata,omitempty"`
}

// Machine represents a gordo machine
type Machine struct {
	Name       string          `json:"name"`
	Project    string          `json:"project_name"`
	Dataset    Dataset         `json:"dataset"`
	Model      json.RawMessage `json:"model"`
	Metadata   Metadata        `json:"metadata"`
	Evaluation map[string]any  `json:"evaluation,omitempty"`
}

// TagNames returns names of the input tags
func (m *Machine) TagNames() []string {
	return lo.Map(m.Dataset.TagList, func(t SensorTag, _ int) string { return t.Name })
}

// TargetTags returns target tags, which default to input tags
func (m *Machine) TargetTags() []SensorTag {
	if len(m.Dataset.TargetTagList) == 0 {
		return m.Dataset.TagList
	}
	return m.Dataset.TargetTagList
}

// TargetTagNames returns names of the target tags
func (m *Machine) TargetTagNames() []string {
	return lo.Map(m.TargetTags(), func(t SensorTag, _ int) string { return t.Name })
}

// Validate checks machine attributes
func (m *Machine) Validate() error {
	if m.Name == "" {
		return errors.New("machine name is missing")
	}
	if len(m.Name) > 63 || !nameRegexp.MatchString(m.Name) {
		return errors.Errorf("invalid machine name %q, it should contain lowercase alphanumeric characters or '-' and be at most 63 characters", m.Name)
	}
	if len(m.Dataset.TagList) == 0 {
		return errors.Errorf("machine %s: dataset tag_list is empty", m.Name)
	}
	if m.Dataset.TrainStartDate.IsZero() || m.Dataset.TrainEndDate.IsZero() {
		return errors.Errorf("machine %s: dataset train dates are missing", m.Name)
	}
	if !m.Dataset.TrainStartDate.Before(m.Dataset.TrainEndDate) {
		return errors.Errorf("machine %s: train_start_date %s should be before train_end_date %s",
			m.Name, m.Dataset.TrainStartDate.Format(time.RFC3339), m.Dataset.TrainEndDate.Format(time.RFC3339))
	}
	if _, err := m.Dataset.ResolutionDuration(); err != nil {
		return errors.Wrapf(err, "machine %s", m.Name)
	}
	if len(m.Model) == 0 || string(m.Model) == "null" {
		return errors.Errorf("machine %s: model definition is missing", m.Name)
	}
	return nil
}

// FromConfig builds machine from its configuration, as found in project
// configs and in the server metadata. Project name is used when config has none.
func FromConfig(config map[string]any, project string) (*Machine, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal machine config")
	}
	var m Machine
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "unable to parse machine config")
	}
	if m.Project == "" {
		m.Project = project
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseResolution parses pandas like resolution strings, e.g. 10T, 1H, 30S, 10min
func ParseResolution(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"min", time.Minute},
		{"S", time.Second},
		{"T", time.Minute},
		{"H", time.Hour},
		{"D", 24 * time.Hour},
	}
	for _, u := range units {
		if !strings.HasSuffix(s, u.suffix) {
			continue
		}
		num := strings.TrimSuffix(s, u.suffix)
		n := 1
		if num != "" {
			v, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid resolution %q", s)
			}
			n = v
		}
		if n <= 0 {
			return 0, fmt.Errorf("invalid resolution %q", s)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid resolution %q", s)
}
