package mlserver

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// fixture machines served for every fixture revision
var fixtureMachines = []struct {
	name    string
	tags    []string
	targets []string
	anomaly bool
}{
	{name: "machine-1", tags: []string{"TRC1", "TRC2", "TRC3"}, anomaly: true},
	{name: "machine-2", tags: []string{"TRC1", "TRC2"}, targets: []string{"TRC3"}},
}

// FixtureRecords returns records of fixture machines for project revision
func FixtureRecords(project, revision string) []Record {
	var out []Record
	for _, fm := range fixtureMachines {
		dataset := map[string]any{
			"tag_list":         fm.tags,
			"train_start_date": "2016-01-01T00:00:00Z",
			"train_end_date":   "2016-01-05T00:00:00Z",
			"resolution":       "10T",
		}
		if len(fm.targets) > 0 {
			dataset["target_tag_list"] = fm.targets
		}
		model := map[string]any{
			"gordo.machine.model.anomaly.diff.DiffBasedAnomalyDetector": map[string]any{
				"base_estimator": "RowMeanModel",
			},
		}
		metadata := map[string]any{
			"name":         fm.name,
			"project_name": project,
			"dataset":      dataset,
			"model":        model,
			"metadata": map[string]any{
				"user_defined": map[string]any{},
				"build_metadata": map[string]any{
					"model": map[string]any{"model_offset": 0, "model_training_duration_sec": 1.0},
				},
			},
		}
		// round trip through JSON to keep only JSON types in the record
		var md map[string]any
		data, _ := json.Marshal(metadata)
		_ = json.Unmarshal(data, &md)
		out = append(out, Record{
			Project:  project,
			Revision: revision,
			Name:     fm.name,
			Metadata: md,
			Model:    []byte(fmt.Sprintf("RowMeanModel name=%s revision=%s", fm.name, revision)),
			Anomaly:  fm.anomaly,
		})
	}
	return out
}

// SeedFixture inserts fixture machines of all revisions into the store
func SeedFixture(store Store, project string, revisions ...string) error {
	for _, rev := range revisions {
		for _, rec := range FixtureRecords(project, rev) {
			if err := store.Insert(rec); err != nil {
				return errors.Wrapf(err, "unable to seed fixture %s", rec.Name)
			}
		}
	}
	return nil
}

// FixtureMachineNames returns names of fixture machines
func FixtureMachineNames() []string {
	var out []string
	for _, fm := range fixtureMachines {
		out = append(out, fm.name)
	}
	return out
}
