// Package provider defines how the client obtains sensor data to send for
// predictions. Providers are selected by the "type" key of their JSON config.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vkuznet/gordo-client/frame"
	"github.com/vkuznet/gordo-client/machine"
)

// ErrNoData is returned when provider has no data for requested window
var ErrNoData = errors.New("no data available")

// DataProvider loads resampled sensor data
type DataProvider interface {
	// Load returns single level frame with one column per tag and one row
	// per resolution step within [start, end)
	Load(ctx context.Context, start, end time.Time, tags []machine.SensorTag, resolution time.Duration) (*frame.Frame, error)
	// ToDict returns provider configuration accepted by FromConfig
	ToDict() map[string]any
}

// Factory creates provider from its configuration
type Factory func(config map[string]any) (DataProvider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes provider type available to FromConfig
func Register(typeName string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeName] = factory
}

// Types returns registered provider types
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var out []string
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FromConfig creates provider from configuration with "type" key
func FromConfig(config map[string]any) (DataProvider, error) {
	typeName, _ := config["type"].(string)
	if typeName == "" {
		return nil, errors.New("data provider config has no type")
	}
	registryMu.RLock()
	factory, ok := registry[typeName]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown data provider type %q, supported types %v", typeName, Types())
	}
	params := make(map[string]any, len(config))
	for k, v := range config {
		if k != "type" {
			params[k] = v
		}
	}
	return factory(params)
}

// FromJSON creates provider from JSON configuration
func FromJSON(data []byte) (DataProvider, error) {
	var config map[string]any
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "invalid data provider config")
	}
	return FromConfig(config)
}

// helper function to decode provider parameters into its struct
func decode(params map[string]any, v any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
