package cli

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vkuznet/gordo-client/provider"
)

// DataProviderParam is a flag value accepting data provider configuration as
// JSON text or as a path to a JSON file
type DataProviderParam struct {
	raw      string
	Provider provider.DataProvider
}

// String implements pflag.Value
func (p *DataProviderParam) String() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// Set implements pflag.Value
func (p *DataProviderParam) Set(value string) error {
	dp, err := parseDataProvider(value)
	if err != nil {
		return err
	}
	p.raw = value
	p.Provider = dp
	return nil
}

// Type implements pflag.Value
func (p *DataProviderParam) Type() string {
	return "json|path"
}

// helper function to build data provider from JSON text or JSON file
func parseDataProvider(value string) (provider.DataProvider, error) {
	data := []byte(value)
	if !strings.HasPrefix(strings.TrimSpace(value), "{") {
		content, err := os.ReadFile(filepath.Clean(value))
		if err != nil {
			return nil, errors.Wrap(err, "data provider should be JSON or path to JSON file")
		}
		data = content
	}
	return provider.FromJSON(data)
}

// helper function to parse repeated key,value pairs
func parseMetadata(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, ",")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid metadata %q, expected key,value", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// supported formats of START and END arguments
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time %q, expected ISO 8601 format", value)
}
