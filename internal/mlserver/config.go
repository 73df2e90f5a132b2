package mlserver

// config module
//
// Copyright (c) 2023 - Valentin Kuznetsov <vkuznet@gmail.com>
//

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Configuration stores server configuration parameters
type Configuration struct {
	// web server parts
	Base     string `json:"base"`      // base URL
	LogFile  string `json:"log_file"`  // server log file
	LogLevel string `json:"log_level"` // zap log level
	Port     int    `json:"port"`      // server port number
	Verbose  int    `json:"verbose"`   // verbose output

	// server parts
	RootCAs       string   `json:"rootCAs"`      // server Root CAs path
	ServerCrt     string   `json:"server_cert"`  // server certificate
	ServerKey     string   `json:"server_key"`   // server certificate
	DomainNames   []string `json:"domain_names"` // LetsEncrypt domain names
	LimiterPeriod string   `json:"rate"`         // limiter rate value

	// model store parts, MongoDB is used when db_uri is set, then storage
	// directory, otherwise in-memory store with fixture machines
	DBURI      string `json:"db_uri"`      // MongoDB URI
	DBName     string `json:"db_name"`     // database name
	DBColl     string `json:"db_coll"`     // database collection
	StorageDir string `json:"storage_dir"` // storage directory

	// fixture parts used to seed the store
	FixtureProject   string   `json:"fixture_project"`
	FixtureRevisions []string `json:"fixture_revisions"`

	// data provider used for GET predictions
	DataProvider map[string]any `json:"data_provider"`
}

// ParseConfig reads server configuration file and sets default values.
// Empty file name gives default configuration.
func ParseConfig(configFile string) (Configuration, error) {
	var cfg Configuration
	if configFile != "" {
		data, err := os.ReadFile(filepath.Clean(configFile))
		if err != nil {
			return cfg, errors.Wrap(err, "unable to read config")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(err, "unable to parse config")
		}
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Configuration) setDefaults() {
	if c.Port == 0 {
		c.Port = 5555
	}
	if c.LimiterPeriod == "" {
		c.LimiterPeriod = "100-S"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		if c.Verbose > 0 {
			c.LogLevel = "debug"
		}
	}
	if c.DBName == "" {
		c.DBName = "gordo"
	}
	if c.DBColl == "" {
		c.DBColl = "machines"
	}
	if c.FixtureProject == "" {
		c.FixtureProject = "gordo-test"
	}
	if len(c.FixtureRevisions) == 0 {
		c.FixtureRevisions = []string{"1577836800000"}
	}
	if c.DataProvider == nil {
		c.DataProvider = map[string]any{
			"type":  "RandomDataProvider",
			"since": "2000-01-01T00:00:00Z",
		}
	}
}
