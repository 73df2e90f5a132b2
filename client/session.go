package client

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// SessionConfig holds HTTP session settings applied to every request
type SessionConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
	Auth    []string          `json:"auth,omitempty"`    // user and password for basic auth
	Verify  *bool             `json:"verify,omitempty"`  // TLS verification, enabled by default
	Timeout float64           `json:"timeout,omitempty"` // request timeout in seconds
}

// ParseSessionConfig parses session config from its JSON representation
func ParseSessionConfig(data []byte) (SessionConfig, error) {
	var cfg SessionConfig
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid session config")
	}
	if len(cfg.Auth) != 0 && len(cfg.Auth) != 2 {
		return cfg, errors.Errorf("session auth should contain user and password, got %d values", len(cfg.Auth))
	}
	if cfg.Timeout < 0 {
		return cfg, errors.Errorf("invalid session timeout %v", cfg.Timeout)
	}
	return cfg, nil
}

// HTTPClient builds HTTP client honoring timeout and TLS verification settings
func (s SessionConfig) HTTPClient() *http.Client {
	client := &http.Client{}
	if s.Timeout > 0 {
		client.Timeout = time.Duration(s.Timeout * float64(time.Second))
	}
	if s.Verify != nil && !*s.Verify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		client.Transport = transport
	}
	return client
}

// apply sets session headers and credentials on given request
func (s SessionConfig) apply(req *http.Request) {
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if len(s.Auth) == 2 {
		req.SetBasicAuth(s.Auth[0], s.Auth[1])
	}
}
