package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	optional "github.com/TBXark/optional-go"
)

type ConflictStrategy string

const (
	// ConflictAutoPrefix qualifies every colliding tool name with its
	// upstream name ("fs.read", "web.read").
	ConflictAutoPrefix ConflictStrategy = "auto-prefix"
	// ConflictPriorityWins keeps the bare name on the highest-priority
	// claimant and prefixes the rest. Ties break by upstream name.
	ConflictPriorityWins ConflictStrategy = "priority-wins"
)

type UpstreamTransport string

const (
	TransportStdio          UpstreamTransport = "stdio"
	TransportSSE            UpstreamTransport = "sse"
	TransportStreamableHTTP UpstreamTransport = "streamable-http"
)

// duration accepts "30s"-style strings in JSON config.
type duration time.Duration

func (d *duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = duration(time.Duration(v) * time.Second)
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

func (d duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type ToolFilterMode string

const (
	ToolFilterAllow ToolFilterMode = "allow"
	ToolFilterBlock ToolFilterMode = "block"
)

// ToolFilterConfig restricts which upstream tools enter the catalog.
type ToolFilterConfig struct {
	Mode ToolFilterMode `json:"mode,omitempty"`
	List []string       `json:"list,omitempty"`
}

func (f *ToolFilterConfig) allows(toolName string) bool {
	if f == nil || len(f.List) == 0 {
		return true
	}
	listed := false
	for _, name := range f.List {
		if name == toolName {
			listed = true
			break
		}
	}
	switch f.Mode {
	case ToolFilterBlock:
		return !listed
	default:
		return listed
	}
}

type UpstreamOptions struct {
	PanicIfInvalid optional.Field[bool] `json:"panicIfInvalid,omitempty"`
	LogEnabled     optional.Field[bool] `json:"logEnabled,omitempty"`
}

// UpstreamConfig describes one tool-provider server. Immutable after the
// pool is built except through explicit pool mutation calls.
type UpstreamConfig struct {
	Name      string            `json:"name"`
	Transport UpstreamTransport `json:"transport"`

	// stdio transport
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// sse / streamable-http transports
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout duration          `json:"timeout,omitempty"`

	Priority            int               `json:"priority,omitempty"`
	HealthCheckInterval duration          `json:"healthCheckInterval,omitempty"`
	Tools               *ToolFilterConfig `json:"tools,omitempty"`
	Options             UpstreamOptions   `json:"options,omitempty"`
}

func (c *UpstreamConfig) validate() error {
	if c.Name == "" {
		return errors.New("upstream name is required")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("upstream %q: stdio transport requires a command", c.Name)
		}
	case TransportSSE, TransportStreamableHTTP:
		if c.URL == "" {
			return fmt.Errorf("upstream %q: %s transport requires a url", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("upstream %q: unknown transport %q", c.Name, c.Transport)
	}
	return nil
}

// SecurityConfig drives the rule-list security gate. The gate itself is a
// capability; deployments may inject a different implementation entirely.
type SecurityConfig struct {
	DefaultAllow   optional.Field[bool] `json:"defaultAllow,omitempty"`
	AllowTools     []string             `json:"allowTools,omitempty"`
	DenyTools      []string             `json:"denyTools,omitempty"`
	MaxResultBytes int                  `json:"maxResultBytes,omitempty"`
}

type ProxyOptions struct {
	LogEnabled optional.Field[bool] `json:"logEnabled,omitempty"`
	AuthTokens []string             `json:"authTokens,omitempty"`
}

type ProxyConfig struct {
	Enabled          optional.Field[bool] `json:"enabled,omitempty"`
	Name             string               `json:"name"`
	Version          string               `json:"version"`
	Host             string               `json:"host,omitempty"`
	Port             int                  `json:"port"`
	MaxConnections   int                  `json:"maxConnections,omitempty"`
	ConflictStrategy ConflictStrategy     `json:"conflictStrategy,omitempty"`
	Security         *SecurityConfig      `json:"security,omitempty"`
	Options          ProxyOptions         `json:"options,omitempty"`
}

func (c *ProxyConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Config struct {
	Proxy     *ProxyConfig      `json:"proxy"`
	Upstreams []*UpstreamConfig `json:"upstreams"`
}

func (c *Config) validate() error {
	if c.Proxy == nil {
		return errors.New("proxy section is required")
	}
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("invalid proxy port %d", c.Proxy.Port)
	}
	switch c.Proxy.ConflictStrategy {
	case "":
		c.Proxy.ConflictStrategy = ConflictAutoPrefix
	case ConflictAutoPrefix, ConflictPriorityWins:
	default:
		return fmt.Errorf("unknown conflict strategy %q", c.Proxy.ConflictStrategy)
	}
	seen := make(map[string]struct{}, len(c.Upstreams))
	for _, upstream := range c.Upstreams {
		if err := upstream.validate(); err != nil {
			return err
		}
		if _, dup := seen[upstream.Name]; dup {
			return fmt.Errorf("duplicate upstream name %q", upstream.Name)
		}
		seen[upstream.Name] = struct{}{}
	}
	return nil
}
