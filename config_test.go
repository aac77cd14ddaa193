package main

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDurationUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{`"30s"`, 30 * time.Second},
		{`"1m30s"`, 90 * time.Second},
		{`45`, 45 * time.Second},
	}
	for _, tc := range cases {
		var d duration
		if err := json.Unmarshal([]byte(tc.raw), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if time.Duration(d) != tc.want {
			t.Fatalf("unmarshal %s = %v, want %v", tc.raw, time.Duration(d), tc.want)
		}
	}

	var d duration
	if err := json.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Fatalf("expected error for non-duration value")
	}
}

func TestToolFilterAllows(t *testing.T) {
	var nilFilter *ToolFilterConfig
	if !nilFilter.allows("anything") {
		t.Fatalf("nil filter must allow everything")
	}

	allow := &ToolFilterConfig{Mode: ToolFilterAllow, List: []string{"read"}}
	if !allow.allows("read") || allow.allows("write") {
		t.Fatalf("allow mode must admit only listed tools")
	}

	block := &ToolFilterConfig{Mode: ToolFilterBlock, List: []string{"delete"}}
	if block.allows("delete") || !block.allows("read") {
		t.Fatalf("block mode must reject only listed tools")
	}

	empty := &ToolFilterConfig{Mode: ToolFilterAllow}
	if !empty.allows("anything") {
		t.Fatalf("empty list must allow everything")
	}
}

func TestUpstreamConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		conf    UpstreamConfig
		wantErr bool
	}{
		{"valid stdio", UpstreamConfig{Name: "a", Transport: TransportStdio, Command: "srv"}, false},
		{"valid sse", UpstreamConfig{Name: "a", Transport: TransportSSE, URL: "http://x"}, false},
		{"valid streamable", UpstreamConfig{Name: "a", Transport: TransportStreamableHTTP, URL: "http://x"}, false},
		{"missing name", UpstreamConfig{Transport: TransportStdio, Command: "srv"}, true},
		{"stdio without command", UpstreamConfig{Name: "a", Transport: TransportStdio}, true},
		{"sse without url", UpstreamConfig{Name: "a", Transport: TransportSSE}, true},
		{"unknown transport", UpstreamConfig{Name: "a", Transport: "carrier-pigeon"}, true},
	}
	for _, tc := range cases {
		err := tc.conf.validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: validate() = %v, wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Proxy: &ProxyConfig{Name: "gw", Version: "1.0.0", Port: 9090},
			Upstreams: []*UpstreamConfig{
				{Name: "fs", Transport: TransportStdio, Command: "fs-server"},
			},
		}
	}

	conf := base()
	if err := conf.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if conf.Proxy.ConflictStrategy != ConflictAutoPrefix {
		t.Fatalf("empty strategy must default to auto-prefix, got %q", conf.Proxy.ConflictStrategy)
	}

	conf = base()
	conf.Proxy.ConflictStrategy = ConflictPriorityWins
	if err := conf.validate(); err != nil {
		t.Fatalf("priority-wins must be accepted: %v", err)
	}

	conf = base()
	conf.Proxy.ConflictStrategy = "coin-flip"
	if err := conf.validate(); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}

	conf = base()
	conf.Upstreams = append(conf.Upstreams, &UpstreamConfig{Name: "fs", Transport: TransportStdio, Command: "other"})
	if err := conf.validate(); err == nil {
		t.Fatalf("expected error for duplicate upstream names")
	}

	conf = base()
	conf.Proxy.Port = 0
	if err := conf.validate(); err == nil {
		t.Fatalf("expected error for invalid port")
	}

	conf = base()
	conf.Proxy = nil
	if err := conf.validate(); err == nil {
		t.Fatalf("expected error for missing proxy section")
	}
}

func TestConfigDecodesFullDocument(t *testing.T) {
	raw := `{
		"proxy": {
			"name": "gateway",
			"version": "1.0.0",
			"host": "127.0.0.1",
			"port": 9090,
			"maxConnections": 32,
			"conflictStrategy": "priority-wins",
			"security": {
				"defaultAllow": false,
				"allowTools": ["fs.read"],
				"maxResultBytes": 1024
			},
			"options": {"logEnabled": true, "authTokens": ["secret"]}
		},
		"upstreams": [
			{
				"name": "fs",
				"transport": "stdio",
				"command": "fs-server",
				"args": ["--root", "/data"],
				"priority": 10,
				"healthCheckInterval": "45s",
				"tools": {"mode": "block", "list": ["delete"]}
			},
			{
				"name": "web",
				"transport": "sse",
				"url": "http://localhost:3001/sse",
				"headers": {"Authorization": "Bearer t"},
				"timeout": 30
			}
		]
	}`

	var conf Config
	if err := json.Unmarshal([]byte(raw), &conf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := conf.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if conf.Proxy.ConflictStrategy != ConflictPriorityWins {
		t.Fatalf("strategy = %q, want priority-wins", conf.Proxy.ConflictStrategy)
	}
	if conf.Proxy.addr() != "127.0.0.1:9090" {
		t.Fatalf("addr = %q", conf.Proxy.addr())
	}
	if conf.Proxy.Security == nil || conf.Proxy.Security.DefaultAllow.OrElse(true) {
		t.Fatalf("security defaultAllow must decode as false")
	}
	if !conf.Proxy.Options.LogEnabled.OrElse(false) {
		t.Fatalf("logEnabled must decode as true")
	}

	fs := conf.Upstreams[0]
	if time.Duration(fs.HealthCheckInterval) != 45*time.Second {
		t.Fatalf("healthCheckInterval = %v", time.Duration(fs.HealthCheckInterval))
	}
	if fs.Tools == nil || fs.Tools.allows("delete") {
		t.Fatalf("fs tool filter must block delete")
	}

	web := conf.Upstreams[1]
	if time.Duration(web.Timeout) != 30*time.Second {
		t.Fatalf("numeric timeout must decode as seconds, got %v", time.Duration(web.Timeout))
	}
}
