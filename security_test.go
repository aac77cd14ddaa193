package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestRuleGateDenyListWins(t *testing.T) {
	gate := NewRuleGate(&SecurityConfig{
		AllowTools: []string{"fs.delete"},
		DenyTools:  []string{"fs.delete"},
	})

	err := gate.CheckRequest(context.Background(), "fs.delete", nil, "agent-1")
	if err == nil {
		t.Fatalf("expected denial for deny-listed tool")
	}
	var denied *SecurityDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected *SecurityDenied, got %T: %v", err, err)
	}
	if denied.Tool != "fs.delete" {
		t.Fatalf("denied tool = %q, want fs.delete", denied.Tool)
	}
}

func TestRuleGateDefaultDenyWithAllowList(t *testing.T) {
	var conf SecurityConfig
	if err := json.Unmarshal([]byte(`{"defaultAllow":false,"allowTools":["fs.read"]}`), &conf); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	gate := NewRuleGate(&conf)

	if err := gate.CheckRequest(context.Background(), "fs.read", nil, "agent-1"); err != nil {
		t.Fatalf("allow-listed tool must pass, got %v", err)
	}
	err := gate.CheckRequest(context.Background(), "fs.write", nil, "agent-1")
	var denied *SecurityDenied
	if !errors.As(err, &denied) {
		t.Fatalf("expected *SecurityDenied for non-listed tool, got %v", err)
	}
}

func TestRuleGateDefaultAllow(t *testing.T) {
	gate := NewRuleGate(nil)
	if err := gate.CheckRequest(context.Background(), "anything", nil, "agent-1"); err != nil {
		t.Fatalf("nil config must default to allow, got %v", err)
	}
}

func TestRuleGateResponseSizeLimit(t *testing.T) {
	gate := NewRuleGate(&SecurityConfig{MaxResultBytes: 8})

	small := mcp.NewToolResultText("short")
	if err := gate.CheckResponse(context.Background(), "fs.read", small, "agent-1"); err != nil {
		t.Fatalf("result under the limit must pass, got %v", err)
	}

	big := mcp.NewToolResultText(strings.Repeat("x", 64))
	if err := gate.CheckResponse(context.Background(), "fs.read", big, "agent-1"); err == nil {
		t.Fatalf("expected oversize result to be flagged")
	}
}

func TestRuleGateZeroLimitDisablesResponseCheck(t *testing.T) {
	gate := NewRuleGate(&SecurityConfig{})
	big := mcp.NewToolResultText(strings.Repeat("x", 1<<16))
	if err := gate.CheckResponse(context.Background(), "fs.read", big, "agent-1"); err != nil {
		t.Fatalf("zero limit must disable the check, got %v", err)
	}
}
