package main

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// SecurityGate is the capability boundary crossed on every tools/call:
// CheckRequest runs immediately before routing and a failure short-circuits
// the call; CheckResponse runs after a successful call, best-effort — its
// failure is logged by the caller, never surfaced to the agent. The
// concrete policy behind the gate is a deployment concern.
type SecurityGate interface {
	CheckRequest(ctx context.Context, toolName string, args map[string]any, agentID string) error
	CheckResponse(ctx context.Context, toolName string, result *mcp.CallToolResult, agentID string) error
}

// SecurityDenied is the error a gate returns to refuse a call. The
// dispatcher maps it to code -32000 so agents can tell "denied" apart from
// "broken".
type SecurityDenied struct {
	Tool   string
	Reason string
}

func (e *SecurityDenied) Error() string {
	return fmt.Sprintf("security denied tool %q: %s", e.Tool, e.Reason)
}

// ruleGate is the built-in gate: a default verdict plus explicit allow and
// deny lists by final tool name. Deny wins over allow.
type ruleGate struct {
	defaultAllow   bool
	allow          map[string]struct{}
	deny           map[string]struct{}
	maxResultBytes int
}

func NewRuleGate(conf *SecurityConfig) SecurityGate {
	gate := &ruleGate{
		defaultAllow: true,
		allow:        make(map[string]struct{}),
		deny:         make(map[string]struct{}),
	}
	if conf == nil {
		return gate
	}
	gate.defaultAllow = conf.DefaultAllow.OrElse(true)
	gate.maxResultBytes = conf.MaxResultBytes
	for _, name := range conf.AllowTools {
		gate.allow[name] = struct{}{}
	}
	for _, name := range conf.DenyTools {
		gate.deny[name] = struct{}{}
	}
	return gate
}

func (g *ruleGate) CheckRequest(_ context.Context, toolName string, _ map[string]any, _ string) error {
	if _, denied := g.deny[toolName]; denied {
		return &SecurityDenied{Tool: toolName, Reason: "tool is deny-listed"}
	}
	if _, allowed := g.allow[toolName]; allowed {
		return nil
	}
	if !g.defaultAllow {
		return &SecurityDenied{Tool: toolName, Reason: "tool is not allow-listed"}
	}
	return nil
}

func (g *ruleGate) CheckResponse(_ context.Context, toolName string, result *mcp.CallToolResult, _ string) error {
	if g.maxResultBytes <= 0 {
		return nil
	}
	if text := extractTextContent(result); len(text) > g.maxResultBytes {
		return fmt.Errorf("tool %q result exceeds %d bytes (%d)", toolName, g.maxResultBytes, len(text))
	}
	return nil
}
