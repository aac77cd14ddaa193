package main

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// stubCatalog returns canned descriptors without touching the pool.
type stubCatalog struct {
	descriptors []ToolDescriptor
}

func (s *stubCatalog) AllTools(context.Context) ([]ToolDescriptor, error) {
	return s.descriptors, nil
}

func (s *stubCatalog) Resolve(_ context.Context, finalName string) (*ToolDescriptor, error) {
	for i := range s.descriptors {
		if s.descriptors[i].FinalName == finalName {
			return &s.descriptors[i], nil
		}
	}
	return nil, errors.New("unknown tool")
}

func TestRouteToolCallReachesOwningUpstream(t *testing.T) {
	fs := &fakeUpstream{tools: []mcp.Tool{toolNamed("read")}}
	web := &fakeUpstream{tools: []mcp.Tool{toolNamed("read")}}
	pool := poolWith(t, []*UpstreamConfig{stdioConfig("fs"), stdioConfig("web")},
		map[string]*fakeUpstream{"fs": fs, "web": web})
	router := NewRouter(pool, NewCatalog(pool, ConflictAutoPrefix))

	args := map[string]any{"path": "/tmp/x"}
	if _, err := router.RouteToolCall(context.Background(), "fs.read", args); err != nil {
		t.Fatalf("RouteToolCall: %v", err)
	}

	calls := fs.recordedCalls()
	if len(calls) != 1 {
		t.Fatalf("expected one call on fs, got %d", len(calls))
	}
	if calls[0].tool != "read" {
		t.Fatalf("upstream must see the original name, got %q", calls[0].tool)
	}
	if calls[0].args["path"] != "/tmp/x" {
		t.Fatalf("arguments not forwarded: %v", calls[0].args)
	}
	if len(web.recordedCalls()) != 0 {
		t.Fatalf("web must not be called for fs.read")
	}
}

func TestRouteToolCallUnknownName(t *testing.T) {
	fs := &fakeUpstream{tools: []mcp.Tool{toolNamed("read")}}
	pool := poolWith(t, []*UpstreamConfig{stdioConfig("fs")}, map[string]*fakeUpstream{"fs": fs})
	router := NewRouter(pool, NewCatalog(pool, ConflictAutoPrefix))

	if _, err := router.RouteToolCall(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected error for unknown tool name")
	}
	if len(fs.recordedCalls()) != 0 {
		t.Fatalf("no upstream call expected for unknown name")
	}
}

func TestRouteToolCallUnavailableUpstream(t *testing.T) {
	fs := &fakeUpstream{tools: []mcp.Tool{toolNamed("read")}}
	pool := poolWith(t, []*UpstreamConfig{stdioConfig("fs")}, map[string]*fakeUpstream{"fs": fs})
	if err := pool.MarkUnhealthy("fs"); err != nil {
		t.Fatalf("MarkUnhealthy: %v", err)
	}
	catalog := &stubCatalog{descriptors: []ToolDescriptor{
		{FinalName: "read", OriginalName: "read", Upstream: "fs", Tool: toolNamed("read")},
	}}
	router := NewRouter(pool, catalog)

	_, err := router.RouteToolCall(context.Background(), "read", nil)
	if err == nil {
		t.Fatalf("expected error when the owning upstream has no usable connection")
	}
	if len(fs.recordedCalls()) != 0 {
		t.Fatalf("unhealthy upstream must not be called")
	}
}

func TestRouteToolCallWrapsUpstreamFailure(t *testing.T) {
	cause := errors.New("pipe closed")
	fs := &fakeUpstream{tools: []mcp.Tool{toolNamed("read")}, callErr: cause}
	pool := poolWith(t, []*UpstreamConfig{stdioConfig("fs")}, map[string]*fakeUpstream{"fs": fs})
	router := NewRouter(pool, NewCatalog(pool, ConflictAutoPrefix))

	_, err := router.RouteToolCall(context.Background(), "read", nil)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
}

func TestCallResultPayloadTranslatesContent(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "hello"},
			mcp.ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
		},
		IsError: true,
	}

	payload := callResultPayload(result)
	if payload["isError"] != true {
		t.Fatalf("isError must pass through, got %v", payload["isError"])
	}
	blocks, ok := payload["content"].([]map[string]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected two content blocks, got %v", payload["content"])
	}
	if blocks[0]["type"] != "text" || blocks[0]["text"] != "hello" {
		t.Fatalf("text block mismatch: %v", blocks[0])
	}
	if blocks[1]["type"] != "image" || blocks[1]["mimeType"] != "image/png" {
		t.Fatalf("image block mismatch: %v", blocks[1])
	}
}

func TestCallResultPayloadNilResult(t *testing.T) {
	payload := callResultPayload(nil)
	if payload["isError"] != false {
		t.Fatalf("nil result must not be an error, got %v", payload["isError"])
	}
	blocks, ok := payload["content"].([]map[string]any)
	if !ok || len(blocks) != 0 {
		t.Fatalf("expected empty content, got %v", payload["content"])
	}
	if _, present := payload["structuredContent"]; present {
		t.Fatalf("no structuredContent expected for nil result")
	}
}

func TestExtractTextContent(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
			mcp.TextContent{Type: "text", Text: "first"},
			mcp.TextContent{Type: "text", Text: "second"},
		},
	}
	if got := extractTextContent(result); got != "first" {
		t.Fatalf("extractTextContent = %q, want first", got)
	}
	if got := extractTextContent(nil); got != "" {
		t.Fatalf("nil result must yield empty text, got %q", got)
	}
}
