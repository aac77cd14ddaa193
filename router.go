package main

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
)

// Router forwards a catalog-final tool name to its owning upstream.
type Router interface {
	RouteToolCall(ctx context.Context, finalName string, args map[string]any) (*mcp.CallToolResult, error)
}

type poolRouter struct {
	pool    *UpstreamPool
	catalog Catalog
}

func NewRouter(pool *UpstreamPool, catalog Catalog) Router {
	return &poolRouter{pool: pool, catalog: catalog}
}

// RouteToolCall reverses the catalog's naming and forwards the call through
// the owning upstream's handle. The result's isError flag is the upstream's
// own verdict and is passed through untouched; only transport failures
// surface as errors here.
func (r *poolRouter) RouteToolCall(ctx context.Context, finalName string, args map[string]any) (*mcp.CallToolResult, error) {
	descriptor, err := r.catalog.Resolve(ctx, finalName)
	if err != nil {
		return nil, err
	}
	handle := r.pool.GetUpstream(descriptor.Upstream)
	if handle == nil {
		return nil, fmt.Errorf("upstream %q is not available for tool %q", descriptor.Upstream, finalName)
	}
	result, err := handle.CallTool(ctx, descriptor.OriginalName, args)
	if err != nil {
		return nil, fmt.Errorf("route %q to upstream %q: %w", finalName, descriptor.Upstream, err)
	}
	return result, nil
}

// callResultPayload translates an upstream result into the wire content
// representation: a sequence of typed blocks plus the isError flag.
func callResultPayload(result *mcp.CallToolResult) map[string]any {
	payload := map[string]any{
		"content": contentBlocks(result),
		"isError": result != nil && result.IsError,
	}
	if result != nil && result.StructuredContent != nil {
		payload["structuredContent"] = result.StructuredContent
	}
	return payload
}

func contentBlocks(result *mcp.CallToolResult) []map[string]any {
	blocks := make([]map[string]any, 0)
	if result == nil {
		return blocks
	}
	for _, item := range result.Content {
		if text, ok := mcp.AsTextContent(item); ok {
			blocks = append(blocks, map[string]any{
				"type": "text",
				"text": text.Text,
			})
			continue
		}
		if image, ok := mcp.AsImageContent(item); ok {
			blocks = append(blocks, map[string]any{
				"type":     "image",
				"data":     image.Data,
				"mimeType": image.MIMEType,
			})
			continue
		}
		if audio, ok := mcp.AsAudioContent(item); ok {
			blocks = append(blocks, map[string]any{
				"type":     "audio",
				"data":     audio.Data,
				"mimeType": audio.MIMEType,
			})
			continue
		}
		log.Printf("<router> dropping content block of unsupported type %T", item)
	}
	return blocks
}

// extractTextContent returns the first non-empty text block, used by the
// security gate's response check.
func extractTextContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, item := range result.Content {
		if text, ok := mcp.AsTextContent(item); ok && text.Text != "" {
			return text.Text
		}
	}
	return ""
}
