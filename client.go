package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// upstreamClient is the fixed contract the gateway requires from a
// per-upstream transport: connect, list tools, call, ping, disconnect. The
// production implementation wraps an mcp-go client; tests substitute fakes.
type upstreamClient interface {
	connect(ctx context.Context) error
	listTools(ctx context.Context) ([]mcp.Tool, error)
	callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ping(ctx context.Context) error
	close() error
}

// mcpUpstreamClient talks to one upstream MCP server through mcp-go.
type mcpUpstreamClient struct {
	name     string
	client   *client.Client
	needPing bool
	// SSE and streamable HTTP transports need an explicit Start before
	// the initialize handshake; stdio starts on construction.
	needManualStart bool
}

func newUpstreamClient(name string, conf *UpstreamConfig) (upstreamClient, error) {
	switch conf.Transport {
	case TransportStdio:
		envs := make([]string, 0, len(conf.Env))
		for key, value := range conf.Env {
			envs = append(envs, fmt.Sprintf("%s=%s", key, value))
		}
		mcpClient, err := client.NewStdioMCPClient(conf.Command, envs, conf.Args...)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: start stdio client: %w", name, err)
		}
		return &mcpUpstreamClient{name: name, client: mcpClient}, nil

	case TransportSSE:
		var options []transport.ClientOption
		if len(conf.Headers) > 0 {
			options = append(options, transport.WithHeaders(conf.Headers))
		}
		mcpClient, err := client.NewSSEMCPClient(conf.URL, options...)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: create sse client: %w", name, err)
		}
		return &mcpUpstreamClient{name: name, client: mcpClient, needPing: true, needManualStart: true}, nil

	case TransportStreamableHTTP:
		var options []transport.StreamableHTTPCOption
		if len(conf.Headers) > 0 {
			options = append(options, transport.WithHTTPHeaders(conf.Headers))
		}
		if conf.Timeout > 0 {
			options = append(options, transport.WithHTTPTimeout(time.Duration(conf.Timeout)))
		}
		mcpClient, err := client.NewStreamableHttpClient(conf.URL, options...)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: create streamable http client: %w", name, err)
		}
		return &mcpUpstreamClient{name: name, client: mcpClient, needPing: true, needManualStart: true}, nil

	default:
		return nil, fmt.Errorf("upstream %q: unknown transport %q", name, conf.Transport)
	}
}

func (c *mcpUpstreamClient) connect(ctx context.Context) error {
	if c.needManualStart {
		if err := c.client.Start(ctx); err != nil {
			return fmt.Errorf("upstream %q: start transport: %w", c.name, err)
		}
	}
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "mcp-gateway",
		Version: gatewayVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	if _, err := c.client.Initialize(ctx, initRequest); err != nil {
		return fmt.Errorf("upstream %q: initialize: %w", c.name, err)
	}
	return nil
}

func (c *mcpUpstreamClient) listTools(ctx context.Context) ([]mcp.Tool, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("upstream %q: list tools: %w", c.name, err)
	}
	return result.Tools, nil
}

func (c *mcpUpstreamClient) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	result, err := c.client.CallTool(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: call tool %q: %w", c.name, name, err)
	}
	return result, nil
}

func (c *mcpUpstreamClient) ping(ctx context.Context) error {
	if !c.needPing {
		// stdio servers surface liveness through the pipe itself; a
		// cheap list keeps the check uniform.
		_, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
		return err
	}
	return c.client.Ping(ctx)
}

func (c *mcpUpstreamClient) close() error {
	return c.client.Close()
}
