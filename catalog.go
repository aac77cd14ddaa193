package main

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolDescriptor is one catalog entry: a tool under its globally unique
// final name, tagged with the upstream that owns it. Descriptors are
// ephemeral — rebuilt from live upstream queries on every consultation.
type ToolDescriptor struct {
	FinalName    string
	OriginalName string
	Upstream     string
	Tool         mcp.Tool
}

// Catalog merges the tool sets of every connected upstream into one
// conflict-free namespace.
type Catalog interface {
	AllTools(ctx context.Context) ([]ToolDescriptor, error)
	Resolve(ctx context.Context, finalName string) (*ToolDescriptor, error)
}

type liveCatalog struct {
	pool     *UpstreamPool
	strategy ConflictStrategy
}

func NewCatalog(pool *UpstreamPool, strategy ConflictStrategy) Catalog {
	if strategy == "" {
		strategy = ConflictAutoPrefix
	}
	return &liveCatalog{pool: pool, strategy: strategy}
}

type toolClaim struct {
	upstream string
	priority int
	tool     mcp.Tool
}

// AllTools pulls the live tool list from every Connected upstream and
// resolves name collisions with the configured strategy. Unreachable
// upstreams are skipped; the health loop handles their state.
func (c *liveCatalog) AllTools(ctx context.Context) ([]ToolDescriptor, error) {
	upstreams := c.pool.ListUpstreams()
	sort.Strings(upstreams)

	claims := make(map[string][]toolClaim)
	for _, name := range upstreams {
		handle := c.pool.GetUpstream(name)
		if handle == nil {
			continue
		}
		conf := c.pool.GetUpstreamConfig(name)
		tools, err := handle.ListTools(ctx)
		if err != nil {
			log.Printf("<catalog> list tools from %s: %v", name, err)
			continue
		}
		for _, tool := range tools {
			if conf != nil && !conf.Tools.allows(tool.Name) {
				continue
			}
			priority := 0
			if conf != nil {
				priority = conf.Priority
			}
			claims[tool.Name] = append(claims[tool.Name], toolClaim{
				upstream: name,
				priority: priority,
				tool:     tool,
			})
		}
	}

	descriptors := c.resolveClaims(claims)
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].FinalName < descriptors[j].FinalName
	})
	return descriptors, nil
}

func (c *liveCatalog) resolveClaims(claims map[string][]toolClaim) []ToolDescriptor {
	taken := make(map[string]struct{})
	descriptors := make([]ToolDescriptor, 0, len(claims))

	add := func(finalName string, claim toolClaim) {
		if _, dup := taken[finalName]; dup {
			log.Printf("<catalog> dropping %s/%s: final name %q already taken", claim.upstream, claim.tool.Name, finalName)
			return
		}
		taken[finalName] = struct{}{}
		descriptors = append(descriptors, ToolDescriptor{
			FinalName:    finalName,
			OriginalName: claim.tool.Name,
			Upstream:     claim.upstream,
			Tool:         claim.tool,
		})
	}

	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		claimants := claims[name]
		if len(claimants) == 1 {
			add(name, claimants[0])
			continue
		}
		switch c.strategy {
		case ConflictPriorityWins:
			winner := 0
			for i := 1; i < len(claimants); i++ {
				if claimants[i].priority > claimants[winner].priority ||
					(claimants[i].priority == claimants[winner].priority &&
						claimants[i].upstream < claimants[winner].upstream) {
					winner = i
				}
			}
			for i, claim := range claimants {
				if i == winner {
					add(name, claim)
				} else {
					add(prefixedName(claim.upstream, name), claim)
				}
			}
		default: // ConflictAutoPrefix
			for _, claim := range claimants {
				add(prefixedName(claim.upstream, name), claim)
			}
		}
	}
	return descriptors
}

func prefixedName(upstream, tool string) string {
	return upstream + "." + tool
}

// Resolve maps a final name back to its owning upstream and original tool
// name against a fresh snapshot.
func (c *liveCatalog) Resolve(ctx context.Context, finalName string) (*ToolDescriptor, error) {
	descriptors, err := c.AllTools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range descriptors {
		if descriptors[i].FinalName == finalName {
			return &descriptors[i], nil
		}
	}
	return nil, fmt.Errorf("unknown tool %q", finalName)
}

// descriptorForWire builds the tools/list entry for one catalog descriptor.
func descriptorForWire(d ToolDescriptor) map[string]any {
	tool := d.Tool
	entry := map[string]any{
		"name": d.FinalName,
	}
	if tool.Description != "" {
		entry["description"] = tool.Description
	}
	if len(tool.RawInputSchema) > 0 {
		entry["inputSchema"] = tool.RawInputSchema
	} else {
		entry["inputSchema"] = tool.InputSchema
	}
	if len(tool.RawOutputSchema) > 0 {
		entry["outputSchema"] = tool.RawOutputSchema
	} else if tool.OutputSchema.Type != "" || len(tool.OutputSchema.Properties) > 0 {
		entry["outputSchema"] = tool.OutputSchema
	}
	entry["annotations"] = normalizeToolAnnotations(tool)
	return entry
}

func normalizeToolAnnotations(tool mcp.Tool) map[string]any {
	annotations := make(map[string]any, 5)
	existing := tool.Annotations

	if existing.Title != "" {
		annotations["title"] = existing.Title
	}

	if existing.ReadOnlyHint != nil {
		annotations["readOnlyHint"] = *existing.ReadOnlyHint
	} else {
		annotations["readOnlyHint"] = false
	}

	if existing.DestructiveHint != nil {
		annotations["destructiveHint"] = *existing.DestructiveHint
	} else {
		annotations["destructiveHint"] = false
	}

	if existing.IdempotentHint != nil {
		annotations["idempotentHint"] = *existing.IdempotentHint
	} else {
		annotations["idempotentHint"] = false
	}

	if existing.OpenWorldHint != nil {
		annotations["openWorldHint"] = *existing.OpenWorldHint
	} else {
		annotations["openWorldHint"] = false
	}

	return annotations
}
