package main

import (
	"os"
	"path/filepath"
	"strings"
)

func configHome() string {
	if v := strings.TrimSpace(os.Getenv("MCP_GATEWAY_CONFIG_HOME")); v != "" {
		return filepath.Clean(v)
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "mcp-gateway")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "mcp-gateway")
}

func defaultConfigPath() string {
	return filepath.Join(configHome(), "config.json")
}
