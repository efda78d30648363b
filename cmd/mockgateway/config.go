package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

type serverConfig struct {
	Addr         string
	Token        string
	ContentsRoot string
}

func defaultServerConfig() serverConfig {
	return serverConfig{Addr: "127.0.0.1:8888"}
}

// mockgateway config.toml key mapping to server settings.
type fileConfig struct {
	Addr         string `toml:"addr"`
	Token        string `toml:"token"`
	ContentsRoot string `toml:"contents_root"`
}

// loadServerConfig overlays a TOML file on top of the defaults. Keys absent
// from the file keep their default.
func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load gateway config: %w", err)
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}
	if meta.IsDefined("token") {
		cfg.Token = strings.TrimSpace(raw.Token)
	}
	if meta.IsDefined("contents_root") {
		cfg.ContentsRoot = strings.TrimSpace(raw.ContentsRoot)
	}

	return cfg, nil
}
