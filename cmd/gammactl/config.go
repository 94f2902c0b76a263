//go:build linux

package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/gammactl/internal/daemon"
	"github.com/danmuck/gammactl/internal/logging"
)

// gammactl config.toml key mapping to daemon settings.
type fileConfig struct {
	ID              string       `toml:"id"`
	SocketPath      string       `toml:"socket_path"`
	QueueSize       int          `toml:"queue_size"`
	AdminListenAddr string       `toml:"admin_listen_addr"`
	AdminToken      string       `toml:"admin_token"`
	CORSOrigins     []string     `toml:"cors_origins"`
	MaxRampBytes    int          `toml:"max_ramp_bytes"`
	LogLevel        string       `toml:"log_level"`
	LogFile         string       `toml:"log_file"`
	LogFormat       string       `toml:"log_format"`
	Outputs         []fileOutput `toml:"outputs"`
}

type fileOutput struct {
	Name      string `toml:"name"`
	GammaSize uint32 `toml:"gamma_size"`
	Gamma     *bool  `toml:"gamma"`
}

type runtimeConfig struct {
	Service daemon.ServiceConfig
	Log     logging.Config
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Service: daemon.DefaultServiceConfig(),
		Log:     logging.DefaultConfig(logging.ProfileRuntime),
	}
}

// gammactl loader for TOML config with default overlay.
func loadServiceConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load gammactl config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.Service.NodeID = id
		}
	}
	if meta.IsDefined("socket_path") {
		cfg.Service.Transport.SocketPath = strings.TrimSpace(raw.SocketPath)
	}
	if meta.IsDefined("queue_size") {
		if raw.QueueSize <= 0 {
			return runtimeConfig{}, fmt.Errorf("queue_size must be positive, got %d", raw.QueueSize)
		}
		cfg.Service.Transport.QueueSize = raw.QueueSize
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Service.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Service.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("max_ramp_bytes") {
		if raw.MaxRampBytes <= 0 {
			return runtimeConfig{}, fmt.Errorf("max_ramp_bytes must be positive, got %d", raw.MaxRampBytes)
		}
		cfg.Service.MaxRampBytes = raw.MaxRampBytes
	}
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return runtimeConfig{}, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
		cfg.Log.Level = lvl
	}
	if meta.IsDefined("log_file") {
		cfg.Log.File = logging.FileConfig{
			Path:       strings.TrimSpace(raw.LogFile),
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		}
	}
	if meta.IsDefined("log_format") {
		switch strings.ToLower(strings.TrimSpace(raw.LogFormat)) {
		case "json":
			cfg.Log.JSON = true
		case "console", "text", "":
			cfg.Log.JSON = false
		default:
			return runtimeConfig{}, fmt.Errorf("parse log_format: unknown format %q", raw.LogFormat)
		}
	}
	if meta.IsDefined("outputs") {
		outputs, err := parseOutputs(raw.Outputs)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Service.Outputs = outputs
	}

	if err := cfg.Service.Validate(); err != nil {
		return runtimeConfig{}, err
	}
	return cfg, nil
}

// gamma defaults to enabled when an output entry omits it.
func parseOutputs(in []fileOutput) ([]daemon.OutputConfig, error) {
	out := make([]daemon.OutputConfig, 0, len(in))
	for i, o := range in {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return nil, fmt.Errorf("outputs[%d]: missing name", i)
		}
		gamma := true
		if o.Gamma != nil {
			gamma = *o.Gamma
		}
		out = append(out, daemon.OutputConfig{
			Name:      name,
			GammaSize: o.GammaSize,
			Gamma:     gamma,
		})
	}
	return out, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
