// Package config loads the TOML configuration shared by the serving
// surfaces: the run endpoint settings and the memory defaults agents
// are assembled with.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server Server `toml:"server"`
	Memory Memory `toml:"memory"`
}

// Server configures the AG-UI run endpoint.
type Server struct {
	Addr             string `toml:"addr"`
	DefaultAgent     string `toml:"default_agent"`
	RunTimeoutSecs   int    `toml:"run_timeout_secs"`
	ToolMergeMode    string `toml:"tool_merge_mode"`
	EmitStateEvents  bool   `toml:"emit_state_events"`
	EmitToolCallArgs bool   `toml:"emit_tool_call_args"`
	EnableReasoning  bool   `toml:"enable_reasoning"`
}

// Memory carries the auto-context memory defaults. Zero fields mean
// "keep the built-in default".
type Memory struct {
	MsgThreshold int     `toml:"msg_threshold"`
	MaxTokens    int     `toml:"max_tokens"`
	TokenRatio   float64 `toml:"token_ratio"`
	LastKeep     int     `toml:"last_keep"`
	MinToolRun   int     `toml:"min_tool_run"`
	LargePayload int     `toml:"large_payload"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: Server{
			Addr:             ":8080",
			ToolMergeMode:    "MERGE_FRONTEND_PRIORITY",
			EmitToolCallArgs: true,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "loom.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("LOOM_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOOM_DEFAULT_AGENT"); v != "" {
		cfg.Server.DefaultAgent = v
	}
	if v := os.Getenv("LOOM_RUN_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Server.RunTimeoutSecs = secs
		}
	}
	if v := os.Getenv("LOOM_TOOL_MERGE_MODE"); v != "" {
		cfg.Server.ToolMergeMode = v
	}

	return cfg
}
