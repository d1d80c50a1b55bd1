// Package config loads and validates the loopdeck.toml configuration file.
package config

// Config is the top-level configuration structure mapping to loopdeck.toml.
type Config struct {
	Server Server           `toml:"server"`
	Loop   Loop             `toml:"loop"`
	Agents map[string]Agent `toml:"agents"`
}

// Server maps to the [server] section in loopdeck.toml.
type Server struct {
	// Addr is the listen address for the panel API, e.g. "127.0.0.1:7420".
	Addr string `toml:"addr"`

	// AllowedOrigins lists CORS origins permitted to call the API. An empty
	// list allows only same-origin requests.
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Loop maps to the [loop] section in loopdeck.toml.
type Loop struct {
	// MaxTurns is the default iteration bound applied when a start request
	// does not specify one.
	MaxTurns int `toml:"max_turns"`

	// DataDir is the directory where loop task history is persisted.
	DataDir string `toml:"data_dir"`

	// AllowedPaths restricts which reported file modifications are surfaced
	// in iteration summaries. Doublestar glob patterns; empty means all.
	AllowedPaths []string `toml:"allowed_paths"`

	// WorkerAgent and ReviewerAgent name entries in the [agents] table.
	WorkerAgent   string `toml:"worker_agent"`
	ReviewerAgent string `toml:"reviewer_agent"`
}

// Agent maps to an [agents.<name>] section in loopdeck.toml. It describes
// how to spawn one AI-CLI binary.
type Agent struct {
	// Command is the CLI executable name (e.g., "claude").
	Command string `toml:"command"`

	// Model is the AI model identifier passed via --model.
	Model string `toml:"model"`

	// AllowedTools is a comma-separated list of tools the agent may invoke.
	AllowedTools string `toml:"allowed_tools"`

	// ExtraArgs are appended verbatim to the spawn argument list.
	ExtraArgs []string `toml:"extra_args"`
}
