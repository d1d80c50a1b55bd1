package config

// NewDefaults returns a Config populated with all default values. A default
// configuration is runnable as long as the "claude" CLI is on PATH.
func NewDefaults() *Config {
	return &Config{
		Server: Server{
			Addr: "127.0.0.1:7420",
		},
		Loop: Loop{
			MaxTurns:      5,
			DataDir:       ".loopdeck/history",
			WorkerAgent:   "claude",
			ReviewerAgent: "claude",
		},
		Agents: map[string]Agent{
			"claude": {
				Command: "claude",
			},
		},
	}
}
