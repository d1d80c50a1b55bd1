package loop

import (
	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/session"
)

// buildSpawnSpec constructs the agent invocation for one turn. The prompt is
// delivered on stdin rather than as an argument so that long task
// descriptions never hit OS arg-length limits. modelOverride, when set,
// takes precedence over the agent's configured model.
func buildSpawnSpec(agent config.Agent, modelOverride, prompt, dir string) session.SpawnSpec {
	var args []string

	args = append(args, "--print")
	args = append(args, "--output-format", "stream-json")
	args = append(args, "--verbose")

	model := modelOverride
	if model == "" {
		model = agent.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if agent.AllowedTools != "" {
		args = append(args, "--allowedTools", agent.AllowedTools)
	}

	args = append(args, agent.ExtraArgs...)

	return session.SpawnSpec{
		Command: agent.Command,
		Args:    args,
		Dir:     dir,
		Input:   prompt,
	}
}
