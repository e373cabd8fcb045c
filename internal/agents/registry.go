package agents

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cedar/internal/llm"
	"cedar/internal/logging"
)

// Definition describes one configurable prompt agent in agents.yaml.
type Definition struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	Enabled      *bool  `yaml:"enabled,omitempty"`
}

type registryFile struct {
	Agents []Definition `yaml:"agents"`
}

// DefaultAgents returns the built-in agent set.
func DefaultAgents(client llm.Client) []Agent {
	return []Agent{
		NewCodeAgent(client),
		NewMathAgent(client),
		NewGeneralAgent(client),
	}
}

// LoadRegistry reads agent definitions from a YAML file and returns the
// built-in agents plus one prompt agent per enabled definition. A
// missing file is not an error; the built-in set is returned alone.
// Definitions whose name collides with a built-in agent are skipped.
func LoadRegistry(path string, client llm.Client) ([]Agent, error) {
	loaded := DefaultAgents(client)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.AgentsDebug("No agent registry at %s, using built-in agents", path)
		return loaded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent registry %s: %w", path, err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent registry %s: %w", path, err)
	}

	seen := make(map[string]bool, len(loaded))
	for _, a := range loaded {
		seen[a.Name()] = true
	}

	for _, def := range file.Agents {
		if def.Enabled != nil && !*def.Enabled {
			continue
		}
		if def.Name == "" || def.SystemPrompt == "" {
			logging.AgentsError("Skipping invalid agent definition (name=%q)", def.Name)
			continue
		}
		if seen[def.Name] {
			logging.AgentsError("Skipping duplicate agent definition %q", def.Name)
			continue
		}
		seen[def.Name] = true
		loaded = append(loaded, &promptAgent{
			name:         def.Name,
			systemPrompt: def.SystemPrompt,
			client:       client,
		})
	}

	logging.Agents("Agent registry loaded: %d agents", len(loaded))
	return loaded, nil
}
