package rules

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalstack/signal-engine/internal/models"
	"github.com/signalstack/signal-engine/internal/utils"
)

type workflowPack struct {
	Workflows []models.Workflow `yaml:"workflows"`
}

// LoadPack registers workflow definitions from a yaml file. A missing
// file is not an error: deployments may start with no seeded workflows.
// Invalid definitions abort the load so a broken pack is caught at boot.
func (e *Engine) LoadPack(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			e.logger.Info("no workflow pack found, starting empty", slog.String("path", path))
			return nil
		}
		return utils.NewAppError("rules.load_pack", "read workflow pack", err)
	}

	var pack workflowPack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return utils.NewAppError("rules.load_pack", "parse workflow pack "+path, err)
	}

	for _, def := range pack.Workflows {
		if _, err := e.Create(def); err != nil {
			return fmt.Errorf("workflow pack %s: %q: %w", path, def.Name, err)
		}
	}
	e.logger.Info("workflow pack loaded",
		slog.String("path", path), slog.Int("workflows", len(pack.Workflows)))
	return nil
}
