package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/pkg/models"
)

// buildImportMemoriesCmd builds the "import-memories" command: load a
// JSON file produced by export-memories and upsert every node back
// into cold memory. Upsert is idempotent by ID, so re-running an
// import is safe.
func buildImportMemoriesCmd() *cobra.Command {
	var (
		configPath string
		in         string
	)

	cmd := &cobra.Command{
		Use:   "import-memories",
		Short: "Import cold memory nodes from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportMemories(cmd, configPath, in)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cortexd.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&in, "in", "", "input JSON file produced by export-memories (required)")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func runImportMemories(cmd *cobra.Command, configPath, in string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(in)
	if err != nil {
		return apperrors.Wrap(apperrors.Configuration, "import-memories", err)
	}
	var dtos []memoryNodeDTO
	if err := json.Unmarshal(raw, &dtos); err != nil {
		return apperrors.Wrap(apperrors.Validation, "import-memories", fmt.Errorf("parse %s: %w", in, err))
	}

	cold, closeFn, err := buildColdIndexOnly(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	nodes := make([]*models.MemoryNode, 0, len(dtos))
	for _, d := range dtos {
		n, err := dtoToNode(d)
		if err != nil {
			return apperrors.Wrap(apperrors.Validation, "import-memories", fmt.Errorf("node %s: %w", d.ID, err))
		}
		nodes = append(nodes, n)
	}

	if err := cold.Upsert(cmd.Context(), nodes); err != nil {
		return err
	}

	cmd.PrintErrf("imported %d memory node(s) from %s\n", len(nodes), in)
	return nil
}
