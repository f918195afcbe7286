package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/pkg/models"
)

// buildExportMemoriesCmd builds the "export-memories" command: dump
// every cold-memory node for an (entity, user) scope to a JSON file,
// for backup or migration between cold memory backends.
func buildExportMemoriesCmd() *cobra.Command {
	var (
		configPath string
		entityID   string
		userID     string
		types      string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "export-memories",
		Short: "Export cold memory nodes for an entity/user to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var nodeTypes []models.NodeType
			if types != "" {
				for _, t := range strings.Split(types, ",") {
					nodeTypes = append(nodeTypes, models.NodeType(strings.ToUpper(strings.TrimSpace(t))))
				}
			}
			return runExportMemories(cmd, configPath, entityID, userID, nodeTypes, out)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cortexd.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&entityID, "entity", "", "entity ID to export (required)")
	cmd.Flags().StringVar(&userID, "user", "", "user ID to export (required)")
	cmd.Flags().StringVar(&types, "types", "", "comma-separated node types to export (default: all types)")
	cmd.Flags().StringVar(&out, "out", "-", "output file path, or - for stdout")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runExportMemories(cmd *cobra.Command, configPath, entityID, userID string, types []models.NodeType, out string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cold, closeFn, err := buildColdIndexOnly(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	nodes, err := cold.GetByType(cmd.Context(), entityID, userID, types)
	if err != nil {
		return err
	}

	dtos := make([]memoryNodeDTO, len(nodes))
	for i, n := range nodes {
		dtos[i] = nodeToDTO(n)
	}

	w := cmd.OutOrStdout()
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dtos); err != nil {
		return err
	}

	cmd.PrintErrf("exported %d memory node(s) for entity=%s user=%s\n", len(dtos), entityID, userID)
	return nil
}
