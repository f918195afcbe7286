package main

import (
	"context"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/cortexd/runtime/internal/config"
	"github.com/cortexd/runtime/internal/entity"
)

// buildMigrateEntitiesCmd builds the "migrate-entities" command: apply
// the retired-tool-name table across every persisted entity's tool
// list as a one-off batch rewrite, rather than relying on every future
// resolve call to translate old names forever.
func buildMigrateEntitiesCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "migrate-entities",
		Short: "Rewrite every entity's tool list through the retired-tool-name table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateEntities(cmd.Context(), cmd, configPath, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "cortexd.yaml", "path to the configuration file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")

	return cmd
}

func runMigrateEntities(ctx context.Context, cmd *cobra.Command, configPath string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := entity.New(entity.Config{DSN: cfg.EntityStore.DSN})
	if err != nil {
		return err
	}
	defer store.Close()

	entities, err := store.ListAll(ctx)
	if err != nil {
		return err
	}

	var changed int
	for _, e := range entities {
		migrated := entity.MigrateToolNames(e.Tools)
		if reflect.DeepEqual(migrated, e.Tools) {
			continue
		}
		changed++
		cmd.PrintErrf("entity %s (%s): %v -> %v\n", e.ID, e.Name, e.Tools, migrated)
		if dryRun {
			continue
		}
		e.Tools = migrated
		if err := store.Update(ctx, e); err != nil {
			return err
		}
	}

	if dryRun {
		cmd.PrintErrf("dry run: %d of %d entities would change\n", changed, len(entities))
	} else {
		cmd.PrintErrf("migrated %d of %d entities\n", changed, len(entities))
	}
	return nil
}
