package main

import (
	"context"
	"fmt"

	"github.com/inkforge/orchestrator/pkg/config"
	"github.com/inkforge/orchestrator/pkg/store"
)

// MigrateCmd applies the schema and exits, for use in a deploy step
// ahead of starting any serve/worker process.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	pool := config.NewDBPool()
	defer pool.Close()

	st, err := store.Open(pool, &cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Println("schema migrated")
	return nil
}
