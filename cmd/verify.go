// cmd/verify.go
package cmd

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"media-vault/internal/config"
	"media-vault/internal/engine"
)

// Verify checks every tree leaf against the backend.
func Verify() error {
	cfgPath := flag.String("config", "configs/main.yaml", "path to yaml config")
	dbID := flag.String("db", "", "database id from config")
	full := flag.Bool("full", false, "rehash every file regardless of metadata agreement")
	filter := flag.String("filter", "", "only verify names with this prefix")
	flag.Parse()

	if *dbID == "" {
		return fmt.Errorf("verify: -db is required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := newLogger(cfg)
	ctx := context.Background()

	eng, err := openEngine(ctx, cfg, *dbID, true, log)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	summary, err := eng.Verify(ctx, engine.VerifyOptions{Full: *full, PathFilter: *filter})
	if err != nil {
		return err
	}

	fmt.Printf("unmodified %d, modified %d, new %d, removed %d, failures %d\n",
		summary.NumUnmodified, len(summary.Modified), len(summary.New), len(summary.Removed), summary.NumFailures)
	for _, m := range summary.Modified {
		fmt.Printf("  modified %s: %s\n", m.Name, strings.Join(m.Reasons, ", "))
	}
	for _, name := range summary.Removed {
		fmt.Printf("  removed %s\n", name)
	}
	for _, name := range summary.New {
		fmt.Printf("  new %s\n", name)
	}
	if len(summary.Modified) > 0 || len(summary.Removed) > 0 || summary.NumFailures > 0 {
		return errPartial
	}
	return nil
}
