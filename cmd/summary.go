// cmd/summary.go
package cmd

import (
	"context"
	"flag"
	"fmt"

	"media-vault/internal/config"
)

// Summary prints the database-wide integrity summary.
func Summary() error {
	cfgPath := flag.String("config", "configs/main.yaml", "path to yaml config")
	dbID := flag.String("db", "", "database id from config")
	flag.Parse()

	if *dbID == "" {
		return fmt.Errorf("summary: -db is required")
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

	s := eng.Summary()
	fmt.Printf("tree:       %s\n", s.TreeID)
	fmt.Printf("assets:     %d\n", s.TotalAssets)
	fmt.Printf("bytes:      %d\n", s.TotalBytes)
	fmt.Printf("imported:   %d\n", s.FilesImported)
	fmt.Printf("root hash:  %s\n", s.RootHash)
	return nil
}
