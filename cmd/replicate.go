// cmd/replicate.go
package cmd

import (
	"context"
	"flag"
	"fmt"

	"media-vault/internal/config"
	"media-vault/internal/engine"
)

// Replicate copies a source database into a destination database,
// driven by the two merkle trees.
func Replicate() error {
	cfgPath := flag.String("config", "configs/main.yaml", "path to yaml config")
	srcID := flag.String("src", "", "source database id")
	destID := flag.String("dest", "", "destination database id")
	filter := flag.String("filter", "", "only replicate names with this prefix")
	flag.Parse()

	if *srcID == "" || *destID == "" {
		return fmt.Errorf("replicate: -src and -dest are required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := newLogger(cfg)
	ctx := context.Background()

	src, err := openEngine(ctx, cfg, *srcID, true, log)
	if err != nil {
		return err
	}
	defer src.Close(ctx)

	dest, err := openEngine(ctx, cfg, *destID, false, log)
	if err != nil {
		return err
	}
	defer dest.Close(ctx)

	summary, err := src.Replicate(ctx, dest, engine.ReplicateOptions{PathFilter: *filter})
	if err != nil {
		return err
	}

	fmt.Printf("considered %d, existing %d, copied %d, failures %d\n",
		summary.FilesConsidered, summary.ExistingFiles, summary.CopiedFiles, summary.NumFailures)
	if summary.NumFailures > 0 {
		return errPartial
	}
	return nil
}
