// cmd/add.go
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"media-vault/internal/config"
	"media-vault/internal/engine"
)

// Add imports every file under a source directory into a database.
func Add() error {
	cfgPath := flag.String("config", "configs/main.yaml", "path to yaml config")
	dbID := flag.String("db", "", "database id from config")
	source := flag.String("source", "", "directory to import")
	ignore := flag.String("ignore", "", "comma-separated glob patterns to skip")
	flag.Parse()

	if *dbID == "" || *source == "" {
		return fmt.Errorf("add: -db and -source are required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	log := newLogger(cfg)
	ctx := context.Background()

	eng, err := openEngine(ctx, cfg, *dbID, false, log)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	patterns := splitPatterns(*ignore)

	var added, existing, failed int
	err = filepath.WalkDir(*source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if matchesAny(patterns, d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			failed++
			log.Errorf("stat %s: %v", path, err)
			return nil
		}
		res, err := eng.AddFile(ctx, engine.AddRequest{
			Path:         path,
			Length:       info.Size(),
			LastModified: info.ModTime().UTC(),
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
		if err != nil {
			failed++
			log.Errorf("adding %s: %v", path, err)
			return nil
		}
		if res.Existing {
			existing++
		} else {
			added++
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("added %d, already present %d, failed %d\n", added, existing, failed)
	if failed > 0 {
		return errPartial
	}
	return nil
}

func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
