// cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/unclebandit/linkcast-backend/internal/config"
	"github.com/unclebandit/linkcast-backend/internal/db"
	"github.com/unclebandit/linkcast-backend/internal/logger"
)

// seedFiles lists the files to apply: the arguments if any, otherwise every
// *.sql under SEED_DIR (default "seed") in name order.
func seedFiles(args []string, dir string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Log.Level, cfg.Log.Console)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to DB")
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}
	log.Info().Msg("schema applied")

	dir := os.Getenv("SEED_DIR")
	if dir == "" {
		dir = "seed"
	}
	files, err := seedFiles(os.Args[1:], dir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list seed files")
	}

	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("failed to read seed file")
		}
		if _, err := database.ExecContext(ctx, string(content)); err != nil {
			log.Fatal().Err(fmt.Errorf("execute %s: %w", file, err)).Msg("seeding failed")
		}
		log.Info().Str("file", file).Msg("seeded")
	}

	log.Info().Int("files", len(files)).Msg("database seeding completed successfully")
}
