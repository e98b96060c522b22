// Command usage-import loads historical voucher usage records from JSON
// Lines files (optionally gzip-compressed) into PostgreSQL.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/voucher-engine/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		databaseURL string
		batchSize   int
		workers     int
		expected    uint
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl or *.jsonl.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch", 1000, "records per insert batch")
	flag.IntVar(&workers, "workers", 4, "files imported concurrently")
	flag.UintVar(&expected, "expected", 10_000_000, "expected total record count, sizes the dedup filter")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, expected, batchSize, workers); err != nil {
		slog.Error("usage import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("usage import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, expected uint, batchSize, workers int) error {
	files, err := listFiles(dataDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		slog.Info("no files to import", slog.String("dir", dataDir))
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	im := newImporter(postgres.NewUsageRepository(pool), expected, batchSize, workers)
	if err := im.preload(ctx); err != nil {
		return err
	}
	slog.Info("importing", slog.Int("files", len(files)))
	if err := im.run(ctx, files); err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int64("lines", im.stats.lines.Load()),
		slog.Int64("inserted", im.stats.inserted.Load()),
		slog.Int64("skipped", im.stats.skipped.Load()),
		slog.Int64("invalid", im.stats.invalid.Load()),
	)
	return nil
}

// listFiles returns the importable files of dir in name order.
func listFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.jsonl", "*.jsonl.gz"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.Wrapf(err, "glob %s", pattern)
		}
		files = append(files, matches...)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrapf(err, "check dir %s", dir)
	}
	slices.Sort(files)
	return files, nil
}
