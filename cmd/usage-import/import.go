package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/voucher-engine/internal/domain/usage"
)

// sink is where imported records are written.
type sink interface {
	Insert(ctx context.Context, records []usage.Record) (int64, error)
	Exists(ctx context.Context, id string) (bool, error)
	EachID(ctx context.Context, fn func(id string) error) error
}

// stats counts the outcome of an import.
type stats struct {
	lines    atomic.Int64
	invalid  atomic.Int64
	skipped  atomic.Int64
	inserted atomic.Int64
}

type importer struct {
	sink      sink
	batchSize int
	workers   int

	// seen holds every id already stored or queued in this run. A bloom
	// hit is only a hint and is confirmed with sink.Exists.
	mu   sync.Mutex
	seen *bloom.BloomFilter

	stats stats
}

func newImporter(s sink, expected uint, batchSize, workers int) *importer {
	return &importer{
		sink:      s,
		batchSize: max(batchSize, 1),
		workers:   max(workers, 1),
		seen:      bloom.NewWithEstimates(max(expected, 1024), 0.001),
	}
}

// preload adds every stored id to the seen filter.
func (im *importer) preload(ctx context.Context) error {
	var n int
	err := im.sink.EachID(ctx, func(id string) error {
		im.seen.AddString(id)
		n++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "load stored ids")
	}
	slog.Info("loaded stored ids", slog.Int("count", n))
	return nil
}

// run imports files concurrently, at most im.workers at a time.
func (im *importer) run(ctx context.Context, files []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for _, path := range files {
		g.Go(func() error {
			if err := im.importFile(ctx, path); err != nil {
				return errors.Wrapf(err, "import %s", path)
			}
			return nil
		})
	}
	return g.Wait()
}

func (im *importer) importFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var (
		batch    = make([]usage.Record, 0, im.batchSize)
		lineNo   int
		inserted int64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.sink.Insert(ctx, batch)
		if err != nil {
			return errors.Wrapf(err, "insert batch ending at line %d", lineNo)
		}
		inserted += n
		im.stats.inserted.Add(n)
		// Ids lost to a concurrent writer still count as skipped.
		im.stats.skipped.Add(int64(len(batch)) - n)
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		im.stats.lines.Add(1)

		rec, err := decodeRecord(line)
		if err != nil {
			im.stats.invalid.Add(1)
			slog.Warn("skip invalid record",
				slog.String("file", path),
				slog.Int("line", lineNo),
				slog.String("error", err.Error()),
			)
			continue
		}

		dup, err := im.duplicate(ctx, rec.ID)
		if err != nil {
			return err
		}
		if dup {
			im.stats.skipped.Add(1)
			continue
		}

		batch = append(batch, rec)
		if len(batch) == im.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	if err := flush(); err != nil {
		return err
	}

	slog.Info("file imported",
		slog.String("file", path),
		slog.Int("lines", lineNo),
		slog.Int64("inserted", inserted),
	)
	return nil
}

// duplicate reports whether id is already stored. Unseen ids are marked as
// seen so later occurrences in this run go through the exact check.
func (im *importer) duplicate(ctx context.Context, id string) (bool, error) {
	im.mu.Lock()
	maybe := im.seen.TestOrAddString(id)
	im.mu.Unlock()
	if !maybe {
		return false, nil
	}
	ok, err := im.sink.Exists(ctx, id)
	if err != nil {
		return false, errors.Wrapf(err, "check %s", id)
	}
	return ok, nil
}
