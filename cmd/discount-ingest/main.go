// Command discount-ingest loads bulk discount-code dumps into the discounts
// table. Vendor dumps overlap and contain junk lines, so a code is accepted
// only when it appears in at least two of the input files. A two-pass scan
// with per-file bloom filters keeps memory bounded: pass 1 builds a filter
// per file, pass 2 collects only codes that another file's filter also saw.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quanghm/orderflow/internal/repository"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	numFiles      = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// codeRule describes the discount to create for a known code.
type codeRule struct {
	value         int64 // percent
	minOrderValue int64
	maxAmount     int64 // 0 means uncapped
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {value: 50, minOrderValue: 200000},
	"HAPPYHRS": {value: 18},
	"GNULINUX": {value: 15},
	"BIRTHDAY": {value: 25, maxAmount: 100000},
}

var defaultRule = codeRule{value: 10, maxAmount: 50000}

const upsertDiscountSQL = `INSERT INTO discounts
	(id, code, value, min_order_value, max_discount_amount, start_date, end_date, is_active)
	VALUES ($1, $2, $3, $4, NULLIF($5, 0::numeric), $6, $7, TRUE)
	ON CONFLICT (code) DO NOTHING`

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing discountbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("discount ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	dumps := make([]string, numFiles)
	for i := range numFiles {
		dumps[i] = filepath.Join(dataDir, fmt.Sprintf("discountbase%d.gz", i+1))
		if _, err := os.Stat(dumps[i]); err != nil {
			return errors.Wrapf(err, "check file %s", dumps[i])
		}
	}

	ing := &ingester{dumps: dumps}

	slog.Info("pass 1: building bloom filters")
	if err := ing.buildFilters(ctx); err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	slog.Info("pass 2: collecting candidate codes")
	codes, err := ing.collectValid(ctx)
	if err != nil {
		return errors.Wrap(err, "collect valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return errors.Wrap(writeDiscounts(ctx, pool, codes), "write discounts to database")
}

// ingester holds per-dump bloom filters between the two passes.
type ingester struct {
	dumps   []string
	filters []*bloom.BloomFilter
}

// buildFilters streams every dump once and records each plausible code in
// that dump's own filter.
func (ing *ingester) buildFilters(ctx context.Context) error {
	ing.filters = make([]*bloom.BloomFilter, len(ing.dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range ing.dumps {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var seen uint64

			err := forEachLine(ctx, path, func(code string) {
				if !plausibleCode(code) {
					return
				}
				filter.AddString(code)
				if seen++; seen%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", seen))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", seen))
			ing.filters[i] = filter
			return nil
		})
	}
	return g.Wait()
}

// collectValid streams every dump again, testing each code against the OTHER
// dumps' filters. Codes carry a bitmask of the dumps they were seen in; two
// or more set bits after merging means the code is valid.
func (ing *ingester) collectValid(ctx context.Context) ([]string, error) {
	perDump := make([]map[string]uint, len(ing.dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range ing.dumps {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			var seen uint64

			err := forEachLine(ctx, path, func(code string) {
				if !plausibleCode(code) {
					return
				}
				if seen++; seen%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.Int("file", i+1), slog.Uint64("codes", seen))
				}
				for j, f := range ing.filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			slog.Info("pass 2 complete",
				slog.Int("file", i+1),
				slog.Uint64("total_codes", seen),
				slog.Int("candidates", len(candidates)),
			)
			perDump[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range perDump {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}
	return valid, nil
}

func plausibleCode(code string) bool {
	return len(code) >= minCodeLen && len(code) <= maxCodeLen
}

// forEachLine streams a gzip-compressed dump line by line.
func forEachLine(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// writeDiscounts inserts all valid codes, skipping ones already present.
func writeDiscounts(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("writing discounts to database", slog.Int("count", len(codes)))

	now := time.Now()
	for i, code := range codes {
		rule, ok := codeRules[code]
		if !ok {
			rule = defaultRule
		}

		_, err := pool.Exec(ctx, upsertDiscountSQL,
			uuid.NewString(), code,
			decimal.NewFromInt(rule.value),
			decimal.NewFromInt(rule.minOrderValue),
			decimal.NewFromInt(rule.maxAmount),
			now, now.AddDate(1, 0, 0),
		)
		if err != nil {
			return errors.Wrapf(err, "insert discount %s", code)
		}

		if (i+1)%100_000 == 0 {
			slog.Info("write progress", slog.Int("written", i+1))
		}
	}
	return nil
}
