package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/storage/postgres"
	"github.com/cartstream/storefront/pkg/ist"
)

const (
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxFiles      = 64
)

// Columns of a coupon export. The header row is required; extra columns are
// ignored and missing optional columns stay empty.
const (
	colCode           = "code"
	colDescription    = "description"
	colDiscountType   = "discount_type"
	colValue          = "value"
	colActive         = "active"
	colStartAt        = "start_at"
	colEndAt          = "end_at"
	colMinOrderAmount = "min_order_amount"
	colMaxUses        = "max_uses"
)

var requiredColumns = []string{colCode, colDiscountType, colValue}

// couponWriter is the storage used by the write pass.
type couponWriter interface {
	UpsertMany(ctx context.Context, coupons []coupon.Coupon) error
}

type options struct {
	expected  uint
	batchSize int
	createdBy int64
	dryRun    bool
}

// fileResult holds codes of one file that may also appear in another file.
type fileResult struct {
	candidates map[string]uint
}

// writeStats summarises the write pass for one file.
type writeStats struct {
	written   int
	conflicts int
	invalid   int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		opts        options
	)

	flag.StringVar(&dataDir, "data-dir", "data/coupons", "directory containing *.csv.gz coupon exports")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected number of codes per file, sizes the bloom filters")
	flag.IntVar(&opts.batchSize, "batch-size", 500, "coupons per database round trip")
	flag.Int64Var(&opts.createdBy, "created-by", 0, "user id recorded as creator of new coupons (0 for none)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate files without writing to the database")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("list coupon files", slog.String("error", err.Error()))
			os.Exit(1)
		}
		files = matches
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, opts); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, opts options) error {
	switch {
	case len(files) == 0:
		return errors.New("no coupon files to import")
	case len(files) > maxFiles:
		return errors.Errorf("too many files: %d (max %d)", len(files), maxFiles)
	case opts.batchSize <= 0:
		return errors.New("batch size must be positive")
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: one bloom filter of codes per file.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, opts.expected)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: codes defined by more than one file are ambiguous and skipped.
	slog.Info("pass 2: finding conflicting codes")

	conflicts, err := findConflicts(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "find conflicts")
	}
	for code := range conflicts {
		slog.Warn("code defined in several files, skipping", slog.String("code", code))
	}

	var store couponWriter = discardWriter{}
	if !opts.dryRun {
		slog.Info("connecting to database")

		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		store = postgres.NewCouponRepository(pool)
	}

	// Pass 3: validate and upsert in batches.
	slog.Info("pass 3: writing coupons", slog.Bool("dry_run", opts.dryRun))

	stats, err := writeFiles(ctx, files, conflicts, store, opts)
	if err != nil {
		return errors.Wrap(err, "write coupons")
	}

	var total writeStats
	for _, s := range stats {
		total.written += s.written
		total.conflicts += s.conflicts
		total.invalid += s.invalid
	}
	slog.Info("import summary",
		slog.Int("written", total.written),
		slog.Int("conflicts", total.conflicts),
		slog.Int("invalid", total.invalid),
	)

	return nil
}

type discardWriter struct{}

func (discardWriter) UpsertMany(context.Context, []coupon.Coupon) error { return nil }

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, bloomFPR)
			var count int

			if err := streamCouponFile(ctx, f, func(row map[string]string) error {
				if code := row[colCode]; code != "" {
					filter.AddString(code)
					count++
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			slog.Info("pass 1 complete", slog.String("file", f), slog.Int("codes", count))

			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

// findConflicts re-streams each file and checks codes against the other
// files' bloom filters. Bloom filters have no false negatives, so a code in
// two files is flagged by both and its merged mask has at least two bits.
func findConflicts(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)

			if err := streamCouponFile(ctx, f, func(row map[string]string) error {
				code := row[colCode]
				if code == "" {
					return nil
				}
				for j, other := range filters {
					if j != i && other.TestString(code) {
						candidates[code] |= fileBit
						break
					}
				}
				return nil
			}); err != nil {
				return errors.Wrapf(err, "scan %s for conflicts", f)
			}

			slog.Info("pass 2 complete", slog.String("file", f), slog.Int("candidates", len(candidates)))

			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	conflicts := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			conflicts[code] = struct{}{}
		}
	}

	return conflicts, nil
}

func writeFiles(ctx context.Context, files []string, conflicts map[string]struct{}, store couponWriter, opts options) ([]writeStats, error) {
	stats := make([]writeStats, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			var (
				s     writeStats
				batch = make([]coupon.Coupon, 0, opts.batchSize)
				now   = ist.Now()
				line  = 1
			)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := store.UpsertMany(ctx, batch); err != nil {
					return err
				}
				s.written += len(batch)
				if s.written%progressEvery < len(batch) {
					slog.Info("write progress", slog.String("file", f), slog.Int("written", s.written))
				}
				batch = batch[:0]
				return nil
			}

			err := streamCouponFile(ctx, f, func(row map[string]string) error {
				line++
				if _, ok := conflicts[row[colCode]]; ok {
					s.conflicts++
					return nil
				}
				c, err := parseCoupon(row, now, opts.createdBy)
				if err != nil {
					s.invalid++
					slog.Warn("invalid coupon row",
						slog.String("file", f),
						slog.Int("line", line),
						slog.String("code", row[colCode]),
						slog.String("error", err.Error()),
					)
					return nil
				}
				batch = append(batch, c)
				if len(batch) == opts.batchSize {
					return flush()
				}
				return nil
			})
			if err == nil {
				err = flush()
			}
			if err != nil {
				return errors.Wrapf(err, "write %s", f)
			}

			slog.Info("pass 3 complete",
				slog.String("file", f),
				slog.Int("written", s.written),
				slog.Int("conflicts", s.conflicts),
				slog.Int("invalid", s.invalid),
			)

			stats[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return stats, nil
}

// parseCoupon converts a CSV row into a coupon, applying the same checks as
// coupons created through the API.
func parseCoupon(row map[string]string, now time.Time, createdBy int64) (coupon.Coupon, error) {
	req := coupon.CreateRequest{
		Code:         row[colCode],
		DiscountType: coupon.DiscountType(strings.ToLower(row[colDiscountType])),
		Active:       true,
	}

	if d := row[colDescription]; d != "" {
		req.Description = &d
	}

	value, err := decimal.NewFromString(row[colValue])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse value")
	}
	req.Value = value

	if v := row[colActive]; v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "parse active")
		}
		req.Active = active
	}

	if v := row[colMinOrderAmount]; v != "" {
		amount, err := decimal.NewFromString(v)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "parse min_order_amount")
		}
		req.MinOrderAmount = decimal.NewNullDecimal(amount)
	}

	if v := row[colMaxUses]; v != "" {
		maxUses, err := strconv.Atoi(v)
		if err != nil {
			return coupon.Coupon{}, errors.Wrap(err, "parse max_uses")
		}
		req.MaxUses = maxUses
	}

	if req.StartAt, err = parseTime(row[colStartAt]); err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse start_at")
	}
	if req.EndAt, err = parseTime(row[colEndAt]); err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse end_at")
	}

	if err := req.Validate(); err != nil {
		return coupon.Coupon{}, err
	}

	c := coupon.Coupon{
		Code:           req.Code,
		Description:    req.Description,
		DiscountType:   req.DiscountType,
		Value:          req.Value,
		Active:         req.Active,
		StartAt:        req.StartAt,
		EndAt:          req.EndAt,
		MinOrderAmount: req.MinOrderAmount,
		MaxUses:        req.MaxUses,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if createdBy != 0 {
		c.CreatedBy = &createdBy
	}
	return c, nil
}

// parseTime accepts RFC 3339 or a bare date; zoneless values are IST.
func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		t, err := time.ParseInLocation(layout, v, ist.Location)
		if err == nil {
			t = ist.In(t)
			return &t, nil
		}
	}
	return nil, errors.Errorf("unsupported time %q", v)
}

// streamCouponFile opens a gzip-compressed CSV export and calls fn for each
// data row keyed by header name. Cells are trimmed.
func streamCouponFile(ctx context.Context, path string, fn func(row map[string]string) error) error {
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

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return errors.Wrapf(err, "read header of %s", path)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, want := range requiredColumns {
		if !slices.Contains(columns, want) {
			return errors.Errorf("%s: missing column %q", path, want)
		}
	}

	row := make(map[string]string, len(columns))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}

		clear(row)
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}
