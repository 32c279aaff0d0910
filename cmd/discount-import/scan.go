package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	// maxFiles is bounded by the width of the per-code file bitmask.
	maxFiles = bits.UintSize
)

// collectCodes returns the distinct normalized codes that appear in at least
// quorum files, sorted. Lines that are not valid codes are skipped.
//
// With quorum > 1 the files are read twice: pass 1 builds a bloom filter per
// file, pass 2 keeps codes that the other files' filters may contain. The
// final count uses exact per-file bits, so filter false positives never
// leak into the result.
func collectCodes(ctx context.Context, files []string, quorum int) ([]string, error) {
	var filters []*bloom.BloomFilter
	if quorum > 1 {
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))
		var err error
		if filters, err = buildBloomFilters(ctx, files); err != nil {
			return nil, errors.Wrap(err, "build bloom filters")
		}
	}

	slog.Info("pass 2: collecting codes")
	masks := make([]map[string]uint, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			m, err := scanCandidates(gctx, i, f, filters, quorum)
			if err != nil {
				return err
			}
			masks[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "collect codes")
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	var out []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= quorum {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out, nil
}

func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64
			if err := streamCodes(ctx, path, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// scanCandidates returns the codes of file idx that may reach quorum, each
// marked with the file's bit.
func scanCandidates(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter, quorum int) (map[string]uint, error) {
	candidates := make(map[string]uint)
	fileBit := uint(1) << uint(idx)
	var count uint64

	err := streamCodes(ctx, path, func(code string) {
		count++
		if count%progressEvery == 0 {
			slog.Info("pass 2 progress", slog.Int("file", idx+1), slog.Uint64("codes", count))
		}

		seen := 1
		for j, f := range filters {
			if seen >= quorum {
				break
			}
			if j != idx && f.TestString(code) {
				seen++
			}
		}
		if seen >= quorum {
			candidates[code] |= fileBit
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan file %d", idx+1)
	}

	slog.Info("pass 2 complete",
		slog.Int("file", idx+1),
		slog.Uint64("total_codes", count),
		slog.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// streamCodes opens a gzip-compressed file and calls fn with every line
// that normalizes to a valid discount code.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
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

	var invalid uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, err := discount.NormalizeCode(scanner.Text())
		if err != nil {
			invalid++
			continue
		}
		fn(code)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	if invalid > 0 {
		slog.Warn("skipped invalid lines", slog.String("file", path), slog.Uint64("count", invalid))
	}
	return nil
}
