// Package extract implements the retrieval algorithms sources build on:
// flat pagination, hierarchical path resolution, bounded concurrent
// sub-resource enrichment and text normalization.
package extract

import (
	"context"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
)

// DefaultPageSize is used by sources that do not configure one
const DefaultPageSize = 100

// PageFetcher returns the page of at most size records beginning at start
type PageFetcher func(ctx context.Context, start, size int) ([]core.Record, error)

// PageOptions controls a pagination run
type PageOptions struct {
	// Size is the page size and must be positive
	Size int
	// Start is the index of the first record. ALM counts from 1.
	Start int
	// MaxRecords stops the run once reached; zero means unlimited
	MaxRecords int
	// OnPage is called after each non-empty page with the running total
	OnPage func(page, total int)
}

// Paginate requests pages until one comes back empty or short, and returns
// the concatenation of all pages in the order the source returned them.
// Cancellation is checked before each page request.
func Paginate(ctx context.Context, fetch PageFetcher, opts PageOptions) ([]core.Record, error) {
	if opts.Size <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "page_size: must be greater than zero, got %d", opts.Size).
			WithDetail("field", "page_size")
	}

	var records []core.Record
	start := opts.Start
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		items, err := fetch(ctx, start, opts.Size)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return records, ctxErr
			}
			return records, errors.Wrap(err, errors.TypeOf(err), "failed to fetch page").
				WithDetail("page", page).
				WithDetail("start_index", start)
		}
		if len(items) == 0 {
			return records, nil
		}

		records = append(records, items...)
		if opts.OnPage != nil {
			opts.OnPage(page, len(records))
		}

		if opts.MaxRecords > 0 && len(records) >= opts.MaxRecords {
			return records[:opts.MaxRecords], nil
		}
		if len(items) < opts.Size {
			return records, nil
		}
		start += opts.Size
	}
}
