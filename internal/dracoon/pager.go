package dracoon

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrentRequests is the recommended Pager/folder-creation
// concurrency cap.
const DefaultMaxConcurrentRequests = 8

// PageFetcher fetches one page of a paginated collection.
type PageFetcher[T any] func(ctx context.Context, offset uint64, limit uint32) (RangedItems[T], error)

// FetchAll is the pager: bounded-concurrency fan-out over offset ranges
// for any paginated endpoint.
//
// It issues the first page at params.Offset, and if the collection is
// larger than one page and params.All is set, dispatches the remaining
// pages concurrently (bounded by maxConcurrent, default
// DefaultMaxConcurrentRequests) and concatenates them in page order.
//
// On any page error, the first error is returned after in-flight sibling
// requests drain (errgroup's cancel-on-first-error semantics); FetchAll
// never retries automatically — callers may reissue.
func FetchAll[T any](
	ctx context.Context, params ListParams, maxConcurrent int, fetch PageFetcher[T],
) ([]T, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRequests
	}

	limit := params.Limit
	if limit == 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	first, err := fetch(ctx, params.Offset, limit)
	if err != nil {
		return nil, err
	}

	total := first.Range.Total
	fetched := params.Offset + uint64(len(first.Items))

	if !params.All || fetched >= total {
		return first.Items, nil
	}

	var offsets []uint64

	for off := params.Offset + uint64(limit); off < total; off += uint64(limit) {
		offsets = append(offsets, off)
	}

	pages := make([][]T, len(offsets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for i, off := range offsets {
		g.Go(func() error {
			page, fetchErr := fetch(gctx, off, limit)
			if fetchErr != nil {
				return fetchErr
			}

			pages[i] = page.Items

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]T, 0, total)
	result = append(result, first.Items...)

	for _, p := range pages {
		result = append(result, p...)
	}

	return result, nil
}
