package extract

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the sub-fetch pool size used when none is configured
const DefaultWorkers = 5

// SubFetcher fetches the auxiliary resources of one record
type SubFetcher func(ctx context.Context, record core.Record) (*core.SubResources, error)

// Enriched is the output of Enrich. Resources is parallel to the input
// records; a record whose fetch failed has empty, non-nil resources.
type Enriched struct {
	Resources []*core.SubResources
	Errors    []core.ItemError
}

// ByID keys the fetched resources by record identity, skipping empty ones.
// Resources of a record without an id, or of a later record repeating an
// id, cannot be keyed; they are dropped with a warning to sink and the
// first record with a given id keeps its resources.
func (e *Enriched) ByID(records []core.Record, sink core.EventSink) map[string]*core.SubResources {
	out := make(map[string]*core.SubResources, len(records))
	for i, rec := range records {
		if i >= len(e.Resources) || e.Resources[i].Empty() {
			continue
		}
		id := rec.ID()
		switch _, dup := out[id]; {
		case id == "":
			warn(sink, fmt.Sprintf("Dropping sub-resources of item %d: record has no id", i))
		case dup:
			warn(sink, fmt.Sprintf("Dropping sub-resources of item %d: id %s already seen", i, id))
		default:
			out[id] = e.Resources[i]
		}
	}
	return out
}

func warn(sink core.EventSink, msg string) {
	if sink != nil {
		sink.Log(core.LevelWarning, msg)
	}
}

type subFetchOutcome struct {
	resources *core.SubResources
	err       error
}

// Enrich fetches sub-resources for every record with at most workers
// fetches in flight. Each task reports on its own buffered channel and the
// calling goroutine merges them in input order, so completion order does
// not matter. A failed fetch is reported to the sink and recorded in the
// error list; it never aborts the batch.
//
// Cancellation stops dispatching new fetches; fetches already running
// finish, and the partial result is returned with the context error.
func Enrich(ctx context.Context, records []core.Record, workers int, fetch SubFetcher, sink core.EventSink) (*Enriched, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sink = core.SinkOrNop(sink)

	results := make([]chan subFetchOutcome, len(records))

	var g errgroup.Group
	g.SetLimit(workers)

	var cancelErr error
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}

		ch := make(chan subFetchOutcome, 1)
		results[i] = ch
		rec := rec
		g.Go(func() error {
			metrics.SubFetchInFlight.Inc()
			defer metrics.SubFetchInFlight.Dec()

			res, err := fetch(ctx, rec)
			ch <- subFetchOutcome{resources: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := &Enriched{Resources: make([]*core.SubResources, len(records))}
	for i, ch := range results {
		if ch == nil {
			out.Resources[i] = &core.SubResources{}
			continue
		}

		outcome := <-ch
		if outcome.err != nil {
			item := core.ItemError{
				Index:    i,
				SourceID: records[i].ID(),
				Message:  "failed to fetch sub-resources: " + outcome.err.Error(),
				Details:  errors.Details(outcome.err),
			}
			item.Details["item_index"] = i
			item.Details["item_id"] = item.SourceID
			sink.ReportError(item.Message, item.Details)
			out.Errors = append(out.Errors, item)
			out.Resources[i] = &core.SubResources{}
			continue
		}

		if outcome.resources == nil {
			outcome.resources = &core.SubResources{}
		}
		out.Resources[i] = outcome.resources
	}

	if cancelErr != nil {
		return out, cancelErr
	}
	return out, nil
}
