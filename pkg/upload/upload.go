package upload

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
)

// Creator submits one create operation for a built payload and returns a
// reference to the created item
type Creator interface {
	Create(ctx context.Context, payload map[string]interface{}) (core.CreatedRef, error)
}

// CreatorFunc adapts a function to Creator
type CreatorFunc func(ctx context.Context, payload map[string]interface{}) (core.CreatedRef, error)

// Create implements Creator
func (f CreatorFunc) Create(ctx context.Context, payload map[string]interface{}) (core.CreatedRef, error) {
	return f(ctx, payload)
}

// Run maps and creates each record in input order. A failed create is
// recorded, reported to the sink and skipped; it never stops the run.
// Cancellation is checked between records; a cancelled run returns the
// partial aggregate together with the context error.
//
// For a run that was not cancelled SuccessCount+ErrorCount equals
// len(records) and len(Created) equals SuccessCount.
func Run(ctx context.Context, records []core.Record, mapping Mapping, creator Creator, sink core.EventSink) (*core.UploadResult, error) {
	sink = core.SinkOrNop(sink)
	result := &core.UploadResult{
		Created: make([]core.CreatedRef, 0, len(records)),
		Errors:  []core.ItemError{},
	}

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			sink.Log(core.LevelWarning, fmt.Sprintf("Upload cancelled after %d of %d items", i, len(records)))
			return result, err
		}

		sourceID := rec.ID()
		payload := mapping.Build(rec)
		sink.Log(core.LevelDebug, fmt.Sprintf("Creating item %d/%d", i+1, len(records)))

		ref, err := creator.Create(ctx, payload)
		if err != nil {
			item := itemError(i, sourceID, err)
			sink.ReportError(item.Message, item.Details)
			result.Errors = append(result.Errors, item)
			result.ErrorCount++
			continue
		}

		ref.SourceID = sourceID
		result.Created = append(result.Created, ref)
		result.SuccessCount++
		sink.Log(core.LevelDebug, "Successfully created item "+refLabel(ref))
	}

	sink.Log(core.LevelInfo, fmt.Sprintf("Upload complete. Created %d items with %d errors.", result.SuccessCount, result.ErrorCount))
	return result, nil
}

func itemError(index int, sourceID string, err error) core.ItemError {
	details := errors.Details(err)
	details["item_index"] = index
	details["item_id"] = sourceID
	details["error_type"] = string(errors.ErrorTypePartialItem)
	details["cause_type"] = string(errors.TypeOf(err))
	return core.ItemError{
		Index:    index,
		SourceID: sourceID,
		Message:  fmt.Sprintf("Failed to create item %d: %v", index, err),
		Details:  details,
	}
}

func refLabel(ref core.CreatedRef) string {
	if ref.DestinationKey != "" {
		return ref.DestinationKey
	}
	return ref.DestinationID
}
