package upload

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu     sync.Mutex
	logs   []string
	errors []map[string]interface{}
}

func (s *memorySink) Log(_ core.Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, msg)
}

func (s *memorySink) ReportError(_ string, details map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, details)
}

func TestMapping_Build(t *testing.T) {
	rec := core.Record{
		"id":          "101",
		"name":        "Login fails",
		"description": "steps...",
		"fields":      map[string]interface{}{"severity": "2-High", "owner": nil},
	}

	m := NewMapping(map[string]string{
		"priority":  "fields.severity",
		"assignee":  "fields.owner",
		"component": "fields.missing",
	}).WithDefaults(map[string]string{
		"summary":     "name",
		"description": "description",
	}).WithFixed(map[string]interface{}{
		"project": map[string]interface{}{"key": "QA"},
	})

	payload := m.Build(rec)
	assert.Equal(t, map[string]interface{}{
		"summary":     "Login fails",
		"description": "steps...",
		"priority":    "2-High",
		"project":     map[string]interface{}{"key": "QA"},
	}, payload)
}

func TestMapping_FieldsOverrideDefaults(t *testing.T) {
	m := NewMapping(map[string]string{"summary": "title"}).
		WithDefaults(map[string]string{"summary": "name"})

	payload := m.Build(core.Record{"name": "n", "title": "t"})
	assert.Equal(t, "t", payload["summary"])
}

func TestMapping_Identity(t *testing.T) {
	rec := core.Record{"id": 1, "name": "x"}
	payload := Mapping{}.Build(rec)
	assert.Equal(t, map[string]interface{}{"id": 1, "name": "x"}, payload)

	payload["name"] = "changed"
	assert.Equal(t, "x", rec["name"])
}

func TestRun_Conservation(t *testing.T) {
	records := make([]core.Record, 10)
	for i := range records {
		records[i] = core.Record{"id": fmt.Sprint(i), "name": fmt.Sprintf("item %d", i)}
	}

	n := 0
	creator := CreatorFunc(func(_ context.Context, payload map[string]interface{}) (core.CreatedRef, error) {
		n++
		if n%3 == 0 {
			return core.CreatedRef{}, errors.New(errors.ErrorTypeTransport, "POST /issue returned status 400").
				WithDetail("status_code", 400)
		}
		return core.CreatedRef{DestinationID: fmt.Sprint(1000 + n), DestinationKey: fmt.Sprintf("QA-%d", n)}, nil
	})

	sink := &memorySink{}
	result, err := Run(context.Background(), records, Mapping{}, creator, sink)
	require.NoError(t, err)

	assert.Equal(t, len(records), result.SuccessCount+result.ErrorCount)
	assert.Len(t, result.Created, result.SuccessCount)
	assert.Len(t, result.Errors, result.ErrorCount)
	assert.Equal(t, 3, result.ErrorCount)
	assert.Len(t, sink.errors, 3)

	first := result.Errors[0]
	assert.Equal(t, 2, first.Index)
	assert.Equal(t, "2", first.SourceID)
	assert.Equal(t, 400, first.Details["status_code"])
	assert.Equal(t, 2, sink.errors[0]["item_index"])

	assert.Equal(t, "0", result.Created[0].SourceID)
	assert.Equal(t, "QA-1", result.Created[0].DestinationKey)
}

func TestRun_Empty(t *testing.T) {
	creator := CreatorFunc(func(context.Context, map[string]interface{}) (core.CreatedRef, error) {
		t.Fatal("creator must not be called")
		return core.CreatedRef{}, nil
	})
	result, err := Run(context.Background(), nil, Mapping{}, creator, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SuccessCount+result.ErrorCount)
	assert.NotNil(t, result.Created)
}

func TestRun_CancelledBetweenRecords(t *testing.T) {
	records := []core.Record{{"id": "a"}, {"id": "b"}, {"id": "c"}}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	creator := CreatorFunc(func(context.Context, map[string]interface{}) (core.CreatedRef, error) {
		calls++
		cancel()
		return core.CreatedRef{DestinationID: "1"}, nil
	})

	result, err := Run(ctx, records, Mapping{}, creator, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.SuccessCount)
}
