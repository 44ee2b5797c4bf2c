package alm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	almclient "github.com/ajitpratap0/relay/pkg/connector/shared/alm"
	"github.com/ajitpratap0/relay/pkg/extract"
	"github.com/ajitpratap0/relay/pkg/observability"
	"go.uber.org/zap"
)

// ALMSource pages through one ALM entity collection, defects by default
type ALMSource struct {
	*base.BaseAdapter

	conn               *almclient.Config
	entity             string
	pageSize           int
	maxRecords         int
	filters            url.Values
	includeHistory     bool
	includeAttachments bool
	workers            int

	client *almclient.Client
	tracer *observability.AdapterTracer
}

// NewALMSource creates a flat ALM source
func NewALMSource(cfg core.Config, sink core.EventSink) (core.Source, error) {
	return &ALMSource{
		BaseAdapter: base.NewBaseAdapter("alm", core.AdapterKindSource, cfg, sink),
		tracer:      observability.NewAdapterTracer("alm", string(core.AdapterKindSource)),
	}, nil
}

// ValidateConfig checks the connection settings and the extraction options
func (s *ALMSource) ValidateConfig() error {
	cfg := s.Config()

	conn, err := almclient.ParseConfig(cfg)
	if err != nil {
		return err
	}
	entity, err := base.OptionalString(cfg, "entity", "defects")
	if err != nil {
		return err
	}
	if entity == "" || strings.ContainsAny(entity, "/?#") {
		return base.ConfigError("entity", "must be a collection name such as defects")
	}
	pageSize, err := base.OptionalPositiveInt(cfg, "page_size", extract.DefaultPageSize)
	if err != nil {
		return err
	}
	maxRecords, err := base.OptionalInt(cfg, "max_records", 0)
	if err != nil {
		return err
	}
	if maxRecords < 0 {
		return base.ConfigError("max_records", "cannot be negative")
	}
	filters, err := base.OptionalStringMap(cfg, "filters")
	if err != nil {
		return err
	}
	if s.includeHistory, err = base.OptionalBool(cfg, "include_history", false); err != nil {
		return err
	}
	if s.includeAttachments, err = base.OptionalBool(cfg, "include_attachments", false); err != nil {
		return err
	}
	workers, err := base.OptionalPositiveInt(cfg, "workers", extract.DefaultWorkers)
	if err != nil {
		return err
	}

	s.conn = conn
	s.entity = entity
	s.pageSize = pageSize
	s.maxRecords = maxRecords
	s.workers = workers
	s.filters = url.Values{}
	for k, v := range filters {
		s.filters.Set(k, v)
	}

	client, err := almclient.NewClient(conn, s.Type())
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

// Authenticate opens the ALM cookie session
func (s *ALMSource) Authenticate(ctx context.Context) error {
	s.Log(core.LevelInfo, "Authenticating with ALM...")
	if err := s.client.Authenticate(ctx); err != nil {
		return err
	}
	s.MarkAuthenticated()
	s.Log(core.LevelInfo, "Authentication successful")
	return nil
}

// TestConnection probes the authentication endpoint
func (s *ALMSource) TestConnection(ctx context.Context) core.ConnectionResult {
	if err := s.client.Authenticate(ctx); err != nil {
		return core.ConnectionFailed(err)
	}
	return core.ConnectionOK("Connected to ALM", map[string]interface{}{
		"base_url": s.conn.BaseURL,
		"project":  s.client.Project(),
	})
}

// Fetch pages through the collection starting at index 1, normalizes the
// text of every record and, when configured, pulls history and attachments.
func (s *ALMSource) Fetch(ctx context.Context) (*core.FetchResult, error) {
	if err := s.EnsureAuthenticated(ctx, s.Authenticate); err != nil {
		return nil, err
	}

	result := &core.FetchResult{}
	err := s.tracer.Trace(ctx, "fetch", func(ctx context.Context) error {
		s.Log(core.LevelInfo, fmt.Sprintf("Fetching %s from ALM...", s.entity))

		records, err := extract.Paginate(ctx, s.fetchPage, extract.PageOptions{
			Size:       s.pageSize,
			Start:      1,
			MaxRecords: s.maxRecords,
		})
		for i := range records {
			records[i] = extract.NormalizeRecord(records[i])
		}
		result.Records = records
		if err != nil {
			return err
		}
		s.Log(core.LevelInfo, fmt.Sprintf("Successfully fetched %d %s", len(records), s.entity))

		if !s.includeHistory && !s.includeAttachments {
			return nil
		}
		enriched, err := extract.Enrich(ctx, records, s.workers, s.fetchSubResources, s.Sink())
		if enriched != nil {
			result.Resources = enriched.ByID(records, s.Sink())
			result.Errors = append(result.Errors, enriched.Errors...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ALMSource) fetchPage(ctx context.Context, start, size int) ([]core.Record, error) {
	s.Log(core.LevelDebug, fmt.Sprintf("Fetching page starting at %d", start), zap.Int("page_size", size))
	return s.client.Page(ctx, s.entity, s.filters, start, size)
}

func (s *ALMSource) fetchSubResources(ctx context.Context, rec core.Record) (*core.SubResources, error) {
	id := rec.ID()
	if id == "" {
		return nil, nil
	}

	res := &core.SubResources{}
	if s.includeHistory {
		audits, err := s.client.Audits(ctx, entityType(s.entity), id)
		if err != nil {
			return nil, err
		}
		if len(audits) > 0 {
			res.History = audits
		}
	}
	if s.includeAttachments {
		attachments, err := s.client.Attachments(ctx, s.entity, id)
		if err != nil {
			return nil, err
		}
		res.Attachments = attachments
	}
	return res, nil
}

// Close ends the ALM session
func (s *ALMSource) Close(ctx context.Context) error {
	wasAuthenticated := s.IsAuthenticated()
	if !s.MarkClosed() || s.client == nil {
		return nil
	}
	if wasAuthenticated {
		s.client.Logout(ctx)
	}
	s.client.Close()
	return nil
}

// entityType is the singular ALM type of a collection, e.g. defects -> defect
func entityType(collection string) string {
	return strings.TrimSuffix(collection, "s")
}
