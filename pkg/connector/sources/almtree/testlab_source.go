package almtree

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	almclient "github.com/ajitpratap0/relay/pkg/connector/shared/alm"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/export"
	"github.com/ajitpratap0/relay/pkg/extract"
	"github.com/ajitpratap0/relay/pkg/metrics"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const (
	// rootFolderID is the id of the test lab root folder
	rootFolderID = "0"

	foldersCollection   = "test-set-folders"
	testSetsCollection  = "test-sets"
	instancesCollection = "test-instances"
	instanceEntityType  = "test-instance"

	defaultExportName = "test_lab_export"
)

// DefaultPriorityFields lead the exported table
var DefaultPriorityFields = []string{"id", "name", "test_set", "folder_path", "status", "owner", "exec-date"}

// TestLabSource exports the test instances below one test lab folder
type TestLabSource struct {
	*base.BaseAdapter

	conn           *almclient.Config
	path           string
	pageSize       int
	workers        int
	exportDir      string
	exportBucket   string
	exportPrefix   string
	exportRegion   string
	exportName     string
	compression    compression.Algorithm
	priorityFields []string
	stepFields     []string

	client *almclient.Client
	tracer *observability.AdapterTracer
}

// NewTestLabSource creates a hierarchical ALM test lab source
func NewTestLabSource(cfg core.Config, sink core.EventSink) (core.Source, error) {
	return &TestLabSource{
		BaseAdapter: base.NewBaseAdapter("alm_testlab", core.AdapterKindSource, cfg, sink),
		tracer:      observability.NewAdapterTracer("alm_testlab", string(core.AdapterKindSource)),
	}, nil
}

// ValidateConfig checks credentials, the folder path and the export target
func (s *TestLabSource) ValidateConfig() error {
	cfg := s.Config()

	conn, err := almclient.ParseConfig(cfg)
	if err != nil {
		return err
	}
	path, err := base.RequireString(cfg, "path")
	if err != nil {
		return err
	}
	if len(extract.SplitPath(path)) == 0 {
		return base.ConfigError("path", "must name at least one folder")
	}
	if s.pageSize, err = base.OptionalPositiveInt(cfg, "page_size", extract.DefaultPageSize); err != nil {
		return err
	}
	if s.workers, err = base.OptionalPositiveInt(cfg, "workers", extract.DefaultWorkers); err != nil {
		return err
	}

	if s.exportDir, err = base.OptionalString(cfg, "export_dir", ""); err != nil {
		return err
	}
	if s.exportBucket, err = base.OptionalString(cfg, "export_bucket", ""); err != nil {
		return err
	}
	switch {
	case s.exportDir == "" && s.exportBucket == "":
		return base.ConfigError("export_dir", "export_dir or export_bucket is required")
	case s.exportDir != "" && s.exportBucket != "":
		return base.ConfigError("export_bucket", "cannot be combined with export_dir")
	}
	if s.exportPrefix, err = base.OptionalString(cfg, "export_prefix", ""); err != nil {
		return err
	}
	if s.exportRegion, err = base.OptionalString(cfg, "export_region", ""); err != nil {
		return err
	}
	if s.exportName, err = base.OptionalString(cfg, "export_name", defaultExportName); err != nil {
		return err
	}
	if s.exportName == "" || strings.ContainsAny(s.exportName, `/\`) {
		return base.ConfigError("export_name", "must be a plain file name")
	}

	algorithm, err := compression.ParseAlgorithm(cast.ToString(cfg["compress_history"]))
	if err != nil {
		return base.ConfigError("compress_history", err.Error())
	}
	s.compression = algorithm

	if s.stepFields, err = base.OptionalStringSlice(cfg, "step_fields"); err != nil {
		return err
	}
	if s.priorityFields, err = base.OptionalStringSlice(cfg, "priority_fields"); err != nil {
		return err
	}
	if len(s.priorityFields) == 0 {
		s.priorityFields = DefaultPriorityFields
	}

	s.conn = conn
	s.path = path
	client, err := almclient.NewClient(conn, s.Type())
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

// Authenticate opens the ALM cookie session
func (s *TestLabSource) Authenticate(ctx context.Context) error {
	s.Log(core.LevelInfo, "Authenticating with ALM...")
	if err := s.client.Authenticate(ctx); err != nil {
		return err
	}
	s.MarkAuthenticated()
	s.Log(core.LevelInfo, "Authentication successful")
	return nil
}

// TestConnection probes the authentication endpoint
func (s *TestLabSource) TestConnection(ctx context.Context) core.ConnectionResult {
	if err := s.client.Authenticate(ctx); err != nil {
		return core.ConnectionFailed(err)
	}
	return core.ConnectionOK("Connected to ALM", map[string]interface{}{
		"base_url": s.conn.BaseURL,
		"project":  s.client.Project(),
		"path":     s.path,
	})
}

// Fetch resolves the folder path, lists the test sets in the folder and
// the test instances of each set, enriches every instance with history,
// attachments and the steps of its latest run, and writes the export
// artifact. The instance records are returned in set order.
func (s *TestLabSource) Fetch(ctx context.Context) (*core.FetchResult, error) {
	if err := s.EnsureAuthenticated(ctx, s.Authenticate); err != nil {
		return nil, err
	}

	result := &core.FetchResult{}
	err := s.tracer.Trace(ctx, "fetch", func(ctx context.Context) error {
		records, err := s.listInstances(ctx)
		result.Records = records
		if err != nil {
			return err
		}
		if len(records) == 0 {
			s.Log(core.LevelWarning, fmt.Sprintf("No test instances found under %s", s.path))
			return nil
		}

		s.Log(core.LevelInfo, fmt.Sprintf("Fetching history, attachments and run steps for %d test instances", len(records)),
			zap.Int("workers", s.workers))
		enriched, err := extract.Enrich(ctx, records, s.workers, s.fetchSubResources, s.Sink())
		if enriched != nil {
			result.Resources = enriched.ByID(records, s.Sink())
			result.Errors = append(result.Errors, enriched.Errors...)
		}
		if err != nil {
			return err
		}

		return s.export(ctx, records, result.Resources)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TestLabSource) listInstances(ctx context.Context) ([]core.Record, error) {
	resolver := extract.NewPathResolver(rootFolderID, func(ctx context.Context, parentID, name string) ([]string, error) {
		return s.client.Children(ctx, foldersCollection, parentID, name)
	})

	s.Log(core.LevelInfo, fmt.Sprintf("Resolving test lab folder %s", s.path))
	folderID, err := resolver.Resolve(ctx, s.path)
	if err != nil {
		return nil, err
	}
	folderPath := strings.Join(extract.SplitPath(s.path), "/")

	sets, err := s.paginate(ctx, testSetsCollection, almclient.Cond("parent-id", folderID))
	if err != nil {
		return nil, err
	}
	s.Log(core.LevelInfo, fmt.Sprintf("Found %d test sets in %s", len(sets), folderPath))

	var records []core.Record
	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		setID := set.ID()
		if setID == "" {
			continue
		}
		setName := cast.ToString(set["name"])

		instances, err := s.paginate(ctx, instancesCollection, almclient.Cond("cycle-id", setID))
		if err != nil {
			return records, errors.Wrap(err, errors.TypeOf(err), "failed to list test instances").
				WithDetail("test_set", setName)
		}
		for _, inst := range instances {
			inst = extract.NormalizeRecord(inst)
			inst["test_set"] = setName
			inst["folder_path"] = folderPath
			records = append(records, inst)
		}
		s.Log(core.LevelDebug, fmt.Sprintf("Test set %s has %d instances", setName, len(instances)))
	}
	return records, nil
}

func (s *TestLabSource) paginate(ctx context.Context, collection, cond string) ([]core.Record, error) {
	filters := url.Values{"query": {almclient.Query(cond)}}
	return extract.Paginate(ctx, func(ctx context.Context, start, size int) ([]core.Record, error) {
		return s.client.Page(ctx, collection, filters, start, size)
	}, extract.PageOptions{Size: s.pageSize, Start: 1})
}

func (s *TestLabSource) fetchSubResources(ctx context.Context, rec core.Record) (*core.SubResources, error) {
	id := rec.ID()
	if id == "" {
		return nil, nil
	}

	res := &core.SubResources{}
	audits, err := s.client.Audits(ctx, instanceEntityType, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to fetch history")
	}
	if len(audits) > 0 {
		res.History = audits
	}
	if res.Attachments, err = s.client.Attachments(ctx, instancesCollection, id); err != nil {
		return nil, err
	}
	if res.Steps, err = s.client.RunSteps(ctx, id); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to fetch run steps")
	}
	for i := range res.Steps {
		res.Steps[i] = extract.NormalizeRecord(res.Steps[i])
	}
	return res, nil
}

func (s *TestLabSource) export(ctx context.Context, records []core.Record, resources map[string]*core.SubResources) error {
	timer := metrics.NewTimer(metrics.StageExport)
	defer timer.ObserveDuration()

	sink, err := s.exportSink(ctx)
	if err != nil {
		return err
	}
	exporter, err := export.NewExporter(sink, export.Options{
		Name: s.exportName,
		Table: export.TableOptions{
			PriorityFields: s.priorityFields,
			StepFields:     s.stepFields,
		},
		Compression: s.compression,
	})
	if err != nil {
		return err
	}

	s.Log(core.LevelInfo, fmt.Sprintf("Writing export to %s", sink.Location()))
	summary, err := exporter.Export(ctx, records, resources)
	if err != nil {
		return err
	}
	s.Log(core.LevelInfo, fmt.Sprintf("Exported %d rows, %d histories and %d attachments to %s",
		summary.Rows, summary.Histories, summary.Attachments, summary.Location),
		zap.Int64("bytes", summary.Bytes))
	return nil
}

func (s *TestLabSource) exportSink(ctx context.Context) (export.Sink, error) {
	if s.exportBucket != "" {
		return export.NewS3Sink(ctx, s.exportBucket, s.exportPrefix, s.exportRegion)
	}
	return export.NewFileSink(s.exportDir)
}

// Close ends the ALM session
func (s *TestLabSource) Close(ctx context.Context) error {
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
