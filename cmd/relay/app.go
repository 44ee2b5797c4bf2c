package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/job"
	"github.com/ajitpratap0/relay/pkg/queue"
)

// loadPipelines reads the pipeline file and fills adapter defaults
func (a *app) loadPipelines() ([]*job.Pipeline, error) {
	pipelines, err := config.LoadPipelines(a.cfg.Pipelines)
	if err != nil {
		return nil, err
	}
	for _, p := range pipelines {
		a.cfg.ApplyAdapterDefaults(p)
	}
	return pipelines, nil
}

func (a *app) pipeline(id string) (*job.Pipeline, error) {
	pipelines, err := a.loadPipelines()
	if err != nil {
		return nil, err
	}
	return config.FindPipeline(pipelines, id)
}

// openStore returns the configured job store and a release function
func (a *app) openStore(ctx context.Context) (job.Store, func(), error) {
	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		store, err := job.NewPostgresStore(ctx, a.cfg.Store.Postgres())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return job.NewMemoryStore(), func() {}, nil
	}
}

// syncPipelines writes the file definitions into the store. The stored
// status and last run survive.
func syncPipelines(ctx context.Context, store job.Store, pipelines []*job.Pipeline) error {
	for _, p := range pipelines {
		existing, err := store.GetPipeline(ctx, p.ID)
		switch {
		case err == nil:
			p.Status = existing.Status
			p.LastRunAt = existing.LastRunAt
		case !errors.IsType(err, errors.ErrorTypeNotFound):
			return err
		}
		if err := store.SavePipeline(ctx, p); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to save pipeline").
				WithDetail("pipeline_id", p.ID)
		}
	}
	return nil
}

// openWorker returns the configured queue. The local queue only lives as
// long as this process.
func (a *app) openWorker() (queue.Worker, error) {
	switch a.cfg.Queue.Driver {
	case config.QueueKafka:
		d, err := queue.NewKafkaDispatcher(a.cfg.Queue.Kafka)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return queue.NewLocalDispatcher(a.cfg.Queue.Concurrency), nil
	}
}

func (a *app) newExecutor(store job.Store, dispatcher queue.Dispatcher) (*job.Executor, error) {
	return job.NewExecutor(job.Options{
		Store:      store,
		Dispatcher: dispatcher,
		Retry:      a.cfg.Executor.RetryPolicy(),
		CancelPoll: a.cfg.Executor.CancelPoll,
		Logger:     a.log,
	})
}

// serveMetrics exposes /metrics until ctx is done
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.log.Info("serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
