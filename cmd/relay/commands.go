package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/connector/registry"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/job"
	"github.com/ajitpratap0/relay/pkg/json"
	"github.com/ajitpratap0/relay/pkg/queue"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func newTestConnectionCommand(a *app) *cobra.Command {
	var sourceOnly, destinationOnly bool

	cmd := &cobra.Command{
		Use:   "test-connection <pipeline-id>",
		Short: "Probe the source and destination of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.pipeline(args[0])
			if err != nil {
				return err
			}
			checkSource := sourceOnly || !destinationOnly
			checkDestination := destinationOnly || !sourceOnly

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			failed := 0
			if checkSource {
				src, err := registry.LoadSource(p.SourceType, p.SourceConfig, nil)
				if err != nil {
					return err
				}
				if !report(out, "Source", p.SourceType, probe(ctx, src)) {
					failed++
				}
			}
			if checkDestination {
				dst, err := registry.LoadDestination(p.DestinationType, p.DestinationConfig, nil)
				if err != nil {
					return err
				}
				if !report(out, "Destination", p.DestinationType, probe(ctx, dst)) {
					failed++
				}
			}
			if failed > 0 {
				return errors.Newf(errors.ErrorTypeTransport, "%d connection test(s) failed", failed).
					WithDetail("pipeline_id", p.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sourceOnly, "source", false, "Only test the source")
	cmd.Flags().BoolVar(&destinationOnly, "destination", false, "Only test the destination")
	return cmd
}

func probe(ctx context.Context, adapter core.Adapter) core.ConnectionResult {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = adapter.Close(closeCtx)
	}()
	return adapter.TestConnection(ctx)
}

func report(w io.Writer, role, adapterType string, result core.ConnectionResult) bool {
	fmt.Fprintf(w, "%s (%s): %s - %s\n", role, adapterType, result.Status, result.Message)
	return result.OK()
}

func newRunCommand(a *app) *cobra.Command {
	var (
		timeout time.Duration
		output  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline-id>",
		Short: "Run a pipeline in this process and wait for the job to finish",
		Long: `Run creates a job for the pipeline and drives it to a terminal state.
Transient failures are retried in place after the configured backoff.
Interrupting the command cancels the job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			p, err := a.pipeline(args[0])
			if err != nil {
				return err
			}
			store, release, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer release()
			if err := syncPipelines(ctx, store, []*job.Pipeline{p}); err != nil {
				return err
			}
			exec, err := a.newExecutor(store, nil)
			if err != nil {
				return err
			}

			j, err := a.runToCompletion(ctx, exec, store, p.ID)
			if err != nil {
				return err
			}
			if err := printJob(cmd.OutOrStdout(), j, output, verbose); err != nil {
				return err
			}
			if j.Status != job.StatusCompleted {
				return errors.Newf(errors.ErrorTypeInternal, "job %s ended %s", j.ID, j.Status).
					WithDetail("job_id", j.ID)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Cancel the job after this long (0 = no limit)")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text, json)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print job logs and errors")
	return cmd
}

// runToCompletion plays the dispatcher for a single job: it re-executes the
// job after each retry delay and cancels it when ctx ends
func (a *app) runToCompletion(ctx context.Context, exec *job.Executor, store job.Store, pipelineID string) (*job.Job, error) {
	bg := context.WithoutCancel(ctx)
	jobID := ""
	for {
		out, err := exec.Execute(ctx, pipelineID, jobID)
		if err != nil {
			return nil, err
		}
		jobID = out.JobID
		if out.Status.Terminal() {
			break
		}
		if ctx.Err() != nil {
			if _, err := exec.Cancel(bg, jobID); err != nil {
				return nil, err
			}
			break
		}
		if !out.Retry {
			break
		}

		a.log.Info("waiting to retry job",
			zap.String("job_id", jobID),
			zap.Duration("retry_after", out.RetryAfter))
		timer := time.NewTimer(out.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			if _, err := exec.Cancel(bg, jobID); err != nil {
				return nil, err
			}
			return store.GetJob(bg, jobID)
		case <-timer.C:
		}
	}
	return store.GetJob(bg, jobID)
}

func newEnqueueCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <pipeline-id>...",
		Short: "Create jobs and hand them to the worker queue",
		Long: `Enqueue creates a pending job per pipeline and publishes it to the
Kafka task topic. Workers pick the tasks up; both sides must share the
PostgreSQL job store.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSharedBackends(); err != nil {
				return err
			}
			ctx := cmd.Context()

			pipelines, err := a.loadPipelines()
			if err != nil {
				return err
			}
			selected := make([]*job.Pipeline, 0, len(args))
			for _, id := range args {
				p, err := config.FindPipeline(pipelines, id)
				if err != nil {
					return err
				}
				selected = append(selected, p)
			}

			store, release, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer release()
			if err := syncPipelines(ctx, store, selected); err != nil {
				return err
			}
			dispatcher, err := a.openWorker()
			if err != nil {
				return err
			}
			defer dispatcher.Close()
			exec, err := a.newExecutor(store, dispatcher)
			if err != nil {
				return err
			}

			for _, p := range selected {
				j, err := exec.Submit(ctx, p.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s for pipeline %s (task %s)\n", j.ID, p.ID, j.TaskID)
			}
			return nil
		},
	}
}

// requireSharedBackends rejects setups where another process could not see
// the jobs this one creates
func (a *app) requireSharedBackends() error {
	if a.cfg.Queue.Driver != config.QueueKafka {
		return errors.New(errors.ErrorTypeConfig, "enqueue requires the kafka queue; use run for in-process execution").
			WithDetail("field", "queue.driver")
	}
	if a.cfg.Store.Driver != config.StorePostgres {
		return errors.New(errors.ErrorTypeConfig, "enqueue requires the postgres job store").
			WithDetail("field", "store.driver")
	}
	return nil
}

func newWorkerCommand(a *app) *cobra.Command {
	var submit []string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume tasks and execute jobs until interrupted",
		Long: `Worker syncs the pipeline file into the job store, joins the task queue
and executes every task it receives. Retries go back through the queue.
With the local queue, --submit runs pipelines inside the worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pipelines, err := a.loadPipelines()
			if err != nil {
				return err
			}
			store, release, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer release()
			if err := syncPipelines(ctx, store, pipelines); err != nil {
				return err
			}

			w, err := a.openWorker()
			if err != nil {
				return err
			}
			exec, err := a.newExecutor(store, w)
			if err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Start(ctx, exec.HandleTask); err != nil {
				_ = w.Close()
				return err
			}
			a.serveMetrics(ctx)
			a.log.Info("worker started",
				zap.String("queue", a.cfg.Queue.Driver),
				zap.String("store", a.cfg.Store.Driver),
				zap.Int("pipelines", len(pipelines)))

			for _, id := range submit {
				j, err := exec.Submit(ctx, id)
				if err != nil {
					a.log.Error("failed to submit pipeline", zap.String("pipeline_id", id), zap.Error(err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s for pipeline %s\n", j.ID, id)
			}

			<-ctx.Done()
			a.log.Info("worker stopping")
			return w.Close()
		},
	}
	cmd.Flags().StringSliceVar(&submit, "submit", nil, "Pipeline ids to submit once the worker is up")
	return cmd
}

func newJobCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control jobs in the job store",
	}

	var pipelineID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withExecutor(cmd.Context(), false, func(ctx context.Context, exec *job.Executor, store job.Store) error {
				jobs, err := store.ListJobs(ctx, pipelineID)
				if err != nil {
					return err
				}
				printJobTable(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	list.Flags().StringVar(&pipelineID, "pipeline", "", "Only jobs of this pipeline")

	var output string
	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its logs and errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			return a.withExecutor(cmd.Context(), false, func(ctx context.Context, exec *job.Executor, store job.Store) error {
				j, err := store.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJob(cmd.OutOrStdout(), j, output, true)
			})
		},
	}
	show.Flags().StringVarP(&output, "output", "o", outputText, "Output format (text, json)")

	cancel := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withExecutor(cmd.Context(), true, func(ctx context.Context, exec *job.Executor, store job.Store) error {
				j, err := exec.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s\n", j.ID, j.Status)
				return nil
			})
		},
	}

	retry := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Start a new job for the pipeline of a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withExecutor(cmd.Context(), true, func(ctx context.Context, exec *job.Executor, store job.Store) error {
				j, err := exec.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created job %s for pipeline %s\n", j.ID, j.PipelineID)
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, cancel, retry)
	return cmd
}

// withExecutor opens the store, and the queue when dispatch is set and
// the queue is shared, then calls fn
func (a *app) withExecutor(ctx context.Context, dispatch bool, fn func(context.Context, *job.Executor, job.Store) error) error {
	store, release, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer release()

	var dispatcher queue.Dispatcher
	if dispatch && a.cfg.Queue.Driver == config.QueueKafka {
		w, err := a.openWorker()
		if err != nil {
			return err
		}
		defer w.Close()
		dispatcher = w
	}
	exec, err := a.newExecutor(store, dispatcher)
	if err != nil {
		return err
	}
	return fn(ctx, exec, store)
}

func checkOutput(output string) error {
	switch output {
	case outputText, outputJSON:
		return nil
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown output format %q", output).
			WithDetail("field", "output")
	}
}

func printJob(w io.Writer, j *job.Job, output string, verbose bool) error {
	if output == outputJSON {
		data, err := json.MarshalIndent(j)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode job")
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "Job %s (pipeline %s): %s\n", j.ID, j.PipelineID, j.Status)
	fmt.Fprintf(w, "  Attempts:        %d\n", j.Attempts)
	fmt.Fprintf(w, "  Source records:  %d\n", j.SourceRecordCount)
	fmt.Fprintf(w, "  Created:         %d\n", j.DestinationRecordCount)
	fmt.Fprintf(w, "  Errors:          %d\n", j.ErrorCount)
	if j.StartedAt != nil && j.CompletedAt != nil {
		fmt.Fprintf(w, "  Duration:        %s\n", j.CompletedAt.Sub(*j.StartedAt).Round(time.Millisecond))
	}
	if !verbose {
		return nil
	}

	if len(j.Logs) > 0 {
		fmt.Fprintln(w, "\nLogs:")
		for _, entry := range j.Logs {
			fmt.Fprintf(w, "  %s [%s] %s\n", entry.Timestamp.Format(time.RFC3339), strings.ToUpper(string(entry.Level)), entry.Message)
		}
	}
	if len(j.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, entry := range j.Errors {
			fmt.Fprintf(w, "  %s %s: %s\n", entry.Timestamp.Format(time.RFC3339), entry.Type, entry.Message)
		}
	}
	return nil
}

func printJobTable(w io.Writer, jobs []*job.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPIPELINE\tSTATUS\tATTEMPTS\tSOURCE\tCREATED\tERRORS\tCREATED AT")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.PipelineID, j.Status, j.Attempts,
			j.SourceRecordCount, j.DestinationRecordCount, j.ErrorCount,
			j.CreatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
