// Package relay is a pipeline execution engine that moves records from a
// source system into a destination system one create operation at a time.
//
// A pipeline names a source adapter, a destination adapter and their
// configuration. Running it produces a job that fetches every record from
// the source, creates each one in the destination and keeps an append-only
// log of what happened together with the counts of extracted, created and
// failed items. A failing item never aborts the others.
//
// # Architecture
//
//   - pkg/connector/core: the adapter contract (Source, Destination, events)
//   - pkg/connector/registry: static, sealed map from type key to factory
//   - pkg/connector/sources: alm, alm_testlab and json sources
//   - pkg/connector/destinations: jira, mongodb and json destinations
//   - pkg/extract: pagination, path traversal and bounded sub-fetch
//   - pkg/upload: field mapping and per-item upload isolation
//   - pkg/job: job state machine, executor, retry policy and job stores
//   - pkg/queue: task dispatchers (in-process and Kafka)
//   - pkg/config: relay.yaml and pipeline definition loading
//
// # Quick Start
//
// Define a pipeline in pipelines.yaml:
//
//	pipelines:
//	  - id: alm-defects-to-jira
//	    name: ALM defects to Jira
//	    source_type: alm
//	    source_config:
//	      base_url: https://alm.example.com/qcbin
//	      username: ${ALM_USER}
//	      password: ${ALM_PASSWORD}
//	      domain: DEFAULT
//	      project: Demo
//	      entity: defects
//	    destination_type: jira
//	    destination_config:
//	      base_url: https://example.atlassian.net
//	      auth_method: token
//	      username: ${JIRA_USER}
//	      api_token: ${JIRA_TOKEN}
//	      project_key: QA
//
// Then run it in-process:
//
//	relay test-connection alm-defects-to-jira
//	relay run alm-defects-to-jira --verbose
//
// Or hand it to workers sharing a PostgreSQL job store over Kafka:
//
//	relay worker --store postgres --queue kafka
//	relay enqueue alm-defects-to-jira --store postgres --queue kafka
//
// # Programmatic use
//
//	store := job.NewMemoryStore()
//	if err := store.SavePipeline(ctx, pipeline); err != nil {
//	    return err
//	}
//	exec, err := job.NewExecutor(job.Options{
//	    Store: store,
//	    Retry: job.DefaultRetryPolicy(),
//	})
//	if err != nil {
//	    return err
//	}
//	outcome, err := exec.Execute(ctx, pipeline.ID, "")
//
// Adapters register themselves from init functions; import
// pkg/connector/sources and pkg/connector/destinations to get all of them.
package relay
