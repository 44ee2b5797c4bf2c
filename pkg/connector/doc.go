// Package connector holds the adapters relay moves records with.
//
// The sub-packages are:
//
//   - core: the Source and Destination interfaces, records, fetch and
//     upload results, and the event sink adapters report progress through.
//
//   - registry: maps a type key such as "alm" or "jira" to a factory.
//     Adapters register from init; the registry is sealed before the first
//     job runs, and an unknown key fails with an adapter_not_found error.
//
//   - base: BaseAdapter, embedded by every adapter. It carries the config,
//     the authenticated flag and the logging helpers that forward to the
//     event sink, plus typed config readers (RequireString, OptionalInt...).
//
//   - shared/alm: the HP ALM REST client shared by the alm and alm_testlab
//     sources.
//
//   - sources, destinations: the adapters themselves. Importing the parent
//     package registers all of them.
//
// # Writing an adapter
//
//	type MySource struct {
//	    *base.BaseAdapter
//	    endpoint string
//	}
//
//	func NewMySource(cfg core.Config, sink core.EventSink) (core.Source, error) {
//	    return &MySource{
//	        BaseAdapter: base.NewBaseAdapter("my_source", core.AdapterKindSource, cfg, sink),
//	    }, nil
//	}
//
//	func (s *MySource) ValidateConfig() error {
//	    endpoint, err := base.RequireURL(s.Config(), "endpoint")
//	    if err != nil {
//	        return err
//	    }
//	    s.endpoint = endpoint
//	    return nil
//	}
//
//	func init() {
//	    if err := registry.RegisterSource("my_source", NewMySource); err != nil {
//	        panic(err)
//	    }
//	}
//
// Fetch and Upload authenticate on first use through
// BaseAdapter.EnsureAuthenticated. Upload isolates items: one failed
// create is recorded in the result and the rest keep going.
package connector
