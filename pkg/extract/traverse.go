package extract

import (
	"context"
	"strings"
	"sync"

	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/metrics"
)

// ChildLookup returns the identifiers of the children of parentID named
// name. Zero identifiers means the segment does not exist.
type ChildLookup func(ctx context.Context, parentID, name string) ([]string, error)

// PathResolver resolves slash-delimited paths to identifiers one segment at
// a time, top-down from a fixed root. Resolved prefixes are cached for the
// life of the resolver, which is one extraction run.
type PathResolver struct {
	root   string
	lookup ChildLookup

	mu      sync.Mutex
	cache   map[string]string
	lookups int
}

// NewPathResolver creates a resolver starting at root
func NewPathResolver(root string, lookup ChildLookup) *PathResolver {
	return &PathResolver{
		root:   root,
		lookup: lookup,
		cache:  make(map[string]string),
	}
}

// SplitPath splits a path into trimmed, non-empty segments
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// Resolve returns the identifier of the last segment of path. An empty path
// resolves to the root. The first segment with no match fails the whole
// resolution with a not-found error naming that segment.
func (r *PathResolver) Resolve(ctx context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	segments := SplitPath(path)
	parent := r.root
	for i, segment := range segments {
		prefix := strings.Join(segments[:i+1], "/")
		if id, ok := r.cache[prefix]; ok {
			parent = id
			continue
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		r.lookups++
		metrics.PathLookups.Inc()
		ids, err := r.lookup(ctx, parent, segment)
		if err != nil {
			return "", errors.Wrap(err, errors.TypeOf(err), "failed to resolve path segment").
				WithDetail("segment", segment).
				WithDetail("path", prefix)
		}
		if len(ids) == 0 {
			return "", errors.Newf(errors.ErrorTypeNotFound, "path segment %q not found under %q", segment, parentPath(segments[:i])).
				WithDetail("segment", segment).
				WithDetail("path", prefix).
				WithDetail("parent_id", parent)
		}

		r.cache[prefix] = ids[0]
		parent = ids[0]
	}
	return parent, nil
}

// Lookups returns how many remote lookups the resolver has issued
func (r *PathResolver) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

func parentPath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return strings.Join(segments, "/")
}
