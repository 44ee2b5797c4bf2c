// Package almtest provides an in-process fake ALM REST server for tests
package almtest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/json"
)

// Credentials accepted by the fake server
const (
	Username = "qa"
	Password = "secret"

	sessionCookie = "LWSSO_COOKIE_KEY"
)

// Entity is one stored entity. Parent links folders, test sets and test
// instances; it is matched against parent-id or cycle-id queries.
type Entity struct {
	Parent string
	Fields core.Record
}

type failure struct {
	status int
	times  int
}

// Server is a fake ALM instance holding entities per collection
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string][]Entity
	audits      map[string][]core.Record
	attachments map[string]map[string][]byte
	steps       map[string][]core.Record
	requests    map[string]int
	failures    map[string]*failure
}

// NewServer starts a fake server; it is closed when the test ends
func NewServer(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		collections: make(map[string][]Entity),
		audits:      make(map[string][]core.Record),
		attachments: make(map[string]map[string][]byte),
		steps:       make(map[string][]core.Record),
		requests:    make(map[string]int),
		failures:    make(map[string]*failure),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Add stores entities in a collection such as "defects" or "test-sets"
func (s *Server) Add(collection string, entities ...Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], entities...)
}

// AddRecords stores parentless entities
func (s *Server) AddRecords(collection string, records ...core.Record) {
	for _, r := range records {
		s.Add(collection, Entity{Fields: r})
	}
}

// SetAudits sets the history of the entity with id
func (s *Server) SetAudits(id string, audits ...core.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[id] = audits
}

// SetAttachment stores an attachment of the entity with id
func (s *Server) SetAttachment(id, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attachments[id] == nil {
		s.attachments[id] = make(map[string][]byte)
	}
	s.attachments[id][name] = data
}

// SetRunSteps stores a run of the test instance with its steps
func (s *Server) SetRunSteps(instanceID, runID string, steps ...core.Record) {
	s.Add("runs", Entity{Parent: instanceID, Fields: core.Record{"id": runID, "testcycl-id": instanceID}})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[runID] = steps
}

// Fail makes the next times requests whose path contains fragment answer
// with status
func (s *Server) Fail(fragment string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[fragment] = &failure{status: status, times: times}
}

// Requests returns how many requests hit a collection, or "authenticate"
func (s *Server) Requests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if status := s.injectedFailure(r.URL.Path); status != 0 {
		http.Error(w, "injected failure", status)
		return
	}

	switch r.URL.Path {
	case "/qcbin/authentication-point/authenticate":
		s.count("authenticate")
		user, pass, ok := r.BasicAuth()
		if !ok || user != Username || pass != Password {
			http.Error(w, "Authentication failed", http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "session-token", Path: "/"})
		w.WriteHeader(http.StatusOK)
		return
	case "/qcbin/authentication-point/logout":
		s.count("logout")
		w.WriteHeader(http.StatusOK)
		return
	}

	if c, err := r.Cookie(sessionCookie); err != nil || c.Value == "" {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}

	// /qcbin/rest/domains/{d}/projects/{p}/{collection}[/{id}/{sub}[/{name}]]
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 7 || parts[1] != "rest" || parts[2] != "domains" || parts[4] != "projects" {
		http.NotFound(w, r)
		return
	}
	rest := parts[6:]
	s.count(rest[0])

	switch {
	case len(rest) == 1:
		s.list(w, r, rest[0])
	case len(rest) == 3 && rest[2] == "attachments":
		s.listAttachments(w, rest[1])
	case len(rest) == 4 && rest[2] == "attachments":
		s.downloadAttachment(w, r, rest[1], rest[3])
	case len(rest) == 3 && rest[0] == "runs" && rest[2] == "run-steps":
		s.mu.Lock()
		steps := s.steps[rest[1]]
		s.mu.Unlock()
		writeEntities(w, steps)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, collection string) {
	conds := ParseQuery(r.URL.Query().Get("query"))

	s.mu.Lock()
	var matched []core.Record
	if collection == "audits" {
		matched = s.audits[conds["parent-id"]]
	} else {
		for _, e := range s.collections[collection] {
			if matches(e, conds) {
				matched = append(matched, e.Fields)
			}
		}
	}
	s.mu.Unlock()

	q := r.URL.Query()
	// plain query parameters filter on field equality
	for k, vs := range q {
		switch k {
		case "query", "page-size", "start-index", "order-by":
			continue
		}
		var kept []core.Record
		for _, rec := range matched {
			if v, ok := rec[k]; ok && toString(v) == vs[0] {
				kept = append(kept, rec)
			}
		}
		matched = kept
	}

	if q.Get("order-by") == "{id[DESC]}" {
		sort.SliceStable(matched, func(i, j int) bool {
			a, _ := strconv.Atoi(matched[i].ID())
			b, _ := strconv.Atoi(matched[j].ID())
			return a > b
		})
	}

	if size, err := strconv.Atoi(q.Get("page-size")); err == nil && size > 0 {
		start, _ := strconv.Atoi(q.Get("start-index"))
		if start < 1 {
			start = 1
		}
		from := start - 1
		if from > len(matched) {
			from = len(matched)
		}
		to := from + size
		if to > len(matched) {
			to = len(matched)
		}
		matched = matched[from:to]
	}

	writeEntities(w, matched)
}

func (s *Server) listAttachments(w http.ResponseWriter, id string) {
	s.mu.Lock()
	names := make([]string, 0, len(s.attachments[id]))
	for name := range s.attachments[id] {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	records := make([]core.Record, 0, len(names))
	for _, n := range names {
		records = append(records, core.Record{"name": n})
	}
	writeEntities(w, records)
}

func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request, id, name string) {
	s.mu.Lock()
	data, ok := s.attachments[id][name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) count(key string) {
	s.mu.Lock()
	s.requests[key]++
	s.mu.Unlock()
}

func (s *Server) injectedFailure(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fragment, f := range s.failures {
		if f.times > 0 && strings.Contains(path, fragment) {
			f.times--
			return f.status
		}
	}
	return 0
}

func matches(e Entity, conds map[string]string) bool {
	for field, want := range conds {
		switch field {
		case "parent-id", "cycle-id", "testcycl-id":
			if e.Parent != want {
				return false
			}
		default:
			if toString(e.Fields[field]) != want {
				return false
			}
		}
	}
	return true
}

// ParseQuery parses {a[1];name['x']} into {"a": "1", "name": "x"}
func ParseQuery(q string) map[string]string {
	out := make(map[string]string)
	q = strings.TrimSuffix(strings.TrimPrefix(q, "{"), "}")
	if q == "" {
		return out
	}
	for _, cond := range strings.Split(q, ";") {
		open := strings.Index(cond, "[")
		if open < 0 || !strings.HasSuffix(cond, "]") {
			continue
		}
		value := cond[open+1 : len(cond)-1]
		value = strings.TrimSuffix(strings.TrimPrefix(value, "'"), "'")
		out[cond[:open]] = strings.ReplaceAll(value, "\\'", "'")
	}
	return out
}

// writeEntities renders records in ALM's field-list shape
func writeEntities(w http.ResponseWriter, records []core.Record) {
	entities := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]map[string]interface{}, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, map[string]interface{}{
				"Name":   k,
				"values": []map[string]interface{}{{"value": toString(rec[k])}},
			})
		}
		entities = append(entities, map[string]interface{}{"Fields": fields, "Type": "entity"})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"entities":     entities,
		"TotalResults": len(entities),
	})
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
