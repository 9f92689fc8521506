package template

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoMatch reports that no registered template matched a query.
var ErrNoMatch = errors.New("no template matched the query")

// Match is a template whose pattern matched a query, together with the
// captured parameter values.
type Match struct {
	Template *Template
	Params   map[string]string
}

// Store holds the registered templates. Adds compile and validate before
// publication, so matching never sees a half-built template.
type Store struct {
	mu        sync.RWMutex
	templates []*Template
	byID      map[string]*Template
	seq       int64
}

func NewStore() *Store {
	return &Store{byID: map[string]*Template{}}
}

// Add validates, compiles, and registers a template. IDs are unique.
func (s *Store) Add(t Template) (*Template, error) {
	if err := t.compile(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[t.ID]; exists {
		return nil, fmt.Errorf("template %s already registered", t.ID)
	}
	s.seq++
	t.AddedSeq = s.seq
	stored := &t
	s.templates = append(s.templates, stored)
	s.byID[t.ID] = stored
	return stored, nil
}

// Get returns a registered template by ID.
func (s *Store) Get(id string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	return t, ok
}

// List returns the registered templates for a dialect, most specific
// first. An empty dialect lists everything.
func (s *Store) List(dialect string) []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		if dialect != "" && !t.matchesDialect(dialect) {
			continue
		}
		out = append(out, *t)
	}
	sortBySpecificity(out)
	return out
}

// Remove deregisters a template by ID. It reports whether the template
// existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, t := range s.templates {
		if t.ID == id {
			s.templates = append(s.templates[:i], s.templates[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// Match finds the best template for a query. When several templates
// match, specificity wins, then priority, then the most recently added.
// The same query against the same store always selects the same template.
func (s *Store) Match(query, dialect string) (Match, error) {
	s.mu.RLock()
	candidates := make([]*Template, len(s.templates))
	copy(candidates, s.templates)
	s.mu.RUnlock()

	var matched []*Template
	for _, t := range candidates {
		if !t.matchesDialect(dialect) {
			continue
		}
		if t.compiled.MatchString(query) {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return Match{}, ErrNoMatch
	}

	sort.Slice(matched, func(i, j int) bool {
		return lessTemplate(matched[i], matched[j])
	})
	best := matched[0]

	params := map[string]string{}
	groups := best.compiled.FindStringSubmatch(query)
	for i, name := range best.compiled.SubexpNames() {
		if name == "" || i >= len(groups) {
			continue
		}
		params[name] = groups[i]
	}
	return Match{Template: best, Params: params}, nil
}

func lessTemplate(a, b *Template) bool {
	if sa, sb := a.specificity(), b.specificity(); sa != sb {
		return sa > sb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.AddedSeq > b.AddedSeq
}

func sortBySpecificity(templates []Template) {
	sort.Slice(templates, func(i, j int) bool {
		a, b := templates[i], templates[j]
		if sa, sb := a.specificity(), b.specificity(); sa != sb {
			return sa > sb
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.AddedSeq > b.AddedSeq
	})
}
