package debug

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/wtldebug/internal/debug/wtl"
)

// RegisteredBreakpoint is a breakpoint installed through a session.
type RegisteredBreakpoint struct {
	ID     int        `json:"id"`
	Filter wtl.Filter `json:"filter"`
}

// String returns a one-line description of the breakpoint.
func (b RegisteredBreakpoint) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:", b.ID)

	methods := "*"
	if len(b.Filter.Methods) > 0 {
		methods = strings.Join(b.Filter.Methods, ",")
	}
	path := b.Filter.Path
	if path == "" {
		path = ".*"
	}
	fmt.Fprintf(&sb, " %s %s", methods, path)

	if b.Filter.Body != "" {
		fmt.Fprintf(&sb, " body=%q", b.Filter.Body)
	}
	return sb.String()
}

// BreakpointRegistry records the breakpoints the peer has accepted. The peer
// keeps the authoritative set; this is a local mirror for listing and presets.
type BreakpointRegistry struct {
	mu      sync.RWMutex
	filters map[int]wtl.Filter
}

// NewBreakpointRegistry creates an empty registry.
func NewBreakpointRegistry() *BreakpointRegistry {
	return &BreakpointRegistry{
		filters: make(map[int]wtl.Filter),
	}
}

// Add records filter under id, replacing any previous entry.
func (r *BreakpointRegistry) Add(id int, filter wtl.Filter) {
	r.mu.Lock()
	r.filters[id] = filter
	r.mu.Unlock()
}

// Remove forgets id and reports whether it was present.
func (r *BreakpointRegistry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.filters[id]
	delete(r.filters, id)
	return ok
}

// Get returns the filter registered under id.
func (r *BreakpointRegistry) Get(id int) (wtl.Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.filters[id]
	return f, ok
}

// List returns all breakpoints ordered by id.
func (r *BreakpointRegistry) List() []RegisteredBreakpoint {
	r.mu.RLock()
	result := make([]RegisteredBreakpoint, 0, len(r.filters))
	for id, f := range r.filters {
		result = append(result, RegisteredBreakpoint{ID: id, Filter: f})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Len returns the number of registered breakpoints.
func (r *BreakpointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Clear removes every entry.
func (r *BreakpointRegistry) Clear() {
	r.mu.Lock()
	r.filters = make(map[int]wtl.Filter)
	r.mu.Unlock()
}
