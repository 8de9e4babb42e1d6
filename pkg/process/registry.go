// Package process keeps named process control commands keyed by role and
// resolves which of them apply to a host.
package process

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RoleLookup is the part of the role index the registry needs.
type RoleLookup interface {
	RolesForHost(host string) []string
}

type entry struct {
	def Definition
	seq uint64
}

// Registry maps role -> process name -> Definition.
//
// Every Register call takes the next sequence number. When a host reaches
// the same process name through several roles, the entry with the highest
// sequence number wins, so the last registration takes precedence.
type Registry struct {
	mu      sync.RWMutex
	byRole  map[string]map[string]entry
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{byRole: make(map[string]map[string]entry)}
}

// Register stores or overwrites the named definition under role.
func (r *Registry) Register(role, name string, def Definition) error {
	if strings.TrimSpace(role) == "" {
		return &ConfigurationError{Role: role, Name: name, Err: fmt.Errorf("role is required")}
	}
	if strings.TrimSpace(name) == "" {
		return &ConfigurationError{Role: role, Name: name, Err: fmt.Errorf("process name is required")}
	}
	def.Name = name
	if err := validate.Struct(def); err != nil {
		return &ConfigurationError{Role: role, Name: name, Err: err}
	}
	if strings.TrimSpace(def.Status) == "" {
		return &ConfigurationError{Role: role, Name: name, Err: fmt.Errorf("status command is blank")}
	}
	if strings.TrimSpace(def.Reload) == "" && strings.TrimSpace(def.Restart) == "" {
		return &ConfigurationError{Role: role, Name: name, Err: fmt.Errorf("reload or restart command is required")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	procs, ok := r.byRole[role]
	if !ok {
		procs = make(map[string]entry)
		r.byRole[role] = procs
	}
	r.nextSeq++
	procs[name] = entry{def: def, seq: r.nextSeq}
	return nil
}

// Resolve returns the definitions that apply to host, in registration order.
// Names filter the result; names that match nothing are dropped silently.
// A host without roles resolves to an empty slice.
func (r *Registry) Resolve(host string, lookup RoleLookup, names ...string) []Definition {
	var filter map[string]struct{}
	if len(names) > 0 {
		filter = make(map[string]struct{}, len(names))
		for _, n := range names {
			filter[n] = struct{}{}
		}
	}

	r.mu.RLock()
	winners := make(map[string]entry)
	for _, role := range lookup.RolesForHost(host) {
		for name, e := range r.byRole[role] {
			if filter != nil {
				if _, ok := filter[name]; !ok {
					continue
				}
			}
			if cur, ok := winners[name]; !ok || e.seq > cur.seq {
				winners[name] = e
			}
		}
	}
	r.mu.RUnlock()

	ordered := make([]entry, 0, len(winners))
	for _, e := range winners {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	defs := make([]Definition, len(ordered))
	for i, e := range ordered {
		defs[i] = e.def
	}
	return defs
}

// Lookup returns the definition registered as name under role.
func (r *Registry) Lookup(role, name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byRole[role][name]
	return e.def, ok
}

// Roles returns the roles with at least one registered process.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byRole))
	for role := range r.byRole {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Names returns the process names under role in registration order.
func (r *Registry) Names(role string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	procs := r.byRole[role]
	ordered := make([]entry, 0, len(procs))
	for _, e := range procs {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]string, len(ordered))
	for i, e := range ordered {
		out[i] = e.def.Name
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, procs := range r.byRole {
		n += len(procs)
	}
	return n
}
