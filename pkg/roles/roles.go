// Package roles turns a host capability table into role groupings.
//
// A capability table maps every hostname to a set of role tags with a
// boolean-like value, for example
//
//	web1.example.com:  {app-server: true, code: true, media: true}
//	db1.example.com:   {app-server: true, database: true}
//
// Build derives the role index once. The index is immutable afterwards and
// can be shared between goroutines without locking.
package roles

import (
	"fmt"
	"sort"
	"strings"
)

// HostCapabilities maps hostname to {role: boolean-like value}.
type HostCapabilities map[string]map[string]any

// DefaultRoles are assigned by SingleHost when no roles are given.
var DefaultRoles = []string{"app-server", "code", "database", "media", "migration"}

// Index is the role index derived from HostCapabilities.
type Index struct {
	roleHosts map[string][]string
	hostRoles map[string][]string
	roles     []string
	hosts     []string
}

// Build computes the role index. Every role tag seen on any host becomes a
// role, even if no host sets it true.
func Build(caps HostCapabilities) (*Index, error) {
	if len(caps) == 0 {
		return nil, configErr("build", "host capability table is empty", nil)
	}

	idx := &Index{
		roleHosts: make(map[string][]string),
		hostRoles: make(map[string][]string),
		hosts:     make([]string, 0, len(caps)),
	}

	for host, tags := range caps {
		if strings.TrimSpace(host) == "" {
			return nil, configErr("build", "empty hostname", nil)
		}
		idx.hosts = append(idx.hosts, host)
		for role, raw := range tags {
			if strings.TrimSpace(role) == "" {
				return nil, configErr("build", fmt.Sprintf("host %q: empty role name", host), nil)
			}
			if _, ok := idx.roleHosts[role]; !ok {
				idx.roleHosts[role] = nil
			}
			on, err := ParseFlag(raw)
			if err != nil {
				return nil, configErr("build", fmt.Sprintf("host %q role %q", host, role), err)
			}
			if on {
				idx.roleHosts[role] = append(idx.roleHosts[role], host)
				idx.hostRoles[host] = append(idx.hostRoles[host], role)
			}
		}
	}

	sort.Strings(idx.hosts)
	for role, hosts := range idx.roleHosts {
		sort.Strings(hosts)
		idx.roles = append(idx.roles, role)
	}
	sort.Strings(idx.roles)
	for _, roles := range idx.hostRoles {
		sort.Strings(roles)
	}
	return idx, nil
}

// RolesForHost returns the sorted roles held by host, or an empty slice for
// unknown hosts.
func (i *Index) RolesForHost(host string) []string {
	return clone(i.hostRoles[host])
}

// HostsForRole returns the sorted hosts holding role, or an empty slice for
// unknown roles.
func (i *Index) HostsForRole(role string) []string {
	return clone(i.roleHosts[role])
}

func (i *Index) HasRole(host, role string) bool {
	for _, r := range i.hostRoles[host] {
		if r == role {
			return true
		}
	}
	return false
}

// Roles returns every role tag seen in the table.
func (i *Index) Roles() []string { return clone(i.roles) }

// Hosts returns every host of the table.
func (i *Index) Hosts() []string { return clone(i.hosts) }

// RoleDefs returns the role -> hosts mapping.
func (i *Index) RoleDefs() map[string][]string {
	out := make(map[string][]string, len(i.roleHosts))
	for role, hosts := range i.roleHosts {
		out[role] = clone(hosts)
	}
	return out
}

// SingleHost returns a table where host holds every given role, or
// DefaultRoles when none are given.
func SingleHost(host string, roles ...string) HostCapabilities {
	if len(roles) == 0 {
		roles = DefaultRoles
	}
	tags := make(map[string]any, len(roles))
	for _, r := range roles {
		tags[r] = true
	}
	return HostCapabilities{host: tags}
}

func clone(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
