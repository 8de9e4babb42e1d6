package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/andrej220/rolectl/pkg/process"
	"github.com/andrej220/rolectl/pkg/roles"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	// SingleHost, when set, replaces Hosts with one host holding every
	// role referenced by processes and tasks.
	SingleHost string                `yaml:"single_host,omitempty" json:"single_host,omitempty" bson:"single_host,omitempty" validate:"omitempty,hostname_rfc1123|ip"`
	Hosts      roles.HostCapabilities `yaml:"hosts" json:"hosts" bson:"hosts" validate:"required_without=SingleHost"`
	Processes  ProcessTable           `yaml:"processes" json:"processes" bson:"processes" validate:"dive"`
	Tasks      []Task                 `yaml:"tasks,omitempty" json:"tasks,omitempty" bson:"tasks,omitempty" validate:"dive"`
	SSH        SSHConfig              `yaml:"ssh" json:"ssh" bson:"ssh"`
	Dispatch   DispatchConfig         `yaml:"dispatch" json:"dispatch" bson:"dispatch"`
	Publish    PublishConfig          `yaml:"publish,omitempty" json:"publish,omitempty" bson:"publish,omitempty"`
}

// RoleProcesses holds the processes of one role in declaration order.
type RoleProcesses struct {
	Role      string               `yaml:"role" json:"role" bson:"role" validate:"required"`
	Processes []process.Definition `yaml:"processes" json:"processes" bson:"processes"`
}

// ProcessTable keeps role -> process declarations in document order, which
// decides which definition wins when a name repeats across roles.
//
// In YAML it is written as a mapping:
//
//	processes:
//	  code:
//	    django: {status: "...", restart: "..."}
//
// The list form (a sequence of {role, processes}) is accepted too and is
// what the Mongo store persists.
type ProcessTable []RoleProcesses

func (t *ProcessTable) UnmarshalYAML(node *yaml.Node) error {
	node = resolveAlias(node)
	switch node.Kind {
	case yaml.SequenceNode:
		var list []RoleProcesses
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = list
		return nil
	case yaml.MappingNode:
	default:
		return fmt.Errorf("line %d: processes must be a mapping of role to processes", node.Line)
	}

	// Walking Content by hand bypasses yaml's own duplicate key check.
	table := make(ProcessTable, 0, len(node.Content)/2)
	seenRoles := make(map[string]int, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		roleNode, procsNode := node.Content[i], resolveAlias(node.Content[i+1])
		rp := RoleProcesses{Role: roleNode.Value}
		if first, dup := seenRoles[rp.Role]; dup {
			return fmt.Errorf("line %d: role %q already defined at line %d", roleNode.Line, rp.Role, first)
		}
		seenRoles[rp.Role] = roleNode.Line
		if procsNode.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: processes of role %q must be a mapping", procsNode.Line, rp.Role)
		}
		seenNames := make(map[string]int, len(procsNode.Content)/2)
		for j := 0; j+1 < len(procsNode.Content); j += 2 {
			nameNode := procsNode.Content[j]
			if first, dup := seenNames[nameNode.Value]; dup {
				return fmt.Errorf("line %d: process %q of role %q already defined at line %d", nameNode.Line, nameNode.Value, rp.Role, first)
			}
			seenNames[nameNode.Value] = nameNode.Line
			var def process.Definition
			if err := procsNode.Content[j+1].Decode(&def); err != nil {
				return fmt.Errorf("role %q process %q: %w", rp.Role, nameNode.Value, err)
			}
			def.Name = nameNode.Value
			rp.Processes = append(rp.Processes, def)
		}
		table = append(table, rp)
	}
	*t = table
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func (t ProcessTable) MarshalYAML() (any, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, rp := range t {
		procs := &yaml.Node{Kind: yaml.MappingNode}
		for _, def := range rp.Processes {
			name := def.Name
			def.Name = ""
			var val yaml.Node
			if err := val.Encode(def); err != nil {
				return nil, err
			}
			procs.Content = append(procs.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &val)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: rp.Role}, procs)
	}
	return root, nil
}

// Task is a named command sequence run on every host of a role, e.g.
// "collectstatic" on media servers or "migrate" on the migration host.
type Task struct {
	Name        string   `yaml:"name" json:"name" bson:"name" validate:"required"`
	Role        string   `yaml:"role" json:"role" bson:"role" validate:"required"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty" bson:"description,omitempty"`
	Commands    []string `yaml:"commands" json:"commands" bson:"commands" validate:"min=1,dive,required"`
}

type SSHConfig struct {
	User       string        `yaml:"user" json:"user" bson:"user"`
	Port       int           `yaml:"port" json:"port" bson:"port" validate:"omitempty,min=1,max=65535"`
	KeyPath    string        `yaml:"key_path,omitempty" json:"key_path,omitempty" bson:"key_path,omitempty"`
	Password   string        `yaml:"password,omitempty" json:"-" bson:"password,omitempty"`
	KnownHosts string        `yaml:"known_hosts,omitempty" json:"known_hosts,omitempty" bson:"known_hosts,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" bson:"timeout"`
	Retry      RetryConfig   `yaml:"retry" json:"retry" bson:"retry"`
	Breaker    BreakerConfig `yaml:"breaker" json:"breaker" bson:"breaker"`
}

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval" bson:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval" bson:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" json:"max_elapsed" bson:"max_elapsed"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" json:"consecutive_failures" bson:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" json:"open_timeout" bson:"open_timeout"`
}

type DispatchConfig struct {
	Parallel int  `yaml:"parallel" json:"parallel" bson:"parallel" validate:"min=0"`
	FailFast bool `yaml:"fail_fast" json:"fail_fast" bson:"fail_fast"`
}

type PublishConfig struct {
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty" bson:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty" json:"topic,omitempty" bson:"topic,omitempty" validate:"required_with=Brokers"`
}

func (c *Config) applyDefaults() {
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.Timeout == 0 {
		c.SSH.Timeout = 10 * time.Second
	}
	if c.SSH.Retry.InitialInterval == 0 {
		c.SSH.Retry.InitialInterval = 500 * time.Millisecond
	}
	if c.SSH.Retry.MaxInterval == 0 {
		c.SSH.Retry.MaxInterval = 5 * time.Second
	}
	if c.SSH.Retry.MaxElapsed == 0 {
		c.SSH.Retry.MaxElapsed = 30 * time.Second
	}
	if c.SSH.Breaker.ConsecutiveFailures == 0 {
		c.SSH.Breaker.ConsecutiveFailures = 5
	}
	if c.SSH.Breaker.OpenTimeout == 0 {
		c.SSH.Breaker.OpenTimeout = 30 * time.Second
	}
}

// Tables is the validated, immutable result of a Config.
type Tables struct {
	Config   *Config
	Index    *roles.Index
	Registry *process.Registry
	Tasks    map[string]Task
}

// Build validates c and derives the role index, the process registry and
// the task table. Any problem is reported before a host is contacted.
func (c *Config) Build() (*Tables, error) {
	if err := validate.Struct(c); err != nil {
		return nil, &roles.ConfigurationError{Op: "validate", Msg: "invalid configuration", Err: err}
	}

	caps := c.Hosts
	if c.SingleHost != "" {
		caps = roles.SingleHost(c.SingleHost, c.referencedRoles()...)
	}
	idx, err := roles.Build(caps)
	if err != nil {
		return nil, err
	}

	reg := process.NewRegistry()
	for _, rp := range c.Processes {
		for _, def := range rp.Processes {
			if err := reg.Register(rp.Role, def.Name, def); err != nil {
				return nil, err
			}
		}
	}

	tasks := make(map[string]Task, len(c.Tasks))
	for _, t := range c.Tasks {
		if _, dup := tasks[t.Name]; dup {
			return nil, &roles.ConfigurationError{Op: "tasks", Msg: fmt.Sprintf("task %q defined twice", t.Name)}
		}
		tasks[t.Name] = t
	}

	return &Tables{Config: c, Index: idx, Registry: reg, Tasks: tasks}, nil
}

// referencedRoles returns the roles named by processes and tasks, or nil.
func (c *Config) referencedRoles() []string {
	seen := make(map[string]struct{})
	for _, rp := range c.Processes {
		seen[rp.Role] = struct{}{}
	}
	for _, t := range c.Tasks {
		seen[t.Role] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// TaskNames returns the configured task names, sorted.
func (t *Tables) TaskNames() []string {
	out := make([]string, 0, len(t.Tasks))
	for name := range t.Tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
