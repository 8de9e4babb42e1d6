package process

import (
	"fmt"
	"strings"
)

type Operation string

const (
	OpStatus  Operation = "status"
	OpReload  Operation = "reload"
	OpRestart Operation = "restart"
	OpStop    Operation = "stop"
	OpStart   Operation = "start"
)

// Operations lists the control operations in a stable order.
var Operations = []Operation{OpStatus, OpReload, OpRestart, OpStop, OpStart}

func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	return "", &UnknownOperationError{Operation: Operation(s)}
}

// Definition is the control-command bundle of one named process.
// Commands are opaque strings handed to the remote executor as is.
type Definition struct {
	Name    string `yaml:"name,omitempty" json:"name" bson:"name"`
	Status  string `yaml:"status" json:"status" bson:"status" validate:"required"`
	Reload  string `yaml:"reload,omitempty" json:"reload,omitempty" bson:"reload,omitempty" validate:"required_without=Restart"`
	Restart string `yaml:"restart,omitempty" json:"restart,omitempty" bson:"restart,omitempty" validate:"required_without=Reload"`
	Stop    string `yaml:"stop,omitempty" json:"stop,omitempty" bson:"stop,omitempty"`
	Start   string `yaml:"start,omitempty" json:"start,omitempty" bson:"start,omitempty"`
}

// CommandFor returns the command for op. Reload falls back to Restart.
func CommandFor(def Definition, op Operation) (string, error) {
	var cmd string
	switch op {
	case OpStatus:
		cmd = def.Status
	case OpReload:
		cmd = def.Reload
		if strings.TrimSpace(cmd) == "" {
			cmd = def.Restart
		}
	case OpRestart:
		cmd = def.Restart
	case OpStop:
		cmd = def.Stop
	case OpStart:
		cmd = def.Start
	}
	if strings.TrimSpace(cmd) == "" {
		return "", &UnknownOperationError{Process: def.Name, Operation: op}
	}
	return cmd, nil
}

// Supports reports whether CommandFor(def, op) would succeed.
func (d Definition) Supports(op Operation) bool {
	_, err := CommandFor(d, op)
	return err == nil
}

func (d Definition) String() string {
	return fmt.Sprintf("%s(status=%q)", d.Name, d.Status)
}
