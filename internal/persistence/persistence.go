// Package persistence writes run reports to files, as JSON or YAML.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	indent = "    " // Default indentation for JSON output (4 spaces)
	prefix = ""     // Default prefix for JSON output
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

type YAMLSerializer struct{}

func (YAMLSerializer) Marshal(data any) ([]byte, error) {
	return yaml.Marshal(data)
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// WriteToFile persists data using the provided Serializer and Writer.
func WriteToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}

	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteReport writes data to filename, overwriting it. Files ending in
// .yaml or .yml get YAML, everything else indented JSON.
func WriteReport(data any, filename string) error {
	return WriteToFile(data, filename, SerializerFor(filename), FileWriter{Overwrite: true})
}

func SerializerFor(filename string) Serializer {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return YAMLSerializer{}
	default:
		return JSONSerializer{Prefix: prefix, Indent: indent}
	}
}
