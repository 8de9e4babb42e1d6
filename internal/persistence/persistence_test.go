// test module for package persistence

package persistence_test

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/andrej220/rolectl/internal/dispatch"
	"github.com/andrej220/rolectl/internal/persistence"
	"github.com/andrej220/rolectl/pkg/executor"
	"github.com/andrej220/rolectl/pkg/process"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleJSON = "{\n    \"key\": \"value\"\n}"

type MockSerializer struct {
	Bytes []byte
	Err   error
}

func (s MockSerializer) Marshal(data any) ([]byte, error) {
	return s.Bytes, s.Err
}

type MockWriter struct {
	Data map[string][]byte
	Err  error
}

func (w *MockWriter) Write(filename string, data []byte) error {
	if w.Data == nil {
		w.Data = make(map[string][]byte)
	}
	w.Data[filename] = data
	return w.Err
}

func TestWriteToFile(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		serializer  persistence.Serializer
		writer      persistence.Writer
		expectedErr bool
	}{
		{
			name:       "valid input",
			filename:   "report.json",
			serializer: MockSerializer{Bytes: []byte(sampleJSON)},
			writer:     &MockWriter{},
		},
		{
			name:        "empty filename",
			filename:    "",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "serializer error",
			filename:    "report.json",
			serializer:  MockSerializer{Err: fmt.Errorf("serialization failed")},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "writer error",
			filename:    "report.json",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{Err: fmt.Errorf("write failed")},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistence.WriteToFile(map[string]string{"key": "value"}, tt.filename, tt.serializer, tt.writer)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			writer := tt.writer.(*MockWriter)
			assert.Equal(t, sampleJSON, string(writer.Data[tt.filename]))
		})
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	data := map[string]string{"key": "value"}

	jsonPath := filepath.Join(dir, "nested", "report.json")
	require.NoError(t, persistence.WriteReport(data, jsonPath))
	got, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(got))

	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, persistence.WriteReport(data, yamlPath))
	got, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "key: value\n", string(got))
}

func TestFileWriterNoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	err := persistence.FileWriter{Overwrite: false}.Write(path, []byte("[]"))
	assert.ErrorIs(t, err, os.ErrExist)
}

func sampleReport() *dispatch.Report {
	runID := uuid.New()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &dispatch.Report{
		RunID:     runID,
		Operation: "status",
		Started:   started,
		Finished:  started.Add(2 * time.Second),
		Hosts: []dispatch.HostReport{
			{
				RunID: runID,
				Host:  "a.com",
				Steps: []dispatch.StepResult{{
					Step: dispatch.Step{Process: "django", Operation: process.OpStatus, Command: "ps django"},
					Result: executor.Result{
						Host:       "a.com",
						Command:    "ps django",
						ExitStatus: 3,
						Stdout:     []string{"STOPPED"},
						Duration:   time.Second,
					},
				}},
			},
			{RunID: runID, Host: "b.com", Skipped: true, Reason: "no processes for host"},
			{RunID: runID, Host: "c.com", Canceled: true, Reason: "context canceled"},
		},
	}
}

// keyPaths lists every mapping key in a decoded document as a dotted path.
func keyPaths(prefix string, v any, out map[string]struct{}) {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			p := prefix + "." + k
			out[p] = struct{}{}
			keyPaths(p, val, out)
		}
	case []any:
		for _, e := range x {
			keyPaths(prefix+"[]", e, out)
		}
	}
}

func sortedKeys(v any) []string {
	set := map[string]struct{}{}
	keyPaths("", v, set)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestWriteReportSameSchemaForJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	report := sampleReport()

	jsonPath := filepath.Join(dir, "report.json")
	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, persistence.WriteReport(report, jsonPath))
	require.NoError(t, persistence.WriteReport(report, yamlPath))

	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(raw, &fromJSON))

	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &fromYAML))

	assert.Equal(t, sortedKeys(fromJSON), sortedKeys(fromYAML))

	keys := sortedKeys(fromYAML)
	assert.Contains(t, keys, ".run_id")
	assert.Contains(t, keys, ".hosts[].steps[].process")
	assert.Contains(t, keys, ".hosts[].steps[].result.exit_status")
	assert.Contains(t, keys, ".hosts[].canceled")
	assert.NotContains(t, keys, ".hosts[].steps[].step")
	assert.NotContains(t, keys, ".hosts[].steps[].error")
	assert.NotContains(t, keys, ".hosts[].steps[].result.stderr")
	assert.NotContains(t, string(raw), "skipped: false")
}
