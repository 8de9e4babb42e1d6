package mongostore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/andrej220/rolectl/pkg/config"
	"github.com/andrej220/rolectl/pkg/config/filestore"
	"github.com/andrej220/rolectl/pkg/config/mongostore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// storedDocument encodes cfg the way ReplaceOne stores it, with the _id the
// store filters on.
func storedDocument(t *testing.T, cfg *config.Config, id string) []byte {
	t.Helper()
	raw, err := bson.Marshal(cfg)
	require.NoError(t, err)

	var doc bson.D
	require.NoError(t, bson.Unmarshal(raw, &doc))
	doc = append(bson.D{{Key: "_id", Value: id}}, doc...)

	out, err := bson.Marshal(doc)
	require.NoError(t, err)
	return out
}

func TestConfigDocumentRoundTrip(t *testing.T) {
	cfg, err := config.Load(filestore.New(filepath.Join("..", "testdata", "production.yaml")))
	require.NoError(t, err)

	var decoded config.Config
	require.NoError(t, bson.Unmarshal(storedDocument(t, cfg, "production"), &decoded))

	assert.Equal(t, cfg.Processes, decoded.Processes)
	assert.Equal(t, cfg.Tasks, decoded.Tasks)
	assert.Equal(t, cfg.SSH, decoded.SSH)
	assert.Equal(t, cfg.Dispatch, decoded.Dispatch)

	tables, err := decoded.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"second_server.my.com"}, tables.Index.HostsForRole("database"))

	defs := tables.Registry.Resolve("second_server.my.com", tables.Index, "worker")
	require.Len(t, defs, 1)
	assert.Equal(t, "supervisorctl status celery-dedicated", defs[0].Status)
}

func TestLoadSaveRejectNil(t *testing.T) {
	store := &mongostore.MongoStore{ID: "production"}
	assert.Error(t, store.Load(nil))
	assert.Error(t, store.Save(nil))
	assert.Error(t, store.Watch(context.Background(), nil))
}
