// pkg/config/config.go
package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/rolectl/internal/lg"
	"github.com/andrej220/rolectl/pkg/config/configstore"
	"github.com/andrej220/rolectl/pkg/config/filestore"
	"github.com/andrej220/rolectl/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Store combines loading, saving and change notification.
type Store interface {
	configstore.ConfigStore
	configstore.Watcher
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // Document ID
}

func ParseStoreType(s string) (StoreType, error) {
	switch s {
	case "", "file":
		return FileStore, nil
	case "mongo":
		return MongoStore, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
}

// NewStore opens the store of the given type. logger receives the store's
// own diagnostics, such as file watch events; nil discards them.
func NewStore(storeType StoreType, cfg any, logger lg.Logger) (Store, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		fs := filestore.New(fileCfg.Path)
		if logger != nil {
			fs.Logger = logger
		}
		return fs, nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}

// Load reads a Config from store and applies defaults.
func Load(store configstore.ConfigStore) (*Config, error) {
	cfg := &Config{}
	if err := store.Load(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Watch reloads and rebuilds the configuration on every change, handing
// the result to onReload. Broken configurations are passed as errors and
// the caller keeps whatever it had before.
func Watch(ctx context.Context, store Store, onReload func(*Tables, error)) error {
	return store.Watch(ctx, func() {
		cfg, err := Load(store)
		if err != nil {
			onReload(nil, err)
			return
		}
		onReload(cfg.Build())
	})
}
