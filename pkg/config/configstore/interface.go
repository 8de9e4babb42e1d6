package configstore

import "context"

type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}

// Watcher is implemented by stores that can report changes.
// onChange runs on the watcher goroutine until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}
