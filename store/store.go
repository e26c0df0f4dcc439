package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("posture/store")

var ErrPersistence = errors.New("persistence failed")

const (
	NamespaceSpine    = "deteksi/spine"
	NamespaceSit      = "deteksi/sit"
	NamespaceCoord    = "coord"
	NamespaceSessions = "sessions"
)

const (
	KindMemory   = "memory"
	KindSQLite   = "sqlite"
	KindFirebase = "firebase"
)

var Kinds = []string{KindMemory, KindSQLite, KindFirebase}

// KV is a namespaced key/value sink. Values are JSON-encodable.
type KV interface {
	Put(ctx context.Context, namespace, key string, value any) error
	Close() error
}

// Lister is implemented by stores that can read a namespace back.
type Lister interface {
	List(ctx context.Context, namespace string) ([]Record, error)
}

type Record struct {
	Namespace string
	Key       string
	Value     json.RawMessage
}

type Config struct {
	Kind string `yaml:"kind"`
	// Path is the sqlite database file.
	Path        string        `yaml:"path"`
	DatabaseURL string        `yaml:"database_url"`
	Credentials string        `yaml:"credentials"`
	Timeout     time.Duration `yaml:"timeout"`
}

func Open(ctx context.Context, cfg Config) (KV, error) {
	switch cfg.Kind {
	case KindMemory, "":
		return NewMemoryKV(), nil
	case KindSQLite:
		return NewSQLiteKV(cfg.Path)
	case KindFirebase:
		return NewFirebaseKV(ctx, cfg.DatabaseURL, cfg.Credentials, cfg.Timeout)
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
}
