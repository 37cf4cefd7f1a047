package toolcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/toolport/config"
	"github.com/BaSui01/toolport/types"
)

// ErrStoreClosed 缓存已关闭
var ErrStoreClosed = errors.New("toolcache: store closed")

// Store caches tool descriptors by key.
type Store interface {
	// Get returns the cached tools; ok is false on a miss.
	Get(ctx context.Context, key string) (tools []types.ToolDescriptor, ok bool, err error)
	// Set stores tools. ttl 0 uses the store default.
	Set(ctx context.Context, key string, tools []types.ToolDescriptor, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Key returns the cache key of a server: its name plus a fingerprint of how
// it is launched or reached.
func Key(spec config.ServerSpec) string {
	fp := struct {
		Kind      config.LaunchKind `json:"k"`
		Transport string            `json:"t"`
		Command   string            `json:"c"`
		Args      []string          `json:"a"`
		Cwd       string            `json:"d"`
		Env       [][2]string       `json:"e"`
		URL       string            `json:"u"`
	}{
		Kind:      spec.Kind,
		Transport: spec.Transport,
		Command:   spec.Command,
		Args:      spec.Args,
		Cwd:       spec.Cwd,
		URL:       spec.URL,
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fp.Env = append(fp.Env, [2]string{k, spec.Env[k]})
	}

	data, _ := json.Marshal(fp)
	sum := sha256.Sum256(data)
	return spec.Name + ":" + hex.EncodeToString(sum[:8])
}

// New builds the store selected by cfg.
func New(cfg config.CacheConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(RedisConfig{
			Addr:       cfg.Addr,
			Password:   cfg.Password,
			DB:         cfg.DB,
			KeyPrefix:  cfg.KeyPrefix,
			DefaultTTL: cfg.TTL,
		}, logger)
	}
	return nil, types.NewConfigError("unknown cache driver %q", cfg.Driver)
}

func cloneTools(in []types.ToolDescriptor) []types.ToolDescriptor {
	if in == nil {
		return nil
	}
	out := make([]types.ToolDescriptor, len(in))
	copy(out, in)
	return out
}

// --- 内存实现 ---

type memoryEntry struct {
	tools   []types.ToolDescriptor
	expires time.Time
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	now        func() time.Time
	closed     bool
}

// NewMemoryStore creates an in-memory store. defaultTTL 0 keeps entries
// until deleted.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]types.ToolDescriptor, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}
	e, ok := s.entries[key]
	if !ok || (!e.expires.IsZero() && !s.now().Before(e.expires)) {
		return nil, false, nil
	}
	return cloneTools(e.tools), true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, tools []types.ToolDescriptor, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	e := memoryEntry{tools: cloneTools(tools)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
