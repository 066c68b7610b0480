package hostfunc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/newstate/codec"
	"github.com/caffeineduck/newstate/transfer"
)

const (
	DefaultMaxKeySize   = 256
	DefaultMaxValueSize = 1 << 20 // 1MB encoded
	DefaultMaxEntries   = 10000
)

// KVConfig bounds a KV store. Zero fields select the defaults.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int // encoded CBOR size
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultMaxKeySize,
		MaxValueSize: DefaultMaxValueSize,
		MaxEntries:   DefaultMaxEntries,
	}
}

// KV is an in-memory store shared between calls. Values are deep copies,
// so nothing stored aliases a sandbox table.
type KV struct {
	cfg  KVConfig
	data map[string]transfer.Value
	mu   sync.RWMutex
}

func NewKV(cfg KVConfig) *KV {
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = DefaultMaxKeySize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = DefaultMaxValueSize
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &KV{cfg: cfg, data: make(map[string]transfer.Value)}
}

// Register installs kv_get, kv_set, kv_delete and kv_keys into r.
func (s *KV) Register(r *Registry) {
	r.Register("kv_get", s.Get)
	r.Register("kv_set", s.Set)
	r.Register("kv_delete", s.Delete)
	r.Register("kv_keys", s.Keys)
}

// Get returns the value stored under key, or the optional default.
func (s *KV) Get(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return []transfer.Value{transfer.Clone(arg(args, 1))}, nil
	}
	return []transfer.Value{transfer.Clone(val)}, nil
}

// Set stores value under key. Storing nil deletes the key.
func (s *KV) Set(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}
	if len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("key exceeds max size (%d bytes)", s.cfg.MaxKeySize)
	}

	val := arg(args, 1)
	if transfer.IsNil(val) {
		return s.Delete(ctx, args[:1])
	}

	size, err := codec.Size(val)
	if err != nil {
		return nil, err
	}
	if size > s.cfg.MaxValueSize {
		return nil, fmt.Errorf("value exceeds max size (%d bytes)", s.cfg.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("kv store full (%d entries)", s.cfg.MaxEntries)
	}
	s.data[key] = transfer.Clone(val)

	return []transfer.Value{transfer.Bool(true)}, nil
}

func (s *KV) Delete(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	key, err := stringArg(args, 0, "key")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()

	return []transfer.Value{transfer.Bool(existed)}, nil
}

// Keys returns the stored keys as a sorted sequence.
func (s *KV) Keys(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
	keys := s.Snapshot()
	out := transfer.NewTable(len(keys))
	for _, k := range keys {
		out.Append(transfer.String(k))
	}
	return []transfer.Value{out}, nil
}

// Snapshot returns the stored keys in sorted order.
func (s *KV) Snapshot() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (s *KV) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
