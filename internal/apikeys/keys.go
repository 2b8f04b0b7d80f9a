// Package apikeys manages the keys accepted by the public reputation
// endpoint. Named keys live in a hash (key -> name); keys issued before
// names existed live in a plain set and are still honoured.
package apikeys

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"tibridge/internal/store"
)

const legacyName = "Legacy Key"

var ErrEmptyName = errors.New("apikeys: name is required")

type Key struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Legacy bool   `json:"legacy"`
}

type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// Valid reports whether key is in either the legacy set or the named hash.
func (r *Registry) Valid(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	ok, err := r.store.SetIsMember(ctx, store.KeyAPIKeys, key)
	if err != nil || ok {
		return ok, err
	}
	return r.store.HashExists(ctx, store.KeyAPIKeysV2, key)
}

// Generate issues a random key under name.
func (r *Registry) Generate(ctx context.Context, name string) (Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Key{}, ErrEmptyName
	}
	k := Key{Key: uuid.NewString(), Name: name}
	if err := r.store.HashSet(ctx, store.KeyAPIKeysV2, k.Key, k.Name); err != nil {
		return Key{}, err
	}
	return k, nil
}

// List returns named and legacy keys sorted by name, then key.
func (r *Registry) List(ctx context.Context) ([]Key, error) {
	named, err := r.store.HashGetAll(ctx, store.KeyAPIKeysV2)
	if err != nil {
		return nil, err
	}
	legacy, err := r.store.SetMembers(ctx, store.KeyAPIKeys)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(named)+len(legacy))
	for key, name := range named {
		keys = append(keys, Key{Key: key, Name: name})
	}
	for _, key := range legacy {
		if _, dup := named[key]; dup {
			continue
		}
		keys = append(keys, Key{Key: key, Name: legacyName, Legacy: true})
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Key < keys[j].Key
	})
	return keys, nil
}

// Delete removes key from both collections and reports whether it existed.
func (r *Registry) Delete(ctx context.Context, key string) (bool, error) {
	fromHash, err := r.store.HashDelete(ctx, store.KeyAPIKeysV2, key)
	if err != nil {
		return false, err
	}
	fromSet, err := r.store.SetRemove(ctx, store.KeyAPIKeys, key)
	if err != nil {
		return false, err
	}
	return fromHash+fromSet > 0, nil
}
