// Package consul is a Consul KV RemoteStore: one JSON snapshot per (user, role) under a key prefix.
package consul

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	consulapi "github.com/hashicorp/consul/api"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// DefaultPrefix is the KV prefix used when none is configured.
const DefaultPrefix = "onboarding/progress/"

const casAttempts = 3

// ErrConflict is returned when a compare-and-set write keeps losing to concurrent writers.
var ErrConflict = errors.New("consul: concurrent snapshot update")

type kvAPI interface {
	Get(key string, q *consulapi.QueryOptions) (*consulapi.KVPair, *consulapi.QueryMeta, error)
	CAS(p *consulapi.KVPair, q *consulapi.WriteOptions) (bool, *consulapi.WriteMeta, error)
	Delete(key string, w *consulapi.WriteOptions) (*consulapi.WriteMeta, error)
	List(prefix string, q *consulapi.QueryOptions) (consulapi.KVPairs, *consulapi.QueryMeta, error)
}

// ProgressStore stores snapshots in Consul KV.
type ProgressStore struct {
	kv     kvAPI
	prefix string
}

// NewProgressStore connects to the Consul agent at addr (empty means the client default).
func NewProgressStore(addr, prefix string) (*ProgressStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return newStore(cli.KV(), prefix), nil
}

func newStore(kv kvAPI, prefix string) *ProgressStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ProgressStore{kv: kv, prefix: prefix}
}

func (s *ProgressStore) key(userID string, role domain.Role) string {
	return s.prefix + userID + "/" + string(role)
}

// Load returns the stored snapshot, or nil when the key is absent.
func (s *ProgressStore) Load(ctx context.Context, userID string, role domain.Role) (*domain.Progress, error) {
	pair, _, err := s.kv.Get(s.key(userID, role), (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, nil
	}
	var p domain.Progress
	if err := json.Unmarshal(pair.Value, &p); err != nil {
		return nil, fmt.Errorf("consul decode %s: %w", pair.Key, err)
	}
	return &p, nil
}

// Save writes p with check-and-set. A stored snapshot with a newer LastUpdatedAt is kept.
func (s *ProgressStore) Save(ctx context.Context, p *domain.Progress) error {
	key := s.key(p.UserID, p.Role)
	value, err := json.Marshal(p)
	if err != nil {
		return err
	}
	for i := 0; i < casAttempts; i++ {
		pair, _, err := s.kv.Get(key, (&consulapi.QueryOptions{}).WithContext(ctx))
		if err != nil {
			return err
		}
		var index uint64
		if pair != nil {
			index = pair.ModifyIndex
			var cur domain.Progress
			if json.Unmarshal(pair.Value, &cur) == nil && cur.LastUpdatedAt.After(p.LastUpdatedAt) {
				return nil
			}
		}
		ok, _, err := s.kv.CAS(&consulapi.KVPair{Key: key, Value: value, ModifyIndex: index}, (&consulapi.WriteOptions{}).WithContext(ctx))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrConflict
}

// Delete removes the snapshot for (userID, role).
func (s *ProgressStore) Delete(ctx context.Context, userID string, role domain.Role) error {
	_, err := s.kv.Delete(s.key(userID, role), (&consulapi.WriteOptions{}).WithContext(ctx))
	return err
}

// Users lists the user ids that have a stored snapshot for role.
func (s *ProgressStore) Users(ctx context.Context, role domain.Role) ([]string, error) {
	pairs, _, err := s.kv.List(s.prefix, (&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, pair := range pairs {
		rest := strings.TrimPrefix(pair.Key, s.prefix)
		user, r, ok := strings.Cut(rest, "/")
		if ok && domain.Role(r) == role {
			out = append(out, user)
		}
	}
	return out, nil
}
