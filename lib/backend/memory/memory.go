/*
 * Accounts
 * Copyright (C) 2025  Accounts Contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package memory implements the storage backend interface over an
// in-memory btree. It is the backend used by tests and by embedders
// that do not need durability.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/jpslav/accounts/lib/backend"
)

// BTreeDegree is the default degree of the backing btree.
const BTreeDegree = 8

// Config holds memory backend configuration.
type Config struct {
	// Clock is the clock the backend reports; defaults to the real
	// clock.
	Clock clockwork.Clock
	// BTreeDegree is the btree degree; defaults to BTreeDegree.
	BTreeDegree int
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.BTreeDegree <= 0 {
		c.BTreeDegree = BTreeDegree
	}
	return nil
}

// Memory is an in-memory btree-backed backend. All operations are
// serialized on an internal mutex; the read path never blocks on
// anything else.
type Memory struct {
	cfg  Config
	mu   sync.Mutex
	tree *btree.BTreeG[*btreeItem]
}

type btreeItem struct {
	backend.Item
}

// New creates a new memory backend.
func New(cfg Config) (*Memory, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Memory{
		cfg: cfg,
		tree: btree.NewG(cfg.BTreeDegree, func(a, b *btreeItem) bool {
			return bytes.Compare(a.Key, b.Key) < 0
		}),
	}, nil
}

// Create creates the item if it does not exist.
func (m *Memory) Create(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tree.Has(&btreeItem{Item: backend.Item{Key: i.Key}}) {
		return trace.AlreadyExists("key %q already exists", string(i.Key))
	}
	m.tree.ReplaceOrInsert(&btreeItem{Item: copyItem(i)})
	return nil
}

// Put puts the value into the backend, overwriting an existing item.
func (m *Memory) Put(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.ReplaceOrInsert(&btreeItem{Item: copyItem(i)})
	return nil
}

// Update overwrites an existing item.
func (m *Memory) Update(ctx context.Context, i backend.Item) error {
	if len(i.Key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.tree.Has(&btreeItem{Item: backend.Item{Key: i.Key}}) {
		return trace.NotFound("key %q is not found", string(i.Key))
	}
	m.tree.ReplaceOrInsert(&btreeItem{Item: copyItem(i)})
	return nil
}

// Get returns a single item or a NotFound error.
func (m *Memory) Get(ctx context.Context, key []byte) (*backend.Item, error) {
	if len(key) == 0 {
		return nil, trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.tree.Get(&btreeItem{Item: backend.Item{Key: key}})
	if !ok {
		return nil, trace.NotFound("key %q is not found", string(key))
	}
	out := copyItem(item.Item)
	return &out, nil
}

// GetRange returns items with keys between startKey and endKey,
// inclusive.
func (m *Memory) GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*backend.GetResult, error) {
	if len(startKey) == 0 {
		return nil, trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return nil, trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res backend.GetResult
	m.tree.AscendGreaterOrEqual(&btreeItem{Item: backend.Item{Key: startKey}}, func(item *btreeItem) bool {
		if bytes.Compare(item.Key, endKey) > 0 {
			return false
		}
		res.Items = append(res.Items, copyItem(item.Item))
		return limit == backend.NoLimit || len(res.Items) < limit
	})
	return &res, nil
}

// Delete deletes the item by key.
func (m *Memory) Delete(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return trace.BadParameter("missing parameter key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tree.Delete(&btreeItem{Item: backend.Item{Key: key}}); !ok {
		return trace.NotFound("key %q is not found", string(key))
	}
	return nil
}

// DeleteRange deletes all items with keys between startKey and endKey,
// inclusive.
func (m *Memory) DeleteRange(ctx context.Context, startKey, endKey []byte) error {
	if len(startKey) == 0 {
		return trace.BadParameter("missing parameter startKey")
	}
	if len(endKey) == 0 {
		return trace.BadParameter("missing parameter endKey")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var doomed []*btreeItem
	m.tree.AscendGreaterOrEqual(&btreeItem{Item: backend.Item{Key: startKey}}, func(item *btreeItem) bool {
		if bytes.Compare(item.Key, endKey) > 0 {
			return false
		}
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		m.tree.Delete(item)
	}
	return nil
}

// Clock returns the clock used by this backend.
func (m *Memory) Clock() clockwork.Clock {
	return m.cfg.Clock
}

// Close releases the backing tree.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Clear(false)
	return nil
}

// copyItem detaches the item from caller-owned buffers so later
// mutations of the inputs cannot corrupt the tree, and vice versa.
func copyItem(i backend.Item) backend.Item {
	return backend.Item{
		Key:   bytes.Clone(i.Key),
		Value: bytes.Clone(i.Value),
	}
}
