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

// Package backend provides the storage abstraction the group stores
// are built on: an ordered durable key-value space with atomic
// create-if-absent semantics.
package backend

import (
	"context"
	"strings"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

// Backend implements abstraction over local or remote storage.
// Item keys are assumed to be valid UTF8.
type Backend interface {
	// Create creates the item if it does not exist, and returns an
	// AlreadyExists error otherwise. Uniqueness constraints in the
	// stores are built on this operation: concurrent creates of the
	// same key result in exactly one surviving item.
	Create(ctx context.Context, i Item) error

	// Put puts the value into the backend, creating the item if it
	// does not exist and overwriting it otherwise.
	Put(ctx context.Context, i Item) error

	// Update overwrites an existing item and returns a NotFound error
	// if it does not exist.
	Update(ctx context.Context, i Item) error

	// Get returns a single item or a NotFound error.
	Get(ctx context.Context, key []byte) (*Item, error)

	// GetRange returns items with keys between startKey and endKey,
	// inclusive, in key order. Limit of NoLimit means no limit.
	GetRange(ctx context.Context, startKey, endKey []byte, limit int) (*GetResult, error)

	// Delete deletes the item by key and returns a NotFound error if
	// it does not exist.
	Delete(ctx context.Context, key []byte) error

	// DeleteRange deletes all items with keys between startKey and
	// endKey, inclusive.
	DeleteRange(ctx context.Context, startKey, endKey []byte) error

	// Clock returns the clock used by this backend.
	Clock() clockwork.Clock

	// Close closes the backend and all associated resources.
	Close() error
}

// Item is a key value item.
type Item struct {
	// Key is the key of the key value item.
	Key []byte
	// Value is the value of the key value item.
	Value []byte
}

// GetResult provides the result of a GetRange request.
type GetResult struct {
	// Items is the list of items in key order.
	Items []Item
}

// NoLimit specifies no limits.
const NoLimit = 0

// Separator is used as a separator between key parts.
const Separator = '/'

// Key joins parts into a path separated by Separator, and makes sure
// the path always starts with Separator ("/").
func Key(parts ...string) []byte {
	return []byte(strings.Join(append([]string{""}, parts...), string(Separator)))
}

// RangeEnd returns the end of the range for the given key.
func RangeEnd(key []byte) []byte {
	end := make([]byte, len(key))
	copy(end, key)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i] = end[i] + 1
			end = end[:i+1]
			return end
		}
	}
	// next key does not exist (e.g., 0xffff)
	return noEnd
}

var noEnd = []byte{0}

// Config is the 'storage' configuration section: a backend type plus a
// generic property bag passed to the backend implementation.
type Config struct {
	// Type selects the backend implementation, e.g. "memory" or
	// "mysql".
	Type string `yaml:"type,omitempty"`

	// Params is a generic key/value property bag which allows
	// arbitrary values to be passed to the backend.
	Params Params `yaml:",inline"`
}

// Params defines a flexible unified backend configuration API. It is
// just a map of key/value pairs populated from the `storage` section of
// a YAML config.
type Params map[string]any

// GetString returns a string value stored in the Params map, or an
// empty string if nothing is found.
func (p Params) GetString(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// ParseConfig parses the YAML 'storage' section into a Config.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, trace.BadParameter("failed to parse storage configuration: %v", err)
	}
	if cfg.Type == "" {
		return nil, trace.BadParameter("storage configuration is missing Type")
	}
	return &cfg, nil
}
