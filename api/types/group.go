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

package types

import (
	"slices"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Group is a collection of users and, through nestings, other groups.
// Each group has at most one container group, so the nesting graph is a
// forest: the ancestor chain of a group is linear and the descendant
// closure is a tree.
type Group struct {
	// ID uniquely identifies the group.
	ID string `json:"id"`
	// Name is an optional display name. Non-empty names are globally
	// unique; groups without a name do not collide.
	Name string `json:"name,omitempty"`
	// IsPublic makes the group visible to any actor.
	IsPublic bool `json:"is_public"`
	// CachedSupertree memoizes the ancestor closure, ordered from this
	// group outward to the root. Nil means not yet computed. A computed
	// value is returned verbatim with no freshness check and is never
	// invalidated by later nesting changes; see the hierarchy package
	// for the full caching policy.
	CachedSupertree *Closure `json:"cached_supertree,omitempty"`
	// CachedSubtree memoizes the descendant closure, order undefined,
	// no duplicates. Same two-state and staleness semantics as
	// CachedSupertree.
	CachedSubtree *Closure `json:"cached_subtree,omitempty"`
}

// CheckAndSetDefaults validates the group and assigns a fresh ID when
// one was not provided.
func (g *Group) CheckAndSetDefaults() error {
	if g == nil {
		return trace.BadParameter("missing group")
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// Closure is the persisted result of a supertree or subtree
// computation. A nil *Closure means "not yet computed"; a non-nil value
// is authoritative until explicitly reset.
type Closure struct {
	// GroupIDs is the closure member list. Both closure kinds are
	// reflexive: the owning group's ID is always present.
	GroupIDs []string `json:"group_ids"`
}

// NewClosure returns a computed closure over the given IDs.
func NewClosure(groupIDs []string) *Closure {
	return &Closure{GroupIDs: groupIDs}
}

// Contains reports whether the closure includes the given group ID.
func (c *Closure) Contains(groupID string) bool {
	return c != nil && slices.Contains(c.GroupIDs, groupID)
}
