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

// Package services defines the storage service interfaces the
// hierarchy engine is built on, together with the marshaling helpers
// shared by their implementations.
package services

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
)

// Groups manages group records.
type Groups interface {
	// CreateGroup creates a new group. A non-empty name is reserved
	// atomically with the record; a name collision yields an
	// AlreadyExists error.
	CreateGroup(ctx context.Context, group *types.Group) (*types.Group, error)
	// GetGroup returns a group by ID or a NotFound error.
	GetGroup(ctx context.Context, groupID string) (*types.Group, error)
	// GetGroupByName returns a group by its unique non-empty name.
	GetGroupByName(ctx context.Context, name string) (*types.Group, error)
	// ListGroups returns all groups in ID order.
	ListGroups(ctx context.Context) ([]*types.Group, error)
	// UpdateGroup overwrites an existing group record, maintaining the
	// name index on rename.
	UpdateGroup(ctx context.Context, group *types.Group) (*types.Group, error)
	// SetGroupSupertree overwrites the cached supertree column of a
	// group with a direct write that skips group validation, so cache
	// persistence cannot recurse through save-time hooks. The subtree
	// column is left untouched. Nil stores the "not yet computed"
	// state.
	SetGroupSupertree(ctx context.Context, groupID string, closure *types.Closure) error
	// SetGroupSubtree overwrites the cached subtree column of a group,
	// leaving the supertree column untouched. Semantics are otherwise
	// identical to SetGroupSupertree.
	SetGroupSubtree(ctx context.Context, groupID string, closure *types.Closure) error
	// DeleteGroup deletes a group and cascades to its owner, member
	// and nesting relations; no relation may survive pointing at the
	// deleted group.
	DeleteGroup(ctx context.Context, groupID string) error
}

// Memberships manages direct owner and member relations.
type Memberships interface {
	// CreateGroupOwner inserts an owner relation; a duplicate pair
	// yields an AlreadyExists error and exactly one surviving row.
	CreateGroupOwner(ctx context.Context, owner *types.GroupOwner) error
	// GetGroupOwner returns the owner relation for the pair or a
	// NotFound error.
	GetGroupOwner(ctx context.Context, groupID, userID string) (*types.GroupOwner, error)
	// ListGroupOwners returns all owner relations of a group.
	ListGroupOwners(ctx context.Context, groupID string) ([]*types.GroupOwner, error)
	// DeleteGroupOwner revokes an owner relation.
	DeleteGroupOwner(ctx context.Context, groupID, userID string) error

	// CreateGroupMember inserts a member relation; same uniqueness
	// semantics as CreateGroupOwner.
	CreateGroupMember(ctx context.Context, member *types.GroupMember) error
	// GetGroupMember returns the member relation for the pair or a
	// NotFound error.
	GetGroupMember(ctx context.Context, groupID, userID string) (*types.GroupMember, error)
	// ListGroupMembers returns all member relations of a group.
	ListGroupMembers(ctx context.Context, groupID string) ([]*types.GroupMember, error)
	// DeleteGroupMember revokes a member relation.
	DeleteGroupMember(ctx context.Context, groupID, userID string) error
}

// Nestings manages group nesting relations.
type Nestings interface {
	// CreateGroupNesting inserts a nesting edge. A member group can
	// have at most one container: a second container for the same
	// member yields an AlreadyExists error.
	CreateGroupNesting(ctx context.Context, nesting *types.GroupNesting) error
	// GetContainerNesting returns the nesting whose member side is the
	// given group, or a NotFound error when the group is a root.
	GetContainerNesting(ctx context.Context, memberGroupID string) (*types.GroupNesting, error)
	// ListMemberNestings returns the nestings whose container side is
	// the given group.
	ListMemberNestings(ctx context.Context, containerGroupID string) ([]*types.GroupNesting, error)
	// DeleteGroupNesting removes a nesting edge.
	DeleteGroupNesting(ctx context.Context, containerGroupID, memberGroupID string) error
}

// Notifier posts the unread-update side effect after a successful
// owner, member or nesting write. A notifier failure aborts the
// triggering mutation.
type Notifier interface {
	// NotifyUnreadUpdate flags the group's owners as having unread
	// updates.
	NotifyUnreadUpdate(ctx context.Context, group *types.Group) error
}

// MarshalGroup marshals a group to its storage form.
func MarshalGroup(group *types.Group) ([]byte, error) {
	if err := group.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(group)
	return data, trace.Wrap(err)
}

// UnmarshalGroup unmarshals a group from its storage form.
func UnmarshalGroup(data []byte) (*types.Group, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("missing group data")
	}
	var group types.Group
	if err := json.Unmarshal(data, &group); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	if err := group.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &group, nil
}

// MarshalGroupOwner marshals an owner relation to its storage form.
func MarshalGroupOwner(owner *types.GroupOwner) ([]byte, error) {
	if err := owner.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(owner)
	return data, trace.Wrap(err)
}

// UnmarshalGroupOwner unmarshals an owner relation from its storage
// form.
func UnmarshalGroupOwner(data []byte) (*types.GroupOwner, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("missing group owner data")
	}
	var owner types.GroupOwner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	if err := owner.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &owner, nil
}

// MarshalGroupMember marshals a member relation to its storage form.
func MarshalGroupMember(member *types.GroupMember) ([]byte, error) {
	if err := member.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(member)
	return data, trace.Wrap(err)
}

// UnmarshalGroupMember unmarshals a member relation from its storage
// form.
func UnmarshalGroupMember(data []byte) (*types.GroupMember, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("missing group member data")
	}
	var member types.GroupMember
	if err := json.Unmarshal(data, &member); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	if err := member.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &member, nil
}

// MarshalGroupNesting marshals a nesting relation to its storage form.
func MarshalGroupNesting(nesting *types.GroupNesting) ([]byte, error) {
	if err := nesting.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(nesting)
	return data, trace.Wrap(err)
}

// UnmarshalGroupNesting unmarshals a nesting relation from its storage
// form.
func UnmarshalGroupNesting(data []byte) (*types.GroupNesting, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("missing group nesting data")
	}
	var nesting types.GroupNesting
	if err := json.Unmarshal(data, &nesting); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	if err := nesting.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &nesting, nil
}
