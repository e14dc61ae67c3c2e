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

// Package local implements the storage services over a key-value
// backend.
package local

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
	"github.com/jpslav/accounts/lib/backend"
	"github.com/jpslav/accounts/lib/services"
)

const (
	groupsPrefix       = "groups"
	groupNamesPrefix   = "group_names"
	groupOwnersPrefix  = "group_owners"
	groupMembersPrefix = "group_members"
	nestingsPrefix     = "group_nestings"
	byMemberInfix      = "by_member"
	byContainerInfix   = "by_container"
)

// GroupService manages group records and their owner, member and
// nesting relations in the backend.
//
// Uniqueness invariants are carried by the key layout: relation rows
// live at canonical pair keys and are inserted with create-if-absent,
// so a duplicate pair or a second container for a nested group loses
// the race and surfaces as an AlreadyExists error.
type GroupService struct {
	backend.Backend
}

// NewGroupService creates a new GroupService.
func NewGroupService(b backend.Backend) *GroupService {
	return &GroupService{Backend: b}
}

// CreateGroup creates a new group. A non-empty name is reserved in the
// name index atomically with the record.
func (s *GroupService) CreateGroup(ctx context.Context, group *types.Group) (*types.Group, error) {
	value, err := services.MarshalGroup(group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if group.Name != "" {
		err := s.Create(ctx, backend.Item{
			Key:   backend.Key(groupNamesPrefix, group.Name),
			Value: []byte(group.ID),
		})
		if err != nil {
			if trace.IsAlreadyExists(err) {
				return nil, trace.AlreadyExists("group name %q is already taken", group.Name)
			}
			return nil, trace.Wrap(err)
		}
	}
	if err := s.Create(ctx, backend.Item{Key: backend.Key(groupsPrefix, group.ID), Value: value}); err != nil {
		if group.Name != "" {
			// Release the name reservation; the record write lost.
			s.Delete(ctx, backend.Key(groupNamesPrefix, group.Name))
		}
		return nil, trace.Wrap(err)
	}
	return group, nil
}

// GetGroup returns a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	if groupID == "" {
		return nil, trace.BadParameter("missing parameter groupID")
	}
	item, err := s.Get(ctx, backend.Key(groupsPrefix, groupID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("group %q doesn't exist", groupID)
		}
		return nil, trace.Wrap(err)
	}
	group, err := services.UnmarshalGroup(item.Value)
	return group, trace.Wrap(err)
}

// GetGroupByName returns a group by its unique non-empty name.
func (s *GroupService) GetGroupByName(ctx context.Context, name string) (*types.Group, error) {
	if name == "" {
		return nil, trace.BadParameter("missing parameter name")
	}
	item, err := s.Get(ctx, backend.Key(groupNamesPrefix, name))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("group named %q doesn't exist", name)
		}
		return nil, trace.Wrap(err)
	}
	group, err := s.GetGroup(ctx, string(item.Value))
	return group, trace.Wrap(err)
}

// ListGroups returns all groups in ID order.
func (s *GroupService) ListGroups(ctx context.Context) ([]*types.Group, error) {
	startKey := backend.Key(groupsPrefix)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	groups := make([]*types.Group, len(result.Items))
	for i, item := range result.Items {
		group, err := services.UnmarshalGroup(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		groups[i] = group
	}
	return groups, nil
}

// UpdateGroup overwrites an existing group record. On rename the new
// name is reserved before the old reservation is released, so two
// groups can never hold the same name.
func (s *GroupService) UpdateGroup(ctx context.Context, group *types.Group) (*types.Group, error) {
	existing, err := s.GetGroup(ctx, group.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	value, err := services.MarshalGroup(group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if group.Name != existing.Name {
		if group.Name != "" {
			err := s.Create(ctx, backend.Item{
				Key:   backend.Key(groupNamesPrefix, group.Name),
				Value: []byte(group.ID),
			})
			if err != nil {
				if trace.IsAlreadyExists(err) {
					return nil, trace.AlreadyExists("group name %q is already taken", group.Name)
				}
				return nil, trace.Wrap(err)
			}
		}
		if existing.Name != "" {
			if err := s.Delete(ctx, backend.Key(groupNamesPrefix, existing.Name)); err != nil && !trace.IsNotFound(err) {
				return nil, trace.Wrap(err)
			}
		}
	}
	if err := s.Update(ctx, backend.Item{Key: backend.Key(groupsPrefix, group.ID), Value: value}); err != nil {
		return nil, trace.Wrap(err)
	}
	return group, nil
}

// SetGroupSupertree overwrites the cached supertree column of a group,
// leaving the subtree column untouched.
func (s *GroupService) SetGroupSupertree(ctx context.Context, groupID string, closure *types.Closure) error {
	return s.setGroupClosure(ctx, groupID, func(group *types.Group) {
		group.CachedSupertree = closure
	})
}

// SetGroupSubtree overwrites the cached subtree column of a group,
// leaving the supertree column untouched.
func (s *GroupService) SetGroupSubtree(ctx context.Context, groupID string, closure *types.Closure) error {
	return s.setGroupClosure(ctx, groupID, func(group *types.Group) {
		group.CachedSubtree = closure
	})
}

// setGroupClosure patches a single closure column of the stored record.
// This is a direct write: the record is re-read, patched and put back
// without revalidation, so closure persistence cannot recurse through
// group save hooks. Only the patched column changes; a caller holding a
// stale instance can never wipe the other column's persisted cache.
func (s *GroupService) setGroupClosure(ctx context.Context, groupID string, patch func(*types.Group)) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return trace.Wrap(err)
	}
	patch(group)
	value, err := services.MarshalGroup(group)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Update(ctx, backend.Item{Key: backend.Key(groupsPrefix, groupID), Value: value}))
}

// DeleteGroup deletes a group, cascading to its owner and member
// relations and to both directions of its nesting relations. Relations
// are removed before the record itself, so a partial failure never
// leaves a relation pointing at a deleted group.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return trace.Wrap(err)
	}

	// The nesting that contains this group, if any.
	if nesting, err := s.GetContainerNesting(ctx, groupID); err == nil {
		if err := s.DeleteGroupNesting(ctx, nesting.ContainerGroupID, nesting.MemberGroupID); err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	} else if !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}

	// The nestings this group contains.
	children, err := s.ListMemberNestings(ctx, groupID)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, nesting := range children {
		if err := s.DeleteGroupNesting(ctx, nesting.ContainerGroupID, nesting.MemberGroupID); err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	}

	for _, prefix := range []string{groupOwnersPrefix, groupMembersPrefix} {
		startKey := backend.Key(prefix, groupID)
		if err := s.DeleteRange(ctx, startKey, backend.RangeEnd(startKey)); err != nil {
			return trace.Wrap(err)
		}
	}

	if group.Name != "" {
		if err := s.Delete(ctx, backend.Key(groupNamesPrefix, group.Name)); err != nil && !trace.IsNotFound(err) {
			return trace.Wrap(err)
		}
	}
	return trace.Wrap(s.Delete(ctx, backend.Key(groupsPrefix, groupID)))
}

// CreateGroupOwner inserts an owner relation.
func (s *GroupService) CreateGroupOwner(ctx context.Context, owner *types.GroupOwner) error {
	value, err := services.MarshalGroupOwner(owner)
	if err != nil {
		return trace.Wrap(err)
	}
	err = s.Create(ctx, backend.Item{
		Key:   backend.Key(groupOwnersPrefix, owner.GroupID, owner.UserID),
		Value: value,
	})
	if trace.IsAlreadyExists(err) {
		return trace.AlreadyExists("user %q already owns group %q", owner.UserID, owner.GroupID)
	}
	return trace.Wrap(err)
}

// GetGroupOwner returns the owner relation for the pair.
func (s *GroupService) GetGroupOwner(ctx context.Context, groupID, userID string) (*types.GroupOwner, error) {
	item, err := s.Get(ctx, backend.Key(groupOwnersPrefix, groupID, userID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q doesn't own group %q", userID, groupID)
		}
		return nil, trace.Wrap(err)
	}
	owner, err := services.UnmarshalGroupOwner(item.Value)
	return owner, trace.Wrap(err)
}

// ListGroupOwners returns all owner relations of a group.
func (s *GroupService) ListGroupOwners(ctx context.Context, groupID string) ([]*types.GroupOwner, error) {
	startKey := backend.Key(groupOwnersPrefix, groupID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	owners := make([]*types.GroupOwner, len(result.Items))
	for i, item := range result.Items {
		owner, err := services.UnmarshalGroupOwner(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		owners[i] = owner
	}
	return owners, nil
}

// DeleteGroupOwner revokes an owner relation.
func (s *GroupService) DeleteGroupOwner(ctx context.Context, groupID, userID string) error {
	err := s.Delete(ctx, backend.Key(groupOwnersPrefix, groupID, userID))
	if trace.IsNotFound(err) {
		return trace.NotFound("user %q doesn't own group %q", userID, groupID)
	}
	return trace.Wrap(err)
}

// CreateGroupMember inserts a member relation.
func (s *GroupService) CreateGroupMember(ctx context.Context, member *types.GroupMember) error {
	value, err := services.MarshalGroupMember(member)
	if err != nil {
		return trace.Wrap(err)
	}
	err = s.Create(ctx, backend.Item{
		Key:   backend.Key(groupMembersPrefix, member.GroupID, member.UserID),
		Value: value,
	})
	if trace.IsAlreadyExists(err) {
		return trace.AlreadyExists("user %q is already a member of group %q", member.UserID, member.GroupID)
	}
	return trace.Wrap(err)
}

// GetGroupMember returns the member relation for the pair.
func (s *GroupService) GetGroupMember(ctx context.Context, groupID, userID string) (*types.GroupMember, error) {
	item, err := s.Get(ctx, backend.Key(groupMembersPrefix, groupID, userID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q is not a member of group %q", userID, groupID)
		}
		return nil, trace.Wrap(err)
	}
	member, err := services.UnmarshalGroupMember(item.Value)
	return member, trace.Wrap(err)
}

// ListGroupMembers returns all member relations of a group.
func (s *GroupService) ListGroupMembers(ctx context.Context, groupID string) ([]*types.GroupMember, error) {
	startKey := backend.Key(groupMembersPrefix, groupID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	members := make([]*types.GroupMember, len(result.Items))
	for i, item := range result.Items {
		member, err := services.UnmarshalGroupMember(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		members[i] = member
	}
	return members, nil
}

// DeleteGroupMember revokes a member relation.
func (s *GroupService) DeleteGroupMember(ctx context.Context, groupID, userID string) error {
	err := s.Delete(ctx, backend.Key(groupMembersPrefix, groupID, userID))
	if trace.IsNotFound(err) {
		return trace.NotFound("user %q is not a member of group %q", userID, groupID)
	}
	return trace.Wrap(err)
}

// CreateGroupNesting inserts a nesting edge. The by-member key is the
// canonical row and is created first: it is what makes a second
// container for the same member group lose atomically.
func (s *GroupService) CreateGroupNesting(ctx context.Context, nesting *types.GroupNesting) error {
	value, err := services.MarshalGroupNesting(nesting)
	if err != nil {
		return trace.Wrap(err)
	}
	err = s.Create(ctx, backend.Item{
		Key:   backend.Key(nestingsPrefix, byMemberInfix, nesting.MemberGroupID),
		Value: value,
	})
	if err != nil {
		if trace.IsAlreadyExists(err) {
			return trace.AlreadyExists("group %q is already nested in a container group", nesting.MemberGroupID)
		}
		return trace.Wrap(err)
	}
	err = s.Put(ctx, backend.Item{
		Key:   backend.Key(nestingsPrefix, byContainerInfix, nesting.ContainerGroupID, nesting.MemberGroupID),
		Value: value,
	})
	if err != nil {
		// Roll the canonical row back so the edge is all or nothing.
		s.Delete(ctx, backend.Key(nestingsPrefix, byMemberInfix, nesting.MemberGroupID))
		return trace.Wrap(err)
	}
	return nil
}

// GetContainerNesting returns the nesting whose member side is the
// given group.
func (s *GroupService) GetContainerNesting(ctx context.Context, memberGroupID string) (*types.GroupNesting, error) {
	item, err := s.Get(ctx, backend.Key(nestingsPrefix, byMemberInfix, memberGroupID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("group %q is not nested in any group", memberGroupID)
		}
		return nil, trace.Wrap(err)
	}
	nesting, err := services.UnmarshalGroupNesting(item.Value)
	return nesting, trace.Wrap(err)
}

// ListMemberNestings returns the nestings whose container side is the
// given group.
func (s *GroupService) ListMemberNestings(ctx context.Context, containerGroupID string) ([]*types.GroupNesting, error) {
	startKey := backend.Key(nestingsPrefix, byContainerInfix, containerGroupID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nestings := make([]*types.GroupNesting, len(result.Items))
	for i, item := range result.Items {
		nesting, err := services.UnmarshalGroupNesting(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		nestings[i] = nesting
	}
	return nestings, nil
}

// DeleteGroupNesting removes a nesting edge.
func (s *GroupService) DeleteGroupNesting(ctx context.Context, containerGroupID, memberGroupID string) error {
	nesting, err := s.GetContainerNesting(ctx, memberGroupID)
	if err != nil {
		return trace.Wrap(err)
	}
	if nesting.ContainerGroupID != containerGroupID {
		return trace.NotFound("group %q is not nested in group %q", memberGroupID, containerGroupID)
	}
	if err := s.Delete(ctx, backend.Key(nestingsPrefix, byMemberInfix, memberGroupID)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	err = s.Delete(ctx, backend.Key(nestingsPrefix, byContainerInfix, containerGroupID, memberGroupID))
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}
