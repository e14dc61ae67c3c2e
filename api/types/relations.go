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
	"time"

	"github.com/gravitational/trace"
)

// GroupOwner records that a user owns a group. The (group, user) pair
// is unique.
type GroupOwner struct {
	// GroupID is the owned group.
	GroupID string `json:"group_id"`
	// UserID is the owning user.
	UserID string `json:"user_id"`
}

// CheckAndSetDefaults validates the owner relation.
func (r *GroupOwner) CheckAndSetDefaults() error {
	if r.GroupID == "" {
		return trace.BadParameter("missing parameter GroupID")
	}
	if r.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	return nil
}

// GroupMember records that a user is a direct member of a group. The
// (group, user) pair is unique. Transitive membership through nested
// groups is derived by the hierarchy engine, never stored.
type GroupMember struct {
	// GroupID is the group the user belongs to.
	GroupID string `json:"group_id"`
	// UserID is the member user.
	UserID string `json:"user_id"`
}

// CheckAndSetDefaults validates the member relation.
func (r *GroupMember) CheckAndSetDefaults() error {
	if r.GroupID == "" {
		return trace.BadParameter("missing parameter GroupID")
	}
	if r.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	return nil
}

// GroupNesting records that the member group is wholly contained in the
// container group for membership resolution. A group appears as the
// member side of at most one nesting, which keeps the hierarchy a
// forest.
type GroupNesting struct {
	// ContainerGroupID is the enclosing group.
	ContainerGroupID string `json:"container_group_id"`
	// MemberGroupID is the nested group.
	MemberGroupID string `json:"member_group_id"`
}

// CheckAndSetDefaults validates the nesting relation.
func (r *GroupNesting) CheckAndSetDefaults() error {
	if r.ContainerGroupID == "" {
		return trace.BadParameter("missing parameter ContainerGroupID")
	}
	if r.MemberGroupID == "" {
		return trace.BadParameter("missing parameter MemberGroupID")
	}
	if r.ContainerGroupID == r.MemberGroupID {
		return trace.BadParameter("group %q cannot be nested inside itself", r.MemberGroupID)
	}
	return nil
}

// UnreadUpdate records that a group a user owns has changed since the
// user last marked their updates as read.
type UnreadUpdate struct {
	// UserID is the owner being notified.
	UserID string `json:"user_id"`
	// GroupID is the group that changed.
	GroupID string `json:"group_id"`
	// Time is when the change happened.
	Time time.Time `json:"time"`
}

// CheckAndSetDefaults validates the unread-update record.
func (r *UnreadUpdate) CheckAndSetDefaults() error {
	if r.UserID == "" {
		return trace.BadParameter("missing parameter UserID")
	}
	if r.GroupID == "" {
		return trace.BadParameter("missing parameter GroupID")
	}
	return nil
}
