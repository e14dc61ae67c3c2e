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

package local

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
	"github.com/jpslav/accounts/lib/backend"
	"github.com/jpslav/accounts/lib/services"
)

const unreadUpdatesPrefix = "unread_updates"

// UpdateService tracks per-user unread-update rows in the backend.
type UpdateService struct {
	backend.Backend
}

// NewUpdateService creates a new UpdateService.
func NewUpdateService(b backend.Backend) *UpdateService {
	return &UpdateService{Backend: b}
}

// AddUnreadUpdate records that a group owned by the user changed.
// Re-notifying an already-flagged pair overwrites the row, so the
// operation is idempotent.
func (s *UpdateService) AddUnreadUpdate(ctx context.Context, userID, groupID string) error {
	update := &types.UnreadUpdate{
		UserID:  userID,
		GroupID: groupID,
		Time:    s.Clock().Now().UTC(),
	}
	value, err := services.MarshalUnreadUpdate(update)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Put(ctx, backend.Item{
		Key:   backend.Key(unreadUpdatesPrefix, userID, groupID),
		Value: value,
	}))
}

// ListUnreadUpdates returns the user's unread updates.
func (s *UpdateService) ListUnreadUpdates(ctx context.Context, userID string) ([]*types.UnreadUpdate, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing parameter userID")
	}
	startKey := backend.Key(unreadUpdatesPrefix, userID)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	updates := make([]*types.UnreadUpdate, len(result.Items))
	for i, item := range result.Items {
		update, err := services.UnmarshalUnreadUpdate(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		updates[i] = update
	}
	return updates, nil
}

// MarkUpdatesRead clears all unread updates for the user.
func (s *UpdateService) MarkUpdatesRead(ctx context.Context, userID string) error {
	if userID == "" {
		return trace.BadParameter("missing parameter userID")
	}
	startKey := backend.Key(unreadUpdatesPrefix, userID)
	return trace.Wrap(s.DeleteRange(ctx, startKey, backend.RangeEnd(startKey)))
}

// UpdateNotifier implements services.Notifier by writing an
// unread-update row for every current owner of the group.
type UpdateNotifier struct {
	updates     services.Updates
	memberships services.Memberships
}

// NewUpdateNotifier creates a notifier backed by the given stores.
func NewUpdateNotifier(updates services.Updates, memberships services.Memberships) *UpdateNotifier {
	return &UpdateNotifier{updates: updates, memberships: memberships}
}

// NotifyUnreadUpdate flags all owners of the group as having unread
// updates. Any failure is returned to the caller, which is expected to
// abort the triggering mutation.
func (n *UpdateNotifier) NotifyUnreadUpdate(ctx context.Context, group *types.Group) error {
	owners, err := n.memberships.ListGroupOwners(ctx, group.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, owner := range owners {
		if err := n.updates.AddUnreadUpdate(ctx, owner.UserID, group.ID); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}
