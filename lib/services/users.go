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

package services

import (
	"context"
	"encoding/json"

	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
)

// Users manages user records. It backs both the identity lookups the
// engine validates actors against and the user search routine.
type Users interface {
	// CreateUser creates a user; the username is reserved atomically
	// with the record.
	CreateUser(ctx context.Context, user *types.User) (*types.User, error)
	// GetUser returns a user by ID or a NotFound error.
	GetUser(ctx context.Context, userID string) (*types.User, error)
	// GetUserByUsername returns a user by unique username.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	// ListUsers returns all users in ID order.
	ListUsers(ctx context.Context) ([]*types.User, error)
	// DeleteUser deletes a user record.
	DeleteUser(ctx context.Context, userID string) error
}

// Updates tracks per-user unread-update rows, the read side of the
// notification hook.
type Updates interface {
	// AddUnreadUpdate records that a group owned by the user changed.
	// Re-notifying an already-flagged pair is idempotent.
	AddUnreadUpdate(ctx context.Context, userID, groupID string) error
	// ListUnreadUpdates returns the user's unread updates.
	ListUnreadUpdates(ctx context.Context, userID string) ([]*types.UnreadUpdate, error)
	// MarkUpdatesRead clears all unread updates for the user.
	MarkUpdatesRead(ctx context.Context, userID string) error
}

// MarshalUser marshals a user to its storage form.
func MarshalUser(user *types.User) ([]byte, error) {
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(user)
	return data, trace.Wrap(err)
}

// UnmarshalUser unmarshals a user from its storage form.
func UnmarshalUser(data []byte) (*types.User, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("missing user data")
	}
	var user types.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// MarshalUnreadUpdate marshals an unread-update row to its storage
// form.
func MarshalUnreadUpdate(update *types.UnreadUpdate) ([]byte, error) {
	if err := update.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := json.Marshal(update)
	return data, trace.Wrap(err)
}

// UnmarshalUnreadUpdate unmarshals an unread-update row from its
// storage form.
func UnmarshalUnreadUpdate(data []byte) (*types.UnreadUpdate, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("missing unread update data")
	}
	var update types.UnreadUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	if err := update.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &update, nil
}
