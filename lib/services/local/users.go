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

const (
	usersPrefix     = "users"
	usernamesPrefix = "usernames"
)

// UserService manages user records in the backend.
type UserService struct {
	backend.Backend
}

// NewUserService creates a new UserService.
func NewUserService(b backend.Backend) *UserService {
	return &UserService{Backend: b}
}

// CreateUser creates a user, reserving the username atomically with
// the record.
func (s *UserService) CreateUser(ctx context.Context, user *types.User) (*types.User, error) {
	value, err := services.MarshalUser(user)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = s.Create(ctx, backend.Item{
		Key:   backend.Key(usernamesPrefix, user.Username),
		Value: []byte(user.ID),
	})
	if err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("username %q is already taken", user.Username)
		}
		return nil, trace.Wrap(err)
	}
	if err := s.Create(ctx, backend.Item{Key: backend.Key(usersPrefix, user.ID), Value: value}); err != nil {
		s.Delete(ctx, backend.Key(usernamesPrefix, user.Username))
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// GetUser returns a user by ID.
func (s *UserService) GetUser(ctx context.Context, userID string) (*types.User, error) {
	if userID == "" {
		return nil, trace.BadParameter("missing parameter userID")
	}
	item, err := s.Get(ctx, backend.Key(usersPrefix, userID))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q doesn't exist", userID)
		}
		return nil, trace.Wrap(err)
	}
	user, err := services.UnmarshalUser(item.Value)
	return user, trace.Wrap(err)
}

// GetUserByUsername returns a user by unique username.
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	if username == "" {
		return nil, trace.BadParameter("missing parameter username")
	}
	item, err := s.Get(ctx, backend.Key(usernamesPrefix, username))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("user %q doesn't exist", username)
		}
		return nil, trace.Wrap(err)
	}
	user, err := s.GetUser(ctx, string(item.Value))
	return user, trace.Wrap(err)
}

// ListUsers returns all users in ID order.
func (s *UserService) ListUsers(ctx context.Context) ([]*types.User, error) {
	startKey := backend.Key(usersPrefix)
	result, err := s.GetRange(ctx, startKey, backend.RangeEnd(startKey), backend.NoLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	users := make([]*types.User, len(result.Items))
	for i, item := range result.Items {
		user, err := services.UnmarshalUser(item.Value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		users[i] = user
	}
	return users, nil
}

// DeleteUser deletes a user record and its username reservation.
func (s *UserService) DeleteUser(ctx context.Context, userID string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := s.Delete(ctx, backend.Key(usernamesPrefix, user.Username)); err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Delete(ctx, backend.Key(usersPrefix, userID)))
}
