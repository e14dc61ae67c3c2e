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

// Package authz contains the access policy for automated actors
// operating against user-like resources.
package authz

import (
	"github.com/jpslav/accounts/api/types"
)

// Action identifies an operation a service actor may request.
type Action string

const (
	// ActionSearch is the user search operation.
	ActionSearch Action = "search"
	// ActionFetchUpdates fetches a user's unread updates.
	ActionFetchUpdates Action = "fetch_updates"
	// ActionMarkUpdatesRead clears a user's unread updates.
	ActionMarkUpdatesRead Action = "mark_updates_read"
)

// ActionAllowed reports whether a programmatic actor may perform the
// action. Service actors are restricted to the read-oriented
// allow-list above; every other action is denied regardless of
// resource. Human actors are handled by a richer authorization layer
// elsewhere and are always denied by this policy.
func ActionAllowed(action Action, actor types.Actor) bool {
	if actor == nil || actor.GetActorKind() != types.ActorKindService {
		return false
	}
	switch action {
	case ActionSearch, ActionFetchUpdates, ActionMarkUpdatesRead:
		return true
	default:
		return false
	}
}
