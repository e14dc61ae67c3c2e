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
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// User is a human identity. Users can own groups, join groups, and see
// non-public groups they are directly related to.
type User struct {
	// ID uniquely identifies the user.
	ID string `json:"id"`
	// Username is the unique login name.
	Username string `json:"username"`
	// FirstName is the user's given name.
	FirstName string `json:"first_name,omitempty"`
	// LastName is the user's family name.
	LastName string `json:"last_name,omitempty"`
	// EmailAddresses are the contact addresses attached to the user.
	EmailAddresses []EmailAddress `json:"email_addresses,omitempty"`
}

// EmailAddress is a contact address attached to a user.
type EmailAddress struct {
	// Address is the email address value.
	Address string `json:"address"`
	// Verified is set once the address has been confirmed by the user.
	Verified bool `json:"verified"`
}

// GetActorID returns the user identifier.
func (u *User) GetActorID() string { return u.ID }

// GetActorKind returns ActorKindUser.
func (u *User) GetActorKind() ActorKind { return ActorKindUser }

// FullName returns the user's display name assembled from the name
// parts, with empty parts skipped.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// CheckAndSetDefaults validates the user and assigns a fresh ID when
// one was not provided.
func (u *User) CheckAndSetDefaults() error {
	if u.Username == "" {
		return trace.BadParameter("missing parameter Username")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
