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

// ActorKind discriminates the identities that can interact with the
// group hierarchy.
type ActorKind string

const (
	// ActorKindUser is a human identity.
	ActorKindUser ActorKind = "user"
	// ActorKindService is a programmatic identity: an application or
	// service acting on its own behalf with no human attached.
	ActorKindService ActorKind = "service"
)

// Actor is an identity performing an operation against the group
// hierarchy. Membership and ownership relations can only be held by
// actors of kind ActorKindUser; service actors always fail the
// group-capability checks.
type Actor interface {
	// GetActorID returns the stable identifier of the actor.
	GetActorID() string
	// GetActorKind returns the kind tag of the actor.
	GetActorKind() ActorKind
}

// ServiceActor is a programmatic identity, typically an OAuth
// application or internal service. It cannot own or join groups.
type ServiceActor struct {
	// ID uniquely identifies the service actor.
	ID string `json:"id"`
	// Name is a human-readable name for logs and registries.
	Name string `json:"name,omitempty"`
}

// GetActorID returns the service actor identifier.
func (s *ServiceActor) GetActorID() string { return s.ID }

// GetActorKind returns ActorKindService.
func (s *ServiceActor) GetActorKind() ActorKind { return ActorKindService }
