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

package hierarchy

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
)

// VisibleFor filters the group listing down to what the actor may see:
// public groups for everyone, plus groups the actor directly owns or
// is a direct member of when the actor is a user. Visibility is a
// direct-relation check on purpose: transitive membership does not
// make an enclosing group visible.
func (e *Engine) VisibleFor(ctx context.Context, actor types.Actor, groups []*types.Group) ([]*types.Group, error) {
	visible := make([]*types.Group, 0, len(groups))
	for _, group := range groups {
		if group.IsPublic {
			visible = append(visible, group)
			continue
		}
		if !isUser(actor) {
			continue
		}
		owner, err := e.HasOwner(ctx, group, actor)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if owner {
			visible = append(visible, group)
			continue
		}
		member, err := e.HasDirectMember(ctx, group, actor)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if member {
			visible = append(visible, group)
		}
	}
	return visible, nil
}

// CanCreateNesting reports whether the actor is allowed to nest the
// member group inside the container group: the actor must directly own
// both ends of the edge.
func (e *Engine) CanCreateNesting(ctx context.Context, actor types.Actor, container, member *types.Group) (bool, error) {
	ownsContainer, err := e.HasOwner(ctx, container, actor)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if !ownsContainer {
		return false, nil
	}
	ownsMember, err := e.HasOwner(ctx, member, actor)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return ownsMember, nil
}

// CanRemoveNesting reports whether the actor is allowed to remove the
// nesting: owning either end of the edge suffices.
func (e *Engine) CanRemoveNesting(ctx context.Context, actor types.Actor, container, member *types.Group) (bool, error) {
	ownsContainer, err := e.HasOwner(ctx, container, actor)
	if err != nil {
		return false, trace.Wrap(err)
	}
	if ownsContainer {
		return true, nil
	}
	ownsMember, err := e.HasOwner(ctx, member, actor)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return ownsMember, nil
}
