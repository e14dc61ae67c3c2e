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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/jpslav/accounts/api/types"
	"github.com/jpslav/accounts/lib/backend/memory"
)

func newGroupService(t *testing.T) *GroupService {
	t.Helper()
	bk, err := memory.New(memory.Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bk.Close()) })
	return NewGroupService(bk)
}

func TestGroupCRUD(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	group, err := service.CreateGroup(ctx, &types.Group{Name: "Editors"})
	require.NoError(t, err)
	require.NotEmpty(t, group.ID)

	out, err := service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(group, out))

	byName, err := service.GetGroupByName(ctx, "Editors")
	require.NoError(t, err)
	require.Equal(t, group.ID, byName.ID)

	_, err = service.GetGroup(ctx, "doesnotexist")
	require.True(t, trace.IsNotFound(err))

	group.IsPublic = true
	_, err = service.UpdateGroup(ctx, group)
	require.NoError(t, err)
	out, err = service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.True(t, out.IsPublic)

	groups, err := service.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	require.NoError(t, service.DeleteGroup(ctx, group.ID))
	_, err = service.GetGroup(ctx, group.ID)
	require.True(t, trace.IsNotFound(err))
}

func TestGroupNameUniqueness(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	_, err := service.CreateGroup(ctx, &types.Group{Name: "Editors"})
	require.NoError(t, err)

	_, err = service.CreateGroup(ctx, &types.Group{Name: "Editors"})
	require.True(t, trace.IsAlreadyExists(err))

	// Anonymous groups never collide.
	_, err = service.CreateGroup(ctx, &types.Group{})
	require.NoError(t, err)
	_, err = service.CreateGroup(ctx, &types.Group{})
	require.NoError(t, err)
}

func TestGroupRename(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	group, err := service.CreateGroup(ctx, &types.Group{Name: "Before"})
	require.NoError(t, err)

	group.Name = "After"
	_, err = service.UpdateGroup(ctx, group)
	require.NoError(t, err)

	_, err = service.GetGroupByName(ctx, "Before")
	require.True(t, trace.IsNotFound(err))
	out, err := service.GetGroupByName(ctx, "After")
	require.NoError(t, err)
	require.Equal(t, group.ID, out.ID)

	// The released name can be taken again.
	_, err = service.CreateGroup(ctx, &types.Group{Name: "Before"})
	require.NoError(t, err)
}

func TestOwnerPairUniqueness(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	group, err := service.CreateGroup(ctx, &types.Group{})
	require.NoError(t, err)

	owner := &types.GroupOwner{GroupID: group.ID, UserID: "u1"}
	require.NoError(t, service.CreateGroupOwner(ctx, owner))

	err = service.CreateGroupOwner(ctx, owner)
	require.True(t, trace.IsAlreadyExists(err))

	owners, err := service.ListGroupOwners(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
}

func TestSingleContainerPerGroup(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	var ids []string
	for i := 0; i < 3; i++ {
		group, err := service.CreateGroup(ctx, &types.Group{})
		require.NoError(t, err)
		ids = append(ids, group.ID)
	}

	require.NoError(t, service.CreateGroupNesting(ctx, &types.GroupNesting{
		ContainerGroupID: ids[0], MemberGroupID: ids[2],
	}))

	// The same member group cannot be nested in a second container.
	err := service.CreateGroupNesting(ctx, &types.GroupNesting{
		ContainerGroupID: ids[1], MemberGroupID: ids[2],
	})
	require.True(t, trace.IsAlreadyExists(err))

	nesting, err := service.GetContainerNesting(ctx, ids[2])
	require.NoError(t, err)
	require.Equal(t, ids[0], nesting.ContainerGroupID)
}

func TestSetGroupClosureColumns(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	group, err := service.CreateGroup(ctx, &types.Group{})
	require.NoError(t, err)

	supertree := types.NewClosure([]string{group.ID, "parent"})
	require.NoError(t, service.SetGroupSupertree(ctx, group.ID, supertree))

	out, err := service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(supertree, out.CachedSupertree))
	require.Nil(t, out.CachedSubtree)

	// Each setter only touches its own column.
	subtree := types.NewClosure([]string{group.ID, "child"})
	require.NoError(t, service.SetGroupSubtree(ctx, group.ID, subtree))
	out, err = service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(supertree, out.CachedSupertree))
	require.Empty(t, cmp.Diff(subtree, out.CachedSubtree))

	require.NoError(t, service.SetGroupSupertree(ctx, group.ID, nil))
	out, err = service.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Nil(t, out.CachedSupertree)
	require.Empty(t, cmp.Diff(subtree, out.CachedSubtree))
}

func TestDeleteGroupCascades(t *testing.T) {
	ctx := context.Background()
	service := newGroupService(t)

	parent, err := service.CreateGroup(ctx, &types.Group{Name: "Parent"})
	require.NoError(t, err)
	middle, err := service.CreateGroup(ctx, &types.Group{Name: "Middle"})
	require.NoError(t, err)
	child, err := service.CreateGroup(ctx, &types.Group{Name: "Child"})
	require.NoError(t, err)

	require.NoError(t, service.CreateGroupNesting(ctx, &types.GroupNesting{
		ContainerGroupID: parent.ID, MemberGroupID: middle.ID,
	}))
	require.NoError(t, service.CreateGroupNesting(ctx, &types.GroupNesting{
		ContainerGroupID: middle.ID, MemberGroupID: child.ID,
	}))
	require.NoError(t, service.CreateGroupOwner(ctx, &types.GroupOwner{GroupID: middle.ID, UserID: "u1"}))
	require.NoError(t, service.CreateGroupMember(ctx, &types.GroupMember{GroupID: middle.ID, UserID: "u2"}))

	require.NoError(t, service.DeleteGroup(ctx, middle.ID))

	// No relation may survive pointing at the deleted group.
	_, err = service.GetContainerNesting(ctx, middle.ID)
	require.True(t, trace.IsNotFound(err))
	_, err = service.GetContainerNesting(ctx, child.ID)
	require.True(t, trace.IsNotFound(err))
	children, err := service.ListMemberNestings(ctx, parent.ID)
	require.NoError(t, err)
	require.Empty(t, children)
	owners, err := service.ListGroupOwners(ctx, middle.ID)
	require.NoError(t, err)
	require.Empty(t, owners)
	members, err := service.ListGroupMembers(ctx, middle.ID)
	require.NoError(t, err)
	require.Empty(t, members)

	// The name is released by the cascade.
	_, err = service.CreateGroup(ctx, &types.Group{Name: "Middle"})
	require.NoError(t, err)
}
