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
	"testing"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/jpslav/accounts/api/types"
	"github.com/jpslav/accounts/lib/backend/memory"
	"github.com/jpslav/accounts/lib/services/local"
)

type testEnv struct {
	engine  *Engine
	groups  *local.GroupService
	users   *local.UserService
	updates *local.UpdateService
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	bk, err := memory.New(memory.Config{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, bk.Close()) })

	groups := local.NewGroupService(bk)
	users := local.NewUserService(bk)
	updates := local.NewUpdateService(bk)

	cfg := Config{
		Groups:      groups,
		Memberships: groups,
		Nestings:    groups,
		Users:       users,
		Notifier:    local.NewUpdateNotifier(updates, groups),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine, err := NewEngine(cfg)
	require.NoError(t, err)
	return &testEnv{engine: engine, groups: groups, users: users, updates: updates}
}

func (env *testEnv) createGroup(t *testing.T, name string, public bool) *types.Group {
	t.Helper()
	group, err := env.groups.CreateGroup(context.Background(), &types.Group{Name: name, IsPublic: public})
	require.NoError(t, err)
	return group
}

func (env *testEnv) createUser(t *testing.T, username string) *types.User {
	t.Helper()
	user, err := env.users.CreateUser(context.Background(), &types.User{Username: username})
	require.NoError(t, err)
	return user
}

func (env *testEnv) nest(t *testing.T, container, member *types.Group) {
	t.Helper()
	require.NoError(t, env.engine.CreateNesting(context.Background(), container, member))
}

func TestClosureReflexivity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	group := env.createGroup(t, "Solo", false)

	supertree, err := env.engine.SupertreeGroupIDs(ctx, group)
	require.NoError(t, err)
	require.Contains(t, supertree, group.ID)

	subtree, err := env.engine.SubtreeGroupIDs(ctx, group)
	require.NoError(t, err)
	require.Contains(t, subtree, group.ID)
}

func TestSupertreeChainOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	c := env.createGroup(t, "C", false)
	env.nest(t, a, b)
	env.nest(t, b, c)

	// Ordered from the group outward to the root.
	supertree, err := env.engine.SupertreeGroupIDs(ctx, c)
	require.NoError(t, err)
	require.Equal(t, []string{c.ID, b.ID, a.ID}, supertree)
}

func TestSubtreeBranches(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	c := env.createGroup(t, "C", false)
	d := env.createGroup(t, "D", false)
	env.nest(t, a, b)
	env.nest(t, a, c)
	env.nest(t, c, d)

	subtree, err := env.engine.SubtreeGroupIDs(ctx, a)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID, c.ID, d.ID}, subtree)
}

func TestUnpersistedGroupDegradesToSingleton(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	transient := &types.Group{ID: "never-saved"}
	subtree, err := env.engine.SubtreeGroupIDs(ctx, transient)
	require.NoError(t, err)
	require.Equal(t, []string{"never-saved"}, subtree)
	// The singleton is not cached.
	require.Nil(t, transient.CachedSubtree)
}

// TestSubtreeCacheIsNotInvalidatedByNewNesting pins the deliberate
// staleness of the closure cache: once computed, a closure keeps
// answering with pre-change values until explicitly reset, both on the
// same instance and on a fresh load of the persisted record.
func TestSubtreeCacheIsNotInvalidatedByNewNesting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	env.nest(t, a, b)

	before, err := env.engine.SubtreeGroupIDs(ctx, a)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID}, before)

	// Structure changes under the cached closure.
	d := env.createGroup(t, "D", false)
	env.nest(t, a, d)

	// The same instance still answers with the pre-D value.
	stale, err := env.engine.SubtreeGroupIDs(ctx, a)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID}, stale)

	// So does a fresh load: the persisted cache is returned verbatim.
	reloaded, err := env.groups.GetGroup(ctx, a.ID)
	require.NoError(t, err)
	fresh, err := env.engine.SubtreeGroupIDs(ctx, reloaded)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID}, fresh)

	// Only an explicit reset recomputes.
	require.NoError(t, env.engine.ResetClosureCaches(ctx, reloaded))
	recomputed, err := env.engine.SubtreeGroupIDs(ctx, reloaded)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID, d.ID}, recomputed)
}

// TestClosureCachesPersistIndependently loads the same group into two
// instances and computes a different closure through each. Persisting
// one closure must not wipe the other's persisted cache, or the next
// read would silently recompute it.
func TestClosureCachesPersistIndependently(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	env.nest(t, a, b)

	first, err := env.groups.GetGroup(ctx, a.ID)
	require.NoError(t, err)
	second, err := env.groups.GetGroup(ctx, a.ID)
	require.NoError(t, err)

	subtree, err := env.engine.SubtreeGroupIDs(ctx, first)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID}, subtree)

	// The second instance predates the subtree computation; its
	// supertree persist must leave the subtree column alone.
	_, err = env.engine.SupertreeGroupIDs(ctx, second)
	require.NoError(t, err)

	d := env.createGroup(t, "D", false)
	env.nest(t, a, d)

	reloaded, err := env.groups.GetGroup(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.CachedSubtree)
	stale, err := env.engine.SubtreeGroupIDs(ctx, reloaded)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a.ID, b.ID}, stale)
}

func TestTransitiveMembership(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	c := env.createGroup(t, "C", false)
	env.nest(t, a, b)
	env.nest(t, b, c)
	user := env.createUser(t, "u")

	ok, err := env.engine.AddMember(ctx, c, user)
	require.NoError(t, err)
	require.True(t, ok)

	isMember, err := env.engine.HasMember(ctx, a, user)
	require.NoError(t, err)
	require.True(t, isMember)

	isDirect, err := env.engine.HasDirectMember(ctx, a, user)
	require.NoError(t, err)
	require.False(t, isDirect)
}

func TestAddOwnerValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	group := env.createGroup(t, "G", false)

	// Service actors cannot own groups.
	ok, err := env.engine.AddOwner(ctx, group, &types.ServiceActor{ID: "app1"})
	require.NoError(t, err)
	require.False(t, ok)

	// Unknown users are rejected without mutation.
	ok, err = env.engine.AddOwner(ctx, group, &types.User{ID: "ghost", Username: "ghost"})
	require.NoError(t, err)
	require.False(t, ok)

	owners, err := env.groups.ListGroupOwners(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, owners)
}

func TestAddOwnerDuplicateIsRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	group := env.createGroup(t, "G", false)
	user := env.createUser(t, "u")

	ok, err := env.engine.AddOwner(ctx, group, user)
	require.NoError(t, err)
	require.True(t, ok)

	// The second add is a non-mutating failure, never a duplicate row.
	ok, err = env.engine.AddOwner(ctx, group, user)
	require.NoError(t, err)
	require.False(t, ok)

	owners, err := env.groups.ListGroupOwners(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, owners, 1)
}

func TestHasOwner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	group := env.createGroup(t, "G", false)
	owner := env.createUser(t, "owner")
	other := env.createUser(t, "other")

	ok, err := env.engine.AddOwner(ctx, group, owner)
	require.NoError(t, err)
	require.True(t, ok)

	has, err := env.engine.HasOwner(ctx, group, owner)
	require.NoError(t, err)
	require.True(t, has)

	has, err = env.engine.HasOwner(ctx, group, other)
	require.NoError(t, err)
	require.False(t, has)

	has, err = env.engine.HasOwner(ctx, group, &types.ServiceActor{ID: "app1"})
	require.NoError(t, err)
	require.False(t, has)
}

func TestNestingCycleRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	c := env.createGroup(t, "C", false)
	env.nest(t, a, b)
	env.nest(t, b, c)

	// Nesting an ancestor inside its descendant would create a cycle.
	err := env.engine.CreateNesting(ctx, c, a)
	require.True(t, trace.IsBadParameter(err))

	err = env.engine.CreateNesting(ctx, a, a)
	require.True(t, trace.IsBadParameter(err))
}

func TestSecondContainerRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	x := env.createGroup(t, "X", false)
	env.nest(t, a, x)

	err := env.engine.CreateNesting(ctx, b, x)
	require.True(t, trace.IsAlreadyExists(err))
}

func TestRemoveNesting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	env.nest(t, a, b)

	require.NoError(t, env.engine.RemoveNesting(ctx, a.ID, b.ID))

	// The group can be nested elsewhere afterwards.
	c := env.createGroup(t, "C", false)
	require.NoError(t, env.engine.CreateNesting(ctx, c, b))

	err := env.engine.RemoveNesting(ctx, a.ID, b.ID)
	require.True(t, trace.IsNotFound(err))
}

type failingNotifier struct{}

func (failingNotifier) NotifyUnreadUpdate(context.Context, *types.Group) error {
	return trace.ConnectionProblem(nil, "notification queue is down")
}

func TestNotifierFailureAbortsWrite(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Notifier = failingNotifier{}
	})
	group := env.createGroup(t, "G", false)
	user := env.createUser(t, "u")

	// The relation and its notification commit together: a hook
	// failure removes the relation again.
	ok, err := env.engine.AddMember(ctx, group, user)
	require.Error(t, err)
	require.False(t, ok)

	members, err := env.groups.ListGroupMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestUnreadUpdateHook(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	group := env.createGroup(t, "G", false)
	owner := env.createUser(t, "owner")
	member := env.createUser(t, "member")

	ok, err := env.engine.AddOwner(ctx, group, owner)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, env.updates.MarkUpdatesRead(ctx, owner.ID))

	ok, err = env.engine.AddMember(ctx, group, member)
	require.NoError(t, err)
	require.True(t, ok)

	unread, err := env.updates.ListUnreadUpdates(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, group.ID, unread[0].GroupID)
}

func TestSubtreeMemberIDs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	env.nest(t, a, b)
	u1 := env.createUser(t, "u1")
	u2 := env.createUser(t, "u2")

	// u1 belongs to both groups; the union must not duplicate it.
	for _, group := range []*types.Group{a, b} {
		ok, err := env.engine.AddMember(ctx, group, u1)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := env.engine.AddMember(ctx, b, u2)
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := env.engine.SubtreeMemberIDs(ctx, a)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{u1.ID, u2.ID}, ids)
}

func TestDeleteGroupCascade(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createGroup(t, "A", false)
	b := env.createGroup(t, "B", false)
	env.nest(t, a, b)
	user := env.createUser(t, "u")
	ok, err := env.engine.AddMember(ctx, b, user)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, env.engine.DeleteGroup(ctx, b))

	_, err = env.groups.GetGroup(ctx, b.ID)
	require.True(t, trace.IsNotFound(err))
	children, err := env.groups.ListMemberNestings(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, children)
}

// TestEndToEnd runs the Org/Team scenario: a member of a nested team
// is a transitive, not direct, member of the enclosing org.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	org := env.createGroup(t, "Org", false)
	team := env.createGroup(t, "Team", false)
	env.nest(t, org, team)
	alice := env.createUser(t, "alice")

	ok, err := env.engine.AddMember(ctx, team, alice)
	require.NoError(t, err)
	require.True(t, ok)

	isMember, err := env.engine.HasMember(ctx, org, alice)
	require.NoError(t, err)
	require.True(t, isMember)

	isDirect, err := env.engine.HasDirectMember(ctx, org, alice)
	require.NoError(t, err)
	require.False(t, isDirect)

	memberIDs, err := env.engine.SubtreeMemberIDs(ctx, org)
	require.NoError(t, err)
	require.Equal(t, []string{alice.ID}, memberIDs)
}
