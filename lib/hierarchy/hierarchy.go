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

// Package hierarchy implements the group hierarchy engine: membership
// and ownership queries (direct and transitive), supertree/subtree
// closure computation, and the mutations that maintain the nesting
// forest.
//
// # Closure caching policy
//
// Closures are computed once per group, persisted on the group record,
// and returned verbatim on every later query. They are NEVER
// invalidated by nesting changes elsewhere in the graph: after the
// structure changes, cached supertrees and subtrees keep answering
// with the pre-change values. Structure changes are rare and readers
// must not pay for recursive graph walks, so callers that need
// freshness must call ResetClosureCaches themselves. Do not "fix"
// this by invalidating on write; dependents rely on the read-path
// performance characteristic.
package hierarchy

import (
	"context"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gravitational/trace"

	"github.com/jpslav/accounts/api/types"
	"github.com/jpslav/accounts/lib/services"
)

// Config holds the collaborators of the hierarchy engine.
type Config struct {
	// Groups is the group record store.
	Groups services.Groups
	// Memberships is the owner/member relation store.
	Memberships services.Memberships
	// Nestings is the nesting relation store.
	Nestings services.Nestings
	// Users is the identity store actors are validated against.
	Users services.Users
	// Notifier posts the unread-update side effect after owner,
	// member and nesting writes. Optional; defaults to a no-op.
	Notifier services.Notifier
	// Logger is the engine logger. Optional.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Groups == nil {
		return trace.BadParameter("missing parameter Groups")
	}
	if c.Memberships == nil {
		return trace.BadParameter("missing parameter Memberships")
	}
	if c.Nestings == nil {
		return trace.BadParameter("missing parameter Nestings")
	}
	if c.Users == nil {
		return trace.BadParameter("missing parameter Users")
	}
	if c.Notifier == nil {
		c.Notifier = nopNotifier{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "hierarchy")
	}
	return nil
}

type nopNotifier struct{}

func (nopNotifier) NotifyUnreadUpdate(context.Context, *types.Group) error { return nil }

// Engine answers membership and ownership questions over the group
// nesting forest and applies mutations to it.
type Engine struct {
	cfg Config
}

// NewEngine creates a hierarchy engine from the config.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg}, nil
}

// SupertreeGroupIDs returns the chain of ancestor group IDs of the
// group, ordered from the group outward to the root, the group itself
// included. The result is served from the group's closure cache when
// present; otherwise it is computed, persisted and memoized on the
// passed instance. An unpersisted group yields the reflexive singleton
// without caching.
func (e *Engine) SupertreeGroupIDs(ctx context.Context, group *types.Group) ([]string, error) {
	if group.CachedSupertree != nil {
		return group.CachedSupertree.GroupIDs, nil
	}
	persisted, err := e.persisted(ctx, group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !persisted {
		return []string{group.ID}, nil
	}
	ids, err := e.computeSupertree(ctx, group.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	closure := types.NewClosure(ids)
	if err := e.cfg.Groups.SetGroupSupertree(ctx, group.ID, closure); err != nil {
		return nil, trace.Wrap(err)
	}
	group.CachedSupertree = closure
	e.cfg.Logger.DebugContext(ctx, "Cached supertree closure", "group_id", group.ID, "size", len(ids))
	return ids, nil
}

// SubtreeGroupIDs returns the set of descendant group IDs of the
// group, the group itself included. Order is unspecified and the
// result contains no duplicates. Caching semantics are the same as
// SupertreeGroupIDs.
func (e *Engine) SubtreeGroupIDs(ctx context.Context, group *types.Group) ([]string, error) {
	if group.CachedSubtree != nil {
		return group.CachedSubtree.GroupIDs, nil
	}
	persisted, err := e.persisted(ctx, group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if !persisted {
		return []string{group.ID}, nil
	}
	ids, err := e.computeSubtree(ctx, group.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	closure := types.NewClosure(ids)
	if err := e.cfg.Groups.SetGroupSubtree(ctx, group.ID, closure); err != nil {
		return nil, trace.Wrap(err)
	}
	group.CachedSubtree = closure
	e.cfg.Logger.DebugContext(ctx, "Cached subtree closure", "group_id", group.ID, "size", len(ids))
	return ids, nil
}

// SubtreeMemberIDs returns the deduplicated user IDs of all direct
// members of all groups in the group's subtree, sorted for
// determinism.
func (e *Engine) SubtreeMemberIDs(ctx context.Context, group *types.Group) ([]string, error) {
	groupIDs, err := e.SubtreeGroupIDs(ctx, group)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	userIDs := mapset.NewSet[string]()
	for _, groupID := range groupIDs {
		members, err := e.cfg.Memberships.ListGroupMembers(ctx, groupID)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, member := range members {
			userIDs.Add(member.UserID)
		}
	}
	ids := userIDs.ToSlice()
	slices.Sort(ids)
	return ids, nil
}

// ResetClosureCaches clears both cached closures of the group, in
// storage and on the passed instance. This is the only way a computed
// closure is ever discarded.
func (e *Engine) ResetClosureCaches(ctx context.Context, group *types.Group) error {
	if err := e.cfg.Groups.SetGroupSupertree(ctx, group.ID, nil); err != nil {
		return trace.Wrap(err)
	}
	if err := e.cfg.Groups.SetGroupSubtree(ctx, group.ID, nil); err != nil {
		return trace.Wrap(err)
	}
	group.CachedSupertree = nil
	group.CachedSubtree = nil
	return nil
}

// HasOwner reports whether the actor directly owns the group. Service
// actors never own groups.
func (e *Engine) HasOwner(ctx context.Context, group *types.Group, actor types.Actor) (bool, error) {
	if !isUser(actor) {
		return false, nil
	}
	return e.ownerExists(ctx, group.ID, actor.GetActorID())
}

// HasDirectMember reports whether the actor is a direct member of the
// group, ignoring nested groups.
func (e *Engine) HasDirectMember(ctx context.Context, group *types.Group, actor types.Actor) (bool, error) {
	if !isUser(actor) {
		return false, nil
	}
	return e.memberExists(ctx, group.ID, actor.GetActorID())
}

// HasMember reports whether the actor is a direct member of any group
// in the group's subtree, i.e. a transitive member of the group. The
// subtree comes from the closure cache, so the answer reflects the
// structure as of when the subtree was computed.
func (e *Engine) HasMember(ctx context.Context, group *types.Group, actor types.Actor) (bool, error) {
	if !isUser(actor) {
		return false, nil
	}
	groupIDs, err := e.SubtreeGroupIDs(ctx, group)
	if err != nil {
		return false, trace.Wrap(err)
	}
	for _, groupID := range groupIDs {
		ok, err := e.memberExists(ctx, groupID, actor.GetActorID())
		if err != nil {
			return false, trace.Wrap(err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AddOwner makes the actor a direct owner of the group. It returns
// false without mutating state when the actor is not a user-capable
// identity, is unknown to the identity store, or already owns the
// group. The unread-update hook runs after the write and commits with
// it: a hook failure removes the relation and surfaces as an error.
func (e *Engine) AddOwner(ctx context.Context, group *types.Group, actor types.Actor) (bool, error) {
	return e.addRelation(ctx, group, actor, relationOps{
		create: func(ctx context.Context, groupID, userID string) error {
			return e.cfg.Memberships.CreateGroupOwner(ctx, &types.GroupOwner{GroupID: groupID, UserID: userID})
		},
		delete: e.cfg.Memberships.DeleteGroupOwner,
	})
}

// AddMember makes the actor a direct member of the group. Semantics
// are identical to AddOwner.
func (e *Engine) AddMember(ctx context.Context, group *types.Group, actor types.Actor) (bool, error) {
	return e.addRelation(ctx, group, actor, relationOps{
		create: func(ctx context.Context, groupID, userID string) error {
			return e.cfg.Memberships.CreateGroupMember(ctx, &types.GroupMember{GroupID: groupID, UserID: userID})
		},
		delete: e.cfg.Memberships.DeleteGroupMember,
	})
}

// RemoveOwner revokes the actor's direct ownership of the group.
func (e *Engine) RemoveOwner(ctx context.Context, group *types.Group, actor types.Actor) error {
	if !isUser(actor) {
		return trace.BadParameter("actor %q cannot own groups", actor.GetActorID())
	}
	return trace.Wrap(e.cfg.Memberships.DeleteGroupOwner(ctx, group.ID, actor.GetActorID()))
}

// RemoveMember revokes the actor's direct membership of the group.
func (e *Engine) RemoveMember(ctx context.Context, group *types.Group, actor types.Actor) error {
	if !isUser(actor) {
		return trace.BadParameter("actor %q cannot join groups", actor.GetActorID())
	}
	return trace.Wrap(e.cfg.Memberships.DeleteGroupMember(ctx, group.ID, actor.GetActorID()))
}

// CreateNesting nests the member group inside the container group.
// The edge is rejected when either group is missing, when it would
// give the member group a second container, or when it would create a
// cycle. The cycle check walks the container's ancestor chain fresh,
// bypassing closure caches: a stale cache must never corrupt the
// forest invariant.
func (e *Engine) CreateNesting(ctx context.Context, container, member *types.Group) error {
	nesting := &types.GroupNesting{
		ContainerGroupID: container.ID,
		MemberGroupID:    member.ID,
	}
	if err := nesting.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	if _, err := e.cfg.Groups.GetGroup(ctx, container.ID); err != nil {
		return trace.Wrap(err)
	}
	if _, err := e.cfg.Groups.GetGroup(ctx, member.ID); err != nil {
		return trace.Wrap(err)
	}
	chain, err := e.computeSupertree(ctx, container.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	if slices.Contains(chain, member.ID) {
		return trace.BadParameter("group %q can't be nested in group %q because it is already an ancestor of it",
			member.ID, container.ID)
	}
	if err := e.cfg.Nestings.CreateGroupNesting(ctx, nesting); err != nil {
		return trace.Wrap(err)
	}
	if err := e.cfg.Notifier.NotifyUnreadUpdate(ctx, container); err != nil {
		if derr := e.cfg.Nestings.DeleteGroupNesting(ctx, container.ID, member.ID); derr != nil {
			return trace.NewAggregate(err, derr)
		}
		return trace.Wrap(err)
	}
	return nil
}

// RemoveNesting removes the nesting of the member group inside the
// container group.
func (e *Engine) RemoveNesting(ctx context.Context, containerGroupID, memberGroupID string) error {
	return trace.Wrap(e.cfg.Nestings.DeleteGroupNesting(ctx, containerGroupID, memberGroupID))
}

// DeleteGroup destroys the group, cascading to all of its relations.
// Closure caches of other groups that referenced it are left alone per
// the caching policy.
func (e *Engine) DeleteGroup(ctx context.Context, group *types.Group) error {
	return trace.Wrap(e.cfg.Groups.DeleteGroup(ctx, group.ID))
}

type relationOps struct {
	create func(ctx context.Context, groupID, userID string) error
	delete func(ctx context.Context, groupID, userID string) error
}

func (e *Engine) addRelation(ctx context.Context, group *types.Group, actor types.Actor, ops relationOps) (bool, error) {
	if !isUser(actor) {
		return false, nil
	}
	if _, err := e.cfg.Users.GetUser(ctx, actor.GetActorID()); err != nil {
		if trace.IsNotFound(err) {
			return false, nil
		}
		return false, trace.Wrap(err)
	}
	if _, err := e.cfg.Groups.GetGroup(ctx, group.ID); err != nil {
		return false, trace.Wrap(err)
	}
	if err := ops.create(ctx, group.ID, actor.GetActorID()); err != nil {
		if trace.IsAlreadyExists(err) {
			return false, nil
		}
		return false, trace.Wrap(err)
	}
	if err := e.cfg.Notifier.NotifyUnreadUpdate(ctx, group); err != nil {
		// The relation and its notification commit together;
		// compensate the write before surfacing the failure.
		if derr := ops.delete(ctx, group.ID, actor.GetActorID()); derr != nil {
			return false, trace.NewAggregate(err, derr)
		}
		return false, trace.Wrap(err)
	}
	return true, nil
}

func (e *Engine) ownerExists(ctx context.Context, groupID, userID string) (bool, error) {
	if _, err := e.cfg.Memberships.GetGroupOwner(ctx, groupID, userID); err != nil {
		if trace.IsNotFound(err) {
			return false, nil
		}
		return false, trace.Wrap(err)
	}
	return true, nil
}

func (e *Engine) memberExists(ctx context.Context, groupID, userID string) (bool, error) {
	if _, err := e.cfg.Memberships.GetGroupMember(ctx, groupID, userID); err != nil {
		if trace.IsNotFound(err) {
			return false, nil
		}
		return false, trace.Wrap(err)
	}
	return true, nil
}

func (e *Engine) persisted(ctx context.Context, group *types.Group) (bool, error) {
	if group.ID == "" {
		return false, nil
	}
	if _, err := e.cfg.Groups.GetGroup(ctx, group.ID); err != nil {
		if trace.IsNotFound(err) {
			return false, nil
		}
		return false, trace.Wrap(err)
	}
	return true, nil
}

// computeSupertree walks the container chain up to the root. Each
// group has at most one container, so the walk is linear; the seen set
// only guards against a cycle smuggled in through direct storage
// manipulation.
func (e *Engine) computeSupertree(ctx context.Context, groupID string) ([]string, error) {
	ids := []string{groupID}
	seen := map[string]struct{}{groupID: {}}
	current := groupID
	for {
		nesting, err := e.cfg.Nestings.GetContainerNesting(ctx, current)
		if err != nil {
			if trace.IsNotFound(err) {
				return ids, nil
			}
			return nil, trace.Wrap(err)
		}
		parent := nesting.ContainerGroupID
		if _, ok := seen[parent]; ok {
			return nil, trace.BadParameter("nesting cycle detected at group %q", parent)
		}
		seen[parent] = struct{}{}
		ids = append(ids, parent)
		current = parent
	}
}

// computeSubtree walks the member-group tree depth first. The visited
// set both deduplicates and terminates the walk if the forest
// invariant was broken behind the store's back.
func (e *Engine) computeSubtree(ctx context.Context, groupID string) ([]string, error) {
	visited := mapset.NewSet[string]()
	var ids []string
	var walk func(string) error
	walk = func(current string) error {
		if !visited.Add(current) {
			return nil
		}
		ids = append(ids, current)
		nestings, err := e.cfg.Nestings.ListMemberNestings(ctx, current)
		if err != nil {
			return trace.Wrap(err)
		}
		for _, nesting := range nestings {
			if err := walk(nesting.MemberGroupID); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	}
	if err := walk(groupID); err != nil {
		return nil, trace.Wrap(err)
	}
	return ids, nil
}

func isUser(actor types.Actor) bool {
	return actor != nil && actor.GetActorKind() == types.ActorKindUser
}
