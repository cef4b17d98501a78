package services

import (
	"testing"
	"time"

	"acs-backend/application/queries"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEvaluator(t *testing.T, strategy ConflictStrategy) (*Evaluator, *aggregates.Graph) {
	t.Helper()
	g := aggregates.NewGraph()
	g.MarkReady()
	cache := NewDecisionCache(128, time.Minute)
	return NewEvaluator(g, cache, strategy, zap.NewNop()), g
}

func mustGrant(t *testing.T, g *aggregates.Graph, id entities.ID, uri string, verb valueobjects.Verb) valueobjects.Permission {
	t.Helper()
	p, err := g.AddPermission(id, valueobjects.Permission{URI: uri, Verb: verb, Grant: true})
	require.NoError(t, err)
	return p
}

func mustDeny(t *testing.T, g *aggregates.Graph, id entities.ID, uri string, verb valueobjects.Verb) valueobjects.Permission {
	t.Helper()
	p, err := g.AddPermission(id, valueobjects.Permission{URI: uri, Verb: verb, Deny: true})
	require.NoError(t, err)
	return p
}

func TestEvaluator_Evaluate_Basics(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)
	user, _ := g.CreateUser("alice", "")

	_, err := ev.Evaluate(entities.ID(999), "/api/x", valueobjects.VerbGet, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))

	d, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "no matching permission", d.Reason)
	assert.Empty(t, d.Sources)

	mustGrant(t, g, user.ID(), "/api/x", valueobjects.VerbGet)
	ev.Cache().Purge()

	d, err = ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	require.Len(t, d.Sources, 1)
	assert.Equal(t, user.ID(), d.Sources[0].EntityID)

	// different verb does not match
	d, err = ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbDelete, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestEvaluator_Evaluate_Inheritance(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)

	user, _ := g.CreateUser("alice", "")
	team, _ := g.CreateGroup("team", "")
	org, _ := g.CreateGroup("org", "")
	_, _ = g.Link(team.ID(), user.ID())
	_, _ = g.Link(org.ID(), team.ID())

	mustGrant(t, g, org.ID(), "/api/projects/*", valueobjects.VerbGet)

	d, err := ev.Evaluate(user.ID(), "/api/projects/42", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "permission inherited through two hops")
	require.Len(t, d.Sources, 1)
	assert.Equal(t, org.ID(), d.Sources[0].EntityID)

	// a deny anywhere on the chain wins under DENY_OVERRIDES
	mustDeny(t, g, team.ID(), "/api/projects/*", valueobjects.VerbGet)
	ev.Cache().Purge()

	d, err = ev.Evaluate(user.ID(), "/api/projects/42", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Len(t, d.Sources, 2, "both candidates reported")
}

func TestEvaluator_Strategies(t *testing.T) {
	// Fixture: the user holds a broad deny glob, the group a literal
	// grant. The literal is more specific, the deny is broader, the
	// grant has the higher id and priority.
	setup := func(t *testing.T, strategy ConflictStrategy) (*Evaluator, entities.ID) {
		ev, g := newTestEvaluator(t, strategy)
		user, _ := g.CreateUser("alice", "")
		group, _ := g.CreateGroup("team", "")
		_, _ = g.Link(group.ID(), user.ID())

		_, err := g.AddPermission(user.ID(), valueobjects.Permission{
			URI: "/api/docs/*", Verb: valueobjects.VerbGet, Deny: true, Priority: 1,
		})
		require.NoError(t, err)
		_, err = g.AddPermission(group.ID(), valueobjects.Permission{
			URI: "/api/docs/readme", Verb: valueobjects.VerbGet, Grant: true, Priority: 5,
		})
		require.NoError(t, err)
		return ev, user.ID()
	}

	tests := []struct {
		strategy ConflictStrategy
		allowed  bool
	}{
		{DenyOverrides, false},
		{GrantOverrides, true},
		{MostSpecific, true},   // literal grant beats glob deny
		{MostRecent, true},     // grant has the higher permission id
		{HighestPriority, true}, // grant carries priority 5
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			ev, userID := setup(t, tt.strategy)
			d, err := ev.Evaluate(userID, "/api/docs/readme", valueobjects.VerbGet, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
		})
	}
}

func TestEvaluator_HighestPriority_TieBreaksDenyOverrides(t *testing.T) {
	ev, g := newTestEvaluator(t, HighestPriority)
	user, _ := g.CreateUser("alice", "")

	_, err := g.AddPermission(user.ID(), valueobjects.Permission{
		URI: "/api/x", Verb: valueobjects.VerbGet, Grant: true, Priority: 7,
	})
	require.NoError(t, err)
	_, err = g.AddPermission(user.ID(), valueobjects.Permission{
		URI: "/api/*", Verb: valueobjects.VerbGet, Deny: true, Priority: 7,
	})
	require.NoError(t, err)
	_, err = g.AddPermission(user.ID(), valueobjects.Permission{
		URI: "/*", Verb: valueobjects.VerbGet, Grant: true, Priority: 3,
	})
	require.NoError(t, err)

	d, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "tied top priority resolves deny over grant")
}

func TestEvaluator_SetStrategy_PurgesCache(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)
	user, _ := g.CreateUser("alice", "")
	mustGrant(t, g, user.ID(), "/api/x", valueobjects.VerbGet)
	mustDeny(t, g, user.ID(), "/api/*", valueobjects.VerbGet)

	d, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, ev.Cache().Len())

	ev.SetStrategy(MostSpecific)
	assert.Equal(t, MostSpecific, ev.Strategy())
	assert.Equal(t, 0, ev.Cache().Len())

	d, err = ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "literal grant wins under the new strategy")
	assert.False(t, d.FromCache)
}

func TestEvaluator_Caching(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)

	user, _ := g.CreateUser("alice", "")
	group, _ := g.CreateGroup("team", "")
	_, _ = g.Link(group.ID(), user.ID())
	mustGrant(t, g, group.ID(), "/api/x", valueobjects.VerbGet)

	first, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Allowed, second.Allowed)

	// mutating the group invalidates its descendants' entries
	ids := append([]entities.ID{group.ID()}, g.Descendants(group.ID())...)
	ev.Cache().InvalidateEntities(ids)

	third, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
}

func TestEvaluator_TemporaryPermissions(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)
	user, _ := g.CreateUser("alice", "")

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	_, err := g.AddPermission(user.ID(), valueobjects.Permission{
		URI: "/api/x", Verb: valueobjects.VerbGet, Grant: true,
		ValidFrom: &past, ValidUntil: &future,
	})
	require.NoError(t, err)

	// plain evaluation ignores temporary permissions
	d, err := ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// contextual evaluation admits it while the window is open
	d, err = ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, map[string]string{})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.FromCache)

	// contextual results never land in the cache
	d, err = ev.Evaluate(user.ID(), "/api/x", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// expired window
	expired, _ := g.CreateUser("bob", "")
	gone := time.Now().Add(-time.Minute)
	_, err = g.AddPermission(expired.ID(), valueobjects.Permission{
		URI: "/api/x", Verb: valueobjects.VerbGet, Grant: true, ValidUntil: &gone,
	})
	require.NoError(t, err)
	d, err = ev.Evaluate(expired.ID(), "/api/x", valueobjects.VerbGet, map[string]string{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestEvaluator_ConditionalPermissions(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)
	user, _ := g.CreateUser("alice", "")

	_, err := g.AddPermission(user.ID(), valueobjects.Permission{
		URI: "/api/reports", Verb: valueobjects.VerbGet, Grant: true,
		Condition: map[string]string{"department": "finance"},
	})
	require.NoError(t, err)

	d, err := ev.Evaluate(user.ID(), "/api/reports", valueobjects.VerbGet, nil)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = ev.Evaluate(user.ID(), "/api/reports", valueobjects.VerbGet, map[string]string{"department": "finance"})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = ev.Evaluate(user.ID(), "/api/reports", valueobjects.VerbGet, map[string]string{"department": "sales"})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestEvaluator_EffectivePermissions(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)

	user, _ := g.CreateUser("alice", "")
	team, _ := g.CreateGroup("team", "")
	org, _ := g.CreateGroup("org", "")
	_, _ = g.Link(team.ID(), user.ID())
	_, _ = g.Link(org.ID(), team.ID())

	direct := mustGrant(t, g, user.ID(), "/api/own", valueobjects.VerbGet)
	mustGrant(t, g, team.ID(), "/api/team/*", valueobjects.VerbGet)
	mustGrant(t, g, org.ID(), "/api/org/*", valueobjects.VerbGet)

	out, err := ev.EffectivePermissions(user.ID())
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, direct.ID, out[0].Permission.ID)
	assert.False(t, out[0].Inherited)
	for _, ep := range out[1:] {
		assert.True(t, ep.Inherited)
	}

	_, err = ev.EffectivePermissions(entities.ID(999))
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestEvaluator_ConflictReport(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)

	user, _ := g.CreateUser("alice", "")
	group, _ := g.CreateGroup("team", "")
	_, _ = g.Link(group.ID(), user.ID())

	mustDeny(t, g, user.ID(), "/api/docs", valueobjects.VerbGet)
	mustGrant(t, g, group.ID(), "/API/docs", valueobjects.VerbGet) // same uri up to case
	mustGrant(t, g, user.ID(), "/api/other", valueobjects.VerbGet) // no deny, no conflict

	out, err := ev.ConflictReport(user.ID())
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, valueobjects.VerbGet, c.Verb)
	assert.Len(t, c.Candidates, 2)
	assert.True(t, c.Resolution.Deny, "deny wins under DENY_OVERRIDES")
	assert.False(t, c.Allowed)
}

func TestEvaluator_GapReport(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)
	user, _ := g.CreateUser("alice", "")
	mustGrant(t, g, user.ID(), "/api/read/*", valueobjects.VerbGet)

	out, err := ev.GapReport(user.ID(), []queries.ResourceVerb{
		{Resource: "/api/read/1", Verb: valueobjects.VerbGet},
		{Resource: "/api/write/1", Verb: valueobjects.VerbPost},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/api/write/1", out[0].Resource)
	assert.Equal(t, valueobjects.VerbPost, out[0].Verb)
	assert.NotEmpty(t, out[0].Reason)
}

func TestEvaluator_PermissionMatrix(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)

	alice, _ := g.CreateUser("alice", "")
	bob, _ := g.CreateUser("bob", "")
	mustGrant(t, g, alice.ID(), "/api/docs", valueobjects.VerbGet)

	out, err := ev.PermissionMatrix(
		[]entities.ID{alice.ID(), bob.ID()},
		[]string{"/api/docs"},
		[]valueobjects.Verb{valueobjects.VerbGet, valueobjects.VerbPost},
	)
	require.NoError(t, err)
	require.Len(t, out, 4)

	byCell := make(map[[2]interface{}]bool)
	for _, entry := range out {
		byCell[[2]interface{}{entry.EntityID, entry.Verb}] = entry.Allowed
	}
	assert.True(t, byCell[[2]interface{}{alice.ID(), valueobjects.VerbGet}])
	assert.False(t, byCell[[2]interface{}{alice.ID(), valueobjects.VerbPost}])
	assert.False(t, byCell[[2]interface{}{bob.ID(), valueobjects.VerbGet}])

	// missing entity fails the whole matrix
	_, err = ev.PermissionMatrix([]entities.ID{999}, []string{"/x"}, nil)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestEvaluator_InheritanceTrace(t *testing.T) {
	ev, g := newTestEvaluator(t, DenyOverrides)

	user, _ := g.CreateUser("alice", "")
	team, _ := g.CreateGroup("team", "")
	org, _ := g.CreateGroup("org", "")
	_, _ = g.Link(team.ID(), user.ID())
	_, _ = g.Link(org.ID(), team.ID())
	mustGrant(t, g, org.ID(), "/api/x", valueobjects.VerbGet)

	trace, err := ev.InheritanceTrace(user.ID(), "/api/x", valueobjects.VerbGet)
	require.NoError(t, err)
	require.Len(t, trace, 3)

	assert.Equal(t, user.ID(), trace[0].EntityID)
	assert.Equal(t, 0, trace[0].Depth)
	assert.Empty(t, trace[0].Permissions)

	assert.Equal(t, team.ID(), trace[1].EntityID)
	assert.Equal(t, 1, trace[1].Depth)

	assert.Equal(t, org.ID(), trace[2].EntityID)
	assert.Equal(t, 2, trace[2].Depth)
	assert.Len(t, trace[2].Permissions, 1)
}

func TestParseConflictStrategy(t *testing.T) {
	s, err := ParseConflictStrategy("deny_overrides")
	require.NoError(t, err)
	assert.Equal(t, DenyOverrides, s)

	s, err = ParseConflictStrategy("  MOST_SPECIFIC ")
	require.NoError(t, err)
	assert.Equal(t, MostSpecific, s)

	_, err = ParseConflictStrategy("FIRST_WINS")
	assert.Error(t, err)
}
