package services

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"acs-backend/application/queries"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"go.uber.org/zap"
)

// ConflictStrategy selects how competing candidate permissions are
// reduced to a single effective permission. Process-wide, hot-reloadable.
type ConflictStrategy string

const (
	DenyOverrides   ConflictStrategy = "DENY_OVERRIDES"
	GrantOverrides  ConflictStrategy = "GRANT_OVERRIDES"
	MostSpecific    ConflictStrategy = "MOST_SPECIFIC"
	MostRecent      ConflictStrategy = "MOST_RECENT"
	HighestPriority ConflictStrategy = "HIGHEST_PRIORITY"
)

// ParseConflictStrategy validates a strategy name
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	cs := ConflictStrategy(strings.ToUpper(strings.TrimSpace(s)))
	switch cs {
	case DenyOverrides, GrantOverrides, MostSpecific, MostRecent, HighestPriority:
		return cs, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// candidate is one permission in the running along with its source
type candidate struct {
	perm   valueobjects.Permission
	source entities.Entity
	direct bool
}

// Evaluator walks the entity graph to answer permission checks. Reads
// run on the dispatcher goroutine, so graph access needs no locking;
// the strategy cell is atomic because the config reloader may swap it.
type Evaluator struct {
	graph    *aggregates.Graph
	cache    *DecisionCache
	strategy atomic.Value // ConflictStrategy
	logger   *zap.Logger
}

// NewEvaluator creates an evaluator over the graph
func NewEvaluator(graph *aggregates.Graph, cache *DecisionCache, strategy ConflictStrategy, logger *zap.Logger) *Evaluator {
	ev := &Evaluator{
		graph:  graph,
		cache:  cache,
		logger: logger,
	}
	ev.strategy.Store(strategy)
	return ev
}

// Strategy returns the active conflict-resolution strategy
func (ev *Evaluator) Strategy() ConflictStrategy {
	return ev.strategy.Load().(ConflictStrategy)
}

// SetStrategy swaps the active strategy and drops all cached decisions,
// which were computed under the old one.
func (ev *Evaluator) SetStrategy(s ConflictStrategy) {
	ev.strategy.Store(s)
	ev.cache.Purge()
	ev.logger.Info("conflict strategy changed", zap.String("strategy", string(s)))
}

// Cache exposes the decision cache for dispatcher invalidation
func (ev *Evaluator) Cache() *DecisionCache { return ev.cache }

// Evaluate answers "may entity e perform verb v on uri u?". A non-nil
// evalCtx additionally admits conditional permissions whose predicate
// holds and temporary permissions whose window contains now; contextual
// evaluations bypass the cache because their result is not a pure
// function of the cache key.
func (ev *Evaluator) Evaluate(entityID entities.ID, uri string, verb valueobjects.Verb, evalCtx map[string]string) (queries.Decision, error) {
	start := time.Now()

	if evalCtx == nil {
		if cached, ok := ev.cache.Get(entityID, uri, verb); ok {
			cached.FromCache = true
			cached.EvaluationTime = time.Since(start)
			return cached, nil
		}
	}

	if _, err := ev.graph.GetEntity(entityID); err != nil {
		return queries.Decision{}, err
	}

	cands := ev.collectCandidates(entityID, uri, verb, evalCtx)
	decision := ev.resolve(cands)
	decision.EvaluationTime = time.Since(start)

	if evalCtx == nil {
		ev.cache.Put(entityID, uri, verb, decision)
	}
	return decision, nil
}

// collectCandidates gathers matching permissions from the entity and,
// breadth-first with a visited set, from every ancestor. Diamond
// inheritance contributes each ancestor once.
func (ev *Evaluator) collectCandidates(entityID entities.ID, uri string, verb valueobjects.Verb, evalCtx map[string]string) []candidate {
	now := time.Now()
	var cands []candidate

	appendMatches := func(e entities.Entity, direct bool) {
		for _, p := range e.Permissions() {
			if !p.Matches(uri, verb) {
				continue
			}
			if p.IsTemporary() || p.IsConditional() {
				// Admitted only for contextual evaluations.
				if evalCtx == nil {
					continue
				}
				if p.IsTemporary() && !p.ActiveAt(now) {
					continue
				}
				if p.IsConditional() && !p.ConditionHolds(evalCtx) {
					continue
				}
			}
			cands = append(cands, candidate{perm: p, source: e, direct: direct})
		}
	}

	if e, err := ev.graph.GetEntity(entityID); err == nil {
		appendMatches(e, true)
	}
	for _, ancestorID := range ev.graph.Ancestors(entityID) {
		if a, err := ev.graph.GetEntity(ancestorID); err == nil {
			appendMatches(a, false)
		}
	}
	return cands
}

// resolve reduces the candidate set to one effective permission under
// the active strategy and derives the decision from it.
func (ev *Evaluator) resolve(cands []candidate) queries.Decision {
	if len(cands) == 0 {
		return queries.Decision{
			Allowed: false,
			Reason:  "no matching permission",
		}
	}

	winner := ev.pickWinner(cands)
	allowed := winner.perm.Grant && !winner.perm.Deny

	reason := fmt.Sprintf("%s permission from %s %d under %s",
		grantOrDeny(winner.perm), winner.source.Kind(), winner.source.ID(), ev.Strategy())

	d := queries.Decision{
		Allowed: allowed,
		Reason:  reason,
	}
	for _, c := range cands {
		d.Sources = append(d.Sources, queries.DecisionSource{
			EntityID:   c.source.ID(),
			Kind:       c.source.Kind(),
			Name:       c.source.Name(),
			Permission: c.perm,
		})
		d.AppliedPermissions = append(d.AppliedPermissions, c.perm)
	}
	return d
}

func grantOrDeny(p valueobjects.Permission) string {
	if p.Deny {
		return "deny"
	}
	if p.Grant {
		return "grant"
	}
	return "neutral"
}

// pickWinner applies the strategy. DENY_OVERRIDES is also the tie-break
// for MOST_SPECIFIC and HIGHEST_PRIORITY.
func (ev *Evaluator) pickWinner(cands []candidate) candidate {
	switch ev.Strategy() {
	case GrantOverrides:
		if c, ok := firstWhere(cands, func(c candidate) bool { return c.perm.Grant }); ok {
			return c
		}
		return mostSpecificOf(cands)
	case MostSpecific:
		return mostSpecificOf(cands)
	case MostRecent:
		best := cands[0]
		for _, c := range cands[1:] {
			if c.perm.ID > best.perm.ID {
				best = c
			}
		}
		return best
	case HighestPriority:
		top := cands[0].perm.Priority
		for _, c := range cands[1:] {
			if c.perm.Priority > top {
				top = c.perm.Priority
			}
		}
		var tied []candidate
		for _, c := range cands {
			if c.perm.Priority == top {
				tied = append(tied, c)
			}
		}
		return denyOverridesOf(tied)
	default: // DenyOverrides
		return denyOverridesOf(cands)
	}
}

func firstWhere(cands []candidate, pred func(candidate) bool) (candidate, bool) {
	for _, c := range cands {
		if pred(c) {
			return c, true
		}
	}
	return candidate{}, false
}

// denyOverridesOf returns the most specific deny if any candidate
// denies, otherwise the most specific candidate.
func denyOverridesOf(cands []candidate) candidate {
	var denies []candidate
	for _, c := range cands {
		if c.perm.Deny {
			denies = append(denies, c)
		}
	}
	if len(denies) > 0 {
		return mostSpecificOf(denies)
	}
	return mostSpecificOf(cands)
}

// mostSpecificOf orders by pattern specificity; equal specificity falls
// back to deny-over-grant, then lowest permission id for determinism.
func mostSpecificOf(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		bs, cs := best.perm.Pattern().Specificity(), c.perm.Pattern().Specificity()
		switch {
		case cs > bs:
			best = c
		case cs == bs && c.perm.Deny && !best.perm.Deny:
			best = c
		case cs == bs && c.perm.Deny == best.perm.Deny && c.perm.ID < best.perm.ID:
			best = c
		}
	}
	return best
}

// ----------------------------------------------------------------------
// Reporting queries
// ----------------------------------------------------------------------

// EffectivePermissions lists every permission applying to the entity,
// direct and inherited, with its source.
func (ev *Evaluator) EffectivePermissions(entityID entities.ID) ([]queries.EffectivePermission, error) {
	e, err := ev.graph.GetEntity(entityID)
	if err != nil {
		return nil, err
	}

	var out []queries.EffectivePermission
	add := func(src entities.Entity, inherited bool) {
		perms := src.Permissions()
		sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
		for _, p := range perms {
			out = append(out, queries.EffectivePermission{
				Permission: p,
				SourceID:   src.ID(),
				SourceKind: src.Kind(),
				SourceName: src.Name(),
				Inherited:  inherited,
			})
		}
	}

	add(e, false)
	for _, ancestorID := range ev.graph.Ancestors(entityID) {
		if a, aerr := ev.graph.GetEntity(ancestorID); aerr == nil {
			add(a, true)
		}
	}
	return out, nil
}

// PermissionMatrix evaluates every (entity, resource, verb) combination
func (ev *Evaluator) PermissionMatrix(entityIDs []entities.ID, resources []string, verbs []valueobjects.Verb) ([]queries.MatrixEntry, error) {
	if len(verbs) == 0 {
		verbs = valueobjects.AllVerbs
	}
	var out []queries.MatrixEntry
	for _, id := range entityIDs {
		for _, res := range resources {
			for _, v := range verbs {
				d, err := ev.Evaluate(id, res, v, nil)
				if err != nil {
					if pkgerrors.IsNotFound(err) {
						return nil, err
					}
					return nil, pkgerrors.Wrap(err, "building permission matrix")
				}
				out = append(out, queries.MatrixEntry{
					EntityID: id,
					Resource: res,
					Verb:     v,
					Allowed:  d.Allowed,
				})
			}
		}
	}
	return out, nil
}

// ConflictReport finds (uri, verb) groups in the entity's candidate set
// where both grant and deny opinions exist, and shows the resolution the
// active strategy would pick.
func (ev *Evaluator) ConflictReport(entityID entities.ID) ([]queries.PermissionConflict, error) {
	effective, err := ev.EffectivePermissions(entityID)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		uri  string
		verb valueobjects.Verb
	}
	groups := make(map[groupKey][]queries.EffectivePermission)
	var order []groupKey
	for _, ep := range effective {
		k := groupKey{uri: strings.ToLower(ep.Permission.URI), verb: ep.Permission.Verb}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], ep)
	}

	var out []queries.PermissionConflict
	for _, k := range order {
		group := groups[k]
		hasGrant, hasDeny := false, false
		for _, ep := range group {
			hasGrant = hasGrant || ep.Permission.Grant
			hasDeny = hasDeny || ep.Permission.Deny
		}
		if !hasGrant || !hasDeny {
			continue
		}
		// Resolve against the pattern URI itself.
		cands := make([]candidate, 0, len(group))
		for _, ep := range group {
			src, serr := ev.graph.GetEntity(ep.SourceID)
			if serr != nil {
				continue
			}
			cands = append(cands, candidate{perm: ep.Permission, source: src, direct: !ep.Inherited})
		}
		winner := ev.pickWinner(cands)
		out = append(out, queries.PermissionConflict{
			URI:        group[0].Permission.URI,
			Verb:       k.verb,
			Candidates: group,
			Resolution: winner.perm,
			Allowed:    winner.perm.Grant && !winner.perm.Deny,
		})
	}
	return out, nil
}

// GapReport lists the required capabilities the entity lacks
func (ev *Evaluator) GapReport(entityID entities.ID, required []queries.ResourceVerb) ([]queries.GapEntry, error) {
	var out []queries.GapEntry
	for _, rv := range required {
		d, err := ev.Evaluate(entityID, rv.Resource, rv.Verb, nil)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			out = append(out, queries.GapEntry{
				Resource: rv.Resource,
				Verb:     rv.Verb,
				Reason:   d.Reason,
			})
		}
	}
	return out, nil
}

// InheritanceTrace returns the ordered ancestor chain for a decision:
// the entity at depth 0, then each ancestor in BFS order with the
// permissions it contributes to the (uri, verb) query.
func (ev *Evaluator) InheritanceTrace(entityID entities.ID, uri string, verb valueobjects.Verb) ([]queries.TraceStep, error) {
	e, err := ev.graph.GetEntity(entityID)
	if err != nil {
		return nil, err
	}

	depths := map[entities.ID]int{entityID: 0}
	var out []queries.TraceStep

	step := func(src entities.Entity, depth int) queries.TraceStep {
		s := queries.TraceStep{
			EntityID: src.ID(),
			Kind:     src.Kind(),
			Name:     src.Name(),
			Depth:    depth,
		}
		for _, p := range src.Permissions() {
			if p.Matches(uri, verb) {
				s.Permissions = append(s.Permissions, p)
			}
		}
		return s
	}

	out = append(out, step(e, 0))
	for _, ancestorID := range ev.graph.Ancestors(entityID) {
		a, aerr := ev.graph.GetEntity(ancestorID)
		if aerr != nil {
			continue
		}
		// Depth is one past the nearest already-visited child.
		depth := 0
		for childID := range a.Children() {
			if d, ok := depths[childID]; ok && (depth == 0 || d+1 < depth) {
				depth = d + 1
			}
		}
		if depth == 0 {
			depth = 1
		}
		depths[ancestorID] = depth
		out = append(out, step(a, depth))
	}
	return out, nil
}
