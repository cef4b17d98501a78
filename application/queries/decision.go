package queries

import (
	"time"

	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
)

// DecisionSource names one entity whose permission contributed to a
// decision: the entity itself or an ancestor reached through inheritance.
type DecisionSource struct {
	EntityID   entities.ID             `json:"entityId"`
	Kind       entities.Kind           `json:"kind"`
	Name       string                  `json:"name"`
	Permission valueobjects.Permission `json:"permission"`
}

// Decision is the evaluator's answer to "may entity E perform verb V on
// URI R?", with enough trace to explain itself.
type Decision struct {
	Allowed            bool                      `json:"allowed"`
	Reason             string                    `json:"reason"`
	Sources            []DecisionSource          `json:"sources,omitempty"`
	AppliedPermissions []valueobjects.Permission `json:"appliedPermissions,omitempty"`
	EvaluationTime     time.Duration             `json:"evaluationTime"`
	FromCache          bool                      `json:"fromCache"`
}

// EffectivePermission is one row of the effective-permissions report
type EffectivePermission struct {
	Permission valueobjects.Permission `json:"permission"`
	SourceID   entities.ID             `json:"sourceId"`
	SourceKind entities.Kind           `json:"sourceKind"`
	SourceName string                  `json:"sourceName"`
	Inherited  bool                    `json:"inherited"`
}

// MatrixEntry is one cell of the (entities x resources x verbs) matrix
type MatrixEntry struct {
	EntityID entities.ID       `json:"entityId"`
	Resource string            `json:"resource"`
	Verb     valueobjects.Verb `json:"verb"`
	Allowed  bool              `json:"allowed"`
}

// PermissionConflict reports a (uri, verb) pair where both grant and
// deny candidates exist, along with the strategy's resolution.
type PermissionConflict struct {
	URI        string                  `json:"uri"`
	Verb       valueobjects.Verb       `json:"verb"`
	Candidates []EffectivePermission   `json:"candidates"`
	Resolution valueobjects.Permission `json:"resolution"`
	Allowed    bool                    `json:"allowed"`
}

// ResourceVerb is one required capability in a gap report request
type ResourceVerb struct {
	Resource string            `json:"resource"`
	Verb     valueobjects.Verb `json:"verb"`
}

// GapEntry is a required capability the entity does not hold
type GapEntry struct {
	Resource string            `json:"resource"`
	Verb     valueobjects.Verb `json:"verb"`
	Reason   string            `json:"reason"`
}

// TraceStep is one hop of an inheritance trace, in BFS visit order
type TraceStep struct {
	EntityID    entities.ID               `json:"entityId"`
	Kind        entities.Kind             `json:"kind"`
	Name        string                    `json:"name"`
	Depth       int                       `json:"depth"`
	Permissions []valueobjects.Permission `json:"permissions,omitempty"`
}
