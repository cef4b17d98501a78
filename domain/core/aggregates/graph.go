package aggregates

import (
	"sort"
	"strings"

	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"
)

// Graph is the aggregate root for the access-control entity graph.
// It owns every entity and permission object; neighbor references are
// id-keyed, never pointers. All methods assume the single-writer
// dispatcher: exactly one goroutine mutates or reads structural state,
// so the aggregate itself carries no locks.
type Graph struct {
	users  map[entities.ID]*entities.User
	groups map[entities.ID]*entities.Group
	roles  map[entities.ID]*entities.Role

	// emailIndex enforces case-insensitive email uniqueness
	emailIndex map[string]entities.ID

	nextEntityID     int64
	nextPermissionID int64
	ready            bool
}

// NewGraph creates an empty, not-yet-ready graph
func NewGraph() *Graph {
	return &Graph{
		users:            make(map[entities.ID]*entities.User),
		groups:           make(map[entities.ID]*entities.Group),
		roles:            make(map[entities.ID]*entities.Role),
		emailIndex:       make(map[string]entities.ID),
		nextEntityID:     1,
		nextPermissionID: 1,
	}
}

// Ready reports whether hydration has completed
func (g *Graph) Ready() bool { return g.ready }

// MarkReady opens the graph for mutation without hydration (fresh store)
func (g *Graph) MarkReady() { g.ready = true }

// Size returns the number of entities in the graph
func (g *Graph) Size() int {
	return len(g.users) + len(g.groups) + len(g.roles)
}

// ----------------------------------------------------------------------
// Lookups
// ----------------------------------------------------------------------

// GetUser returns the user with the given id
func (g *Graph) GetUser(id entities.ID) (*entities.User, error) {
	if u, ok := g.users[id]; ok {
		return u, nil
	}
	return nil, pkgerrors.NewNotFoundError("user")
}

// GetGroup returns the group with the given id
func (g *Graph) GetGroup(id entities.ID) (*entities.Group, error) {
	if gr, ok := g.groups[id]; ok {
		return gr, nil
	}
	return nil, pkgerrors.NewNotFoundError("group")
}

// GetRole returns the role with the given id
func (g *Graph) GetRole(id entities.ID) (*entities.Role, error) {
	if r, ok := g.roles[id]; ok {
		return r, nil
	}
	return nil, pkgerrors.NewNotFoundError("role")
}

// GetEntity returns the entity with the given id, whatever its kind
func (g *Graph) GetEntity(id entities.ID) (entities.Entity, error) {
	if u, ok := g.users[id]; ok {
		return u, nil
	}
	if gr, ok := g.groups[id]; ok {
		return gr, nil
	}
	if r, ok := g.roles[id]; ok {
		return r, nil
	}
	return nil, pkgerrors.NewNotFoundError("entity")
}

// ----------------------------------------------------------------------
// Creation and deletion
// ----------------------------------------------------------------------

func (g *Graph) guardMutable() error {
	if !g.ready {
		return pkgerrors.NewConflictError("entity graph is not ready")
	}
	return nil
}

func (g *Graph) allocateID() entities.ID {
	id := entities.ID(g.nextEntityID)
	g.nextEntityID++
	return id
}

// CreateUser creates a user; a non-empty email must be unique across
// users, case-insensitively.
func (g *Graph) CreateUser(name, email string) (*entities.User, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized != "" {
		if _, taken := g.emailIndex[normalized]; taken {
			return nil, pkgerrors.NewAlreadyExistsError("user with email " + normalized)
		}
	}
	u, err := entities.NewUser(g.allocateID(), name, email)
	if err != nil {
		return nil, err
	}
	g.users[u.ID()] = u
	if normalized != "" {
		g.emailIndex[normalized] = u.ID()
	}
	return u, nil
}

// CreateGroup creates a group
func (g *Graph) CreateGroup(name, description string) (*entities.Group, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	gr, err := entities.NewGroup(g.allocateID(), name, description)
	if err != nil {
		return nil, err
	}
	g.groups[gr.ID()] = gr
	return gr, nil
}

// CreateRole creates a role
func (g *Graph) CreateRole(name, description string) (*entities.Role, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	r, err := entities.NewRole(g.allocateID(), name, description)
	if err != nil {
		return nil, err
	}
	g.roles[r.ID()] = r
	return r, nil
}

// UserUpdate carries the optional fields of an update-user command
type UserUpdate struct {
	Name     *string
	Email    *string
	IsActive *bool
}

// UpdateUser applies an update-user command
func (g *Graph) UpdateUser(id entities.ID, upd UserUpdate) (*entities.User, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	u, err := g.GetUser(id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*upd.Email))
		if normalized != "" && normalized != u.Email() {
			if _, taken := g.emailIndex[normalized]; taken {
				return nil, pkgerrors.NewAlreadyExistsError("user with email " + normalized)
			}
		}
		if u.Email() != "" {
			delete(g.emailIndex, u.Email())
		}
		u.SetEmail(*upd.Email)
		if u.Email() != "" {
			g.emailIndex[u.Email()] = u.ID()
		}
	}
	if upd.Name != nil {
		if err := u.Rename(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.IsActive != nil {
		u.SetActive(*upd.IsActive)
	}
	return u, nil
}

// NamedUpdate carries the optional fields of a group/role update command
type NamedUpdate struct {
	Name        *string
	Description *string
}

// UpdateGroup applies an update-group command
func (g *Graph) UpdateGroup(id entities.ID, upd NamedUpdate) (*entities.Group, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	gr, err := g.GetGroup(id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if err := gr.Rename(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.Description != nil {
		gr.SetDescription(*upd.Description)
	}
	return gr, nil
}

// UpdateRole applies an update-role command
func (g *Graph) UpdateRole(id entities.ID, upd NamedUpdate) (*entities.Role, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	r, err := g.GetRole(id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if err := r.Rename(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.Description != nil {
		r.SetDescription(*upd.Description)
	}
	return r, nil
}

// RemovedEdge reports an edge that Delete detached
type RemovedEdge struct {
	ParentID entities.ID
	ChildID  entities.ID
	Kind     string
}

// Delete removes an entity: first every incident edge on both sides,
// then the entity itself. The detached edges are returned so the
// persistence coordinator can mirror the removal.
func (g *Graph) Delete(id entities.ID) ([]RemovedEdge, error) {
	if err := g.guardMutable(); err != nil {
		return nil, err
	}
	e, err := g.GetEntity(id)
	if err != nil {
		return nil, err
	}

	var removed []RemovedEdge
	for parentID := range e.Parents() {
		parent, perr := g.GetEntity(parentID)
		if perr != nil {
			continue // one-sided edge would be an invariant violation
		}
		parent.DetachChild(id)
		removed = append(removed, RemovedEdge{
			ParentID: parentID,
			ChildID:  id,
			Kind:     EdgeKindFor(e.Kind(), parent.Kind()),
		})
	}
	for childID := range e.Children() {
		child, cerr := g.GetEntity(childID)
		if cerr != nil {
			continue
		}
		child.DetachParent(id)
		removed = append(removed, RemovedEdge{
			ParentID: id,
			ChildID:  childID,
			Kind:     EdgeKindFor(child.Kind(), e.Kind()),
		})
	}

	switch e.Kind() {
	case entities.KindUser:
		u := g.users[id]
		if u.Email() != "" {
			delete(g.emailIndex, u.Email())
		}
		delete(g.users, id)
	case entities.KindGroup:
		delete(g.groups, id)
	case entities.KindRole:
		delete(g.roles, id)
	}
	return removed, nil
}

// ----------------------------------------------------------------------
// Edges
// ----------------------------------------------------------------------

// Link creates the child->parent edge, updating both neighbor sets.
// Linking an already-linked pair is an idempotent no-op (created=false).
// A group->group link runs the cycle check before committing.
func (g *Graph) Link(parentID, childID entities.ID) (created bool, err error) {
	if err := g.guardMutable(); err != nil {
		return false, err
	}
	if parentID == childID {
		return false, pkgerrors.NewInvalidArgumentError("entity cannot be linked to itself")
	}
	parent, err := g.GetEntity(parentID)
	if err != nil {
		return false, pkgerrors.NewNotFoundError("parent entity")
	}
	child, err := g.GetEntity(childID)
	if err != nil {
		return false, pkgerrors.NewNotFoundError("child entity")
	}
	if !entities.CanHaveParent(child.Kind(), parent.Kind()) {
		return false, pkgerrors.NewInvalidArgumentError(
			"a " + string(parent.Kind()) + " cannot be a parent of a " + string(child.Kind()))
	}
	if _, exists := child.Parents()[parentID]; exists {
		return false, nil
	}
	if parent.Kind() == entities.KindGroup && child.Kind() == entities.KindGroup {
		if g.wouldCreateCycle(parentID, childID) {
			return false, pkgerrors.NewCycleError(int64(parentID), int64(childID))
		}
	}

	child.AttachParent(parentID, parent.Kind())
	parent.AttachChild(childID, child.Kind())
	return true, nil
}

// Unlink removes the child->parent edge from both neighbor sets
func (g *Graph) Unlink(parentID, childID entities.ID) error {
	if err := g.guardMutable(); err != nil {
		return err
	}
	parent, err := g.GetEntity(parentID)
	if err != nil {
		return pkgerrors.NewNotFoundError("parent entity")
	}
	child, err := g.GetEntity(childID)
	if err != nil {
		return pkgerrors.NewNotFoundError("child entity")
	}
	if _, exists := child.Parents()[parentID]; !exists {
		return pkgerrors.NewNotFoundError("edge")
	}
	child.DetachParent(parentID)
	parent.DetachChild(childID)
	return nil
}

// wouldCreateCycle walks children edges breadth-first from the
// prospective child; reaching the prospective parent means the new edge
// would close a loop in the group-containment graph.
func (g *Graph) wouldCreateCycle(parentID, childID entities.ID) bool {
	visited := map[entities.ID]bool{childID: true}
	queue := []entities.ID{childID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == parentID {
			return true
		}
		e, err := g.GetEntity(current)
		if err != nil {
			continue
		}
		for next, kind := range e.Children() {
			if kind != entities.KindGroup || visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
		}
	}
	return false
}

// ----------------------------------------------------------------------
// Permissions
// ----------------------------------------------------------------------

// AddPermission attaches a permission to an entity, assigning its id
func (g *Graph) AddPermission(entityID entities.ID, p valueobjects.Permission) (valueobjects.Permission, error) {
	if err := g.guardMutable(); err != nil {
		return valueobjects.Permission{}, err
	}
	e, err := g.GetEntity(entityID)
	if err != nil {
		return valueobjects.Permission{}, err
	}
	p.ID = g.nextPermissionID
	if err := e.AddPermission(p); err != nil {
		return valueobjects.Permission{}, err
	}
	g.nextPermissionID++
	return p, nil
}

// RemovePermission detaches the permission with the given key
func (g *Graph) RemovePermission(entityID entities.ID, key valueobjects.PermissionKey) error {
	if err := g.guardMutable(); err != nil {
		return err
	}
	e, err := g.GetEntity(entityID)
	if err != nil {
		return err
	}
	if !e.RemovePermission(key) {
		return pkgerrors.NewNotFoundError("permission")
	}
	return nil
}

// ----------------------------------------------------------------------
// Traversal helpers for the evaluator and cache
// ----------------------------------------------------------------------

// Ancestors walks parent edges breadth-first from the entity and returns
// every reachable ancestor id in visit order, handling diamond shapes
// with a visited set. The starting entity is not included.
func (g *Graph) Ancestors(id entities.ID) []entities.ID {
	return g.walk(id, func(e entities.Entity) map[entities.ID]entities.Kind {
		return e.Parents()
	})
}

// Descendants walks child edges breadth-first from the entity; used by
// the decision cache to invalidate everything that inherits from it.
func (g *Graph) Descendants(id entities.ID) []entities.ID {
	return g.walk(id, func(e entities.Entity) map[entities.ID]entities.Kind {
		return e.Children()
	})
}

func (g *Graph) walk(id entities.ID, next func(entities.Entity) map[entities.ID]entities.Kind) []entities.ID {
	var order []entities.ID
	visited := map[entities.ID]bool{id: true}
	queue := []entities.ID{id}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		e, err := g.GetEntity(current)
		if err != nil {
			continue
		}
		for n := range next(e) {
			if visited[n] {
				continue
			}
			visited[n] = true
			order = append(order, n)
			queue = append(queue, n)
		}
	}
	return order
}

// ----------------------------------------------------------------------
// Hydration and snapshot export
// ----------------------------------------------------------------------

// Hydrate loads the graph from a store snapshot. It is one-shot: a
// ready graph refuses re-hydration. The graph refuses mutation commands
// until hydration completes.
func (g *Graph) Hydrate(snap *Snapshot) error {
	if g.ready {
		return pkgerrors.NewConflictError("entity graph is already hydrated")
	}

	maxEntityID, maxPermID := int64(0), int64(0)

	for _, rec := range snap.Entities {
		if rec.ID > maxEntityID {
			maxEntityID = rec.ID
		}
		id := entities.ID(rec.ID)
		if _, err := g.GetEntity(id); err == nil {
			return pkgerrors.NewConflictError("duplicate entity id in snapshot")
		}
		switch rec.Kind {
		case entities.KindUser:
			u, err := entities.NewUser(id, rec.Name, rec.Email)
			if err != nil {
				return pkgerrors.Wrap(err, "hydrating user")
			}
			if rec.Credentials != nil {
				u.SetCredentials(*rec.Credentials)
			}
			u.SetActive(rec.IsActive)
			g.users[id] = u
			if u.Email() != "" {
				if _, taken := g.emailIndex[u.Email()]; taken {
					return pkgerrors.NewConflictError("duplicate email in snapshot: " + u.Email())
				}
				g.emailIndex[u.Email()] = id
			}
		case entities.KindGroup:
			gr, err := entities.NewGroup(id, rec.Name, rec.Description)
			if err != nil {
				return pkgerrors.Wrap(err, "hydrating group")
			}
			g.groups[id] = gr
		case entities.KindRole:
			r, err := entities.NewRole(id, rec.Name, rec.Description)
			if err != nil {
				return pkgerrors.Wrap(err, "hydrating role")
			}
			g.roles[id] = r
		default:
			return pkgerrors.NewInvalidArgumentError("unknown entity kind in snapshot: " + string(rec.Kind))
		}
	}

	for _, edge := range snap.Edges {
		parent, err := g.GetEntity(entities.ID(edge.ParentID))
		if err != nil {
			return pkgerrors.Wrapf(err, "snapshot edge references missing parent %d", edge.ParentID)
		}
		child, err := g.GetEntity(entities.ID(edge.ChildID))
		if err != nil {
			return pkgerrors.Wrapf(err, "snapshot edge references missing child %d", edge.ChildID)
		}
		if !entities.CanHaveParent(child.Kind(), parent.Kind()) {
			return pkgerrors.NewInvalidArgumentError("illegal edge kind in snapshot: " + edge.Kind)
		}
		child.AttachParent(parent.ID(), parent.Kind())
		parent.AttachChild(child.ID(), child.Kind())
	}

	for _, pr := range snap.Permissions {
		e, err := g.GetEntity(entities.ID(pr.EntityID))
		if err != nil {
			return pkgerrors.Wrapf(err, "snapshot permission references missing entity %d", pr.EntityID)
		}
		if err := e.AddPermission(pr.Permission); err != nil {
			return pkgerrors.Wrap(err, "hydrating permission")
		}
		if pr.Permission.ID > maxPermID {
			maxPermID = pr.Permission.ID
		}
	}

	g.nextEntityID = maxEntityID + 1
	g.nextPermissionID = maxPermID + 1
	g.ready = true
	return nil
}

// Snapshot exports the graph in the store's flat form, totally ordered
// by entity id. Hydrating the result yields a structurally equal graph.
func (g *Graph) Snapshot() *Snapshot {
	snap := &Snapshot{}

	ids := make([]entities.ID, 0, g.Size())
	for id := range g.users {
		ids = append(ids, id)
	}
	for id := range g.groups {
		ids = append(ids, id)
	}
	for id := range g.roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		e, _ := g.GetEntity(id)
		snap.Entities = append(snap.Entities, g.entityRecord(e))

		// Each edge is exported once, from the child side.
		parentIDs := make([]entities.ID, 0, len(e.Parents()))
		for pid := range e.Parents() {
			parentIDs = append(parentIDs, pid)
		}
		sort.Slice(parentIDs, func(i, j int) bool { return parentIDs[i] < parentIDs[j] })
		for _, pid := range parentIDs {
			snap.Edges = append(snap.Edges, EdgeRecord{
				ParentID: int64(pid),
				ChildID:  int64(id),
				Kind:     EdgeKindFor(e.Kind(), e.Parents()[pid]),
			})
		}

		perms := e.Permissions()
		sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
		for _, p := range perms {
			snap.Permissions = append(snap.Permissions, PermissionRecord{
				EntityID:   int64(id),
				Permission: p,
			})
		}
	}
	return snap
}

// EntityRecordFor exports the persistence form of a single live entity
func (g *Graph) EntityRecordFor(id entities.ID) (EntityRecord, error) {
	e, err := g.GetEntity(id)
	if err != nil {
		return EntityRecord{}, err
	}
	return g.entityRecord(e), nil
}

func (g *Graph) entityRecord(e entities.Entity) EntityRecord {
	rec := EntityRecord{
		ID:        int64(e.ID()),
		Kind:      e.Kind(),
		Name:      e.Name(),
		CreatedAt: e.CreatedAt(),
		UpdatedAt: e.UpdatedAt(),
	}
	switch v := e.(type) {
	case *entities.User:
		rec.Email = v.Email()
		rec.IsActive = v.IsActive()
		creds := v.Credentials()
		rec.Credentials = &creds
	case *entities.Group:
		rec.Description = v.Description()
		rec.IsActive = true
	case *entities.Role:
		rec.Description = v.Description()
		rec.IsActive = true
	}
	return rec
}
