// Package layout assigns stable coordinates to display-tree nodes across
// repeated rebuilds. Positions come from three sources, in priority order: a
// cached position for the id, a structural position shifted by the offset the
// node's parent received relative to its own structural ideal, or a fresh
// structural position for a brand-new root.
package layout

import (
	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
)

const (
	// Structural grid: sibling order maps to columns, depth maps to rows.
	colWidth  = 80.0
	rowHeight = 100.0
	// dragBuffer keeps a dragged node clear of its parent's and children's
	// rows so time keeps flowing downward.
	dragBuffer = 20.0
)

// WidthEstimator approximates the rendered pixel width of a node label. The
// default multiplies the label length by an approximate character width; a
// renderer with exact text measurement can supply its own.
type WidthEstimator func(label string) float64

// DefaultWidthEstimator assumes ~6.5px per character at the map's font size.
func DefaultWidthEstimator(label string) float64 {
	return float64(len([]rune(label))) * 6.5
}

// PlaceNewChild picks the initial position for a node being created under
// parentID, before any layout pass has seen it: directly below the parent
// when it has no children yet, otherwise to the right of the rightmost
// existing sibling by that sibling's estimated label width.
func PlaceNewChild(parentID string, msgs map[string]*models.Message, estimate WidthEstimator) models.Point {
	if estimate == nil {
		estimate = DefaultWidthEstimator
	}
	parent := msgs[parentID]
	if parent == nil {
		return models.Point{}
	}

	parentPos := models.Point{}
	if parent.Position != nil {
		parentPos = *parent.Position
	}

	if len(parent.ChildrenIDs) == 0 {
		return models.Point{X: parentPos.X, Y: parentPos.Y + rowHeight}
	}

	// Find the rightmost existing sibling.
	var rightmost *models.Message
	rightX := 0.0
	for _, childID := range parent.ChildrenIDs {
		child := msgs[childID]
		if child == nil {
			continue
		}
		x := 0.0
		if child.Position != nil {
			x = child.Position.X
		}
		if rightmost == nil || x > rightX {
			rightmost, rightX = child, x
		}
	}
	if rightmost == nil {
		return models.Point{X: parentPos.X, Y: parentPos.Y + rowHeight}
	}

	return models.Point{
		X: rightX + estimate(siblingLabel(rightmost)),
		Y: parentPos.Y + rowHeight,
	}
}

// siblingLabel mirrors the display label used when measuring how far to
// shift a new sibling: the summary when present, else the leading content.
func siblingLabel(m *models.Message) string {
	if m.Summary != "" {
		return m.Summary
	}
	content := []rune(m.Content)
	if len(content) > 18 {
		content = content[:18]
	}
	return string(content)
}

// Transform is the view transform that recenters the map on a node: the
// viewport center translation at unit scale minus the node position.
type Transform struct {
	TranslateX float64 `json:"translateX"`
	TranslateY float64 `json:"translateY"`
	Scale      float64 `json:"scale"`
}

// Reconciler carries the position cache between display-tree rebuilds and
// the previously focused head id for the recenter trigger.
type Reconciler struct {
	cache      map[string]models.Point
	prevHeadID string
}

// NewReconciler returns a reconciler with an empty position cache.
func NewReconciler() *Reconciler {
	return &Reconciler{cache: make(map[string]models.Point)}
}

// Forget drops cached positions for ids no longer present, typically after a
// branch deletion or a session switch.
func (r *Reconciler) Forget(keep map[string]*models.Message) {
	for id := range r.cache {
		if _, ok := keep[id]; !ok {
			delete(r.cache, id)
		}
	}
}

// Reset clears the whole cache and the head tracking, for a session switch.
func (r *Reconciler) Reset() {
	r.cache = make(map[string]models.Point)
	r.prevHeadID = ""
}

// Set records an explicit position for id, e.g. after a drag release.
func (r *Reconciler) Set(id string, p models.Point) {
	r.cache[id] = p
}

// Reconcile walks the display tree, computes the structural ideal for every
// node, and writes the final position onto each node. Message positions
// persisted on earlier runs seed the cache so layout stays stable across
// process restarts.
func (r *Reconciler) Reconcile(root *graph.TurnNode, msgs map[string]*models.Message) {
	if root == nil {
		return
	}
	ideal := make(map[string]models.Point)
	structuralLayout(root, 0, ideal)
	r.apply(root, "", ideal, msgs)
}

// structuralLayout assigns the tree-derived ideal positions: depth rows and
// sibling columns, parents centered over their subtrees. Returns the number
// of leaf slots the subtree occupies; slot is the leftmost slot available.
func structuralLayout(node *graph.TurnNode, depth int, ideal map[string]models.Point) {
	var place func(n *graph.TurnNode, depth int, slot float64) float64
	place = func(n *graph.TurnNode, depth int, slot float64) float64 {
		y := float64(depth) * rowHeight
		if len(n.Children) == 0 {
			ideal[n.ID] = models.Point{X: slot * colWidth, Y: y}
			return 1
		}
		used := 0.0
		for _, child := range n.Children {
			used += place(child, depth+1, slot+used)
		}
		// Center the parent over the slots its subtree spans.
		ideal[n.ID] = models.Point{X: (slot + used/2 - 0.5) * colWidth, Y: y}
		return used
	}
	place(node, depth, 0)
}

func (r *Reconciler) apply(node *graph.TurnNode, parentID string, ideal map[string]models.Point, msgs map[string]*models.Message) {
	pos, cached := r.cache[node.ID]
	if !cached {
		// Positions persisted on the messages themselves count as cached:
		// they are read back to keep layout stable across renders.
		if saved := savedPosition(node.ID, msgs); saved != nil {
			pos, cached = *saved, true
			r.cache[node.ID] = pos
		}
	}
	if !cached {
		pos = ideal[node.ID]
		if parentID != "" {
			// Shift by the offset the parent accumulated relative to its own
			// structural ideal so a dragged subtree carries its new children.
			if parentCached, ok := r.cache[parentID]; ok {
				parentIdeal := ideal[parentID]
				pos.X += parentCached.X - parentIdeal.X
				pos.Y += parentCached.Y - parentIdeal.Y
			}
		}
		r.cache[node.ID] = pos
	}
	node.Position = &models.Point{X: pos.X, Y: pos.Y}

	for _, child := range node.Children {
		r.apply(child, node.ID, ideal, msgs)
	}
}

func savedPosition(nodeID string, msgs map[string]*models.Message) *models.Point {
	m := msgs[nodeID]
	if m == nil || m.Position == nil {
		return nil
	}
	p := *m.Position
	return &p
}

// RecenterOnHeadChange returns the transform that centers the viewport on
// the focused head, but only when the head id actually changed since the
// last call. Recentering on every render would jitter the view.
func (r *Reconciler) RecenterOnHeadChange(headID string, width, height float64) (Transform, bool) {
	if headID == "" || headID == r.prevHeadID {
		return Transform{}, false
	}
	pos, ok := r.cache[headID]
	if !ok {
		return Transform{}, false
	}
	r.prevHeadID = headID
	return Transform{
		TranslateX: width/2 - pos.X,
		TranslateY: height/2 - pos.Y,
		Scale:      1,
	}, true
}

// ClampDrag constrains a manual reposition of the turn identified by nodeID:
// the node may not rise above its parent turn's row, and may not sink below
// the highest of its child turns. X is unconstrained.
func ClampDrag(nodeID string, x, y float64, msgs map[string]*models.Message) (float64, float64) {
	node := msgs[nodeID]
	if node == nil {
		return x, y
	}

	if parentPos := turnParentPosition(node, msgs); parentPos != nil {
		if limit := parentPos.Y + dragBuffer; y < limit {
			y = limit
		}
	}

	if minChild, ok := turnChildrenMinY(node, msgs); ok {
		if limit := minChild - dragBuffer; y > limit {
			y = limit
		}
	}

	return x, y
}

// turnParentPosition resolves the position of the turn above nodeID's turn.
// The turn node is a model message; its user parent's parent is the previous
// turn's model message.
func turnParentPosition(node *models.Message, msgs map[string]*models.Message) *models.Point {
	userMsg := msgs[node.ParentID]
	if userMsg == nil {
		return nil
	}
	prevModel := msgs[userMsg.ParentID]
	if prevModel == nil {
		return nil
	}
	return prevModel.Position
}

// turnChildrenMinY finds the minimum y among the child turns hanging off
// nodeID's model message.
func turnChildrenMinY(node *models.Message, msgs map[string]*models.Message) (float64, bool) {
	min, found := 0.0, false
	for _, childUserID := range node.ChildrenIDs {
		childUser := msgs[childUserID]
		if childUser == nil {
			continue
		}
		pos := childUser.Position
		if len(childUser.ChildrenIDs) > 0 {
			if childModel := msgs[childUser.ChildrenIDs[0]]; childModel != nil && childModel.Position != nil {
				pos = childModel.Position
			}
		}
		if pos == nil {
			continue
		}
		if !found || pos.Y < min {
			min, found = pos.Y, true
		}
	}
	return min, found
}
