package layout

import (
	"testing"

	"github.com/starford/ansuz/internal/graph"
	"github.com/starford/ansuz/internal/models"
)

func TestPlaceNewChild_FirstChildBelowParent(t *testing.T) {
	msgs := map[string]*models.Message{
		"p": {ID: "p", Position: &models.Point{X: 50, Y: 200}},
	}
	got := PlaceNewChild("p", msgs, nil)
	want := models.Point{X: 50, Y: 300}
	if got != want {
		t.Errorf("position = %+v, want %+v", got, want)
	}
}

func TestPlaceNewChild_NextSiblingShiftsRight(t *testing.T) {
	msgs := map[string]*models.Message{
		"p": {ID: "p", Position: &models.Point{X: 0, Y: 0}, ChildrenIDs: []string{"c1", "c2"}},
		"c1": {ID: "c1", Content: "short", Position: &models.Point{X: 0, Y: 100}},
		"c2": {ID: "c2", Summary: "widest sibling", Position: &models.Point{X: 120, Y: 100}},
	}
	got := PlaceNewChild("p", msgs, func(label string) float64 {
		if label != "widest sibling" {
			t.Errorf("estimator got label %q, want the rightmost sibling's", label)
		}
		return 60
	})
	want := models.Point{X: 180, Y: 100}
	if got != want {
		t.Errorf("position = %+v, want %+v", got, want)
	}
}

func TestPlaceNewChild_MissingParent(t *testing.T) {
	if got := PlaceNewChild("ghost", map[string]*models.Message{}, nil); got != (models.Point{}) {
		t.Errorf("missing parent should yield origin, got %+v", got)
	}
}

func node(id string, children ...*graph.TurnNode) *graph.TurnNode {
	return &graph.TurnNode{ID: id, Children: children}
}

func TestReconcile_StructuralLayout(t *testing.T) {
	// root over two leaves: leaves in adjacent columns, root centered.
	root := node("root", node("a"), node("b"))
	r := NewReconciler()
	r.Reconcile(root, map[string]*models.Message{})

	if root.Position == nil || root.Children[0].Position == nil {
		t.Fatal("positions not written onto the tree")
	}
	a, b := *root.Children[0].Position, *root.Children[1].Position
	if a.Y != rowHeight || b.Y != rowHeight {
		t.Errorf("leaf rows = %v %v, want %v", a.Y, b.Y, rowHeight)
	}
	if b.X-a.X != colWidth {
		t.Errorf("leaf column gap = %v, want %v", b.X-a.X, colWidth)
	}
	if rootX := root.Position.X; rootX != (a.X+b.X)/2 {
		t.Errorf("root x = %v, want centered between %v and %v", rootX, a.X, b.X)
	}
}

func TestReconcile_CachedPositionWins(t *testing.T) {
	root := node("root", node("a"))
	r := NewReconciler()
	r.Set("a", models.Point{X: 999, Y: 500})
	r.Reconcile(root, map[string]*models.Message{})

	if got := *root.Children[0].Position; got != (models.Point{X: 999, Y: 500}) {
		t.Errorf("cached position overridden: %+v", got)
	}
}

func TestReconcile_SavedMessagePositionSeedsCache(t *testing.T) {
	root := node("root", node("a"))
	msgs := map[string]*models.Message{
		"a": {ID: "a", Position: &models.Point{X: 77, Y: 177}},
	}
	r := NewReconciler()
	r.Reconcile(root, msgs)
	if got := *root.Children[0].Position; got != (models.Point{X: 77, Y: 177}) {
		t.Errorf("persisted position ignored: %+v", got)
	}
}

func TestReconcile_NewChildInheritsParentOffset(t *testing.T) {
	// Parent was dragged 300 to the right of its ideal; the fresh child under
	// it must carry the same offset instead of snapping back to the grid.
	root := node("root", node("a", node("a1")))
	r := NewReconciler()
	r.Set("a", models.Point{X: 300, Y: 100})
	r.Reconcile(root, map[string]*models.Message{})

	child := root.Children[0].Children[0]
	if child.Position.X != 300 {
		t.Errorf("child x = %v, want it shifted with the dragged parent", child.Position.X)
	}
}

func TestForget(t *testing.T) {
	r := NewReconciler()
	r.Set("keep", models.Point{X: 1})
	r.Set("drop", models.Point{X: 2})
	r.Forget(map[string]*models.Message{"keep": {ID: "keep"}})
	if _, ok := r.cache["drop"]; ok {
		t.Error("stale id survived Forget")
	}
	if _, ok := r.cache["keep"]; !ok {
		t.Error("live id dropped by Forget")
	}
}

func TestRecenterOnHeadChange(t *testing.T) {
	r := NewReconciler()
	r.Set("head", models.Point{X: 100, Y: 50})

	tr, ok := r.RecenterOnHeadChange("head", 800, 600)
	if !ok {
		t.Fatal("first focus must recenter")
	}
	if tr.TranslateX != 300 || tr.TranslateY != 250 || tr.Scale != 1 {
		t.Errorf("transform = %+v", tr)
	}

	// Same head again: no recenter.
	if _, ok := r.RecenterOnHeadChange("head", 800, 600); ok {
		t.Error("unchanged head must not recenter")
	}

	// Unknown head: no recenter, head tracking unchanged.
	if _, ok := r.RecenterOnHeadChange("ghost", 800, 600); ok {
		t.Error("unknown head must not recenter")
	}
}

func TestClampDrag(t *testing.T) {
	// prev-m (y=0) <- u (child) <- m (the dragged turn, children at y=300).
	msgs := map[string]*models.Message{
		"prev-m": {ID: "prev-m", Position: &models.Point{Y: 0}},
		"u":      {ID: "u", ParentID: "prev-m", ChildrenIDs: []string{"m"}},
		"m":      {ID: "m", ParentID: "u", ChildrenIDs: []string{"cu"}},
		"cu":     {ID: "cu", ParentID: "m", ChildrenIDs: []string{"cm"}},
		"cm":     {ID: "cm", ParentID: "cu", Position: &models.Point{Y: 300}},
	}

	// Above the parent row: clamped down to parent y + buffer.
	if _, y := ClampDrag("m", 10, -50, msgs); y != dragBuffer {
		t.Errorf("upper clamp y = %v, want %v", y, dragBuffer)
	}
	// Below the child row: clamped up to child y - buffer.
	if _, y := ClampDrag("m", 10, 500, msgs); y != 300-dragBuffer {
		t.Errorf("lower clamp y = %v, want %v", y, 300-dragBuffer)
	}
	// In range: untouched, x always free.
	if x, y := ClampDrag("m", -1000, 150, msgs); x != -1000 || y != 150 {
		t.Errorf("in-range drag altered: %v,%v", x, y)
	}
	// Unknown node passes through.
	if x, y := ClampDrag("ghost", 1, 2, msgs); x != 1 || y != 2 {
		t.Errorf("unknown node altered: %v,%v", x, y)
	}
}
