package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
)

// stubIDs makes ids and timestamps deterministic for one test.
func stubIDs(t *testing.T) {
	t.Helper()
	seq := 0
	origID, origNow := newID, now
	newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	tick := int64(1000)
	now = func() int64 {
		tick++
		return tick
	}
	t.Cleanup(func() { newID, now = origID, origNow })
}

// checkSymmetry fails when any parent/child edge is one-directional.
func checkSymmetry(t *testing.T, s *models.Session) {
	t.Helper()
	for id, m := range s.MessageMap {
		if m.ParentID != "" {
			parent := s.MessageMap[m.ParentID]
			if parent == nil {
				t.Errorf("%s points at missing parent %s", id, m.ParentID)
				continue
			}
			found := false
			for _, childID := range parent.ChildrenIDs {
				if childID == id {
					found = true
				}
			}
			if !found {
				t.Errorf("%s missing from its parent's children", id)
			}
		}
		for _, childID := range m.ChildrenIDs {
			child := s.MessageMap[childID]
			if child == nil {
				t.Errorf("%s lists missing child %s", id, childID)
				continue
			}
			if child.ParentID != id {
				t.Errorf("child %s of %s points back at %q", childID, id, child.ParentID)
			}
		}
	}
}

func TestAppendTurn_EstablishesRoot(t *testing.T) {
	stubIDs(t)
	s := models.NewSession("s1")

	next, ids, err := AppendTurn(s, "", "Hi there", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if next == s {
		t.Fatal("append must return a new snapshot")
	}
	if next.RootMessageID != ids.UserID {
		t.Errorf("root = %q, want the new user id %q", next.RootMessageID, ids.UserID)
	}
	if next.CurrentHeadID != ids.ModelID {
		t.Errorf("head = %q, want the new model id %q", next.CurrentHeadID, ids.ModelID)
	}
	if next.Title != "Hi there" {
		t.Errorf("title = %q, want derived from first message", next.Title)
	}
	user, model := next.MessageMap[ids.UserID], next.MessageMap[ids.ModelID]
	if model.Timestamp != user.Timestamp+1 {
		t.Errorf("model timestamp must directly follow the user timestamp")
	}
	if user.Position == nil || model.Position == nil || *user.Position != *model.Position {
		t.Error("turn halves must share one position")
	}
	checkSymmetry(t, next)

	// Copy-on-write: the original snapshot is untouched.
	if len(s.MessageMap) != 0 {
		t.Error("original snapshot mutated")
	}
}

func TestAppendTurn_MissingParent(t *testing.T) {
	s := models.NewSession("s1")
	if _, _, err := AppendTurn(s, "ghost", "x", nil, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendTurn_TitleFallsBackToImage(t *testing.T) {
	stubIDs(t)
	s := models.NewSession("s1")
	att := []models.Attachment{{MimeType: "image/png", Data: []byte{1}}}
	next, _, err := AppendTurn(s, "", "  ", att, nil)
	if err != nil {
		t.Fatal(err)
	}
	if next.Title != "Image" {
		t.Errorf("title = %q, want Image for attachment-only prompt", next.Title)
	}
}

// seed builds a session with two turns in a line and returns it with the ids.
func seed(t *testing.T) (*models.Session, TurnIDs, TurnIDs) {
	t.Helper()
	s := models.NewSession("s1")
	s1, first, err := AppendTurn(s, "", "first question", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s2, second, err := AppendTurn(s1, first.ModelID, "second question", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s2, first, second
}

func TestEditReplace_RemovesSubtree(t *testing.T) {
	stubIDs(t)
	s, first, second := seed(t)

	next, ids, err := EditReplace(s, first.UserID, "rewritten")
	if err != nil {
		t.Fatal(err)
	}
	// Everything below the first turn is gone, including the second turn.
	for _, gone := range []string{first.UserID, first.ModelID, second.UserID, second.ModelID} {
		if next.Message(gone) != nil {
			t.Errorf("replaced node %s still present", gone)
		}
	}
	if next.Message(ids.UserID) == nil || next.Message(ids.ModelID) == nil {
		t.Fatal("replacement turn missing")
	}
	// Replacing the root updates root and title.
	if next.RootMessageID != ids.UserID {
		t.Errorf("root = %q, want %q", next.RootMessageID, ids.UserID)
	}
	if next.Title != "rewritten" {
		t.Errorf("title = %q, want re-derived", next.Title)
	}
	if next.CurrentHeadID != ids.ModelID {
		t.Errorf("head = %q, want new model id", next.CurrentHeadID)
	}
	checkSymmetry(t, next)
}

func TestEditReplace_ModelIDResolvesToOwningTurn(t *testing.T) {
	stubIDs(t)
	s, first, _ := seed(t)

	viaModel, idsA, err := EditReplace(s, first.ModelID, "same edit")
	if err != nil {
		t.Fatal(err)
	}
	viaUser, idsB, err := EditReplace(s, first.UserID, "same edit")
	if err != nil {
		t.Fatal(err)
	}
	if viaModel.Message(idsA.UserID).Content != viaUser.Message(idsB.UserID).Content {
		t.Error("editing by model id and by user id must target the same turn")
	}
}

func TestEditReplace_CarriesConnections(t *testing.T) {
	stubIDs(t)
	s, first, second := seed(t)

	// Fork a sibling so there is a valid connection source off-path.
	s, fork, err := EditAndFork(s, second.UserID, "sibling")
	if err != nil {
		t.Fatal(err)
	}
	s, err = Connect(s, second.ModelID, fork.UserID)
	if err != nil {
		t.Fatal(err)
	}

	next, ids, err := EditReplace(s, fork.UserID, "edited fork")
	if err != nil {
		t.Fatal(err)
	}
	if !next.Message(ids.UserID).HasConnection(second.ModelID) {
		t.Error("connections of the replaced user message must carry over")
	}
	_ = first
}

func TestEditAndFork_KeepsOriginalBranch(t *testing.T) {
	stubIDs(t)
	s, _, second := seed(t)
	before := len(s.MessageMap)

	next, ids, err := EditAndFork(s, second.ModelID, "alternate question")
	if err != nil {
		t.Fatal(err)
	}
	if len(next.MessageMap) != before+2 {
		t.Fatalf("message count = %d, want %d (original kept, pair added)", len(next.MessageMap), before+2)
	}
	if next.Message(second.UserID) == nil {
		t.Error("original branch removed by fork")
	}
	// Fork and original share a parent.
	if next.Message(ids.UserID).ParentID != next.Message(second.UserID).ParentID {
		t.Error("fork must be a sibling of the edited turn")
	}
	if next.CurrentHeadID != ids.ModelID {
		t.Error("head must move to the fork")
	}
	checkSymmetry(t, next)
}

func TestConnect_Rules(t *testing.T) {
	stubIDs(t)
	s, first, second := seed(t)

	if _, err := Connect(s, first.UserID, first.UserID); !errors.Is(err, apperr.ErrSelfConnection) {
		t.Errorf("self link: err = %v", err)
	}
	if _, err := Connect(s, "ghost", first.UserID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing source: err = %v", err)
	}
	// Ancestor into descendant is redundant.
	if _, err := Connect(s, first.ModelID, second.UserID); !errors.Is(err, apperr.ErrRedundantConnection) {
		t.Errorf("ancestor source: err = %v", err)
	}
	// Descendant into ancestor would be cyclic.
	if _, err := Connect(s, second.UserID, first.ModelID); !errors.Is(err, apperr.ErrCyclicConnection) {
		t.Errorf("descendant source: err = %v", err)
	}
}

func TestConnect_CrossBranchAndIdempotent(t *testing.T) {
	stubIDs(t)
	s, _, second := seed(t)
	s, fork, err := EditAndFork(s, second.UserID, "sibling")
	if err != nil {
		t.Fatal(err)
	}

	next, err := Connect(s, second.ModelID, fork.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if !next.Message(fork.UserID).HasConnection(second.ModelID) {
		t.Fatal("link not recorded")
	}

	again, err := Connect(next, second.ModelID, fork.UserID)
	if err != nil {
		t.Fatalf("duplicate link must be a silent no-op, got %v", err)
	}
	if again != next {
		t.Error("idempotent connect must return the same snapshot")
	}
}

func TestDisconnect(t *testing.T) {
	stubIDs(t)
	s, _, second := seed(t)
	s, fork, err := EditAndFork(s, second.UserID, "sibling")
	if err != nil {
		t.Fatal(err)
	}
	s, err = Connect(s, second.ModelID, fork.UserID)
	if err != nil {
		t.Fatal(err)
	}

	next := Disconnect(s, second.ModelID, fork.UserID)
	if next.Message(fork.UserID).HasConnection(second.ModelID) {
		t.Error("link not removed")
	}
	// Absent link is a no-op returning the same snapshot.
	if Disconnect(next, second.ModelID, fork.UserID) != next {
		t.Error("removing an absent link must be a no-op")
	}
}

func TestSetHead(t *testing.T) {
	s, first, second := seed(t)
	next, err := SetHead(s, first.ModelID)
	if err != nil {
		t.Fatal(err)
	}
	if next.CurrentHeadID != first.ModelID {
		t.Errorf("head = %q, want %q", next.CurrentHeadID, first.ModelID)
	}
	// Head moves do not count as content modification.
	if next.LastModified != s.LastModified {
		t.Error("head move must not bump LastModified")
	}
	if _, err := SetHead(s, "ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing node: err = %v", err)
	}
	_ = second
}

func TestReposition_MirrorsOntoPartner(t *testing.T) {
	stubIDs(t)
	s, first, _ := seed(t)

	next, err := Reposition(s, first.ModelID, 42, 84)
	if err != nil {
		t.Fatal(err)
	}
	want := models.Point{X: 42, Y: 84}
	if *next.Message(first.ModelID).Position != want {
		t.Error("dragged node position not stored")
	}
	if *next.Message(first.UserID).Position != want {
		t.Error("turn partner must mirror the position")
	}
}

func TestAppendChunk_DroppedAfterDelete(t *testing.T) {
	stubIDs(t)
	s, first, _ := seed(t)

	// The streamed target vanishes through an edit.
	edited, _, err := EditReplace(s, first.UserID, "replacement")
	if err != nil {
		t.Fatal(err)
	}
	if AppendChunk(edited, first.ModelID, "late chunk") != edited {
		t.Error("chunk against a deleted message must be dropped unchanged")
	}

	grown := AppendChunk(s, first.ModelID, "Hel")
	grown = AppendChunk(grown, first.ModelID, "lo")
	if got := grown.Message(first.ModelID).Content; got != "Hello" {
		t.Errorf("accumulated content = %q, want %q", got, "Hello")
	}
}

func TestSetSummary(t *testing.T) {
	stubIDs(t)
	s, first, _ := seed(t)

	next := SetSummary(s, first.UserID, "Greeting")
	if next.Message(first.UserID).Summary != "Greeting" {
		t.Error("summary not stored")
	}
	if SetSummary(s, "ghost", "x") != s {
		t.Error("summary for missing message must be a no-op")
	}
	if SetSummary(s, first.UserID, "") != s {
		t.Error("empty summary must be a no-op")
	}
}
