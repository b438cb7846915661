package tools

import (
	"reflect"
	"testing"
)

func TestRunStateCallCounts(t *testing.T) {
	rs := NewRunState()

	if got := rs.CountCall("web_search"); got != 1 {
		t.Errorf("first call: expected 1, got %d", got)
	}
	if got := rs.CountCall("web_search"); got != 2 {
		t.Errorf("second call: expected 2, got %d", got)
	}
	if got := rs.Calls("web_fetch"); got != 0 {
		t.Errorf("uncalled tool: expected 0, got %d", got)
	}
}

func TestRunStateEmptyStreak(t *testing.T) {
	rs := NewRunState()

	if got := rs.NoteEmpty(); got != 1 {
		t.Errorf("expected streak 1, got %d", got)
	}
	rs.NoteUseful()
	if got := rs.NoteEmpty(); got != 1 {
		t.Errorf("streak should reset after a useful result, got %d", got)
	}
	if got := rs.NoteEmpty(); got != 2 {
		t.Errorf("expected streak 2, got %d", got)
	}
}

func TestPartitionURLs(t *testing.T) {
	rs := NewRunState()
	rs.MarkFetched("https://b.example")
	rs.MarkFetched("https://a.example")

	already, fresh := rs.PartitionURLs([]string{
		"https://b.example",
		"https://c.example",
		"https://a.example",
		"https://d.example",
	})

	if !reflect.DeepEqual(already, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("unexpected duplicates: %v", already)
	}
	if !reflect.DeepEqual(fresh, []string{"https://c.example", "https://d.example"}) {
		t.Errorf("unexpected fresh set: %v", fresh)
	}
}

func TestRunStateRelease(t *testing.T) {
	rs := NewRunState()
	rs.MarkFetched("https://a.example")
	rs.CountCall("web_fetch")
	rs.NoteEmpty()
	rs.MarkSearchDone()

	rs.Release()

	already, fresh := rs.PartitionURLs([]string{"https://a.example"})
	if len(already) != 0 || len(fresh) != 1 {
		t.Error("fetched set should be cleared on release")
	}
	if rs.Calls("web_fetch") != 0 {
		t.Error("call counts should be cleared on release")
	}
	if rs.SearchDone() {
		t.Error("search flag should be cleared on release")
	}
}

func TestRunStateUniqueIDs(t *testing.T) {
	a, b := NewRunState(), NewRunState()
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected distinct non-empty IDs, got %q and %q", a.ID, b.ID)
	}
}
