package models

import (
	"encoding/json"
	"testing"
)

func TestEntityKeyTextRoundTrip(t *testing.T) {
	cases := []EntityKey{
		{Kind: KindIssue, Number: 42},
		{Kind: KindPR, Number: 7},
	}
	for _, k := range cases {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", k, err)
		}
		var back EntityKey
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != k {
			t.Errorf("round trip: got %v, want %v", back, k)
		}
	}
}

func TestEntityKeyUnmarshalRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "42", "issue-", "widget-42"} {
		var k EntityKey
		if err := k.UnmarshalText([]byte(in)); err == nil {
			t.Errorf("UnmarshalText(%q): expected error", in)
		}
	}
}

// Snapshots are persisted through encoding/json, so the struct-keyed
// Items map must survive a full round trip.
func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := NewSnapshot()
	key := EntityKey{Kind: KindIssue, Number: 42}
	snap.Items[key] = Entity{Key: key, Title: "Fix crash", State: "open"}
	prKey := EntityKey{Kind: KindPR, Number: 7}
	snap.Items[prKey] = Entity{Key: prKey, Title: "Add cache", State: "open"}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	back := NewSnapshot()
	if err := json.Unmarshal(data, back); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(back.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(back.Items))
	}
	if got := back.Items[key].Title; got != "Fix crash" {
		t.Errorf("issue title = %q, want %q", got, "Fix crash")
	}
}
