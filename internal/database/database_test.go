package database

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/insight"
	"github.com/TobiSchelling/pulsemap/internal/signal"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func addTestUser(t *testing.T, db *DB, name string) *behaviormap.User {
	t.Helper()
	u, err := db.AddUser(name)
	if err != nil {
		t.Fatalf("AddUser(%q): %v", name, err)
	}
	return u
}

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestAddAndFindUser(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	if u.Level != 1 || u.XP != 0 {
		t.Errorf("expected level 1 with 0 xp, got %d/%d", u.Level, u.XP)
	}

	byID, err := db.FindUser(u.ID)
	if err != nil || byID == nil || byID.Name != "ada" {
		t.Fatalf("FindUser by id: %+v, %v", byID, err)
	}
	byName, err := db.FindUser("ada")
	if err != nil || byName == nil || byName.ID != u.ID {
		t.Fatalf("FindUser by name: %+v, %v", byName, err)
	}

	missing, err := db.GetUser("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing user")
	}

	if _, err := db.AddUser("ada"); err == nil {
		t.Error("expected duplicate name to fail")
	}
	if _, err := db.AddUser("  "); err == nil {
		t.Error("expected empty name to fail")
	}
}

func TestAddXPLevelsUp(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")

	if err := db.AddXP(u.ID, 60); err != nil {
		t.Fatal(err)
	}
	if err := db.AddXP(u.ID, 60); err != nil {
		t.Fatal(err)
	}
	got, _ := db.GetUser(u.ID)
	if got.XP != 120 || got.Level != 2 {
		t.Errorf("expected 120 xp at level 2, got %d at %d", got.XP, got.Level)
	}
	if err := db.AddXP("nope", 10); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestEventsSince(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	dur := 45.0

	for i, typ := range []string{insight.EventLogAdded, insight.EventQuestCompleted, insight.EventCheckIn} {
		_, err := db.InsertEvent(insight.Event{
			UserID:    u.ID,
			Type:      typ,
			Metadata:  insight.Metadata{Category: " Coding ", Topic: "Go", Duration: &dur},
			CreatedAt: base.Add(time.Duration(i-2) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	events, err := db.GetEventsSince(u.ID, base.Add(-36*time.Hour))
	if err != nil {
		t.Fatalf("GetEventsSince: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(events))
	}
	if events[0].Type != insight.EventQuestCompleted {
		t.Errorf("expected oldest first, got %s", events[0].Type)
	}
	if events[0].Metadata.Category != "coding" {
		t.Errorf("expected normalized category, got %q", events[0].Metadata.Category)
	}
	if events[0].Metadata.Duration == nil || *events[0].Metadata.Duration != 45 {
		t.Errorf("expected duration 45, got %v", events[0].Metadata.Duration)
	}
	if !events[1].CreatedAt.Equal(base) {
		t.Errorf("expected timestamp roundtrip, got %v", events[1].CreatedAt)
	}
}

func TestEventWithoutDuration(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	if _, err := db.InsertEvent(insight.Event{UserID: u.ID, Type: insight.EventCheckIn, CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	events, _ := db.GetEventsSince(u.ID, base.Add(-time.Hour))
	if len(events) != 1 || events[0].Metadata.Duration != nil {
		t.Errorf("expected one event with nil duration, got %+v", events)
	}
}

func TestCheckIns(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")

	if _, err := db.InsertCheckIn(behaviormap.CheckIn{UserID: u.ID, Percentage: 120}); err == nil {
		t.Error("expected out-of-range percentage to fail")
	}
	c, err := db.InsertCheckIn(behaviormap.CheckIn{UserID: u.ID, Percentage: 72, Note: "ok day", CreatedAt: base})
	if err != nil {
		t.Fatal(err)
	}
	got, err := db.GetCheckInsSince(u.ID, base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]behaviormap.CheckIn{c}, got); diff != "" {
		t.Errorf("check-in mismatch (-want +got):\n%s", diff)
	}
}

func TestQuestLifecycle(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")

	older, err := db.InsertQuest(behaviormap.Quest{UserID: u.ID, Title: "Read a book", CreatedAt: base.Add(-48 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	newer, err := db.InsertQuest(behaviormap.Quest{UserID: u.ID, Title: "Ship v1", Category: "work", CreatedAt: base.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.UpdateQuestProgress(older.ID, 140, base); err != nil {
		t.Fatal(err)
	}
	q, _ := db.GetQuest(older.ID)
	if q.Progress != 100 || q.Completed {
		t.Errorf("expected clamped progress without completion, got %+v", q)
	}

	quests, err := db.GetRecentQuests(u.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(quests) != 2 || quests[0].ID != older.ID {
		t.Errorf("expected most recently updated quest first, got %+v", quests)
	}

	if err := db.CompleteQuest(newer.ID, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	q, _ = db.GetQuest(newer.ID)
	if !q.Completed || q.Progress != 100 {
		t.Errorf("expected completed quest, got %+v", q)
	}

	limited, _ := db.GetRecentQuests(u.ID, 1)
	if len(limited) != 1 || limited[0].ID != newer.ID {
		t.Errorf("expected limit to keep the newest quest, got %+v", limited)
	}

	if err := db.CompleteQuest("nope", base); err == nil {
		t.Error("expected error for unknown quest")
	}
	if missing, err := db.GetQuest("nope"); err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing quest, got %+v, %v", missing, err)
	}
}

func TestMessagesAndSignals(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	other := addTestUser(t, db, "bob")

	m, err := db.InsertMessage(signal.Message{UserID: u.ID, Body: "so stressed", CreatedAt: base})
	if err != nil {
		t.Fatal(err)
	}
	if m.Source != signal.SourceChat {
		t.Errorf("expected default chat source, got %s", m.Source)
	}
	if _, err := db.InsertMessage(signal.Message{UserID: other.ID, Body: "hi", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertMessage(signal.Message{UserID: u.ID, Body: " "}); err == nil {
		t.Error("expected empty body to fail")
	}

	pending, _ := db.GetUnextractedMessages(u.ID)
	if len(pending) != 1 || pending[0].ID != m.ID {
		t.Fatalf("expected one pending message, got %+v", pending)
	}
	all, _ := db.GetUnextractedMessages("")
	if len(all) != 2 {
		t.Errorf("expected 2 pending messages across users, got %d", len(all))
	}

	sigs := []signal.Signal{
		{MessageID: m.ID, Type: signal.Type("stress"), Intensity: 4, Confidence: 0.9, Source: signal.SourceChat, CreatedAt: base},
		{MessageID: m.ID, Type: signal.Type("fatigue"), Intensity: 2, Confidence: 0.5, Source: signal.SourceChat, CreatedAt: base},
	}
	if err := db.UpsertSignals(u.ID, sigs); err != nil {
		t.Fatal(err)
	}
	// Re-extraction overwrites instead of duplicating.
	sigs[0].Intensity = 5
	if err := db.UpsertSignals(u.ID, sigs); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkMessageExtracted(m.ID); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetSignalsSince(u.ID, base.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 signals after re-upsert, got %d", len(got))
	}
	for _, s := range got {
		if s.Type == "stress" && s.Intensity != 5 {
			t.Errorf("expected upserted intensity 5, got %d", s.Intensity)
		}
	}

	pending, _ = db.GetUnextractedMessages(u.ID)
	if len(pending) != 0 {
		t.Errorf("expected no pending messages, got %d", len(pending))
	}
	n, _ := db.CountPendingMessages(other.ID)
	if n != 1 {
		t.Errorf("expected 1 pending message for bob, got %d", n)
	}
}

func TestUpsertSignalsRejectsUnknownType(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	m, _ := db.InsertMessage(signal.Message{UserID: u.ID, Body: "x", CreatedAt: base})

	err := db.UpsertSignals(u.ID, []signal.Signal{
		{MessageID: m.ID, Type: "stress", Intensity: 3, Confidence: 0.8, Source: signal.SourceChat, CreatedAt: base},
		{MessageID: m.ID, Type: "hunger", Intensity: 3, Confidence: 0.8, Source: signal.SourceChat, CreatedAt: base},
	})
	if !errors.Is(err, signal.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	got, _ := db.GetSignalsSince(u.ID, base.Add(-time.Hour))
	if len(got) != 0 {
		t.Errorf("expected the batch to roll back, got %d signals", len(got))
	}
}

func TestInsightStateUpsert(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")

	missing, err := db.GetInsightState(u.ID)
	if err != nil || missing != nil {
		t.Fatalf("expected nil state, got %+v, %v", missing, err)
	}

	first := insight.State{
		UserID: u.ID, TopInterest: "Coding", ProductivityScore: 42.5,
		EntertainmentRatio: 0.25, CurrentTrend: insight.Rising,
		LastReflection: "Nice week.", UpdatedAt: base,
	}
	if err := db.UpsertInsightState(first); err != nil {
		t.Fatal(err)
	}
	second := insight.State{
		UserID: u.ID, TopInterest: "General", CurrentTrend: insight.Stable, UpdatedAt: base.Add(time.Hour),
	}
	if err := db.UpsertInsightState(second); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetInsightState(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Full-row replace: the earlier reflection must not linger.
	if diff := cmp.Diff(second, *got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")

	empty, err := db.GetSnapshot(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !empty.IsEmpty() {
		t.Errorf("expected empty snapshot, got %+v", empty)
	}

	snap := behaviormap.Snapshot{
		Nodes: []behaviormap.NodeSummary{
			{NodeKey: "mood", Label: "Mood", Strength: 62, Occurrences: 4},
			{NodeKey: "signal:stress", Label: "Stress", Strength: 76.9, Occurrences: 3},
		},
		Edges: []behaviormap.EdgeSummary{
			{FromNodeKey: "signal:stress", ToNodeKey: "mood", Weight: 55},
		},
	}
	if err := db.SaveSnapshot(u.ID, snap, behaviormap.ChangeInitialized, base); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetSnapshot(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	if err := db.SaveSnapshot(u.ID, behaviormap.Snapshot{}, behaviormap.ChangeStable, base); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetSnapshot(u.ID)
	if !got.IsEmpty() {
		t.Errorf("expected replaced empty snapshot, got %+v", got)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	db.InsertCheckIn(behaviormap.CheckIn{UserID: u.ID, Percentage: 50})
	db.InsertMessage(signal.Message{UserID: u.ID, Body: "hello"})

	stats, err := db.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Users != 1 || stats.CheckIns != 1 || stats.Messages != 1 || stats.PendingMessages != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Signals != 0 || stats.Snapshots != 0 {
		t.Errorf("expected no signals or snapshots, got %+v", stats)
	}
}

func TestCascadeOnUserDelete(t *testing.T) {
	db := openTestDB(t)
	u := addTestUser(t, db, "ada")
	db.InsertCheckIn(behaviormap.CheckIn{UserID: u.ID, Percentage: 50})

	if _, err := db.conn.Exec("DELETE FROM users WHERE id = ?", u.ID); err != nil {
		t.Fatal(err)
	}
	stats, _ := db.GetStats()
	if stats.CheckIns != 0 {
		t.Errorf("expected check-ins to cascade, got %d", stats.CheckIns)
	}
}
