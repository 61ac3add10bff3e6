package mesh

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// newTestRegistry returns a registry whose clock is controlled by the test.
func newTestRegistry(at *time.Time) *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return *at }
	return r
}

func TestRegistry_UpsertCreatesWithDefaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)

	rec := r.Upsert("!12345678", "", "", "")

	want := NodeRecord{
		NodeID:    "!12345678",
		ShortName: DefaultShortName,
		LongName:  DefaultLongName,
		HWModel:   DefaultHWModel,
		LastHeard: now.Unix(),
	}
	if rec != want {
		t.Errorf("Upsert() = %+v, want %+v", rec, want)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_UpsertOnlyOverwritesSuppliedFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)

	r.Upsert("!12345678", "ABC", "Alpha Base Camp", "TBEAM")
	rec := r.Upsert("!12345678", "", "Alpha Base", "")

	if rec.ShortName != "ABC" || rec.LongName != "Alpha Base" || rec.HWModel != "TBEAM" {
		t.Errorf("Upsert() = %+v, want short ABC, long Alpha Base, hw TBEAM", rec)
	}
}

func TestRegistry_UpsertIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)

	first := r.Upsert("!12345678", "ABC", "Alpha", "TBEAM")
	now = now.Add(30 * time.Second)
	second := r.Upsert("!12345678", "ABC", "Alpha", "TBEAM")

	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
	if second.LastHeard < first.LastHeard {
		t.Errorf("LastHeard moved backwards: %d -> %d", first.LastHeard, second.LastHeard)
	}
	second.LastHeard = first.LastHeard
	if first != second {
		t.Errorf("fields changed: %+v -> %+v", first, second)
	}
}

func TestRegistry_LastHeardNeverMovesBackwards(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)

	r.Upsert("!12345678", "ABC", "", "")

	// Device reports an older last-heard time; clock goes backwards.
	r.Apply(NodeUpdate{NodeID: "!12345678", LastHeard: now.Unix() - 600})
	now = now.Add(-time.Minute)
	rec := r.UpdateMetrics("!12345678", Metrics{BatteryLevel: 80})

	if rec.LastHeard != 1700000000 {
		t.Errorf("LastHeard = %d, want 1700000000", rec.LastHeard)
	}
}

func TestRegistry_UpdateHook(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)

	var got []NodeRecord
	r.SetUpdateHook(func(rec NodeRecord) {
		// The hook runs outside the lock, so reading the registry is safe.
		_ = r.Snapshot()
		got = append(got, rec)
	})

	r.Touch("!00000001")
	r.Upsert("!00000002", "TWO", "", "")
	r.UpdateMetrics("!00000002", Metrics{BatteryLevel: 50, Voltage: 3.9})
	r.Apply(NodeUpdate{NodeID: "!00000003", ShortName: "THR"})
	r.Refresh([]NodeUpdate{{NodeID: "!00000004"}})
	r.Load([]NodeRecord{{NodeID: "!00000005"}})

	if len(got) != 3 {
		t.Fatalf("hook called %d times, want 3", len(got))
	}
	if got[1].BatteryLevel != 50 || got[1].Voltage != 3.9 {
		t.Errorf("hook record = %+v, want metrics applied", got[1])
	}
}

func TestRegistry_ApplyMergesDeviceReport(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)
	r.Upsert("!12345678", "ABC", "Alpha", "TBEAM")
	r.UpdateMetrics("!12345678", Metrics{BatteryLevel: 90, Voltage: 4.1})

	snr := float32(6.5)
	rec := r.Apply(NodeUpdate{
		NodeID:    "!12345678",
		LongName:  "Alpha Base",
		LastHeard: now.Unix() + 10,
		SNR:       &snr,
	})

	if rec.ShortName != "ABC" || rec.LongName != "Alpha Base" {
		t.Errorf("identity = %q/%q, want ABC/Alpha Base", rec.ShortName, rec.LongName)
	}
	if rec.BatteryLevel != 90 || rec.Voltage != 4.1 {
		t.Errorf("metrics = %d/%v, want kept 90/4.1", rec.BatteryLevel, rec.Voltage)
	}
	if rec.SNR != 6.5 || rec.LastHeard != now.Unix()+10 {
		t.Errorf("snr/last heard = %v/%d", rec.SNR, rec.LastHeard)
	}
}

func TestRegistry_LoadKeepsLiveData(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := newTestRegistry(&now)
	r.Upsert("!00000001", "LIVE", "", "")

	r.Load([]NodeRecord{
		{NodeID: "!00000001", ShortName: "OLD", LastHeard: now.Unix() + 5},
		{NodeID: "!00000002", ShortName: "STORED", LongName: "Stored", HWModel: "RAK4631", LastHeard: 1600000000},
		{NodeID: ""},
	})

	one, _ := r.Get("!00000001")
	if one.ShortName != "LIVE" || one.LastHeard != now.Unix()+5 {
		t.Errorf("live record = %+v", one)
	}
	two, ok := r.Get("!00000002")
	if !ok || two.ShortName != "STORED" || two.HWModel != "RAK4631" {
		t.Errorf("stored record = %+v, %v", two, ok)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistry_SnapshotInsertionOrder(t *testing.T) {
	r := NewRegistry()
	ids := []string{"!0000000c", "!0000000a", "!0000000b"}
	for _, id := range ids {
		r.Touch(id)
	}
	r.Upsert("!0000000a", "A", "", "")

	snap := r.Snapshot()
	if len(snap) != len(ids) {
		t.Fatalf("Snapshot() len = %d, want %d", len(snap), len(ids))
	}
	for i, id := range ids {
		if snap[i].NodeID != id {
			t.Errorf("Snapshot()[%d] = %s, want %s", i, snap[i].NodeID, id)
		}
	}

	// Snapshots are copies.
	snap[0].ShortName = "MUTATED"
	if rec, _ := r.Get(ids[0]); rec.ShortName == "MUTATED" {
		t.Error("Snapshot() exposed internal record")
	}
}

func TestRegistry_ResolveDisplayName(t *testing.T) {
	r := NewRegistry()
	r.Upsert("!aaaa0001", "ABC", "Alpha", "")
	r.Upsert("!aaaa0002", "", "Bravo Station", "")
	r.Upsert("!aaaa0003", DefaultShortName, DefaultLongName, "TBEAM")
	r.Touch("!aaaa0004")

	tests := []struct {
		id   string
		want string
	}{
		{"!aaaa0001", "ABC"},
		{"!aaaa0002", "Bravo Station"},
		{"!aaaa0003", "Node-0003"},
		{"!aaaa0004", "Node-0004"},
		{"!1234abcd", "Node-ABCD"},
		{"!ffffffff", "Node-FFFF"},
		{"!12", "Node-12"},
		{"plain-id", "plain-id"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := r.ResolveDisplayName(tt.id)
			if got != tt.want {
				t.Errorf("ResolveDisplayName(%q) = %q, want %q", tt.id, got, tt.want)
			}
			if again := r.ResolveDisplayName(tt.id); again != got {
				t.Errorf("ResolveDisplayName(%q) not deterministic: %q then %q", tt.id, got, again)
			}
		})
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	r.SetUpdateHook(func(NodeRecord) {})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				id := fmt.Sprintf("!%08x", j%10)
				r.Upsert(id, "N", "", "")
				r.UpdateMetrics(id, Metrics{BatteryLevel: uint32(i)})
				_ = r.ResolveDisplayName(id)
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()

	if r.Len() != 10 {
		t.Errorf("Len() = %d, want 10", r.Len())
	}
}
