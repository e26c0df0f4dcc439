package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"strzcam.com/posture/classify"
	"strzcam.com/posture/clock"
	"strzcam.com/posture/pose"
	"strzcam.com/posture/session"
)

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := clock.LoadZone(clock.DefaultZone)
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestKeyerSameSecond(t *testing.T) {
	k := NewKeyer(jakarta(t))
	at := time.Date(2024, 5, 1, 2, 3, 4, 0, time.UTC)
	first := k.Key(at)
	second := k.Key(at.Add(300 * time.Millisecond))
	if first == second {
		t.Fatalf("keys collide: %s", first)
	}
	if !strings.HasPrefix(first, "2024-05-01 09:03:04_") {
		t.Errorf("key not in Jakarta civil time: %s", first)
	}
	if len(first) != len(KeyLayout)+7 {
		t.Errorf("unexpected key length: %q", first)
	}
}

func TestKeyerConcurrentUnique(t *testing.T) {
	k := NewKeyer(time.UTC)
	at := time.Now()
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := k.Key(at)
				mu.Lock()
				if seen[key] {
					t.Errorf("duplicate key %s", key)
				}
				seen[key] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

type failingKV struct {
	*MemoryKV
	failNamespace string
	calls         []string
}

func (f *failingKV) Put(ctx context.Context, namespace, key string, value any) error {
	f.calls = append(f.calls, namespace)
	if namespace == f.failNamespace {
		return errors.New("unreachable")
	}
	return f.MemoryKV.Put(ctx, namespace, key, value)
}

func sampleDiagnoses() (classify.Diagnosis, classify.Diagnosis, pose.FeatureVector) {
	spine := classify.Diagnosis{Domain: classify.Spine, Label: "Lurus"}
	sit := classify.Diagnosis{Domain: classify.Sit, Label: "Baik"}
	var v pose.FeatureVector
	v[0] = 0.25
	return spine, sit, v
}

func TestRecorderWritesThreeNamespaces(t *testing.T) {
	kv := NewMemoryKV()
	r := NewRecorder(kv, NewKeyer(time.UTC))
	spine, sit, v := sampleDiagnoses()
	if err := r.Record(context.Background(), "k1", spine, sit, v); err != nil {
		t.Fatal(err)
	}
	raw, ok := kv.Get(NamespaceSit, "k1")
	if !ok || string(raw) != `"Baik"` {
		t.Errorf("sit entry = %s", raw)
	}
	raw, ok = kv.Get(NamespaceCoord, "k1")
	if !ok {
		t.Fatal("coord entry missing")
	}
	var coords map[string]float64
	if err := json.Unmarshal(raw, &coords); err != nil {
		t.Fatal(err)
	}
	if len(coords) != pose.FeatureLen || coords["x0"] != 0.25 {
		t.Errorf("coord entry has %d columns, x0=%v", len(coords), coords["x0"])
	}
}

func TestRecorderAttemptsAllWrites(t *testing.T) {
	kv := &failingKV{MemoryKV: NewMemoryKV(), failNamespace: NamespaceSpine}
	r := NewRecorder(kv, NewKeyer(time.UTC))
	spine, sit, v := sampleDiagnoses()
	err := r.Record(context.Background(), "k1", spine, sit, v)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(kv.calls) != 3 {
		t.Errorf("expected 3 writes, got %v", kv.calls)
	}
	if kv.Len(NamespaceCoord) != 1 {
		t.Error("coord write skipped after spine failure")
	}
}

func TestSQLiteKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "posture.db")
	kv, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	ctx := context.Background()

	if err := kv.Put(ctx, NamespaceSit, "b", "Buruk"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(ctx, NamespaceSit, "a", "Baik"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(ctx, NamespaceSit, "a", "Buruk"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(ctx, NamespaceSpine, "a", "Lurus"); err != nil {
		t.Fatal(err)
	}

	records, err := kv.List(ctx, NamespaceSit)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Key != "a" || string(records[0].Value) != `"Buruk"` {
		t.Errorf("upsert did not replace value: %+v", records[0])
	}
}

func TestRecorderSessionsRoundTrip(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "posture.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	r := NewRecorder(kv, NewKeyer(time.UTC))
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s := session.Session{Start: start, End: start.Add(90 * time.Second), Duration: session.NewDuration(90 * time.Second)}
	if err := r.RecordSession(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	got, err := r.Sessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Duration.TotalSeconds != 90 || !got[0].Start.Equal(start) {
		t.Fatalf("unexpected sessions %+v", got)
	}
}

func TestOpen(t *testing.T) {
	kv, err := Open(context.Background(), Config{Kind: KindMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := kv.(*MemoryKV); !ok {
		t.Errorf("expected MemoryKV, got %T", kv)
	}
	if _, err := Open(context.Background(), Config{Kind: "redis"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := Open(context.Background(), Config{Kind: KindFirebase}); err == nil {
		t.Error("expected error for firebase without url")
	}
}
