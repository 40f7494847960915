package audit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/hpcops/tenantgate/pkg/types"
)

func TestRingRecent(t *testing.T) {
	r := NewRing(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		r.Record(types.AuditEvent{ID: id})
	}
	got := r.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].ID != "d" || got[2].ID != "b" {
		t.Fatalf("expected newest first (d..b), got %s..%s", got[0].ID, got[2].ID)
	}
	if one := r.Recent(1); len(one) != 1 || one[0].ID != "d" {
		t.Fatalf("limit 1 should return only the newest, got %+v", one)
	}
}

func TestPublishStampsEvent(t *testing.T) {
	ring := NewRing(8)
	SetGlobal(ring)
	defer SetGlobal(noopSink{})
	Publish(types.AuditEvent{Intent: "create_group", Group: "physics", Success: true})
	evs := ring.Recent(0)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].TS.IsZero() {
		t.Fatalf("expected ID and TS to be stamped: %+v", evs[0])
	}
}

func TestRedisBufferFlush(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	os.Setenv("REDIS_ADDR", mr.Addr())
	defer os.Unsetenv("REDIS_ADDR")

	mux := http.NewServeMux()
	got := 0
	mux.HandleFunc("/sync/audit", func(w http.ResponseWriter, r *http.Request) {
		got++
		_, _ = io.ReadAll(r.Body)
		w.WriteHeader(204)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	os.Setenv("AUDIT_COLLECTOR_URL", srv.URL)
	defer os.Unsetenv("AUDIT_COLLECTOR_URL")

	b := NewRedisBuffer()
	b.Record(types.AuditEvent{ID: "1", Intent: "add_members"})
	b.Record(types.AuditEvent{ID: "2", Intent: "remove_member"})
	b.tick = 100 * time.Millisecond
	b.max = 10
	b.Run()
	defer b.Stop()
	time.Sleep(300 * time.Millisecond)
	if got < 1 {
		t.Fatalf("expected flush to happen, got=%d", got)
	}
}

func TestRedisBufferNoopWithoutAddr(t *testing.T) {
	os.Unsetenv("REDIS_ADDR")
	b := NewRedisBuffer()
	if !b.noop {
		t.Fatalf("expected noop buffer without REDIS_ADDR")
	}
	// must not panic
	b.Record(types.AuditEvent{ID: "x"})
	b.Run()
}
