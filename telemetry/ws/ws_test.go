package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/homeems/core/domain"
)

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub(nil)
	c := &Client{hub: h, send: make(chan []byte, sendBuffer)}

	h.register(c)
	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", h.ClientCount())
	}

	h.unregister(c)
	if h.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d, want 0", h.ClientCount())
	}
}

func TestHub_PublishSnapshot_DeliversToAllClients(t *testing.T) {
	h := NewHub(nil)
	c1 := &Client{hub: h, send: make(chan []byte, sendBuffer)}
	c2 := &Client{hub: h, send: make(chan []byte, sendBuffer)}
	h.register(c1)
	h.register(c2)

	snap := domain.PowerSnapshot{PVKW: 2, HouseKW: 1, Timestamp: time.Now()}
	h.PublishSnapshot(snap)

	for i, c := range []*Client{c1, c2} {
		select {
		case raw := <-c.send:
			var env message
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("client %d: unmarshal: %v", i, err)
			}
			if env.Kind != "snapshot" || env.Snapshot == nil || env.Snapshot.PVKW != 2 {
				t.Errorf("client %d envelope = %+v, want snapshot with PVKW=2", i, env)
			}
		default:
			t.Fatalf("client %d received nothing", i)
		}
	}
}

func TestHub_Broadcast_DropsOnFullClientBuffer(t *testing.T) {
	h := NewHub(nil)
	c := &Client{hub: h, send: make(chan []byte, 1)}
	h.register(c)

	c.send <- []byte("fills the one slot")
	h.PublishSnapshot(domain.PowerSnapshot{}) // must not block despite the full buffer

	if len(c.send) != 1 {
		t.Errorf("len(c.send) = %d, want 1 (new message dropped, not queued)", len(c.send))
	}
}

func TestHub_PublishSchedule_Envelope(t *testing.T) {
	h := NewHub(nil)
	c := &Client{hub: h, send: make(chan []byte, sendBuffer)}
	h.register(c)

	h.PublishSchedule(domain.Schedule{})
	select {
	case raw := <-c.send:
		var env message
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Kind != "schedule" {
			t.Errorf("Kind = %q, want schedule", env.Kind)
		}
	default:
		t.Fatal("expected a queued schedule message")
	}
}
