package relay

import (
	"fmt"
	"testing"

	"github.com/Imok282/glassmeet/internal/models"
)

func TestBroadcastReachesMembersExcludingSender(t *testing.T) {
	f := NewFabric()
	a := NewClient("a", nil)
	b := NewClient("b", nil)
	c := NewClient("c", nil)
	for _, client := range []*Client{a, b, c} {
		f.Register(client)
		f.Join(client, "lounge")
	}

	f.Broadcast("lounge", models.Envelope{Event: models.EventTyping, Sender: "a"}, "a")

	assertNoEnvelope(t, a)
	for _, client := range []*Client{b, c} {
		env := recvEnvelope(t, client)
		if env.Event != models.EventTyping {
			t.Errorf("client %s got %s, want typing", client.ID, env.Event)
		}
	}
}

func TestBroadcastPreservesPublishOrder(t *testing.T) {
	f := NewFabric()
	a := NewClient("a", nil)
	b := NewClient("b", nil)
	f.Register(a)
	f.Register(b)
	f.Join(a, "lounge")
	f.Join(b, "lounge")

	for i := 0; i < 5; i++ {
		f.Broadcast("lounge", models.Envelope{
			Event: models.EventSyncNote,
			Error: fmt.Sprintf("%d", i),
		}, "")
	}

	for i := 0; i < 5; i++ {
		env := recvEnvelope(t, b)
		if env.Error != fmt.Sprintf("%d", i) {
			t.Fatalf("envelope %d arrived out of order: %q", i, env.Error)
		}
	}
}

func TestBroadcastToUnknownRoomIsNoop(t *testing.T) {
	f := NewFabric()
	f.Broadcast("nowhere", models.Envelope{Event: models.EventTyping}, "")
}

func TestUnicastUnknownTargetIsSilent(t *testing.T) {
	f := NewFabric()
	a := NewClient("a", nil)
	f.Register(a)

	f.Unicast("ghost", models.Envelope{Event: models.EventOffer})

	assertNoEnvelope(t, a)
}

func TestLastLeaveRemovesRoom(t *testing.T) {
	f := NewFabric()
	a := NewClient("a", nil)
	b := NewClient("b", nil)
	f.Register(a)
	f.Register(b)
	f.Join(a, "lounge")
	f.Join(b, "lounge")

	f.Leave(a, "lounge")
	if got := f.MemberCount("lounge"); got != 1 {
		t.Fatalf("member count after first leave = %d, want 1", got)
	}

	f.Leave(b, "lounge")
	if got := f.MemberCount("lounge"); got != 0 {
		t.Fatalf("member count after last leave = %d, want 0", got)
	}

	// A fresh join recreates the room from scratch.
	f.Join(a, "lounge")
	if got := f.MemberCount("lounge"); got != 1 {
		t.Fatalf("member count after rejoin = %d, want 1", got)
	}
}

func TestUnregisterReturnsJoinedRooms(t *testing.T) {
	f := NewFabric()
	a := NewClient("a", nil)
	f.Register(a)
	f.Join(a, "one")
	f.Join(a, "two")

	rooms := f.Unregister(a)
	if len(rooms) != 2 {
		t.Fatalf("unregister returned %v, want both rooms", rooms)
	}
	seen := map[string]bool{}
	for _, name := range rooms {
		seen[name] = true
	}
	if !seen["one"] || !seen["two"] {
		t.Errorf("unregister returned %v, want one and two", rooms)
	}
	if f.MemberCount("one") != 0 || f.MemberCount("two") != 0 {
		t.Error("rooms still have members after unregister")
	}
}

func TestBroadcastAllIgnoresRoomMembership(t *testing.T) {
	f := NewFabric()
	inRoom := NewClient("in", nil)
	lobby := NewClient("lobby", nil)
	f.Register(inRoom)
	f.Register(lobby)
	f.Join(inRoom, "lounge")

	f.BroadcastAll(models.Envelope{Event: models.EventPresenceSnapshot})

	for _, client := range []*Client{inRoom, lobby} {
		env := recvEnvelope(t, client)
		if env.Event != models.EventPresenceSnapshot {
			t.Errorf("client %s got %s, want presence-snapshot", client.ID, env.Event)
		}
	}
}
