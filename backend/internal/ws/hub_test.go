package ws

import (
	"fmt"
	"slices"
	"sync"
	"testing"
)

func TestHubJoinLeaveIdempotent(t *testing.T) {
	h := NewHub()
	a := &Session{id: "a", userID: "alice"}
	b := &Session{id: "b", userID: "bob"}

	h.Join(a, "5")
	h.Join(a, "5")
	h.Join(b, "5")
	h.Join(a, "7")
	if got := len(h.Members("5")); got != 2 {
		t.Fatalf("expected 2 members in room 5, got %d", got)
	}

	rooms := h.Rooms(a)
	slices.Sort(rooms)
	if !slices.Equal(rooms, []string{"5", "7"}) {
		t.Fatalf("unexpected rooms for a: %v", rooms)
	}

	h.Leave(a, "5")
	h.Leave(a, "5")
	h.Leave(a, "9")
	members := h.Members("5")
	if len(members) != 1 || members[0] != b {
		t.Fatalf("expected only b in room 5, got %v", members)
	}
	if !h.HasUser("5", "bob") || h.HasUser("5", "alice") {
		t.Fatalf("HasUser mismatch")
	}
}

func TestHubRemove(t *testing.T) {
	h := NewHub()
	a := &Session{id: "a"}
	h.Join(a, "1")
	h.Join(a, "2")

	removed := h.Remove(a)
	slices.Sort(removed)
	if !slices.Equal(removed, []string{"1", "2"}) {
		t.Fatalf("unexpected removed rooms %v", removed)
	}
	if len(h.Members("1")) != 0 || len(h.Members("2")) != 0 || len(h.Rooms(a)) != 0 {
		t.Fatalf("session still referenced after remove")
	}
	if len(h.rooms) != 0 || len(h.sessions) != 0 {
		t.Fatalf("empty entries left behind: rooms=%d sessions=%d", len(h.rooms), len(h.sessions))
	}
	if got := h.Remove(a); len(got) != 0 {
		t.Fatalf("second remove should be a no-op, got %v", got)
	}
}

func TestHubConcurrent(t *testing.T) {
	h := NewHub()
	const n = 50
	sessions := make([]*Session, n)
	for i := range sessions {
		sessions[i] = &Session{id: fmt.Sprint(i)}
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				room := fmt.Sprint(j % 3)
				h.Join(s, room)
				_ = h.Members(room)
				if i%2 == 0 {
					h.Leave(s, room)
				}
			}
		}(i, s)
	}
	wg.Wait()

	for room := 0; room < 3; room++ {
		if got := len(h.Members(fmt.Sprint(room))); got != n/2 {
			t.Fatalf("room %d: expected %d members, got %d", room, n/2, got)
		}
	}
	for _, s := range sessions {
		h.Remove(s)
	}
	if len(h.rooms) != 0 || len(h.sessions) != 0 {
		t.Fatalf("hub not empty after removing everyone")
	}
}

func TestHubRejectsClosedSession(t *testing.T) {
	h := NewHub()
	s := newSession(newFakeConn(), h, nil, nil, nil, Options{})
	s.Close()
	if h.Join(s, "5") {
		t.Fatalf("closed session should not join")
	}
	if len(h.Members("5")) != 0 {
		t.Fatalf("closed session is a member")
	}
}

func TestHubJoinRacingClose(t *testing.T) {
	h := NewHub()
	for i := 0; i < 200; i++ {
		s := newSession(newFakeConn(), h, nil, nil, nil, Options{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Close()
		}()
		go func() {
			defer wg.Done()
			h.Join(s, "5")
		}()
		wg.Wait()
		if n := len(h.Members("5")); n != 0 {
			t.Fatalf("round %d: closed session left in room (%d members)", i, n)
		}
	}
}
