package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/gorm"

	"whiteboard/backend/internal/shape"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func mustRoom(t *testing.T, rooms *RoomStore, slug string) *Room {
	t.Helper()
	r, err := rooms.CreateRoom(context.Background(), slug, "admin")
	if err != nil {
		t.Fatalf("create room %s: %v", slug, err)
	}
	return r
}

func envelopeJSON(t *testing.T, e shape.Envelope) string {
	t.Helper()
	b, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(b)
}

func TestAppendRequiresRoom(t *testing.T) {
	db := openTestDB(t)
	events := NewEventStore(db)
	_, err := events.Append(context.Background(), 42, "u1", `{"shape":{"type":"circle","left":1,"top":1,"radius":1}}`)
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestAppendAndFetchRecent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rooms := NewRoomStore(db)
	events := NewEventStore(db)
	r1 := mustRoom(t, rooms, "room-one")
	r2 := mustRoom(t, rooms, "room-two")

	var last uint64
	for i := 0; i < 5; i++ {
		room := r1.ID
		if i%2 == 1 {
			room = r2.ID
		}
		msg := envelopeJSON(t, shape.Envelope{Shape: shape.Circle{Left: float64(i * 10), Top: 0, Radius: 5}})
		id, err := events.Append(ctx, room, "u1", msg)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		// id 全局递增，跨房间也一样
		if id <= last {
			t.Fatalf("ids not increasing: %d after %d", id, last)
		}
		last = id
	}

	got, err := events.FetchRecent(ctx, r1.ID, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events in room one, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID <= got[i].ID {
			t.Fatalf("expected newest first, got %d before %d", got[i-1].ID, got[i].ID)
		}
	}

	got, err = events.FetchRecent(ctx, r1.ID, 2)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}

	got, err = events.FetchRecent(ctx, 999, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty history for unknown room, got %v %v", got, err)
	}
}

func TestDeleteMatching(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rooms := NewRoomStore(db)
	events := NewEventStore(db)
	room := mustRoom(t, rooms, "delete-room")

	rect := shape.Rect{Left: 10, Top: 10, Width: 50, Height: 20}
	first, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, shape.Envelope{Shape: rect}))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, shape.Envelope{Shape: rect}))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := events.Append(ctx, room.ID, "u1", "garbage"); err != nil {
		t.Fatalf("append garbage: %v", err)
	}

	target := shape.Envelope{Shape: rect, Action: shape.ActionDelete}
	id, err := events.DeleteMatching(ctx, room.ID, target)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if id != first {
		t.Fatalf("expected first match %d deleted, got %d", first, id)
	}
	id, err = events.DeleteMatching(ctx, room.ID, target)
	if err != nil || id != second {
		t.Fatalf("expected second match %d deleted, got %d %v", second, id, err)
	}
	if _, err := events.DeleteMatching(ctx, room.ID, target); !errors.Is(err, ErrDeleteNotFound) {
		t.Fatalf("expected ErrDeleteNotFound, got %v", err)
	}

	// 位置相同但尺寸不同不算删除目标
	if _, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, shape.Envelope{Shape: rect})); err != nil {
		t.Fatalf("append: %v", err)
	}
	other := shape.Envelope{Shape: shape.Rect{Left: 10, Top: 10, Width: 51, Height: 20}, Action: shape.ActionDelete}
	if _, err := events.DeleteMatching(ctx, room.ID, other); !errors.Is(err, ErrDeleteNotFound) {
		t.Fatalf("expected ErrDeleteNotFound for non-equal shape, got %v", err)
	}
}

func TestDeleteMatchingByID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rooms := NewRoomStore(db)
	events := NewEventStore(db)
	room := mustRoom(t, rooms, "id-room")

	created := shape.Envelope{Shape: shape.Rect{Left: 1, Top: 1, Width: 5, Height: 5}, ID: "shape-1"}
	want, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, created))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	// 图形被移动过，几何不同但 id 相同
	target := shape.Envelope{Shape: shape.Rect{Left: 80, Top: 80, Width: 5, Height: 5}, ID: "shape-1", Action: shape.ActionDelete}
	got, err := events.DeleteMatching(ctx, room.ID, target)
	if err != nil || got != want {
		t.Fatalf("expected %d deleted by id, got %d %v", want, got, err)
	}
}

func TestDeleteMatchingRemovesEveryRevision(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rooms := NewRoomStore(db)
	events := NewEventStore(db)
	room := mustRoom(t, rooms, "revision-room")

	created := shape.Envelope{Shape: shape.Rect{Left: 10, Top: 10, Width: 20, Height: 20}, ID: "rect-x"}
	moved := shape.Envelope{Shape: shape.Rect{Left: 50, Top: 50, Width: 20, Height: 20}, ID: "rect-x"}
	other := shape.Envelope{Shape: shape.Circle{Left: 5, Top: 5, Radius: 3}, ID: "circle-y"}
	first, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, created))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	for _, e := range []shape.Envelope{other, moved} {
		if _, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, e)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// 删除帧带的是移动后的几何
	target := moved
	target.Action = shape.ActionDelete
	id, err := events.DeleteMatching(ctx, room.ID, target)
	if err != nil || id != first {
		t.Fatalf("expected oldest revision %d reported, got %d %v", first, id, err)
	}
	left, err := events.FetchRecent(ctx, room.ID, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("expected only the circle to remain, got %d events", len(left))
	}
	env, err := shape.ParseEnvelope([]byte(left[0].Message))
	if err != nil || env.ID != "circle-y" {
		t.Fatalf("unexpected survivor %q %v", left[0].Message, err)
	}
	if _, err := events.DeleteMatching(ctx, room.ID, target); !errors.Is(err, ErrDeleteNotFound) {
		t.Fatalf("second erase: expected ErrDeleteNotFound, got %v", err)
	}
}

func TestDeleteMatchingIDFallsBackToEqual(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rooms := NewRoomStore(db)
	events := NewEventStore(db)
	room := mustRoom(t, rooms, "legacy-room")

	// 老客户端画的图形没有 id
	legacy := shape.Rect{Left: 1, Top: 2, Width: 3, Height: 4}
	want, err := events.Append(ctx, room.ID, "u1", envelopeJSON(t, shape.Envelope{Shape: legacy}))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	target := shape.Envelope{Shape: legacy, ID: "new-id", Action: shape.ActionDelete}
	got, err := events.DeleteMatching(ctx, room.ID, target)
	if err != nil || got != want {
		t.Fatalf("expected legacy event %d deleted, got %d %v", want, got, err)
	}
}

func TestRoomStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rooms := NewRoomStore(db)

	r, err := rooms.CreateRoom(ctx, "design-review", "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := rooms.CreateRoom(ctx, "design-review", "bob"); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}

	got, err := rooms.RoomBySlug(ctx, "design-review")
	if err != nil || got.ID != r.ID || got.AdminID != "alice" {
		t.Fatalf("unexpected room %+v %v", got, err)
	}
	if _, err := rooms.RoomBySlug(ctx, "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	mustRoom(t, rooms, "another")
	list, err := rooms.RoomsByAdmin(ctx, "alice")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one room for alice, got %v %v", list, err)
	}

	ok, err := rooms.Exists(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("expected room to exist: %v", err)
	}
	ok, err = rooms.Exists(ctx, r.ID+100)
	if err != nil || ok {
		t.Fatalf("expected room not to exist: %v", err)
	}
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	users := NewUserStore(db)

	u, err := users.CreateUser(ctx, "a@example.com", []byte("hash"), "A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(u.ID) != 36 {
		t.Fatalf("expected uuid id, got %q", u.ID)
	}
	if _, err := users.CreateUser(ctx, "a@example.com", []byte("hash"), "A2"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	got, err := users.UserByEmail(ctx, "a@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("unexpected user %+v %v", got, err)
	}
	if _, err := users.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
