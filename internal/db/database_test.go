package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "inkroom-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestDatabaseCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if db == nil {
		t.Fatal("Database should not be nil")
	}
}

func TestRoomOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := db.CreateRoom("test-room", "Test Room", "alice")
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	room, err := db.GetRoom("test-room")
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	if room == nil {
		t.Fatal("Room should exist")
	}
	if room.ID != "test-room" {
		t.Errorf("Expected room ID 'test-room', got '%s'", room.ID)
	}
	if room.Name != "Test Room" {
		t.Errorf("Expected room name 'Test Room', got '%s'", room.Name)
	}
	if room.CreatorID != "alice" {
		t.Errorf("Expected creator 'alice', got '%s'", room.CreatorID)
	}

	room, err = db.GetRoom("non-existent")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if room != nil {
		t.Error("Non-existent room should return nil")
	}

	if err := db.UpdateRoomTimestamp("test-room"); err != nil {
		t.Fatalf("Failed to touch room: %v", err)
	}

	err = db.DeleteRoom("test-room")
	if err != nil {
		t.Fatalf("Failed to delete room: %v", err)
	}

	room, err = db.GetRoom("test-room")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if room != nil {
		t.Error("Deleted room should not exist")
	}
}

func TestCreatorIsNotReassigned(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("r", "", "alice"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}

	err := db.CreateRoom("r", "", "mallory")
	if !errors.Is(err, ErrRoomExists) {
		t.Errorf("Expected ErrRoomExists, got %v", err)
	}

	room, _ := db.GetRoom("r")
	if room.CreatorID != "alice" {
		t.Errorf("Expected creator to stay 'alice', got '%s'", room.CreatorID)
	}
}

func TestListRooms(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		err := db.CreateRoom("room-"+string(rune('a'+i)), "Room "+string(rune('A'+i)), "creator")
		if err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}

	rooms, err := db.ListRooms(10, 0)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 5 {
		t.Errorf("Expected 5 rooms, got %d", len(rooms))
	}

	rooms, err = db.ListRooms(2, 0)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("Expected 2 rooms with limit, got %d", len(rooms))
	}

	rooms, err = db.ListRooms(2, 3)
	if err != nil {
		t.Fatalf("Failed to list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("Expected 2 rooms with offset, got %d", len(rooms))
	}
}

func TestExports(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	exports := []Export{
		{ID: "e1", RoomID: "room-a", Format: "png", StorageKey: "exports/room-a/e1.png", Size: 10},
		{ID: "e2", RoomID: "room-a", Format: "pdf", StorageKey: "exports/room-a/e2.pdf", Size: 20},
		{ID: "e3", RoomID: "room-b", Format: "png", StorageKey: "exports/room-b/e3.png", Size: 30},
	}
	for _, e := range exports {
		if err := db.CreateExport(e); err != nil {
			t.Fatalf("Failed to create export: %v", err)
		}
	}

	got, err := db.GetExport("e2")
	if err != nil {
		t.Fatalf("Failed to get export: %v", err)
	}
	if got == nil || got.StorageKey != "exports/room-a/e2.pdf" || got.Size != 20 {
		t.Errorf("Unexpected export %+v", got)
	}

	missing, err := db.GetExport("nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for missing export, got %v, %v", missing, err)
	}

	list, err := db.ListExports("room-a", 10, 0)
	if err != nil {
		t.Fatalf("Failed to list exports: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 exports for room-a, got %d", len(list))
	}
	// Newest first
	if len(list) == 2 && list[0].ID != "e2" {
		t.Errorf("Expected e2 first, got %s", list[0].ID)
	}

	all, _ := db.ListExports("", 10, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 exports overall, got %d", len(all))
	}

	if err := db.DeleteExport("e1"); err != nil {
		t.Fatalf("Failed to delete export: %v", err)
	}
	list, _ = db.ListExports("room-a", 10, 0)
	if len(list) != 1 {
		t.Errorf("Expected 1 export after delete, got %d", len(list))
	}
}

func TestStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		if err := db.CreateRoom("stats-room-"+string(rune('a'+i)), "", "c"); err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		e := Export{ID: string(rune('a' + i)), RoomID: "stats-room-a", Format: "png", StorageKey: "k"}
		if err := db.CreateExport(e); err != nil {
			t.Fatalf("Failed to save export: %v", err)
		}
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats["room_count"].(int) != 3 {
		t.Errorf("Expected 3 rooms, got %v", stats["room_count"])
	}
	if stats["export_count"].(int) != 5 {
		t.Errorf("Expected 5 exports, got %v", stats["export_count"])
	}
}
