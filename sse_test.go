package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bodul/buzzbingo/internal/game"
)

func TestBroadcasterRegisterUnregister(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())

	c1 := b.Register("session1")
	c2 := b.Register("session1")
	c3 := b.Register("session2")

	if b.ClientCount("session1") != 2 {
		t.Fatalf("expected 2 clients for session1, got %d", b.ClientCount("session1"))
	}
	if b.ClientCount("session2") != 1 {
		t.Fatalf("expected 1 client for session2, got %d", b.ClientCount("session2"))
	}

	b.Unregister(c1)
	if b.ClientCount("session1") != 1 {
		t.Fatalf("expected 1 client for session1 after unregister, got %d", b.ClientCount("session1"))
	}

	b.Unregister(c2)
	b.Unregister(c3)
	if b.ClientCount("session1") != 0 || b.ClientCount("session2") != 0 {
		t.Fatal("expected 0 clients after full unregister")
	}
}

func TestBroadcasterDoubleUnregister(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())
	c := b.Register("session1")
	b.Unregister(c)
	b.Unregister(c) // should not panic
}

func TestBroadcast(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())

	c1 := b.Register("session1")
	c2 := b.Register("session1")
	c3 := b.Register("session2")

	b.Broadcast("session1", "hello")

	select {
	case msg := <-c1.ch:
		if msg != "hello" {
			t.Fatalf("c1 expected 'hello', got %q", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("c1 did not receive message")
	}

	select {
	case msg := <-c2.ch:
		if msg != "hello" {
			t.Fatalf("c2 expected 'hello', got %q", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("c2 did not receive message")
	}

	// c3 is on session2, should not receive.
	select {
	case <-c3.ch:
		t.Fatal("c3 should not receive session1 message")
	case <-time.After(50 * time.Millisecond):
		// ok
	}

	b.Unregister(c1)
	b.Unregister(c2)
	b.Unregister(c3)
}

func TestBroadcastSkipsFullChannel(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())
	c := b.Register("session1")

	// Fill the channel.
	for range sseChannelBuffer {
		b.Broadcast("session1", "fill")
	}

	// This should not block.
	b.Broadcast("session1", "overflow")

	b.Unregister(c)
}

func TestBroadcasterConcurrent(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessionID := "session1"
			if i%2 == 0 {
				sessionID = "session2"
			}
			c := b.Register(sessionID)
			b.Broadcast(sessionID, "msg")
			b.ClientCount(sessionID)
			b.Unregister(c)
		}(i)
	}
	wg.Wait()

	if b.ClientCount("session1") != 0 || b.ClientCount("session2") != 0 {
		t.Fatal("expected 0 clients after concurrent test")
	}
}

func TestNotifyEncodesEvent(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())
	c := b.Register("session1")
	defer b.Unregister(c)

	b.Notify("session1", game.Event{Type: game.EventStatus, Data: game.Status{Level: game.LevelSuccess, Message: "hi"}})

	select {
	case msg := <-c.ch:
		var ev struct {
			Type string      `json:"type"`
			Data game.Status `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg), &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != game.EventStatus || ev.Data.Message != "hi" || ev.Data.Level != "success" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("event not delivered")
	}
}

func TestCloseSessionDisconnectsClients(t *testing.T) {
	b := NewBroadcaster(nil, discardLogger())
	c1 := b.Register("session1")
	c2 := b.Register("session2")

	b.CloseSession("session1")
	if _, ok := <-c1.ch; ok {
		t.Fatal("c1 channel should be closed")
	}
	if b.ClientCount("session1") != 0 || b.ClientCount("session2") != 1 {
		t.Fatal("only session1 clients should be removed")
	}

	b.Unregister(c1) // already gone, must not panic
	b.Unregister(c2)
}
