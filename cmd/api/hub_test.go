package main

import (
	"errors"
	"sync"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

type fakeSender struct {
	mu   sync.Mutex
	last *structpb.Struct
	n    int
	fail bool
}

func (f *fakeSender) Send(r *structpb.Struct) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = r
	f.n++
	return nil
}

func (f *fakeSender) lastID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return ""
	}
	return f.last.GetFields()["id"].GetStringValue()
}

func event(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"id": structpb.NewStringValue(id)}}
}

func TestConnectionHub_RegisterAndSend(t *testing.T) {
	hub := NewConnectionHub()

	senderA := &fakeSender{}
	senderB := &fakeSender{}

	idA := hub.Register("Alice", senderA)
	_ = hub.Register("alice", senderB) // second device
	if n := hub.Connected("ALICE"); n != 2 {
		t.Fatalf("expected 2 connections, got %d", n)
	}

	if err := hub.SendToUser("alice", event("m1")); err != nil {
		t.Fatalf("expected send success, got error: %v", err)
	}
	if senderA.lastID() != "m1" || senderB.lastID() != "m1" {
		t.Fatalf("both devices should receive the event")
	}

	hub.Unregister("alice", idA)
	if err := hub.SendToUser("alice", event("m2")); err != nil {
		t.Fatalf("expected send success after unregistering one connection: %v", err)
	}
	if senderA.lastID() == "m2" {
		t.Fatalf("sender A should not have received second event after unregister")
	}
}

func TestConnectionHub_SendToOffline(t *testing.T) {
	hub := NewConnectionHub()
	if err := hub.SendToUser("nobody", event("x")); err == nil {
		t.Fatalf("expected error when sending to offline user")
	}
}

func TestConnectionHub_SendPartialFailure(t *testing.T) {
	hub := NewConnectionHub()

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}
	_ = hub.Register("d", ok)
	_ = hub.Register("d", bad)

	if err := hub.SendToUser("d", event("x")); err == nil {
		t.Fatalf("expected error due to partial sender failure")
	}

	// the failing stream was dropped
	if n := hub.Connected("d"); n != 1 {
		t.Fatalf("expected failed stream to be unregistered, %d left", n)
	}
	if err := hub.SendToUser("d", event("y")); err != nil {
		t.Fatalf("expected send to succeed after cleanup of failed connections: %v", err)
	}
	if ok.lastID() != "y" {
		t.Fatalf("healthy sender did not receive event after cleanup")
	}
}

func TestConnectionHub_ConcurrentSends(t *testing.T) {
	hub := NewConnectionHub()
	s := &fakeSender{}
	hub.Register("olle", s)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.SendToUser("olle", event("z"))
		}()
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n != 50 {
		t.Fatalf("expected 50 deliveries, got %d", s.n)
	}
}
