package opsapi_test

import (
	"context"
	"testing"

	"github.com/icij/taskworker/domain"
	"github.com/icij/taskworker/opsapi"
)

func TestNewHub_NotNil(t *testing.T) {
	if opsapi.NewHub() == nil {
		t.Fatal("expected non-nil Hub")
	}
}

func TestBroadcast_NoClients_DoesNotPanic(t *testing.T) {
	hub := opsapi.NewHub()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Broadcast panicked with no clients: %v", r)
		}
	}()
	hub.Broadcast(context.Background(), opsapi.Event{Type: opsapi.TaskStatusChanged, Payload: nil})
}

func TestBroadcast_CancelledContext_DoesNotPanic(t *testing.T) {
	hub := opsapi.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Broadcast panicked with cancelled context: %v", r)
		}
	}()
	hub.Broadcast(ctx, opsapi.Event{Type: opsapi.TaskStatusChanged, Payload: nil})
}

func TestNotifyTaskStatus_NoClients_DoesNotPanic(t *testing.T) {
	hub := opsapi.NewHub()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("NotifyTaskStatus panicked with no clients: %v", r)
		}
	}()
	hub.NotifyTaskStatus(context.Background(), &domain.Task{ID: "t1", Project: "p1", Status: domain.TaskDone})
}
