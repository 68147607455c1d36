package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"google.golang.org/grpc/metadata"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/rpc"
)

// fakeStream is a minimal rpc.BridgeService_ChannelServer backed by two
// channels, standing in for the grpc transport in unit tests.
type fakeStream struct {
	toServer   chan *rpc.Envelope
	fromServer chan *rpc.Envelope
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		toServer:   make(chan *rpc.Envelope, 10),
		fromServer: make(chan *rpc.Envelope, 10),
	}
}

func (f *fakeStream) Send(m *rpc.Envelope) error {
	f.fromServer <- m
	return nil
}

func (f *fakeStream) Recv() (*rpc.Envelope, error) {
	return <-f.toServer, nil
}

func (f *fakeStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeStream) SetTrailer(metadata.MD)       {}
func (f *fakeStream) Context() context.Context     { return context.Background() }
func (f *fakeStream) SendMsg(m interface{}) error  { return nil }
func (f *fakeStream) RecvMsg(m interface{}) error  { return nil }

func helloEnvelope(podID string) *rpc.Envelope {
	data, _ := json.Marshal(helloEvent{PodID: podID, UserID: "user-1"})
	return &rpc.Envelope{Kind: rpc.KindEvent, EventType: "hello", EventData: data}
}

func TestCall_RoundTrip(t *testing.T) {
	b := NewBridge(nil)
	stream := newFakeStream()
	stream.toServer <- helloEnvelope("pod-1")

	done := make(chan error, 1)
	go func() { done <- b.Channel(stream) }()

	// Wait for registration.
	for !b.IsPodOnline("pod-1") {
		time.Sleep(time.Millisecond)
	}

	go func() {
		call := <-stream.fromServer
		result, _ := json.Marshal(map[string]string{"ok": "yes"})
		stream.toServer <- &rpc.Envelope{Kind: rpc.KindResponse, ID: call.ID, Result: result}
	}()

	result, err := b.Call(context.Background(), "pod-1", "list_projects", nil, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if decoded["ok"] != "yes" {
		t.Errorf("unexpected result: %v", decoded)
	}
}

func TestCall_NotConnected(t *testing.T) {
	b := NewBridge(nil)
	_, err := b.Call(context.Background(), "pod-missing", "list_projects", nil, time.Second)
	if errs.KindOf(err) != errs.PodNotConnected {
		t.Errorf("expected PodNotConnected, got %v", err)
	}
}

func TestCall_Timeout(t *testing.T) {
	b := NewBridge(nil)
	stream := newFakeStream()
	stream.toServer <- helloEnvelope("pod-2")
	go b.Channel(stream)
	for !b.IsPodOnline("pod-2") {
		time.Sleep(time.Millisecond)
	}

	_, err := b.Call(context.Background(), "pod-2", "list_projects", nil, 20*time.Millisecond)
	if errs.KindOf(err) != errs.PodTimeout {
		t.Errorf("expected PodTimeout, got %v", err)
	}
}

func TestHandlePodEvent_PublishesConversationSync(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	b := NewBridge(broker)
	data, _ := json.Marshal(map[string]string{"conversation_id": "conv-1"})
	b.handlePodEvent("pod-1", &rpc.Envelope{Kind: rpc.KindEvent, EventType: "conversation_sync", EventData: data})

	select {
	case evt := <-sub:
		if evt.Type != events.EventConversationSync {
			t.Errorf("unexpected event type: %v", evt.Type)
		}
		if evt.Metadata["conversation_id"] != "conv-1" {
			t.Errorf("unexpected metadata: %v", evt.Metadata)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}
