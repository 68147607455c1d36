// Package bridge implements the control-plane side of the Local-Pod Bridge
// (SPEC_FULL.md §4.7.1): a registry of online laptop agents, each holding
// one long-lived bidirectional gRPC stream, and a call() primitive that
// issues a single request over that stream and waits for its reply.
//
// The wire shape is pkg/rpc's JSON Envelope rather than a protoc-generated
// message, so the bridge protocol needs no separate code-generation step
// from the cluster-management RPCs in pkg/api.
package bridge

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fleetd/pkg/errs"
	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/rpc"
)

// DefaultCallTimeout matches the Local-Pod RPC default from SPEC_FULL.md §5.
const DefaultCallTimeout = 30 * time.Second

// helloEvent is the EventData payload of the first message a pod sends.
type helloEvent struct {
	PodID  string `json:"pod_id"`
	UserID string `json:"user_id"`
}

type podConn struct {
	podID  string
	userID string
	stream rpc.BridgeService_ChannelServer

	mu      sync.Mutex
	pending map[string]chan *rpc.Envelope
}

func newPodConn(podID, userID string, stream rpc.BridgeService_ChannelServer) *podConn {
	return &podConn{
		podID:   podID,
		userID:  userID,
		stream:  stream,
		pending: make(map[string]chan *rpc.Envelope),
	}
}

func (c *podConn) await(id string) chan *rpc.Envelope {
	ch := make(chan *rpc.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *podConn) cancelAwait(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *podConn) deliver(env *rpc.Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

// Bridge tracks connected pods and relays call()s over their streams.
type Bridge struct {
	broker *events.Broker

	mu   sync.RWMutex
	pods map[string]*podConn
}

// NewBridge builds a Bridge that republishes pod-originated events (mainly
// conversation_sync) onto broker.
func NewBridge(broker *events.Broker) *Bridge {
	return &Bridge{
		broker: broker,
		pods:   make(map[string]*podConn),
	}
}

// Channel implements rpc.BridgeServer. It is registered against a *grpc.Server
// via rpc.BridgeServiceDesc; one goroutine per connected pod runs this for
// the lifetime of the stream.
func (b *Bridge) Channel(stream rpc.BridgeService_ChannelServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	if first.Kind != rpc.KindEvent || first.EventType != "hello" {
		return errs.New(errs.Internal, "bridge: expected hello as first message")
	}
	var hello helloEvent
	if err := json.Unmarshal(first.EventData, &hello); err != nil || hello.PodID == "" {
		return errs.Wrap(errs.Internal, "bridge: malformed hello", err)
	}

	conn := newPodConn(hello.PodID, hello.UserID, stream)
	b.register(conn)
	metrics.BridgeConnectedPods.Inc()
	defer func() {
		b.unregister(hello.PodID)
		metrics.BridgeConnectedPods.Dec()
	}()

	logger := log.WithComponent("bridge")
	logger.Info().Str("pod_id", hello.PodID).Msg("local pod connected")

	for {
		env, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch env.Kind {
		case rpc.KindResponse:
			conn.deliver(env)
		case rpc.KindEvent:
			b.handlePodEvent(hello.PodID, env)
		}
	}
}

func (b *Bridge) register(conn *podConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pods[conn.podID] = conn
}

func (b *Bridge) unregister(podID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pods, podID)
	log.WithComponent("bridge").Info().Str("pod_id", podID).Msg("local pod disconnected")
}

func (b *Bridge) handlePodEvent(podID string, env *rpc.Envelope) {
	if b.broker == nil {
		return
	}
	metadata := map[string]string{"pod_id": podID}
	if len(env.EventData) > 0 {
		var fields map[string]string
		if err := json.Unmarshal(env.EventData, &fields); err == nil {
			for k, v := range fields {
				metadata[k] = v
			}
		} else {
			metadata["raw"] = string(env.EventData)
		}
	}
	b.broker.Publish(&events.Event{
		Type:     events.EventConversationSync,
		Message:  env.EventType,
		Metadata: metadata,
	})
}

// IsPodOnline reports whether podID currently holds an open channel.
func (b *Bridge) IsPodOnline(podID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.pods[podID]
	return ok
}

// Call issues a single request over podID's open channel and waits for its
// reply, failing with PodNotConnected or PodTimeout per SPEC_FULL.md §4.7.1.
func (b *Bridge) Call(ctx context.Context, podID, method string, params interface{}, timeout time.Duration) (result json.RawMessage, err error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	status := "ok"
	defer func() {
		metrics.BridgeCallsTotal.WithLabelValues(method, status).Inc()
	}()

	b.mu.RLock()
	conn, ok := b.pods[podID]
	b.mu.RUnlock()
	if !ok {
		status = "pod_not_connected"
		return nil, errs.New(errs.PodNotConnected, "local pod is not connected")
	}

	paramsJSON, marshalErr := json.Marshal(params)
	if marshalErr != nil {
		status = "error"
		return nil, errs.Wrap(errs.Internal, "encoding call params", marshalErr)
	}

	id := uuid.NewString()
	replyCh := conn.await(id)
	defer conn.cancelAwait(id)

	if sendErr := conn.stream.Send(&rpc.Envelope{
		Kind:   rpc.KindCall,
		ID:     id,
		Method: method,
		Params: paramsJSON,
	}); sendErr != nil {
		status = "pod_not_connected"
		return nil, errs.Wrap(errs.PodNotConnected, "sending call to pod", sendErr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-replyCh:
		if env.Error != "" {
			status = "error"
			return nil, errs.New(errs.Internal, env.Error)
		}
		return env.Result, nil
	case <-timer.C:
		status = "timeout"
		return nil, errs.New(errs.PodTimeout, "local pod did not respond in time")
	case <-ctx.Done():
		status = "cancelled"
		return nil, ctx.Err()
	}
}
