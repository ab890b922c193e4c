package main

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/normalize"
)

// StreamSender defines the minimal interface the hub needs from a stream: the
// ability to push an event document to the connected client.
type StreamSender interface {
	Send(*structpb.Struct) error
}

// lockedSender serializes sends: a gRPC stream must not be written to from
// more than one goroutine at a time.
type lockedSender struct {
	mu sync.Mutex
	s  StreamSender
}

func (l *lockedSender) Send(m *structpb.Struct) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Send(m)
}

// ConnectionHub tracks the Watch streams of connected users. It maps handles
// to one or more active streams so an event reaches every device of a user.
type ConnectionHub struct {
	mu      sync.RWMutex
	streams map[string]map[int64]*lockedSender
	nextID  int64
}

// NewConnectionHub creates a new hub instance.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{streams: make(map[string]map[int64]*lockedSender)}
}

// Register adds a stream for handle and returns the id to unregister it with
// when the stream closes.
func (h *ConnectionHub) Register(handle string, s StreamSender) int64 {
	handle = normalize.Handle(handle)
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[handle]; !ok {
		h.streams[handle] = make(map[int64]*lockedSender)
	}
	h.nextID++
	id := h.nextID
	h.streams[handle][id] = &lockedSender{s: s}
	return id
}

// Unregister removes a previously registered stream.
func (h *ConnectionHub) Unregister(handle string, id int64) {
	handle = normalize.Handle(handle)
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.streams[handle]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.streams, handle)
		}
	}
}

// Connected reports how many streams handle has open.
func (h *ConnectionHub) Connected(handle string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[normalize.Handle(handle)])
}

// SendToUser pushes ev to every stream handle has open. Delivery is best
// effort: all streams are tried, the first error is returned and streams that
// failed are dropped from the hub.
func (h *ConnectionHub) SendToUser(handle string, ev *structpb.Struct) error {
	handle = normalize.Handle(handle)
	h.mu.RLock()
	conns := make(map[int64]*lockedSender, len(h.streams[handle]))
	for id, s := range h.streams[handle] {
		conns[id] = s
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s not connected", handle)
	}

	var firstErr error
	var failedIDs []int64
	for id, st := range conns {
		if err := st.Send(ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failedIDs = append(failedIDs, id)
		}
	}
	for _, id := range failedIDs {
		h.Unregister(handle, id)
	}
	return firstErr
}
