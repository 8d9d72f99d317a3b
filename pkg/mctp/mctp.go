/*
 * Copyright 2024 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mctp carries management payloads between the Fabric Manager and
// the switch core over a TCP binding of MCTP. The core registers one handler
// per MCTP message type; the transport hands each inbound request to the
// matching handler as an Action and routes the produced response out on the
// transmit queue, or out on the completion queue when the handler fails
// before a response exists.
package mctp

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// MCTP message types (DSP0239), plus the emulator's vendor type.
const (
	TypeCXLFMAPI uint8 = 0x07
	TypeCXLCCI   uint8 = 0x08
	TypeCSE      uint8 = 0xC8
)

// MaxMsgSize bounds a single message payload.
const MaxMsgSize = 1 << 16

// numMsgs is the size of the message free pool.
const numMsgs = 16

// Msg is one MCTP message: addressing, the message type, and the payload.
// Msgs are pooled; Payload retains its full capacity and Len marks the
// valid prefix.
type Msg struct {
	Dst     uint8
	Src     uint8
	Tag     uint8
	Owner   uint8
	Type    uint8
	Len     int
	Payload []byte
}

// Reset clears a message for reuse without giving up its payload buffer.
func (m *Msg) Reset() {
	m.Dst, m.Src, m.Tag, m.Owner, m.Type, m.Len = 0, 0, 0, 0, 0, 0
}

// FillMsgHdr sets the addressing fields of a message.
func FillMsgHdr(m *Msg, dst uint8, src uint8, owner uint8, tag uint8) {
	m.Dst = dst
	m.Src = src
	m.Owner = owner
	m.Tag = tag
}

// Action is one request in flight: the inbound message, the response under
// construction, and the completion code reported when no response can be
// produced.
type Action struct {
	Req            *Msg
	Rsp            *Msg
	CompletionCode int
}

// Handler is the per-message-type callback registered by the core. A nil
// error means a response was produced and enqueued; a non-nil error means
// the action must be routed to the completion queue.
type Handler func(t *Transport, a *Action) error

// Transport owns the message pool, the transmit and completion queues, and
// the handler registrations. The TCP server side lives in transport.go.
type Transport struct {
	eid uint8

	mtx      sync.Mutex
	handlers map[uint8]Handler

	msgs chan *Msg
	tmq  chan *Action
	acq  chan *Action

	log *log.Entry
}

// New creates a transport with the given local endpoint ID.
func New(eid uint8) *Transport {
	t := &Transport{
		eid:      eid,
		handlers: map[uint8]Handler{},
		msgs:     make(chan *Msg, numMsgs),
		tmq:      make(chan *Action, numMsgs),
		acq:      make(chan *Action, numMsgs),
		log:      log.WithField("subsystem", "mctp"),
	}

	for i := 0; i < numMsgs; i++ {
		t.msgs <- &Msg{Payload: make([]byte, MaxMsgSize)}
	}

	return t
}

// EID returns the transport's local endpoint ID.
func (t *Transport) EID() uint8 { return t.eid }

// SetHandler registers the handler invoked for inbound requests of the
// given MCTP message type.
func (t *Transport) SetHandler(typ uint8, h Handler) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.handlers[typ] = h
}

func (t *Transport) handler(typ uint8) (Handler, bool) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	h, ok := t.handlers[typ]
	return h, ok
}

// GetMsg checks a message buffer out of the free pool, or returns nil when
// the pool is exhausted.
func (t *Transport) GetMsg() *Msg {
	select {
	case m := <-t.msgs:
		m.Reset()
		return m
	default:
		return nil
	}
}

// PutMsg returns a message buffer to the free pool.
func (t *Transport) PutMsg(m *Msg) {
	if m == nil {
		return
	}

	select {
	case t.msgs <- m:
	default:
		// Pool is full; the message was not pool-allocated. Drop it.
	}
}

// PushTransmit enqueues a completed action on the transmit queue.
func (t *Transport) PushTransmit(a *Action) {
	t.tmq <- a
}

// PushCompletion enqueues a failed action on the completion queue.
func (t *Transport) PushCompletion(a *Action) {
	t.acq <- a
}

// PopTransmit dequeues the next completed action; in-process harnesses use
// this in place of the TCP write loop.
func (t *Transport) PopTransmit() *Action {
	return <-t.tmq
}

// PopCompletion dequeues the next failed action.
func (t *Transport) PopCompletion() *Action {
	return <-t.acq
}

// Dispatch routes an inbound request to the handler registered for its
// message type. Requests of an unknown type fail with completion code 1.
func (t *Transport) Dispatch(a *Action) {
	h, ok := t.handler(a.Req.Type)
	if !ok {
		t.log.Warnf("No handler for MCTP message type 0x%02x", a.Req.Type)
		a.CompletionCode = 1
		t.PushCompletion(a)
		return
	}

	if err := h(t, a); err != nil {
		t.log.WithError(err).Warnf("Handler for MCTP message type 0x%02x failed", a.Req.Type)
		a.CompletionCode = 1
		t.PushCompletion(a)
	}
}
