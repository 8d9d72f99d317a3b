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

package mctp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/sigurn/crc8"
	log "github.com/sirupsen/logrus"
)

// The TCP binding frames each MCTP message as
//
//	byte 0     0x01 (transport header version)
//	byte 1     destination EID
//	byte 2     source EID
//	byte 3     owner[3] | tag[2:0]
//	byte 4     message type
//	bytes 5-6  payload length, little endian
//	payload
//	last byte  PEC: CRC-8 over bytes 0 .. end of payload
//
// which mirrors the serial binding's packet error check byte.

const frameHdrLen = 7

const frameVersion = 0x01

var crcTable = crc8.MakeTable(crc8.CRC8)

// ErrBadFrame reports a malformed or corrupt inbound frame.
var ErrBadFrame = errors.New("mctp: bad frame")

// Serve accepts Fabric Manager connections until the context is canceled.
// Connections are served one at a time; per-connection ordering is handled
// here and is of no concern to the core.
func (t *Transport) Serve(ctx context.Context, address string, port uint16) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	t.log.Infof("Listening on %s:%d", address, port)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		t.serveConn(ctx, conn)
	}
}

// serveConn pumps one connection: a writer goroutine drains the transmit
// queue, a collector drains the completion queue, and the read loop
// dispatches requests on the caller's goroutine.
func (t *Transport) serveConn(ctx context.Context, conn net.Conn) {
	connID := uuid.New()
	connLog := t.log.WithFields(log.Fields{
		"connection": connID.String(),
		"remote":     conn.RemoteAddr().String(),
	})
	connLog.Info("Fabric Manager connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.writeLoop(connLog, connCtx, conn)
	}()

	go t.completionLoop(connLog, connCtx)

	t.readLoop(connLog, conn)

	cancel()
	<-done
	connLog.Info("Fabric Manager disconnected")
}

func (t *Transport) readLoop(connLog *log.Entry, conn net.Conn) {
	hdr := make([]byte, frameHdrLen)

	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				connLog.WithError(err).Debug("Read failed")
			}
			return
		}

		payloadLen := int(binary.LittleEndian.Uint16(hdr[5:7]))

		req := t.GetMsg()
		if req == nil || payloadLen > len(req.Payload) {
			// Drain the frame to keep the stream aligned, then drop it.
			t.PutMsg(req)
			if _, err := io.CopyN(io.Discard, conn, int64(payloadLen)+1); err != nil {
				return
			}
			connLog.Warn("Dropped inbound frame: no message buffer")
			continue
		}

		if _, err := io.ReadFull(conn, req.Payload[:payloadLen]); err != nil {
			t.PutMsg(req)
			return
		}

		pec := make([]byte, 1)
		if _, err := io.ReadFull(conn, pec); err != nil {
			t.PutMsg(req)
			return
		}

		crc := crc8.Init(crcTable)
		crc = crc8.Update(crc, hdr, crcTable)
		crc = crc8.Update(crc, req.Payload[:payloadLen], crcTable)
		if crc8.Complete(crc, crcTable) != pec[0] || hdr[0] != frameVersion {
			connLog.Warnf("Bad inbound frame: version 0x%02x pec 0x%02x", hdr[0], pec[0])
			t.PutMsg(req)
			continue
		}

		req.Dst = hdr[1]
		req.Src = hdr[2]
		req.Owner = (hdr[3] >> 3) & 0x1
		req.Tag = hdr[3] & 0x7
		req.Type = hdr[4]
		req.Len = payloadLen

		t.Dispatch(&Action{Req: req})
	}
}

func (t *Transport) writeLoop(connLog *log.Entry, ctx context.Context, conn net.Conn) {
	for {
		select {
		case a := <-t.tmq:
			if err := writeFrame(conn, a.Rsp); err != nil {
				connLog.WithError(err).Debug("Write failed")
			}

			t.PutMsg(a.Req)
			t.PutMsg(a.Rsp)
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) completionLoop(connLog *log.Entry, ctx context.Context) {
	for {
		select {
		case a := <-t.acq:
			connLog.Warnf("Request failed with completion code %d", a.CompletionCode)
			t.PutMsg(a.Req)
			t.PutMsg(a.Rsp)
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(w io.Writer, m *Msg) error {
	_, err := w.Write(EncodeFrame(m))
	return err
}

// EncodeFrame renders the on-wire form of a message; used by clients and
// tests.
func EncodeFrame(m *Msg) []byte {
	frame := make([]byte, frameHdrLen+m.Len+1)
	frame[0] = frameVersion
	frame[1] = m.Dst
	frame[2] = m.Src
	frame[3] = (m.Owner&0x1)<<3 | m.Tag&0x7
	frame[4] = m.Type
	binary.LittleEndian.PutUint16(frame[5:7], uint16(m.Len))
	copy(frame[frameHdrLen:], m.Payload[:m.Len])
	frame[frameHdrLen+m.Len] = crc8.Checksum(frame[:frameHdrLen+m.Len], crcTable)
	return frame
}

// DecodeFrame parses the on-wire form of a message; used by clients and
// tests.
func DecodeFrame(frame []byte) (*Msg, error) {
	if len(frame) < frameHdrLen+1 {
		return nil, ErrBadFrame
	}

	payloadLen := int(binary.LittleEndian.Uint16(frame[5:7]))
	if len(frame) != frameHdrLen+payloadLen+1 {
		return nil, ErrBadFrame
	}

	if frame[0] != frameVersion {
		return nil, ErrBadFrame
	}

	if crc8.Checksum(frame[:frameHdrLen+payloadLen], crcTable) != frame[frameHdrLen+payloadLen] {
		return nil, ErrBadFrame
	}

	m := &Msg{
		Dst:     frame[1],
		Src:     frame[2],
		Owner:   (frame[3] >> 3) & 0x1,
		Tag:     frame[3] & 0x7,
		Type:    frame[4],
		Len:     payloadLen,
		Payload: make([]byte, payloadLen),
	}
	copy(m.Payload, frame[frameHdrLen:frameHdrLen+payloadLen])

	return m, nil
}
