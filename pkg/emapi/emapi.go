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

// Package emapi implements the emulator control API: the 12-byte header and
// the device catalog commands used to hot plug devices into and out of the
// emulated switch. Opcode parameters ride in the header's two user-defined
// bytes, so most payloads are empty.
package emapi

import (
	"bytes"
	"errors"

	"github.com/HewlettPackard/structex"
)

// Message types carried in the header's low nibble.
const (
	TypeReq uint8 = 0
	TypeRsp uint8 = 1
)

// Command opcodes.
const (
	OpEvent     uint16 = 0x0000
	OpListDev   uint16 = 0x0001
	OpConnDev   uint16 = 0x0002
	OpDisconDev uint16 = 0x0003
)

// Return codes.
const (
	RCSuccess      uint16 = 0x0000
	RCInvalidInput uint16 = 0x0002
	RCUnsupported  uint16 = 0x0003
)

// ErrTruncated reports an input buffer shorter than the shape being decoded.
var ErrTruncated = errors.New("emapi: truncated message")

// ErrShortBuffer reports an output buffer too small for the encoded shape.
var ErrShortBuffer = errors.New("emapi: short encode buffer")

// HdrLen is the encoded size of the emulator API message header.
const HdrLen = 12

// Hdr is the 12-byte emulator API message header. A and B are per-opcode
// parameters: LIST_DEV uses a=num requested (0 for all) and b=start id,
// CONN_DEV uses a=ppid and b=device id, DISCON_DEV uses a=ppid and b=all.
//
//	Byte 0      type[3:0] | tag[7:4]
//	Byte 1      reserved
//	Bytes 2-3   opcode
//	Bytes 4-7   payload length[23:0] | reserved[31:24]
//	Byte 8      a
//	Byte 9      b
//	Bytes 10-11 return code
type Hdr struct {
	Type   uint8 `bitfield:"4"`
	Tag    uint8 `bitfield:"4"`
	Rsvd0  uint8 `bitfield:"8,reserved"`
	Opcode uint16
	Len    uint32 `bitfield:"24"`
	Rsvd1  uint32 `bitfield:"8,reserved"`
	A      uint8
	B      uint8
	RC     uint16
}

func (h *Hdr) Serialize(buf []byte) (int, error) {
	b := structex.NewBuffer(h)
	if b == nil {
		return 0, errors.New("emapi: unsupported shape")
	}

	if err := structex.Encode(b, h); err != nil {
		return 0, err
	}

	if len(buf) < len(b.Bytes()) {
		return 0, ErrShortBuffer
	}

	return copy(buf, b.Bytes()), nil
}

func (h *Hdr) Deserialize(buf []byte) (int, error) {
	if len(buf) < HdrLen {
		return 0, ErrTruncated
	}

	if err := structex.DecodeByteBuffer(bytes.NewBuffer(buf[:HdrLen]), h); err != nil {
		return 0, err
	}

	return HdrLen, nil
}

// FillHdr populates h and returns the total message length (header plus
// payload).
func FillHdr(h *Hdr, typ uint8, tag uint8, rc uint16, opcode uint16, payloadLen int, a uint8, b uint8) int {
	*h = Hdr{
		Type:   typ,
		Tag:    tag,
		Opcode: opcode,
		Len:    uint32(payloadLen) & 0xFFFFFF,
		A:      a,
		B:      b,
		RC:     rc,
	}

	return HdrLen + payloadLen
}

// DeviceListEntry is one record of the LIST_DEV response payload. Entries
// are packed as {id u8, len u8, name[len]} with len counting the trailing
// NUL carried on the wire.
type DeviceListEntry struct {
	ID   uint8
	Name string
}

// AppendDeviceListEntry packs one entry at buf[off:] and returns the new
// offset. An empty name encodes a zero length with no name bytes.
func AppendDeviceListEntry(buf []byte, off int, e DeviceListEntry) (int, error) {
	n := 2
	if e.Name != "" {
		n += len(e.Name) + 1
	}
	if len(buf)-off < n {
		return off, ErrShortBuffer
	}

	buf[off] = e.ID
	if e.Name == "" {
		buf[off+1] = 0
		return off + 2, nil
	}

	buf[off+1] = uint8(len(e.Name) + 1)
	copy(buf[off+2:], e.Name)
	buf[off+2+len(e.Name)] = 0

	return off + n, nil
}

// ParseDeviceList unpacks every entry of a LIST_DEV response payload.
func ParseDeviceList(buf []byte) ([]DeviceListEntry, error) {
	entries := []DeviceListEntry{}

	for off := 0; off < len(buf); {
		if len(buf)-off < 2 {
			return nil, ErrTruncated
		}

		e := DeviceListEntry{ID: buf[off]}
		nameLen := int(buf[off+1])
		off += 2

		if len(buf)-off < nameLen {
			return nil, ErrTruncated
		}

		if nameLen > 0 {
			e.Name = string(bytes.TrimRight(buf[off:off+nameLen], "\x00"))
			off += nameLen
		}

		entries = append(entries, e)
	}

	return entries, nil
}
