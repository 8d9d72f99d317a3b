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

package fmapi

// HdrLen is the encoded size of the FM API message header.
const HdrLen = 12

// Hdr is the 12-byte FM API message header present on every request and
// response, and on every message tunneled through MPC TMC.
//
//	Byte 0     category[3:0] | tag[7:4]
//	Byte 1     reserved
//	Bytes 2-3  opcode
//	Bytes 4-7  background[0] | payload length[23:1] | reserved[31:24]
//	Bytes 8-9  return code
//	Bytes 10-11 vendor extended status
type Hdr struct {
	Category   uint8 `bitfield:"4"`
	Tag        uint8 `bitfield:"4"`
	Rsvd0      uint8 `bitfield:"8,reserved"`
	Opcode     uint16
	Background uint32 `bitfield:"1"`
	Len        uint32 `bitfield:"23"`
	Rsvd1      uint32 `bitfield:"8,reserved"`
	RC         uint16
	Ext        uint16
}

func (h *Hdr) Serialize(buf []byte) (int, error)   { return encode(buf, h) }
func (h *Hdr) Deserialize(buf []byte) (int, error) { return decode(buf, h) }

// FillHdr populates h and returns the total message length (header plus
// payload). The return value is what a transport message's length field is
// set to once the header has been serialized in front of the payload.
func FillHdr(h *Hdr, category uint8, tag uint8, opcode uint16, background uint8, payloadLen int, rc uint16, ext uint16) int {
	*h = Hdr{
		Category:   category,
		Tag:        tag,
		Opcode:     opcode,
		Background: uint32(background & 0x1),
		Len:        uint32(payloadLen) & 0x7FFFFF,
		RC:         rc,
		Ext:        ext,
	}

	return HdrLen + payloadLen
}
