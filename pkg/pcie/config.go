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

// Package pcie models the 4 KiB PCI Express configuration space the device
// catalog synthesizes for each emulated device: the type 0 header, the
// legacy capability list growing from 0x40, and the extended capability
// list growing from 0x100.
package pcie

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/HewlettPackard/structex"
)

// CfgSpaceSize is the size of one configuration space image.
const CfgSpaceSize = 4096

const (
	capListBase  = 0x40
	ecapListBase = 0x100
)

// ErrSpaceExhausted reports a capability that does not fit the image.
var ErrSpaceExhausted = errors.New("pcie: config space exhausted")

// CfgHdr is the 64-byte type 0 configuration header.
type CfgHdr struct {
	Vendor    uint16
	Device    uint16
	Command   uint16
	Status    uint16
	Rev       uint8
	PI        uint8
	SubClass  uint8
	BaseClass uint8
	CLS       uint8
	Latency   uint8
	Type      uint8
	BIST      uint8
	BAR       [6]uint32
	Cardbus   uint32
	SubVendor uint16
	Subsystem uint16
	ROM       uint32
	Cap       uint8
	Rsvd      [7]uint8
	IntLine   uint8
	IntPin    uint8
	MinGnt    uint8
	MaxLat    uint8
}

// EncodeHeader writes the header into the front of a config space image.
func EncodeHeader(space []byte, h *CfgHdr) error {
	b := structex.NewBuffer(h)
	if b == nil {
		return errors.New("pcie: unsupported shape")
	}

	if err := structex.Encode(b, h); err != nil {
		return err
	}

	copy(space, b.Bytes())
	return nil
}

// DecodeHeader reads the header from the front of a config space image.
func DecodeHeader(space []byte) (*CfgHdr, error) {
	h := &CfgHdr{}
	sz, err := structex.Size(h)
	if err != nil {
		return nil, err
	}

	if len(space) < int(sz) {
		return nil, errors.New("pcie: config space too small")
	}

	if err := structex.DecodeByteBuffer(bytes.NewBuffer(space[:int(sz)]), h); err != nil {
		return nil, err
	}

	return h, nil
}

// CapBuilder appends capability structures to a config space image,
// maintaining the two linked lists. The header is re-read on every append so
// a builder can be created over an image whose header was written first.
type CapBuilder struct {
	space []byte
	next  int
}

// NewCapBuilder returns a builder over space, which must be a full 4 KiB
// image with the header already encoded.
func NewCapBuilder(space []byte) *CapBuilder {
	return &CapBuilder{space: space, next: capListBase}
}

// AddCap appends a legacy capability with the given id and payload. The
// payload follows the 2-byte capability header.
func (b *CapBuilder) AddCap(id uint8, payload []byte) error {
	need := 2 + len(payload)
	if b.next+need > ecapListBase {
		return ErrSpaceExhausted
	}

	// Chain off the previous capability, or off the header's pointer when
	// this is the first entry.
	if b.space[0x34] == 0 {
		b.space[0x34] = capListBase
	} else {
		off := int(b.space[0x34])
		for b.space[off+1] != 0 {
			off = int(b.space[off+1])
		}
		b.space[off+1] = uint8(b.next)
	}

	b.space[b.next] = id
	b.space[b.next+1] = 0
	copy(b.space[b.next+2:], payload)
	b.next += need

	return nil
}

// ecapHdr is the extended capability header. The builder's single cursor
// moves to 0x100 on the first extended entry; extended capabilities use
// 4-byte headers:
// id[15:0] | ver[19:16] | next[31:20].
type ecapHdr struct {
	ID   uint16
	Ver  uint8  `bitfield:"4"`
	Next uint16 `bitfield:"12"`
}

// AddExtCap appends an extended capability with the given id, version and
// payload.
func (b *CapBuilder) AddExtCap(id uint16, ver uint8, payload []byte) error {
	if b.next < ecapListBase {
		b.next = ecapListBase
	}

	need := 4 + len(payload)
	if b.next+need > CfgSpaceSize {
		return ErrSpaceExhausted
	}

	off := b.next
	if off != ecapListBase {
		// Patch the previous entry's next pointer.
		prev := ecapListBase
		for {
			h, err := decodeEcapHdr(b.space[prev:])
			if err != nil {
				return err
			}
			if h.Next == 0 {
				h.Next = uint16(off)
				if err := encodeEcapHdr(b.space[prev:], h); err != nil {
					return err
				}
				break
			}
			prev = int(h.Next)
		}
	}

	if err := encodeEcapHdr(b.space[off:], &ecapHdr{ID: id, Ver: ver}); err != nil {
		return err
	}
	copy(b.space[off+4:], payload)
	b.next = off + need

	return nil
}

func encodeEcapHdr(dst []byte, h *ecapHdr) error {
	b := structex.NewBuffer(h)
	if b == nil {
		return errors.New("pcie: unsupported shape")
	}

	if err := structex.Encode(b, h); err != nil {
		return err
	}

	copy(dst, b.Bytes())
	return nil
}

func decodeEcapHdr(src []byte) (*ecapHdr, error) {
	h := &ecapHdr{}
	if len(src) < 4 {
		return nil, ErrSpaceExhausted
	}

	if err := structex.DecodeByteBuffer(bytes.NewBuffer(src[:4]), h); err != nil {
		return nil, err
	}

	return h, nil
}

// ParseCSVBytes converts a CSV string of hex byte values ("00,3c,ff") into
// bytes, capped at max entries.
func ParseCSVBytes(s string, max int) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	fields := strings.Split(s, ",")
	if len(fields) > max {
		fields = fields[:max]
	}

	out := make([]byte, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("pcie: bad CSV byte %q: %w", f, err)
		}
		out = append(out, uint8(v))
	}

	return out, nil
}

// Print writes a short summary of a config space image: the identity from
// the header and a hex dump of the first 256 bytes.
func Print(w io.Writer, space []byte, indent int) {
	pad := strings.Repeat(" ", indent)

	h, err := DecodeHeader(space)
	if err != nil {
		fmt.Fprintf(w, "%s<bad config header: %v>\n", pad, err)
		return
	}

	fmt.Fprintf(w, "%svendor:      0x%04x\n", pad, h.Vendor)
	fmt.Fprintf(w, "%sdevice:      0x%04x\n", pad, h.Device)
	fmt.Fprintf(w, "%sclass:       %02x%02x%02x\n", pad, h.BaseClass, h.SubClass, h.PI)
	fmt.Fprintf(w, "%ssubvendor:   0x%04x\n", pad, h.SubVendor)
	fmt.Fprintf(w, "%ssubsystem:   0x%04x\n", pad, h.Subsystem)

	for off := 0; off < 256; off += 16 {
		fmt.Fprintf(w, "%s%03x:", pad, off)
		for i := 0; i < 16; i++ {
			fmt.Fprintf(w, " %02x", space[off+i])
		}
		fmt.Fprintln(w)
	}
}
