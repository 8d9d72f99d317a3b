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

package pcie

import (
	"testing"

	"github.com/HewlettPackard/structex"
)

func TestCfgHdrStructex(t *testing.T) {
	hdr := CfgHdr{}

	sz, err := structex.Size(&hdr)
	if err != nil {
		t.Fatal(err)
	}
	if sz != 64 {
		t.Fatalf("Config header size incorrect: Expected: 64 Actual: %d", sz)
	}
}

func TestEncodeDecodeHeader(t *testing.T) {
	space := make([]byte, CfgSpaceSize)

	hdr := CfgHdr{
		Vendor:    0x1DC5,
		Device:    0xC151,
		BaseClass: 0x05,
		SubClass:  0x02,
		SubVendor: 0x1DC5,
		Subsystem: 0x0001,
	}

	if err := EncodeHeader(space, &hdr); err != nil {
		t.Fatal(err)
	}

	if space[0] != 0xC5 || space[1] != 0x1D {
		t.Fatalf("Vendor encoding incorrect: % x", space[:2])
	}

	decoded, err := DecodeHeader(space)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Vendor != hdr.Vendor || decoded.Device != hdr.Device || decoded.SubClass != hdr.SubClass {
		t.Fatalf("Decoded header incorrect: %+v", decoded)
	}
}

func TestCapBuilder(t *testing.T) {
	space := make([]byte, CfgSpaceSize)
	if err := EncodeHeader(space, &CfgHdr{Vendor: 0x1DC5}); err != nil {
		t.Fatal(err)
	}

	b := NewCapBuilder(space)

	if err := b.AddCap(0x01, []byte{0x00, 0x00}); err != nil { // PM
		t.Fatal(err)
	}
	if err := b.AddCap(0x10, []byte{0x02, 0x00, 0x00, 0x00}); err != nil { // PCIe
		t.Fatal(err)
	}

	// Header points at the first capability.
	if space[0x34] != 0x40 {
		t.Fatalf("Capability pointer incorrect: 0x%02x", space[0x34])
	}

	// First capability: id 0x01, next 0x44 (2 byte header + 2 byte payload).
	if space[0x40] != 0x01 || space[0x41] != 0x44 {
		t.Fatalf("First capability incorrect: % x", space[0x40:0x42])
	}

	// Second capability: id 0x10, end of list.
	if space[0x44] != 0x10 || space[0x45] != 0x00 {
		t.Fatalf("Second capability incorrect: % x", space[0x44:0x46])
	}
}

func TestExtCapBuilder(t *testing.T) {
	space := make([]byte, CfgSpaceSize)
	if err := EncodeHeader(space, &CfgHdr{}); err != nil {
		t.Fatal(err)
	}

	b := NewCapBuilder(space)

	if err := b.AddExtCap(0x001, 1, []byte{0xAA, 0xBB, 0xCC, 0xDD}); err != nil { // AER
		t.Fatal(err)
	}
	if err := b.AddExtCap(0x019, 1, []byte{0x00, 0x00, 0x00, 0x00}); err != nil { // SecPCI
		t.Fatal(err)
	}

	// First extended capability at 0x100: id 0x0001, ver 1, next 0x108.
	if space[0x100] != 0x01 || space[0x101] != 0x00 {
		t.Fatalf("Extended capability id incorrect: % x", space[0x100:0x102])
	}

	// ver in low nibble of byte 2, next[3:0] in high nibble.
	if space[0x102] != 0x81 { // ver=1, next=0x108 -> low nibble 8
		t.Fatalf("Extended capability ver/next incorrect: 0x%02x", space[0x102])
	}
	if space[0x103] != 0x10 { // next >> 4
		t.Fatalf("Extended capability next incorrect: 0x%02x", space[0x103])
	}

	if space[0x104] != 0xAA {
		t.Fatalf("Extended capability payload incorrect: 0x%02x", space[0x104])
	}

	// Second entry terminates the list.
	if space[0x108] != 0x19 || space[0x10A]&0xF0 != 0 {
		t.Fatalf("Second extended capability incorrect: % x", space[0x108:0x10C])
	}
}

func TestParseCSVBytes(t *testing.T) {
	out, err := ParseCSVBytes("00, 3c, ff", 16)
	if err != nil {
		t.Fatal(err)
	}

	if len(out) != 3 || out[0] != 0x00 || out[1] != 0x3C || out[2] != 0xFF {
		t.Fatalf("CSV parse incorrect: % x", out)
	}

	if _, err := ParseCSVBytes("zz", 16); err == nil {
		t.Fatal("Expected parse error")
	}

	out, err = ParseCSVBytes("", 16)
	if err != nil || out != nil {
		t.Fatalf("Empty CSV incorrect: %v %v", out, err)
	}

	// Entries beyond the cap are dropped.
	out, err = ParseCSVBytes("01,02,03", 2)
	if err != nil || len(out) != 2 {
		t.Fatalf("Capped CSV incorrect: %v %v", out, err)
	}
}
