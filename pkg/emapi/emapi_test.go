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

package emapi

import (
	"bytes"
	"reflect"
	"testing"
)

func TestHdrLayout(t *testing.T) {
	hdr := Hdr{}
	total := FillHdr(&hdr, TypeRsp, 2, RCSuccess, OpConnDev, 0, 10, 3)

	if total != HdrLen {
		t.Fatalf("FillHdr total incorrect: Expected: %d Actual: %d", HdrLen, total)
	}

	buf := make([]byte, HdrLen)
	n, err := hdr.Serialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != HdrLen {
		t.Fatalf("Header size incorrect: Expected: %d Actual: %d", HdrLen, n)
	}

	expected := []byte{
		0x21,       // type=RSP, tag=2
		0x00,       // reserved
		0x02, 0x00, // opcode CONN_DEV
		0x00, 0x00, 0x00, 0x00, // length 0
		0x0A,       // a = ppid 10
		0x03,       // b = device 3
		0x00, 0x00, // return code
	}

	if !bytes.Equal(buf, expected) {
		t.Fatalf("Header encoding incorrect:\nExpected: % x\nActual:   % x", expected, buf)
	}
}

func TestHdrRoundTrip(t *testing.T) {
	hdr := Hdr{}
	FillHdr(&hdr, TypeReq, 5, RCUnsupported, OpListDev, 0x123456, 8, 1)

	buf := make([]byte, HdrLen)
	if _, err := hdr.Serialize(buf); err != nil {
		t.Fatal(err)
	}

	decoded := Hdr{}
	if _, err := decoded.Deserialize(buf); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(hdr, decoded) {
		t.Fatalf("Round trip failed:\nExpected: %+v\nActual:   %+v", hdr, decoded)
	}
}

func TestHdrTruncated(t *testing.T) {
	hdr := Hdr{}
	if _, err := hdr.Deserialize(make([]byte, HdrLen-1)); err != ErrTruncated {
		t.Fatalf("Expected ErrTruncated, got %v", err)
	}
}

func TestDeviceList(t *testing.T) {
	buf := make([]byte, 256)

	off, err := AppendDeviceListEntry(buf, 0, DeviceListEntry{ID: 3, Name: "mld_5x8_2.0_4G"})
	if err != nil {
		t.Fatal(err)
	}

	off, err = AppendDeviceListEntry(buf, off, DeviceListEntry{ID: 4, Name: "mld_5x8_1.1_4G"})
	if err != nil {
		t.Fatal(err)
	}

	// id + len + name + NUL per record
	expected := 2 * (2 + len("mld_5x8_2.0_4G") + 1)
	if off != expected {
		t.Fatalf("Packed size incorrect: Expected: %d Actual: %d", expected, off)
	}

	entries, err := ParseDeviceList(buf[:off])
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 {
		t.Fatalf("Entry count incorrect: %d", len(entries))
	}

	if entries[0].ID != 3 || entries[0].Name != "mld_5x8_2.0_4G" {
		t.Fatalf("Entry 0 incorrect: %+v", entries[0])
	}
	if entries[1].ID != 4 || entries[1].Name != "mld_5x8_1.1_4G" {
		t.Fatalf("Entry 1 incorrect: %+v", entries[1])
	}
}

func TestDeviceListEmptyName(t *testing.T) {
	buf := make([]byte, 16)

	off, err := AppendDeviceListEntry(buf, 0, DeviceListEntry{ID: 7})
	if err != nil {
		t.Fatal(err)
	}
	if off != 2 {
		t.Fatalf("Packed size incorrect: %d", off)
	}

	entries, err := ParseDeviceList(buf[:off])
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != 7 || entries[0].Name != "" {
		t.Fatalf("Entries incorrect: %+v", entries)
	}
}
