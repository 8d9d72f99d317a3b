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

// PscIDRsp is the Identify Switch Device response. The active port and VCS
// bitmaps use byte i/8, bit i%8 for entity i; the emulator instantiates at
// most 64 of each, which the 8-byte maps cover.
type PscIDRsp struct {
	VID         uint16
	DID         uint16
	SVID        uint16
	SSID        uint16
	SN          uint64
	IngressPort uint8
	NumPorts    uint8
	NumVCSs     uint8
	ActivePorts [8]uint8
	ActiveVCSs  [8]uint8
	NumVPPBs    uint16
	ActiveVPPBs uint16
	NumDecoders uint8
	Rsvd        [4]uint8
}

func (r *PscIDRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *PscIDRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// PscPortReq is the Get Physical Port State request: a counted list of
// physical port ids to report.
type PscPortReq struct {
	Num   uint8
	Ports []uint8
}

func (r *PscPortReq) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.Ports))
	if len(buf) < 1+len(r.Ports) {
		return 0, ErrShortBuffer
	}

	buf[0] = r.Num
	copy(buf[1:], r.Ports)

	return 1 + len(r.Ports), nil
}

func (r *PscPortReq) Deserialize(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrTruncated
	}

	r.Num = buf[0]
	if len(buf) < 1+int(r.Num) {
		return 0, ErrTruncated
	}

	r.Ports = make([]uint8, r.Num)
	copy(r.Ports, buf[1:1+int(r.Num)])

	return 1 + int(r.Num), nil
}

// PscPortInfo is one physical port status block.
type PscPortInfo struct {
	PPID    uint8
	State   uint8
	DV      uint8
	DT      uint8
	CV      uint8
	MLW     uint8
	NLW     uint8
	Speeds  uint8
	MLS     uint8
	CLS     uint8
	Ltssm   uint8
	Lane    uint8
	LaneRev uint8
	Perst   uint8
	Prsnt   uint8
	PwrCtrl uint8
	NumLD   uint8
}

func (r *PscPortInfo) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *PscPortInfo) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// PscPortRsp is the Get Physical Port State response: a counted list of port
// status blocks. Requested ids out of range are skipped, so Num may be less
// than the requested count.
type PscPortRsp struct {
	Num  uint8
	List []PscPortInfo
}

func (r *PscPortRsp) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.List))
	n := 1

	if len(buf) < 1 {
		return 0, ErrShortBuffer
	}
	buf[0] = r.Num

	for i := range r.List {
		cnt, err := r.List[i].Serialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

func (r *PscPortRsp) Deserialize(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrTruncated
	}

	r.Num = buf[0]
	r.List = make([]PscPortInfo, r.Num)
	n := 1

	for i := range r.List {
		cnt, err := r.List[i].Deserialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

// PscPortCtrlReq is the Physical Port Control request.
type PscPortCtrlReq struct {
	PPID   uint8
	Opcode uint16
}

func (r *PscPortCtrlReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *PscPortCtrlReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// PscCfgReq is the Send PPB CXL.io Configuration request. Reg and Ext select
// the register offset (ext<<8|reg); FDBE is the first DW byte enable mask.
type PscCfgReq struct {
	PPID uint8
	Reg  uint8
	Ext  uint8
	FDBE uint8 `bitfield:"4"`
	Rsvd uint8 `bitfield:"4,reserved"`
	Type uint8
	Data [4]uint8
}

func (r *PscCfgReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *PscCfgReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// PscCfgRsp is the Send PPB CXL.io Configuration response; Data is valid for
// reads only.
type PscCfgRsp struct {
	Data [4]uint8
}

func (r *PscCfgRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *PscCfgRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }
