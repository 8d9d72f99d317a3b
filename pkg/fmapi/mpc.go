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

import "encoding/binary"

// MpcCfgReq is the Send LD CXL.io Configuration request: a config space
// access into one logical device of an MLD port.
type MpcCfgReq struct {
	PPID uint8
	LDID uint16
	Reg  uint8
	Ext  uint8
	FDBE uint8 `bitfield:"4"`
	Rsvd uint8 `bitfield:"4,reserved"`
	Type uint8
	Data [4]uint8
}

func (r *MpcCfgReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MpcCfgReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MpcCfgRsp is the Send LD CXL.io Configuration response; Data is valid for
// reads only.
type MpcCfgRsp struct {
	Data [4]uint8
}

func (r *MpcCfgRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MpcCfgRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// mpcMemReqFixedLen is the fixed prefix of the MPC MEM request:
// ppid(1) ldid(2) type(1) rsvd(4) offset(8) len(8).
const mpcMemReqFixedLen = 24

// MpcMemReq is the Send LD CXL.io Memory Request: a bounded read or write of
// an LD's memory space. Data is present for writes only and carries Len
// bytes.
type MpcMemReq struct {
	PPID   uint8
	LDID   uint16
	Type   uint8
	Offset uint64
	Len    uint64
	Data   []uint8
}

func (r *MpcMemReq) Serialize(buf []byte) (int, error) {
	n := mpcMemReqFixedLen
	if r.Type == CfgWrite {
		n += int(r.Len)
	}
	if len(buf) < n {
		return 0, ErrShortBuffer
	}

	buf[0] = r.PPID
	binary.LittleEndian.PutUint16(buf[1:3], r.LDID)
	buf[3] = r.Type
	for i := 4; i < 8; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[8:16], r.Offset)
	binary.LittleEndian.PutUint64(buf[16:24], r.Len)

	if r.Type == CfgWrite {
		copy(buf[mpcMemReqFixedLen:n], r.Data)
	}

	return n, nil
}

func (r *MpcMemReq) Deserialize(buf []byte) (int, error) {
	if len(buf) < mpcMemReqFixedLen {
		return 0, ErrTruncated
	}

	r.PPID = buf[0]
	r.LDID = binary.LittleEndian.Uint16(buf[1:3])
	r.Type = buf[3]
	r.Offset = binary.LittleEndian.Uint64(buf[8:16])
	r.Len = binary.LittleEndian.Uint64(buf[16:24])
	r.Data = nil

	n := mpcMemReqFixedLen
	if r.Type == CfgWrite {
		if uint64(len(buf)-n) < r.Len {
			return 0, ErrTruncated
		}
		r.Data = make([]uint8, r.Len)
		copy(r.Data, buf[n:n+int(r.Len)])
		n += int(r.Len)
	}

	return n, nil
}

// mpcMemRspFixedLen is the fixed prefix of the MPC MEM response:
// len(8) rsvd(8).
const mpcMemRspFixedLen = 16

// MpcMemRsp is the Send LD CXL.io Memory Request response. Data carries Len
// bytes for reads and is empty for writes.
type MpcMemRsp struct {
	Len  uint64
	Data []uint8
}

func (r *MpcMemRsp) Serialize(buf []byte) (int, error) {
	n := mpcMemRspFixedLen + len(r.Data)
	if len(buf) < n {
		return 0, ErrShortBuffer
	}

	binary.LittleEndian.PutUint64(buf[0:8], r.Len)
	for i := 8; i < 16; i++ {
		buf[i] = 0
	}
	copy(buf[mpcMemRspFixedLen:n], r.Data)

	return n, nil
}

func (r *MpcMemRsp) Deserialize(buf []byte) (int, error) {
	if len(buf) < mpcMemRspFixedLen {
		return 0, ErrTruncated
	}

	r.Len = binary.LittleEndian.Uint64(buf[0:8])
	if uint64(len(buf)-mpcMemRspFixedLen) < r.Len {
		return 0, ErrTruncated
	}

	r.Data = make([]uint8, r.Len)
	copy(r.Data, buf[mpcMemRspFixedLen:mpcMemRspFixedLen+int(r.Len)])

	return mpcMemRspFixedLen + int(r.Len), nil
}

// mpcTmcFixedLen is the fixed prefix of the TMC request and response:
// ppid(1) type(1) len(2).
const mpcTmcFixedLen = 4

// MpcTmcReq is the Tunnel Management Command request. Msg is a complete
// inner MCTP message payload (FM API header plus object) of Len bytes, and
// Type is the inner MCTP message type, which must be the CXL CCI type.
type MpcTmcReq struct {
	PPID uint8
	Type uint8
	Len  uint16
	Msg  []uint8
}

func (r *MpcTmcReq) Serialize(buf []byte) (int, error) {
	return tmcSerialize(buf, r.PPID, r.Type, &r.Len, r.Msg)
}
func (r *MpcTmcReq) Deserialize(buf []byte) (int, error) {
	return tmcDeserialize(buf, &r.PPID, &r.Type, &r.Len, &r.Msg)
}

// MpcTmcRsp is the Tunnel Management Command response; Msg carries the inner
// response message.
type MpcTmcRsp struct {
	PPID uint8
	Type uint8
	Len  uint16
	Msg  []uint8
}

func (r *MpcTmcRsp) Serialize(buf []byte) (int, error) {
	return tmcSerialize(buf, r.PPID, r.Type, &r.Len, r.Msg)
}
func (r *MpcTmcRsp) Deserialize(buf []byte) (int, error) {
	return tmcDeserialize(buf, &r.PPID, &r.Type, &r.Len, &r.Msg)
}

func tmcSerialize(buf []byte, ppid uint8, typ uint8, length *uint16, msg []uint8) (int, error) {
	*length = uint16(len(msg))
	n := mpcTmcFixedLen + len(msg)
	if len(buf) < n {
		return 0, ErrShortBuffer
	}

	buf[0] = ppid
	buf[1] = typ
	binary.LittleEndian.PutUint16(buf[2:4], *length)
	copy(buf[mpcTmcFixedLen:n], msg)

	return n, nil
}

func tmcDeserialize(buf []byte, ppid *uint8, typ *uint8, length *uint16, msg *[]uint8) (int, error) {
	if len(buf) < mpcTmcFixedLen {
		return 0, ErrTruncated
	}

	*ppid = buf[0]
	*typ = buf[1]
	*length = binary.LittleEndian.Uint16(buf[2:4])

	if len(buf)-mpcTmcFixedLen < int(*length) {
		return 0, ErrTruncated
	}

	*msg = make([]uint8, *length)
	copy(*msg, buf[mpcTmcFixedLen:mpcTmcFixedLen+int(*length)])

	return mpcTmcFixedLen + int(*length), nil
}
