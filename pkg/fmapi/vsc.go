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

// VscInfoReq is the Get Virtual CXL Switch Info request. The vPPB window
// (Start, Limit) applies to every requested VCS.
type VscInfoReq struct {
	VPPBStart uint8
	VPPBLimit uint8
	Num       uint8
	VCSs      []uint8
}

func (r *VscInfoReq) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.VCSs))
	if len(buf) < 3+len(r.VCSs) {
		return 0, ErrShortBuffer
	}

	buf[0] = r.VPPBStart
	buf[1] = r.VPPBLimit
	buf[2] = r.Num
	copy(buf[3:], r.VCSs)

	return 3 + len(r.VCSs), nil
}

func (r *VscInfoReq) Deserialize(buf []byte) (int, error) {
	if len(buf) < 3 {
		return 0, ErrTruncated
	}

	r.VPPBStart = buf[0]
	r.VPPBLimit = buf[1]
	r.Num = buf[2]

	if len(buf) < 3+int(r.Num) {
		return 0, ErrTruncated
	}

	r.VCSs = make([]uint8, r.Num)
	copy(r.VCSs, buf[3:3+int(r.Num)])

	return 3 + int(r.Num), nil
}

// VscPPBStatus is one vPPB status block within a VCS info block.
type VscPPBStatus struct {
	Status uint8
	PPID   uint8
	LDID   uint16
}

func (r *VscPPBStatus) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *VscPPBStatus) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// VscInfoBlk describes one virtual CXL switch. Total is the number of vPPBs
// the VCS has; Num is the number of status blocks carried in List, which may
// be a window into the full set.
type VscInfoBlk struct {
	VCSID uint8
	State uint8
	USPID uint8
	Total uint8
	Num   uint8
	List  []VscPPBStatus
}

func (r *VscInfoBlk) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.List))
	if len(buf) < 5 {
		return 0, ErrShortBuffer
	}

	buf[0] = r.VCSID
	buf[1] = r.State
	buf[2] = r.USPID
	buf[3] = r.Total
	buf[4] = r.Num
	n := 5

	for i := range r.List {
		cnt, err := r.List[i].Serialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

func (r *VscInfoBlk) Deserialize(buf []byte) (int, error) {
	if len(buf) < 5 {
		return 0, ErrTruncated
	}

	r.VCSID = buf[0]
	r.State = buf[1]
	r.USPID = buf[2]
	r.Total = buf[3]
	r.Num = buf[4]
	n := 5

	r.List = make([]VscPPBStatus, r.Num)
	for i := range r.List {
		cnt, err := r.List[i].Deserialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

// VscInfoRsp is the Get Virtual CXL Switch Info response: a counted list of
// VCS info blocks. Requested ids out of range are skipped.
type VscInfoRsp struct {
	Num  uint8
	List []VscInfoBlk
}

func (r *VscInfoRsp) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.List))
	if len(buf) < 1 {
		return 0, ErrShortBuffer
	}

	buf[0] = r.Num
	n := 1

	for i := range r.List {
		cnt, err := r.List[i].Serialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

func (r *VscInfoRsp) Deserialize(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrTruncated
	}

	r.Num = buf[0]
	n := 1

	r.List = make([]VscInfoBlk, r.Num)
	for i := range r.List {
		cnt, err := r.List[i].Deserialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

// VscBindReq is the Bind vPPB request. LDID is LDIDWholePort when binding
// the whole physical port rather than a specific logical device.
type VscBindReq struct {
	VCSID  uint8
	VPPBID uint8
	PPID   uint8
	LDID   uint16
	Rsvd   uint8 `bitfield:"8,reserved"`
}

func (r *VscBindReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *VscBindReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// VscUnbindReq is the Unbind vPPB request. Option selects the unbind wait
// behavior; the emulator completes synchronously and ignores it.
type VscUnbindReq struct {
	VCSID  uint8
	VPPBID uint8
	Option uint8
}

func (r *VscUnbindReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *VscUnbindReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// VscAerReq is the Generate AER Event request: an error type and the 32-byte
// AER TLP header prefix to inject.
type VscAerReq struct {
	VCSID     uint8
	VPPBID    uint8
	ErrorType uint32
	Header    [32]uint8
}

func (r *VscAerReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *VscAerReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }
