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

// MccInfoRsp is the Get LD Info response.
type MccInfoRsp struct {
	Size uint64
	Num  uint16
	EPC  uint8
	TTR  uint8
	Rsvd uint8 `bitfield:"8,reserved"`
}

func (r *MccInfoRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MccInfoRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MccAllocGetReq is the Get LD Allocations request: a window of logical
// device ids starting at Start, at most Limit entries.
type MccAllocGetReq struct {
	Start uint8
	Limit uint8
}

func (r *MccAllocGetReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MccAllocGetReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MccAllocEntry is one LD allocation: the range 1 and range 2 allocation
// multipliers of the memory granularity.
type MccAllocEntry struct {
	Rng1 uint64
	Rng2 uint64
}

func (r *MccAllocEntry) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MccAllocEntry) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MccAllocGetRsp is the Get LD Allocations response. Total reports the LD
// count of the device; Num counts the entries actually emitted.
type MccAllocGetRsp struct {
	Total       uint8
	Granularity uint8
	Start       uint8
	Num         uint8
	List        []MccAllocEntry
}

func (r *MccAllocGetRsp) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.List))
	if len(buf) < 4 {
		return 0, ErrShortBuffer
	}

	buf[0] = r.Total
	buf[1] = r.Granularity
	buf[2] = r.Start
	buf[3] = r.Num
	n := 4

	for i := range r.List {
		cnt, err := r.List[i].Serialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

func (r *MccAllocGetRsp) Deserialize(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrTruncated
	}

	r.Total = buf[0]
	r.Granularity = buf[1]
	r.Start = buf[2]
	r.Num = buf[3]
	n := 4

	r.List = make([]MccAllocEntry, r.Num)
	for i := range r.List {
		cnt, err := r.List[i].Deserialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

// MccAllocSet is the Set LD Allocations request and response: a counted
// window of allocation entries starting at Start. The response echoes the
// values actually stored.
type MccAllocSet struct {
	Num   uint8
	Start uint8
	List  []MccAllocEntry
}

func (r *MccAllocSet) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.List))
	if len(buf) < 2 {
		return 0, ErrShortBuffer
	}

	buf[0] = r.Num
	buf[1] = r.Start
	n := 2

	for i := range r.List {
		cnt, err := r.List[i].Serialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

func (r *MccAllocSet) Deserialize(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrTruncated
	}

	r.Num = buf[0]
	r.Start = buf[1]
	n := 2

	r.List = make([]MccAllocEntry, r.Num)
	for i := range r.List {
		cnt, err := r.List[i].Deserialize(buf[n:])
		if err != nil {
			return 0, err
		}
		n += cnt
	}

	return n, nil
}

// MccQosCtrl is the QoS Control block, used by the Get response and the Set
// request and response.
type MccQosCtrl struct {
	EPCEnable      uint8
	TTREnable      uint8
	EgressModPcnt  uint8
	EgressSevPcnt  uint8
	SampleInterval uint8
	RCB            uint16
	CompInterval   uint8
}

func (r *MccQosCtrl) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MccQosCtrl) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MccQosStatRsp is the Get QoS Status response.
type MccQosStatRsp struct {
	BPAvgPcnt uint8
}

func (r *MccQosStatRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MccQosStatRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MccQosBwGetReq is the request window for both Get QoS Allocated BW and
// Get QoS BW Limit.
type MccQosBwGetReq struct {
	Num   uint8
	Start uint8
}

func (r *MccQosBwGetReq) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *MccQosBwGetReq) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// MccQosBw is a counted window of per-LD bandwidth fractions, used as the
// Get response and the Set request and response of both the Allocated BW
// and BW Limit commands.
type MccQosBw struct {
	Num   uint8
	Start uint8
	List  []uint8
}

func (r *MccQosBw) Serialize(buf []byte) (int, error) {
	r.Num = uint8(len(r.List))
	if len(buf) < 2+len(r.List) {
		return 0, ErrShortBuffer
	}

	buf[0] = r.Num
	buf[1] = r.Start
	copy(buf[2:], r.List)

	return 2 + len(r.List), nil
}

func (r *MccQosBw) Deserialize(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrTruncated
	}

	r.Num = buf[0]
	r.Start = buf[1]

	if len(buf) < 2+int(r.Num) {
		return 0, ErrTruncated
	}

	r.List = make([]uint8, r.Num)
	copy(r.List, buf[2:2+int(r.Num)])

	return 2 + int(r.Num), nil
}
