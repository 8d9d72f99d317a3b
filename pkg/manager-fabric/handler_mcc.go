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

package fabric

// The MCC handlers are addressed to a port's MLD and are reached only
// through the Tunnel Management Command. They are inner handlers: the model
// lock is already held and is never re-acquired here. Each takes the full
// inner request message (header plus payload), writes the full inner
// response message, and returns its length; zero means the inner message
// could not even be answered.

import (
	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
)

// Handler for FM API MCC Get LD Info Opcode (5400h, tunneled)
func (s *Switch) mccInfo(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Get LD Info. PPID: %d", p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	if p.MLD == nil {
		s.log.Warn("ERR: Port not connected to an MLD")
	} else {
		obj := fmapi.MccInfoRsp{
			Size: p.MLD.MemorySize,
			Num:  p.MLD.Num,
			EPC:  p.MLD.EPC,
			TTR:  p.MLD.TTR,
		}

		n, err := obj.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// Handler for FM API MCC Get LD Allocations Opcode (5401h, tunneled)
func (s *Switch) mccGetLDAlloc(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	obj := fmapi.MccAllocGetReq{}
	if _, err := obj.Deserialize(req[fmapi.HdrLen:]); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Get LD Allocations. PPID: %d", p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	switch {
	case p.MLD == nil:
		s.log.Warn("ERR: Port not connected to an MLD")

	case uint16(obj.Start) > p.MLD.Num:
		s.log.Warnf("ERR: Requested start LDID exceeds number of logical devices on this MLD. Start: %d Actual: %d",
			obj.Start, p.MLD.Num)

	default:
		out := fmapi.MccAllocGetRsp{
			Total:       uint8(p.MLD.Num),
			Granularity: uint8(p.MLD.Granularity),
			Start:       obj.Start,
		}

		// Truncate the window to the available tail.
		end := uint(p.MLD.Num)
		if uint(obj.Limit) < end-uint(obj.Start) {
			end = uint(obj.Start) + uint(obj.Limit)
		}

		for i := uint(obj.Start); i < end; i++ {
			out.List = append(out.List, fmapi.MccAllocEntry{Rng1: p.MLD.Rng1[i], Rng2: p.MLD.Rng2[i]})
		}

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// Handler for FM API MCC Set LD Allocations Opcode (5402h, tunneled)
func (s *Switch) mccSetLDAlloc(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	obj := fmapi.MccAllocSet{}
	if _, err := obj.Deserialize(req[fmapi.HdrLen:]); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Set LD Allocations. PPID: %d", p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	switch {
	case p.MLD == nil:
		s.log.Warn("ERR: Port not connected to an MLD")

	case uint16(obj.Num) > p.MLD.Num:
		s.log.Warnf("ERR: Requested number of LD entries exceeds number of LDs present. Requested: %d Present: %d",
			obj.Num, p.MLD.Num)

	case uint16(obj.Start) > p.MLD.Num:
		s.log.Warnf("ERR: Requested start LDID exceeds number of LDs present. Start: %d Present: %d",
			obj.Start, p.MLD.Num)

	case uint16(obj.Start)+uint16(obj.Num) > p.MLD.Num:
		s.log.Warnf("ERR: Requested start + num exceeds number of LDs present. End: %d Present: %d",
			uint16(obj.Start)+uint16(obj.Num), p.MLD.Num)

	default:
		s.log.Debugf("ACT: Setting LD allocations on PPID: %d", p.PPID)

		for i := 0; i < int(obj.Num); i++ {
			p.MLD.Rng1[int(obj.Start)+i] = obj.List[i].Rng1
			p.MLD.Rng2[int(obj.Start)+i] = obj.List[i].Rng2
		}

		// The response echoes the stored values.
		out := fmapi.MccAllocSet{Start: obj.Start}
		for i := 0; i < int(obj.Num); i++ {
			out.List = append(out.List, fmapi.MccAllocEntry{
				Rng1: p.MLD.Rng1[int(obj.Start)+i],
				Rng2: p.MLD.Rng2[int(obj.Start)+i],
			})
		}

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// Handler for FM API MCC Get QoS Control Opcode (5403h, tunneled)
func (s *Switch) mccGetQosCtrl(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Get QoS Control. PPID: %d", p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	if p.MLD == nil {
		s.log.Warn("ERR: Port not connected to an MLD")
	} else {
		out := qosCtrlOf(p.MLD)

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// Handler for FM API MCC Set QoS Control Opcode (5404h, tunneled)
//
// The stored values are deliberately not range checked; the device accepts
// whatever the manager programs.
func (s *Switch) mccSetQosCtrl(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	obj := fmapi.MccQosCtrl{}
	if _, err := obj.Deserialize(req[fmapi.HdrLen:]); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Set QoS Control. PPID: %d", p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	if p.MLD == nil {
		s.log.Warn("ERR: Port not connected to an MLD")
	} else {
		s.log.Debugf("ACT: Setting QoS control on PPID: %d", p.PPID)

		p.MLD.EPCEnable = obj.EPCEnable
		p.MLD.TTREnable = obj.TTREnable
		p.MLD.EgressModPcnt = obj.EgressModPcnt
		p.MLD.EgressSevPcnt = obj.EgressSevPcnt
		p.MLD.SampleInterval = obj.SampleInterval
		p.MLD.RCB = obj.RCB
		p.MLD.CompInterval = obj.CompInterval

		out := qosCtrlOf(p.MLD)

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

func qosCtrlOf(m *MLD) fmapi.MccQosCtrl {
	return fmapi.MccQosCtrl{
		EPCEnable:      m.EPCEnable,
		TTREnable:      m.TTREnable,
		EgressModPcnt:  m.EgressModPcnt,
		EgressSevPcnt:  m.EgressSevPcnt,
		SampleInterval: m.SampleInterval,
		RCB:            m.RCB,
		CompInterval:   m.CompInterval,
	}
}

// Handler for FM API MCC Get QoS Status Opcode (5405h, tunneled)
func (s *Switch) mccGetQosStat(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Get QoS Status. PPID: %d", p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	if p.MLD == nil {
		s.log.Warn("ERR: Port not connected to an MLD")
	} else {
		out := fmapi.MccQosStatRsp{BPAvgPcnt: p.MLD.BPAvgPcnt}

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// Handler for FM API MCC Get QoS Allocated BW Opcode (5406h, tunneled)
func (s *Switch) mccGetQosAlloc(p *Port, req []byte, rsp []byte) int {
	return s.mccGetQosBw(p, req, rsp, "Allocated", func(m *MLD) *[fmapi.MaxNumLD]uint8 { return &m.AllocBW })
}

// Handler for FM API MCC Set QoS Allocated BW Opcode (5407h, tunneled)
func (s *Switch) mccSetQosAlloc(p *Port, req []byte, rsp []byte) int {
	return s.mccSetQosBw(p, req, rsp, "Allocated", func(m *MLD) *[fmapi.MaxNumLD]uint8 { return &m.AllocBW })
}

// Handler for FM API MCC Get QoS BW Limit Opcode (5408h, tunneled)
func (s *Switch) mccGetQosLimit(p *Port, req []byte, rsp []byte) int {
	return s.mccGetQosBw(p, req, rsp, "Limit", func(m *MLD) *[fmapi.MaxNumLD]uint8 { return &m.BWLimit })
}

// Handler for FM API MCC Set QoS BW Limit Opcode (5409h, tunneled)
func (s *Switch) mccSetQosLimit(p *Port, req []byte, rsp []byte) int {
	return s.mccSetQosBw(p, req, rsp, "Limit", func(m *MLD) *[fmapi.MaxNumLD]uint8 { return &m.BWLimit })
}

// mccGetQosBw serves both bandwidth fraction reads; the window is clipped
// to the available tail.
func (s *Switch) mccGetQosBw(p *Port, req []byte, rsp []byte, kind string, field func(*MLD) *[fmapi.MaxNumLD]uint8) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	obj := fmapi.MccQosBwGetReq{}
	if _, err := obj.Deserialize(req[fmapi.HdrLen:]); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Get QoS BW %s. PPID: %d", kind, p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	if p.MLD == nil {
		s.log.Warn("ERR: Port not connected to an MLD")
	} else {
		out := fmapi.MccQosBw{Start: obj.Start}

		num := uint(obj.Num)
		if uint(obj.Start) >= uint(p.MLD.Num) {
			num = 0
		} else if uint(p.MLD.Num)-uint(obj.Start) < num {
			num = uint(p.MLD.Num) - uint(obj.Start)
		}

		values := field(p.MLD)
		for i := uint(0); i < num; i++ {
			out.List = append(out.List, values[i+uint(obj.Start)])
		}

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// mccSetQosBw serves both bandwidth fraction writes; the response echoes
// the stored values.
func (s *Switch) mccSetQosBw(p *Port, req []byte, rsp []byte, kind string, field func(*MLD) *[fmapi.MaxNumLD]uint8) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		return 0
	}

	obj := fmapi.MccQosBw{}
	if _, err := obj.Deserialize(req[fmapi.HdrLen:]); err != nil {
		return 0
	}

	s.log.Debugf("CMD: FM API MCC Set QoS BW %s. PPID: %d", kind, p.PPID)

	plen, rc := 0, fmapi.RCInvalidInput

	switch {
	case p.MLD == nil:
		s.log.Warn("ERR: Port not connected to an MLD")

	case uint16(obj.Num) > p.MLD.Num:
		s.log.Warnf("ERR: Requested number of LD entries exceeds number of LDs present. Requested: %d Present: %d",
			obj.Num, p.MLD.Num)

	case uint16(obj.Start)+uint16(obj.Num) > p.MLD.Num:
		s.log.Warnf("ERR: Requested start + number of LD entries exceeds number of LDs present. Requested: %d Present: %d",
			obj.Num, p.MLD.Num)

	default:
		s.log.Debugf("ACT: Setting QoS BW %s on PPID: %d", kind, p.PPID)

		values := field(p.MLD)
		for i := 0; i < int(obj.Num); i++ {
			values[int(obj.Start)+i] = obj.List[i]
		}

		out := fmapi.MccQosBw{Start: obj.Start}
		for i := 0; i < int(obj.Num); i++ {
			out.List = append(out.List, values[int(obj.Start)+i])
		}

		n, err := out.Serialize(rsp[fmapi.HdrLen:])
		if err != nil {
			return 0
		}
		plen, rc = n, fmapi.RCSuccess
	}

	return fillInner(rsp, &hdr, plen, rc)
}

// fillInner completes an inner response message: header in front of the
// already encoded payload.
func fillInner(rsp []byte, reqHdr *fmapi.Hdr, payloadLen int, rc uint16) int {
	hdr := fmapi.Hdr{}
	total := fmapi.FillHdr(&hdr, fmapi.CategoryRsp, reqHdr.Tag, reqHdr.Opcode, 0, payloadLen, rc, 0)
	if _, err := hdr.Serialize(rsp); err != nil {
		return 0
	}
	return total
}
