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

import (
	"golang.org/x/sys/unix"

	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
	"github.com/NearNodeFlash/cxl-se/pkg/mctp"
)

// Handler for FM API MPC Send LD CXL.io Configuration Opcode (5400h)
func (s *Switch) fmopMpcCfg(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.MpcCfgReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API MPC LD CXL.io Config. PPID: %d LDID: %d", req.PPID, req.LDID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	if ok := s.validateMpcTarget(req.PPID, req.LDID); ok {
		p := &s.Ports[req.PPID]
		cfg := p.MLD.CfgSpaces[req.LDID]
		reg := uint16(req.Ext)<<8 | uint16(req.Reg)

		// 7-8: Perform the access and encode the response object
		switch req.Type {
		case fmapi.CfgRead:
			s.log.Debugf("ACT: Performing CXL.io read on PPID: %d LDID: %d", req.PPID, req.LDID)

			rsp := fmapi.MpcCfgRsp{}
			for i := 0; i < 4; i++ {
				if req.FDBE&(1<<i) != 0 {
					rsp.Data[i] = cfg[int(reg)+i]
				}
			}

			if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
				plen = -1
			} else {
				rc = fmapi.RCSuccess
			}

		case fmapi.CfgWrite:
			s.log.Debugf("ACT: Performing CXL.io write on PPID: %d LDID: %d", req.PPID, req.LDID)

			for i := 0; i < 4; i++ {
				if req.FDBE&(1<<i) != 0 {
					cfg[int(reg)+i] = req.Data[i]
				}
			}

			rsp := fmapi.MpcCfgRsp{}
			if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
				plen = -1
			} else {
				rc = fmapi.RCSuccess
			}

		default:
			s.log.Warnf("ERR: Invalid CXL.io access type: %d", req.Type)
		}
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// validateMpcTarget checks that ppid names a port attached to a Type 3
// device and ldid one of its logical devices. Lock held by caller.
func (s *Switch) validateMpcTarget(ppid uint8, ldid uint16) bool {
	if uint16(ppid) >= s.NumPorts {
		s.log.Warnf("ERR: Invalid port number requested. PPID: %d", ppid)
		return false
	}
	p := &s.Ports[ppid]

	if !p.DT.IsType3() {
		s.log.Warnf("ERR: Port is not a Type 3 device. Type: %s", p.DT)
		return false
	}

	if ldid >= uint16(p.LD) {
		s.log.Warnf("ERR: Requested LD ID exceeds supported LD count of specified port. Requested LDID: %d", ldid)
		return false
	}

	return true
}

// Handler for FM API MPC Send LD CXL.io Memory Request Opcode (5401h)
func (s *Switch) fmopMpcMem(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.MpcMemReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API MPC LD CXL.io Mem. PPID: %d LDID: %d", req.PPID, req.LDID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	p, base, ok := s.validateMemAccess(&req, &rc)
	if ok {
		// 7-8: Perform the access and encode the response object
		switch req.Type {
		case fmapi.CfgRead:
			s.log.Debugf("ACT: Performing CXL.io MEM read on PPID: %d LDID: %d", req.PPID, req.LDID)

			rsp := fmapi.MpcMemRsp{Len: req.Len}
			rsp.Data = make([]byte, req.Len)
			copy(rsp.Data, p.MLD.MemSpace[base+req.Offset:base+req.Offset+req.Len])

			if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
				plen = -1
			} else {
				rc = fmapi.RCSuccess
			}

		case fmapi.CfgWrite:
			s.log.Debugf("ACT: Performing CXL.io MEM write on PPID: %d LDID: %d", req.PPID, req.LDID)

			copy(p.MLD.MemSpace[base+req.Offset:base+req.Offset+req.Len], req.Data)

			// The response is the durability boundary for the write.
			if err := unix.Msync(p.MLD.MemSpace, unix.MS_SYNC); err != nil {
				s.log.WithError(err).Warnf("Could not sync backing memory for port %d", req.PPID)
			}

			rsp := fmapi.MpcMemRsp{Len: 0}
			if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
				plen = -1
			} else {
				rc = fmapi.RCSuccess
			}

		default:
			s.log.Warnf("ERR: Invalid CXL.io MEM access type: %d", req.Type)
		}
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// validateMemAccess applies the memory access predicates and computes the
// byte offset of the LD's range within the backing memory. A port without
// backing memory fails with UNSUPPORTED rather than INVALID_INPUT. Lock
// held by caller.
func (s *Switch) validateMemAccess(req *fmapi.MpcMemReq, rc *uint16) (*Port, uint64, bool) {
	if !s.validateMpcTarget(req.PPID, req.LDID) {
		return nil, 0, false
	}
	p := &s.Ports[req.PPID]

	if p.MLD == nil || p.MLD.MemSpace == nil {
		s.log.Warnf("ERR: Requested port does not have memory space. Port: %d", req.PPID)
		*rc = fmapi.RCUnsupported
		return nil, 0, false
	}

	if req.Len > 4096 {
		s.log.Warnf("ERR: Requested length exceeds maximum length supported (4096B). Requested Len: %d", req.Len)
		return nil, 0, false
	}

	granularity := p.MLD.Granularity.Bytes()
	base := granularity * p.MLD.Rng1[req.LDID]
	max := granularity * (p.MLD.Rng2[req.LDID] + 1)
	ldSize := max - base

	if req.Offset+req.Len >= ldSize {
		s.log.Warnf("ERR: Requested offset + length exceeds maximum size of LD. LD max size: %d Requested up to byte: %d",
			ldSize, req.Offset+req.Len)
		return nil, 0, false
	}

	return p, base, true
}

// Handler for FM API MPC Tunnel Management Command Opcode (5402h)
//
// The inner MCC handlers are called directly with the lock already held;
// they never re-acquire it.
func (s *Switch) fmopMpcTmc(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.MpcTmcReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API MPC Tunneled Management Command. PPID: %d", req.PPID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	ok := true
	if req.Type != mctp.TypeCXLCCI {
		s.log.Warnf("ERR: Tunneled command did not have a CXL CCI MCTP type code. Type: 0x%02x", req.Type)
		ok = false
	} else if uint16(req.PPID) >= s.NumPorts {
		s.log.Warnf("ERR: Invalid port number requested. PPID: %d", req.PPID)
		ok = false
	} else if !s.Ports[req.PPID].DT.IsType3() {
		s.log.Warnf("ERR: Port is not a Type 3 device. Type: %s", s.Ports[req.PPID].DT)
		ok = false
	}

	if ok {
		p := &s.Ports[req.PPID]

		// 7: Dispatch the inner message to its MCC handler
		inner := make([]byte, mctp.MaxMsgSize)
		innerLen := s.tunnelDispatch(p, req.Msg, inner)

		// 8: Encode the response object around the inner response
		rsp := fmapi.MpcTmcRsp{
			PPID: req.PPID,
			Type: req.Type,
			Msg:  inner[:innerLen],
		}

		if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
			plen = -1
		} else {
			rc = fmapi.RCSuccess
		}
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// tunnelDispatch decodes the inner application header and routes the inner
// message to the matching MCC handler, returning the length of the inner
// response message. Non-requests and unknown opcodes produce an inner
// header-only response with INVALID_INPUT or UNSUPPORTED. Lock held by
// caller.
func (s *Switch) tunnelDispatch(p *Port, req []byte, rsp []byte) int {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(req); err != nil {
		s.log.WithError(err).Warn("ERR: Tunneled FM API message header did not decode")
		return 0
	}

	if hdr.Category != fmapi.CategoryReq {
		s.log.Warnf("ERR: Tunneled FM API message category is not a request. Category: %d", hdr.Category)
		return fillInnerFailure(rsp, &hdr, fmapi.RCInvalidInput)
	}

	switch hdr.Opcode {
	case fmapi.OpMccInfo:
		return s.mccInfo(p, req, rsp)
	case fmapi.OpMccAllocGet:
		return s.mccGetLDAlloc(p, req, rsp)
	case fmapi.OpMccAllocSet:
		return s.mccSetLDAlloc(p, req, rsp)
	case fmapi.OpMccQosCtrlGet:
		return s.mccGetQosCtrl(p, req, rsp)
	case fmapi.OpMccQosCtrlSet:
		return s.mccSetQosCtrl(p, req, rsp)
	case fmapi.OpMccQosStat:
		return s.mccGetQosStat(p, req, rsp)
	case fmapi.OpMccQosBwAllocGet:
		return s.mccGetQosAlloc(p, req, rsp)
	case fmapi.OpMccQosBwAllocSet:
		return s.mccSetQosAlloc(p, req, rsp)
	case fmapi.OpMccQosBwLimitGet:
		return s.mccGetQosLimit(p, req, rsp)
	case fmapi.OpMccQosBwLimitSet:
		return s.mccSetQosLimit(p, req, rsp)
	}

	s.log.Warnf("ERR: Tunneled FM API message has an invalid opcode. Opcode: 0x%04x", hdr.Opcode)
	return fillInnerFailure(rsp, &hdr, fmapi.RCUnsupported)
}

// fillInnerFailure writes a header-only inner response with the given
// return code.
func fillInnerFailure(rsp []byte, reqHdr *fmapi.Hdr, rc uint16) int {
	hdr := fmapi.Hdr{}
	total := fmapi.FillHdr(&hdr, fmapi.CategoryRsp, reqHdr.Tag, reqHdr.Opcode, 0, 0, rc, 0)
	if _, err := hdr.Serialize(rsp); err != nil {
		return 0
	}
	return total
}
