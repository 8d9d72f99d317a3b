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
	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
	"github.com/NearNodeFlash/cxl-se/pkg/mctp"
)

// Handler for FM API VSC Get Virtual CXL Switch Info Opcode (5300h)
func (s *Switch) fmopVscInfo(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.VscInfoReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API VSC Get Virtual Switch Info. Num: %d", req.Num)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	// 6-8: Out-of-range VCS ids are skipped; the block count is capped
	rsp := fmapi.VscInfoRsp{}
	for _, id := range req.VCSs {
		if len(rsp.List) >= fmapi.MaxVCSInfoBlocks {
			break
		}
		if uint16(id) >= s.NumVCSs {
			continue
		}
		rsp.List = append(rsp.List, s.VCSs[id].InfoBlk(req.VPPBStart, req.VPPBLimit))
	}

	plen, rc := 0, fmapi.RCSuccess
	if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
		plen = -1
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API VSC Bind vPPB Opcode (5301h)
func (s *Switch) fmopVscBind(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.VscBindReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API VSC Bind vPPB. VCSID: %d vPPBID: %d PPID: %d LDID: 0x%04x",
		req.VCSID, req.VPPBID, req.PPID, req.LDID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	ok := s.validateBind(&req)
	if ok {
		v := &s.VCSs[req.VCSID]
		b := &v.VPPBs[req.VPPBID]
		p := &s.Ports[req.PPID]

		// 7: Perform the action
		s.log.Debugf("ACT: Binding VCSID: %d vPPBID: %d PPID: %d LDID: 0x%04x",
			req.VCSID, req.VPPBID, req.PPID, req.LDID)

		if req.LDID != fmapi.LDIDWholePort {
			b.BindStatus = fmapi.BindStatusBoundLD
			b.PPID = req.PPID
			b.LDID = req.LDID
		} else {
			b.BindStatus = fmapi.BindStatusBoundPort
			b.PPID = req.PPID
			b.LDID = 0
		}

		p.State = fmapi.PortStateDSP

		// The bind is nominally a background operation; it completes here
		// and the status block already reports it done.
		s.BOS = BosStatus{Running: 0, Pcnt: 100, Opcode: reqHdr.Opcode, RC: fmapi.RCSuccess, Ext: 0}

		// 8: The response carries no object
		rc = fmapi.RCBackgroundOpStarted
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// validateBind applies the bind predicates in order; the first failure is
// logged and rejects the request. Lock held by caller.
func (s *Switch) validateBind(req *fmapi.VscBindReq) bool {
	if uint16(req.VCSID) >= s.NumVCSs {
		s.log.Warnf("ERR: VCS ID out of range. VCSID: %d", req.VCSID)
		return false
	}
	v := &s.VCSs[req.VCSID]

	if req.VPPBID >= v.Num {
		s.log.Warnf("ERR: vPPB ID out of range. vPPBID: %d", req.VPPBID)
		return false
	}
	b := &v.VPPBs[req.VPPBID]

	if uint16(req.PPID) >= s.NumPorts {
		s.log.Warnf("ERR: PPID out of range. PPID: %d", req.PPID)
		return false
	}
	p := &s.Ports[req.PPID]

	if p.State == fmapi.PortStateDisabled {
		s.log.Warnf("ERR: Port is in a disabled state. PPID: %d State: %s", req.PPID, p.State)
		return false
	}

	// An LD-scoped bind requires a Type 3 device behind the port.
	if req.LDID != fmapi.LDIDWholePort && !p.DT.IsType3() {
		s.log.Warn("ERR: Bind to an MLD LD requested and specified port is not attached to a Type 3 device")
		return false
	}

	// An MLD port can only be bound LD by LD.
	if p.LD > 0 && req.LDID == fmapi.LDIDWholePort {
		s.log.Warn("ERR: Cannot bind to the physical port of an MLD device")
		return false
	}

	if req.LDID != fmapi.LDIDWholePort && p.LD == 0 {
		s.log.Warn("ERR: Specified port does not support multiple logical devices")
		return false
	}

	if b.BindStatus != fmapi.BindStatusUnbound {
		s.log.Warnf("ERR: Specified vPPB is not available to be bound. vPPBID: %d Status: %s", req.VPPBID, b.BindStatus)
		return false
	}

	return true
}

// Handler for FM API VSC Unbind vPPB Opcode (5302h)
func (s *Switch) fmopVscUnbind(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.VscUnbindReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API VSC Unbind vPPB. VCSID: %d vPPBID: %d", req.VCSID, req.VPPBID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	if ok := s.validateUnbind(&req); ok {
		b := &s.VCSs[req.VCSID].VPPBs[req.VPPBID]

		// 7: Perform the action
		s.log.Debugf("ACT: Unbinding VCSID: %d vPPBID: %d", req.VCSID, req.VPPBID)

		b.BindStatus = fmapi.BindStatusUnbound
		b.PPID = 0
		b.LDID = 0

		s.BOS = BosStatus{Running: 0, Pcnt: 100, Opcode: reqHdr.Opcode, RC: fmapi.RCSuccess, Ext: 0}

		// 8: The response carries no object
		rc = fmapi.RCBackgroundOpStarted
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// validateUnbind applies the unbind predicates in order. A vPPB recorded as
// bound to a port that no longer exists is forced back to unbound, matching
// the recovery behavior of the reference switch. Lock held by caller.
func (s *Switch) validateUnbind(req *fmapi.VscUnbindReq) bool {
	if uint16(req.VCSID) >= s.NumVCSs {
		s.log.Warnf("ERR: VCS ID out of range. VCSID: %d", req.VCSID)
		return false
	}
	v := &s.VCSs[req.VCSID]

	if req.VPPBID >= v.Num {
		s.log.Warnf("ERR: vPPB ID out of range. vPPBID: %d", req.VPPBID)
		return false
	}
	b := &v.VPPBs[req.VPPBID]

	if b.BindStatus == fmapi.BindStatusUnbound || b.BindStatus == fmapi.BindStatusInProgress {
		s.log.Warnf("ERR: vPPB was not bound. vPPBID: %d", req.VPPBID)
		return false
	}

	if uint16(b.PPID) >= s.NumPorts {
		s.log.Warnf("ERR: PPID of bound port out of range. PPID: %d", b.PPID)
		b.BindStatus = fmapi.BindStatusUnbound
		return false
	}
	p := &s.Ports[b.PPID]

	switch p.State {
	case fmapi.PortStateBinding, fmapi.PortStateUnbinding, fmapi.PortStateUSP, fmapi.PortStateDSP:
		return true
	}

	s.log.Warnf("ERR: Port is not in a bound state. PPID: %d State: %s", b.PPID, p.State)
	return false
}

// Handler for FM API VSC Generate AER Event Opcode (5303h)
func (s *Switch) fmopVscAer(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.VscAerReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API VSC Generate AER Event. VCSID: %d vPPBID: %d", req.VCSID, req.VPPBID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	if uint16(req.VCSID) >= s.NumVCSs {
		s.log.Warnf("ERR: Requested VCSID exceeds number of VCSs present. Requested VCSID: %d Present: %d", req.VCSID, s.NumVCSs)
	} else if req.VPPBID >= s.VCSs[req.VCSID].Num {
		s.log.Warnf("ERR: Requested vPPBID exceeds number of vPPBs present in requested VCS. Requested vPPBID: %d Present: %d",
			req.VPPBID, s.VCSs[req.VCSID].Num)
	} else {
		// 7: There is no error injection to emulate; log only
		s.log.Infof("ACT: Generating AER on VCSID: %d vPPBID: %d Error: 0x%08x", req.VCSID, req.VPPBID, req.ErrorType)

		// 8: The response carries no object
		rc = fmapi.RCSuccess
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}
