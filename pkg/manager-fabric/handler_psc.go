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

// Handler for FM API PSC Identify Switch Device Opcode (5100h)
func (s *Switch) fmopPscID(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: No request object
	s.log.Debug("CMD: FM API PSC Identify Switch Device")

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	// 6-8: Validate, act, encode the response object
	rsp := s.Identity()

	plen, rc := 0, fmapi.RCSuccess
	if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
		plen = -1
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API PSC Get Physical Port State Opcode (5101h)
func (s *Switch) fmopPscPort(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.PscPortReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API PSC Get Physical Port Status. Num: %d", req.Num)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	// 6-8: Out-of-range port ids are skipped, not rejected
	rsp := fmapi.PscPortRsp{}
	for _, id := range req.Ports {
		if uint16(id) >= s.NumPorts {
			continue
		}
		rsp.List = append(rsp.List, s.Ports[id].Info())
	}

	plen, rc := 0, fmapi.RCSuccess
	if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
		plen = -1
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API PSC Physical Port Control Opcode (5102h)
func (s *Switch) fmopPscPortCtrl(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.PscPortCtrlReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API PSC Physical Port Control. PPID: %d Opcode: %d", req.PPID, req.Opcode)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	if uint16(req.PPID) >= s.NumPorts {
		s.log.Warnf("ERR: Requested PPID exceeds number of ports present. Requested PPID: %d Present: %d", req.PPID, s.NumPorts)
	} else {
		p := &s.Ports[req.PPID]

		// 7: Perform the action
		switch req.Opcode {
		case fmapi.PortCtrlAssertPerst:
			s.log.Debugf("ACT: Asserting PERST on PPID: %d", req.PPID)
			p.Perst = 1
			rc = fmapi.RCSuccess

		case fmapi.PortCtrlDeassertPerst:
			s.log.Debugf("ACT: Deasserting PERST on PPID: %d", req.PPID)
			p.Perst = 0
			rc = fmapi.RCSuccess

		case fmapi.PortCtrlResetPPB:
			// Nothing to reset in the emulator.
			s.log.Debugf("ACT: Resetting PPID: %d", req.PPID)
			rc = fmapi.RCSuccess

		default:
			s.log.Warnf("ERR: Invalid port control action opcode. Opcode: 0x%04x", req.Opcode)
		}
	}

	// 8: The response carries no object

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API PSC Send PPB CXL.io Configuration Opcode (5103h)
func (s *Switch) fmopPscCfg(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.PscCfgReq{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API PSC CXL.io Config. PPID: %d", req.PPID)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	if uint16(req.PPID) >= s.NumPorts {
		s.log.Warnf("ERR: Requested PPID exceeds number of ports present. Requested PPID: %d Present: %d", req.PPID, s.NumPorts)
	} else {
		p := &s.Ports[req.PPID]
		reg := uint16(req.Ext)<<8 | uint16(req.Reg)

		// 7-8: Perform the access and encode the response object
		switch req.Type {
		case fmapi.CfgRead:
			s.log.Debugf("ACT: Performing CXL.io read on PPID: %d", req.PPID)

			rsp := fmapi.PscCfgRsp{}
			for i := 0; i < 4; i++ {
				if req.FDBE&(1<<i) != 0 {
					rsp.Data[i] = p.CfgSpace[int(reg)+i]
				}
			}

			if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
				plen = -1
			} else {
				rc = fmapi.RCSuccess
			}

		case fmapi.CfgWrite:
			s.log.Debugf("ACT: Performing CXL.io write on PPID: %d", req.PPID)

			for i := 0; i < 4; i++ {
				if req.FDBE&(1<<i) != 0 {
					p.CfgSpace[int(reg)+i] = req.Data[i]
				}
			}

			rsp := fmapi.PscCfgRsp{}
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
