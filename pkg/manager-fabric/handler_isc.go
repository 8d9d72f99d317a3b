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

// Handler for FM API ISC Background Operation Status Opcode (0002h)
func (s *Switch) fmopIscBos(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: No request object
	s.log.Debug("CMD: FM API ISC Background Operation Status")

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	// 6-8: Validate, act, encode the response object
	rsp := fmapi.IscBosRsp{
		Running: s.BOS.Running,
		Pcnt:    s.BOS.Pcnt,
		Opcode:  s.BOS.Opcode,
		RC:      s.BOS.RC,
		Ext:     s.BOS.Ext,
	}

	plen, rc := 0, fmapi.RCSuccess
	if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
		plen = -1
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API ISC Identify Opcode (0001h)
func (s *Switch) fmopIscID(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: No request object
	s.log.Debug("CMD: FM API ISC Identify")

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	// 6-8: Validate, act, encode the response object
	rsp := fmapi.IscIDRsp{
		VID:  s.VID,
		DID:  s.DID,
		SVID: s.SVID,
		SSID: s.SSID,
		SN:   s.SN,
		Size: s.MaxMsgSizeN,
	}

	plen, rc := 0, fmapi.RCSuccess
	if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
		plen = -1
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API ISC Get Response Message Limit Opcode (0003h)
func (s *Switch) fmopIscMsgLimitGet(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: No request object
	s.log.Debug("CMD: FM API ISC Get Response Message Limit")

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	// 6-8: Validate, act, encode the response object
	rsp := fmapi.IscMsgLimit{Limit: s.MsgRspLimitN}

	plen, rc := 0, fmapi.RCSuccess
	if plen, err = rsp.Serialize(a.Rsp.Payload[fmapi.HdrLen:]); err != nil {
		plen = -1
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendResponse(t, a, reqHdr, plen, rc)
}

// Handler for FM API ISC Set Response Message Limit Opcode (0004h)
func (s *Switch) fmopIscMsgLimitSet(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Deserialize the request object
	req := fmapi.IscMsgLimit{}
	if _, err := req.Deserialize(a.Req.Payload[fmapi.HdrLen:a.Req.Len]); err != nil {
		return err
	}

	s.log.Debugf("CMD: FM API ISC Set Response Message Limit. Limit: %d", req.Limit)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, fmapi.RCInvalidInput

	// 6: Validate inputs
	if req.Limit < 8 || req.Limit > 20 {
		s.log.Warnf("ERR: Requested message response limit outside allowed values. Requested: %d min: 8 max: 20", req.Limit)
	} else {
		// 7: Perform the action
		s.MsgRspLimitN = req.Limit

		// 8: Encode the response object
		rsp := fmapi.IscMsgLimit{Limit: s.MsgRspLimitN}
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
