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
	"github.com/NearNodeFlash/cxl-se/pkg/emapi"
	"github.com/NearNodeFlash/cxl-se/pkg/mctp"
)

// EMAPIHandler is the transport callback for the emulator control API
// message type.
func (s *Switch) EMAPIHandler(t *mctp.Transport, a *mctp.Action) error {
	hdr := emapi.Hdr{}
	if _, err := hdr.Deserialize(a.Req.Payload[:a.Req.Len]); err != nil {
		return err
	}

	if hdr.Type != emapi.TypeReq {
		return ErrNotRequest
	}

	switch hdr.Opcode {
	case emapi.OpEvent:
		// Events originate from the emulator; inbound ones are dropped.
		t.PutMsg(a.Req)
		return nil
	case emapi.OpListDev:
		return s.emopListDev(t, a)
	case emapi.OpConnDev:
		return s.emopConnDev(t, a)
	case emapi.OpDisconDev:
		return s.emopDisconDev(t, a)
	}

	return s.emopUnsupported(t, a)
}

// beginEmResponse mirrors beginResponse for the emulator API family.
func beginEmResponse(t *mctp.Transport, a *mctp.Action) (*emapi.Hdr, error) {
	a.Rsp = t.GetMsg()
	if a.Rsp == nil {
		return nil, ErrNoMsgBuffer
	}

	mctp.FillMsgHdr(a.Rsp, a.Req.Src, t.EID(), 0, a.Req.Tag)
	a.Rsp.Type = a.Req.Type

	reqHdr := &emapi.Hdr{}
	if _, err := reqHdr.Deserialize(a.Req.Payload[:a.Req.Len]); err != nil {
		return nil, err
	}

	return reqHdr, nil
}

// sendEmResponse mirrors sendResponse for the emulator API family.
func sendEmResponse(t *mctp.Transport, a *mctp.Action, reqHdr *emapi.Hdr, payloadLen int, rc uint16, na uint8, nb uint8) error {
	rspHdr := emapi.Hdr{}
	a.Rsp.Len = emapi.FillHdr(&rspHdr, emapi.TypeRsp, reqHdr.Tag, rc, reqHdr.Opcode, payloadLen, na, nb)
	if _, err := rspHdr.Serialize(a.Rsp.Payload); err != nil {
		return err
	}

	t.PushTransmit(a)

	return nil
}

// Handler for EM API List Devices Opcode (0001h)
func (s *Switch) emopListDev(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginEmResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Extract parameters from the header's user bytes
	numRequested := int(reqHdr.A)
	start := int(reqHdr.B)

	s.log.Debugf("CMD: EM API List Devices. Start: %d Num: %d", start, numRequested)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, emapi.RCInvalidInput
	count := 0

	// 6: Validate inputs; zero means every remaining device
	numDevices := s.numDevices()
	if numRequested == 0 {
		numRequested = numDevices - start
	}

	if start >= numDevices {
		s.log.Warnf("ERR: Start num out of range. Start: %d Total: %d", start, numDevices)
	} else {
		if start+numRequested >= numDevices {
			numRequested = numDevices - start
		}

		// 7-8: Pack one record per device
		s.log.Debugf("ACT: Responding with %d devices", numRequested)

		for i := 0; i < numRequested; i++ {
			d := &s.Devices[start+i]

			off, err := emapi.AppendDeviceListEntry(a.Rsp.Payload[emapi.HdrLen:], plen, emapi.DeviceListEntry{
				ID:   uint8(start + i),
				Name: d.Name,
			})
			if err != nil {
				break
			}
			plen = off
			count++
		}

		rc = emapi.RCSuccess
	}

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendEmResponse(t, a, reqHdr, plen, rc, uint8(count), 0)
}

// Handler for EM API Connect Device Opcode (0002h)
func (s *Switch) emopConnDev(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginEmResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Extract parameters from the header's user bytes
	ppid := reqHdr.A
	dev := int(reqHdr.B)

	s.log.Debugf("CMD: EM API Connect Device. PPID: %d Device: %d", ppid, dev)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, emapi.RCInvalidInput

	// 6: Validate inputs
	switch {
	case uint16(ppid) >= s.NumPorts:
		s.log.Warnf("ERR: PPID out of range. PPID: %d Total: %d", ppid, s.NumPorts)

	case dev >= s.numDevices():
		s.log.Warnf("ERR: Device ID out of range. Device ID: %d Total: %d", dev, s.numDevices())

	case s.Devices[dev].Name == "":
		s.log.Warnf("ERR: Device catalog slot is empty. Device ID: %d", dev)

	default:
		// 7: Perform the action
		s.log.Debugf("ACT: Connecting device %d to PPID %d", dev, ppid)

		if err := s.Connect(&s.Ports[ppid], &s.Devices[dev]); err != nil {
			s.log.WithError(err).Warnf("ERR: Connect failed. PPID: %d Device: %d", ppid, dev)
		} else {
			rc = emapi.RCSuccess
		}
	}

	// 8: The response carries no object

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendEmResponse(t, a, reqHdr, plen, rc, 0, 0)
}

// Handler for EM API Disconnect Device Opcode (0003h)
func (s *Switch) emopDisconDev(t *mctp.Transport, a *mctp.Action) error {
	// 1-3: Checkout and address the response, decode the request header
	reqHdr, err := beginEmResponse(t, a)
	if err != nil {
		return err
	}

	// 4: Extract parameters from the header's user bytes
	ppid := reqHdr.A
	all := reqHdr.B != 0

	s.log.Debugf("CMD: EM API Disconnect Device. PPID: %d All: %t", ppid, all)

	// 5: Obtain the lock on the switch state
	s.mtx.Lock()

	plen, rc := 0, emapi.RCInvalidInput

	// 6: Validate inputs
	start, end := int(ppid), int(ppid)+1
	if all {
		start, end = 0, int(s.NumPorts)
	}

	if start >= int(s.NumPorts) {
		s.log.Warnf("ERR: PPID out of range. PPID: %d Total: %d", ppid, s.NumPorts)
	} else {
		// 7: Disconnect every selected port that has a device present
		for i := start; i < end; i++ {
			if s.Ports[i].Prsnt == 1 {
				s.log.Debugf("ACT: Disconnecting PPID %d", i)
				s.Disconnect(&s.Ports[i])
			}
		}

		rc = emapi.RCSuccess
	}

	// 8: The response carries no object

	// 9: Release the lock, complete and enqueue the response
	s.mtx.Unlock()

	return sendEmResponse(t, a, reqHdr, plen, rc, 0, 0)
}

// Handler for unknown EM API opcodes
func (s *Switch) emopUnsupported(t *mctp.Transport, a *mctp.Action) error {
	reqHdr, err := beginEmResponse(t, a)
	if err != nil {
		return err
	}

	s.log.Warnf("CMD: EM API unsupported opcode 0x%04x", reqHdr.Opcode)

	return sendEmResponse(t, a, reqHdr, 0, emapi.RCUnsupported, 0, 0)
}
