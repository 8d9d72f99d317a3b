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
	"errors"
	"fmt"

	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
	"github.com/NearNodeFlash/cxl-se/pkg/mctp"
)

// ErrNoMsgBuffer reports an exhausted transport message pool; the request
// fails with a completion code instead of a response.
var ErrNoMsgBuffer = errors.New("fabric: no response message buffer")

// ErrNotRequest reports a frame whose application header is not a request.
var ErrNotRequest = errors.New("fabric: message is not a request")

// ErrEncode reports a response object that failed to serialize after the
// model was already updated; no partial response is ever emitted.
var ErrEncode = errors.New("fabric: response encoding failed")

// fmHandler is an outer FM API opcode handler: it owns the full request
// pipeline including the model lock.
type fmHandler func(s *Switch, t *mctp.Transport, a *mctp.Action) error

// fmHandlers is the static (opcode → handler) table for the FM API family.
// Opcodes not present route to the unsupported handler.
var fmHandlers = map[uint16]fmHandler{
	fmapi.OpIscID:          (*Switch).fmopIscID,
	fmapi.OpIscBos:         (*Switch).fmopIscBos,
	fmapi.OpIscMsgLimitGet: (*Switch).fmopIscMsgLimitGet,
	fmapi.OpIscMsgLimitSet: (*Switch).fmopIscMsgLimitSet,
	fmapi.OpPscID:          (*Switch).fmopPscID,
	fmapi.OpPscPort:        (*Switch).fmopPscPort,
	fmapi.OpPscPortCtrl:    (*Switch).fmopPscPortCtrl,
	fmapi.OpPscCfg:         (*Switch).fmopPscCfg,
	fmapi.OpVscInfo:        (*Switch).fmopVscInfo,
	fmapi.OpVscBind:        (*Switch).fmopVscBind,
	fmapi.OpVscUnbind:      (*Switch).fmopVscUnbind,
	fmapi.OpVscAer:         (*Switch).fmopVscAer,
	fmapi.OpMpcCfg:         (*Switch).fmopMpcCfg,
	fmapi.OpMpcMem:         (*Switch).fmopMpcMem,
	fmapi.OpMpcTmc:         (*Switch).fmopMpcTmc,
}

// FMAPIHandler is the transport callback for the CXL Fabric Management API
// message type. It decodes only the outer application header, rejects
// non-requests, and routes the action to the opcode's handler.
func (s *Switch) FMAPIHandler(t *mctp.Transport, a *mctp.Action) error {
	hdr := fmapi.Hdr{}
	if _, err := hdr.Deserialize(a.Req.Payload[:a.Req.Len]); err != nil {
		return err
	}

	if hdr.Category != fmapi.CategoryReq {
		return ErrNotRequest
	}

	h, ok := fmHandlers[hdr.Opcode]
	if !ok {
		return s.fmopUnsupported(t, a)
	}

	return h(s, t, a)
}

// fmopUnsupported answers any unknown FM API opcode with an empty
// UNSUPPORTED response.
func (s *Switch) fmopUnsupported(t *mctp.Transport, a *mctp.Action) error {
	// 1: Checkout a response message buffer
	a.Rsp = t.GetMsg()
	if a.Rsp == nil {
		return ErrNoMsgBuffer
	}

	// 2: Fill the response transport header
	mctp.FillMsgHdr(a.Rsp, a.Req.Src, t.EID(), 0, a.Req.Tag)
	a.Rsp.Type = a.Req.Type

	// 3: Deserialize the request header
	reqHdr := fmapi.Hdr{}
	if _, err := reqHdr.Deserialize(a.Req.Payload[:a.Req.Len]); err != nil {
		return err
	}

	s.log.Warnf("CMD: FM API unsupported opcode 0x%04x", reqHdr.Opcode)

	// 15/16: Fill and serialize the response header, then transmit
	rspHdr := fmapi.Hdr{}
	a.Rsp.Len = fmapi.FillHdr(&rspHdr, fmapi.CategoryRsp, reqHdr.Tag, reqHdr.Opcode, 0, 0, fmapi.RCUnsupported, 0)
	if _, err := rspHdr.Serialize(a.Rsp.Payload); err != nil {
		return err
	}

	t.PushTransmit(a)

	return nil
}

// sendResponse performs the common response tail of every handler: fill the
// application response header in front of the already encoded payload and
// hand the action to the transmit queue.
func sendResponse(t *mctp.Transport, a *mctp.Action, reqHdr *fmapi.Hdr, payloadLen int, rc uint16) error {
	if payloadLen < 0 {
		return fmt.Errorf("%w: opcode 0x%04x", ErrEncode, reqHdr.Opcode)
	}

	rspHdr := fmapi.Hdr{}
	a.Rsp.Len = fmapi.FillHdr(&rspHdr, fmapi.CategoryRsp, reqHdr.Tag, reqHdr.Opcode, 0, payloadLen, rc, 0)
	if _, err := rspHdr.Serialize(a.Rsp.Payload); err != nil {
		return err
	}

	t.PushTransmit(a)

	return nil
}

// beginResponse performs the common entry of every handler: check a
// response buffer out of the pool, address it, and decode the request's
// application header.
func beginResponse(t *mctp.Transport, a *mctp.Action) (*fmapi.Hdr, error) {
	a.Rsp = t.GetMsg()
	if a.Rsp == nil {
		return nil, ErrNoMsgBuffer
	}

	mctp.FillMsgHdr(a.Rsp, a.Req.Src, t.EID(), 0, a.Req.Tag)
	a.Rsp.Type = a.Req.Type

	reqHdr := &fmapi.Hdr{}
	if _, err := reqHdr.Deserialize(a.Req.Payload[:a.Req.Len]); err != nil {
		return nil, err
	}

	return reqHdr, nil
}
