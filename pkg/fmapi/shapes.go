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

// ReqObject returns a fresh request payload object for opcode, or false when
// the opcode is not part of the externally visible command set. MCC opcodes
// overlap the MPC numbering and are resolved by TunneledReqObject instead.
func ReqObject(opcode uint16) (Object, bool) {
	switch opcode {
	case OpIscID, OpIscBos, OpIscMsgLimitGet, OpPscID:
		return &Empty{}, true
	case OpIscMsgLimitSet:
		return &IscMsgLimit{}, true
	case OpPscPort:
		return &PscPortReq{}, true
	case OpPscPortCtrl:
		return &PscPortCtrlReq{}, true
	case OpPscCfg:
		return &PscCfgReq{}, true
	case OpVscInfo:
		return &VscInfoReq{}, true
	case OpVscBind:
		return &VscBindReq{}, true
	case OpVscUnbind:
		return &VscUnbindReq{}, true
	case OpVscAer:
		return &VscAerReq{}, true
	case OpMpcCfg:
		return &MpcCfgReq{}, true
	case OpMpcMem:
		return &MpcMemReq{}, true
	case OpMpcTmc:
		return &MpcTmcReq{}, true
	}
	return nil, false
}

// RspObject returns a fresh response payload object for opcode, or false
// when the opcode is not part of the externally visible command set.
func RspObject(opcode uint16) (Object, bool) {
	switch opcode {
	case OpIscID:
		return &IscIDRsp{}, true
	case OpIscBos:
		return &IscBosRsp{}, true
	case OpIscMsgLimitGet, OpIscMsgLimitSet:
		return &IscMsgLimit{}, true
	case OpPscID:
		return &PscIDRsp{}, true
	case OpPscPort:
		return &PscPortRsp{}, true
	case OpPscPortCtrl:
		return &Empty{}, true
	case OpPscCfg:
		return &PscCfgRsp{}, true
	case OpVscInfo:
		return &VscInfoRsp{}, true
	case OpVscBind, OpVscUnbind, OpVscAer:
		return &Empty{}, true
	case OpMpcCfg:
		return &MpcCfgRsp{}, true
	case OpMpcMem:
		return &MpcMemRsp{}, true
	case OpMpcTmc:
		return &MpcTmcRsp{}, true
	}
	return nil, false
}

// TunneledReqObject returns a fresh request payload object for an MCC opcode
// observed inside a Tunnel Management Command.
func TunneledReqObject(opcode uint16) (Object, bool) {
	switch opcode {
	case OpMccInfo, OpMccQosCtrlGet, OpMccQosStat:
		return &Empty{}, true
	case OpMccAllocGet:
		return &MccAllocGetReq{}, true
	case OpMccAllocSet:
		return &MccAllocSet{}, true
	case OpMccQosCtrlSet:
		return &MccQosCtrl{}, true
	case OpMccQosBwAllocGet, OpMccQosBwLimitGet:
		return &MccQosBwGetReq{}, true
	case OpMccQosBwAllocSet, OpMccQosBwLimitSet:
		return &MccQosBw{}, true
	}
	return nil, false
}

// TunneledRspObject returns a fresh response payload object for an MCC
// opcode observed inside a Tunnel Management Command.
func TunneledRspObject(opcode uint16) (Object, bool) {
	switch opcode {
	case OpMccInfo:
		return &MccInfoRsp{}, true
	case OpMccAllocGet:
		return &MccAllocGetRsp{}, true
	case OpMccAllocSet:
		return &MccAllocSet{}, true
	case OpMccQosCtrlGet, OpMccQosCtrlSet:
		return &MccQosCtrl{}, true
	case OpMccQosStat:
		return &MccQosStatRsp{}, true
	case OpMccQosBwAllocGet, OpMccQosBwAllocSet, OpMccQosBwLimitGet, OpMccQosBwLimitSet:
		return &MccQosBw{}, true
	}
	return nil, false
}
