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

// Package fmapi implements the CXL 2.0 Fabric Management API wire protocol:
// the 12-byte message header and the per-opcode request and response payloads
// for the ISC, PSC, VSC, MPC and MCC command sets. All encodings are
// little-endian and bit-exact; fixed shapes are expressed as structex
// annotated structures, counted lists are composed from fixed blocks.
package fmapi

import (
	"bytes"
	"errors"

	"github.com/HewlettPackard/structex"
)

// Message categories carried in the header's low nibble.
const (
	CategoryReq uint8 = 0
	CategoryRsp uint8 = 1
)

// Command opcodes. The MCC set shares numbering with the MPC set; MCC
// opcodes are only ever observed inside a Tunnel Management Command payload.
const (
	OpIscID            uint16 = 0x0001
	OpIscBos           uint16 = 0x0002
	OpIscMsgLimitGet   uint16 = 0x0003
	OpIscMsgLimitSet   uint16 = 0x0004
	OpPscID            uint16 = 0x5100
	OpPscPort          uint16 = 0x5101
	OpPscPortCtrl      uint16 = 0x5102
	OpPscCfg           uint16 = 0x5103
	OpVscInfo          uint16 = 0x5300
	OpVscBind          uint16 = 0x5301
	OpVscUnbind        uint16 = 0x5302
	OpVscAer           uint16 = 0x5303
	OpMpcCfg           uint16 = 0x5400
	OpMpcMem           uint16 = 0x5401
	OpMpcTmc           uint16 = 0x5402
	OpMccInfo          uint16 = 0x5400
	OpMccAllocGet      uint16 = 0x5401
	OpMccAllocSet      uint16 = 0x5402
	OpMccQosCtrlGet    uint16 = 0x5403
	OpMccQosCtrlSet    uint16 = 0x5404
	OpMccQosStat       uint16 = 0x5405
	OpMccQosBwAllocGet uint16 = 0x5406
	OpMccQosBwAllocSet uint16 = 0x5407
	OpMccQosBwLimitGet uint16 = 0x5408
	OpMccQosBwLimitSet uint16 = 0x5409
)

// Return codes, fixed by CXL 2.0 Table 150.
const (
	RCSuccess             uint16 = 0x0000
	RCBackgroundOpStarted uint16 = 0x0001
	RCInvalidInput        uint16 = 0x0002
	RCUnsupported         uint16 = 0x0003
)

// PortState is the physical port configuration state [FMPS].
type PortState uint8

const (
	PortStateDisabled  PortState = 0x00
	PortStateBinding   PortState = 0x01
	PortStateUnbinding PortState = 0x02
	PortStateDSP       PortState = 0x03
	PortStateUSP       PortState = 0x04
	PortStateFabric    PortState = 0x05
	PortStateInvalid   PortState = 0xFF
)

func (s PortState) String() string {
	switch s {
	case PortStateDisabled:
		return "Disabled"
	case PortStateBinding:
		return "Binding"
	case PortStateUnbinding:
		return "Unbinding"
	case PortStateDSP:
		return "DSP"
	case PortStateUSP:
		return "USP"
	case PortStateFabric:
		return "Fabric"
	case PortStateInvalid:
		return "Invalid"
	}
	return "Unknown"
}

// DeviceVersion is the connected device CXL version [FMDV].
type DeviceVersion uint8

const (
	DeviceVersionNotCXL DeviceVersion = 0x00
	DeviceVersionCXL1_1 DeviceVersion = 0x01
	DeviceVersionCXL2_0 DeviceVersion = 0x02
)

func (v DeviceVersion) String() string {
	switch v {
	case DeviceVersionNotCXL:
		return "Not CXL / No Device"
	case DeviceVersionCXL1_1:
		return "CXL 1.1"
	case DeviceVersionCXL2_0:
		return "CXL 2.0"
	}
	return "Unknown"
}

// DeviceType is the connected device type [FMDT].
type DeviceType uint8

const (
	DeviceTypeNone           DeviceType = 0x00
	DeviceTypePCIe           DeviceType = 0x01
	DeviceTypeCXLType1       DeviceType = 0x02
	DeviceTypeCXLType2       DeviceType = 0x03
	DeviceTypeCXLType3       DeviceType = 0x04
	DeviceTypeCXLType3Pooled DeviceType = 0x05
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeNone:
		return "None"
	case DeviceTypePCIe:
		return "PCIe Device"
	case DeviceTypeCXLType1:
		return "CXL Type 1 Device"
	case DeviceTypeCXLType2:
		return "CXL Type 2 Device"
	case DeviceTypeCXLType3:
		return "CXL Type 3 Device"
	case DeviceTypeCXLType3Pooled:
		return "CXL Type 3 Pooled Device"
	}
	return "Unknown"
}

// IsType3 reports whether the device type carries CXL.mem.
func (t DeviceType) IsType3() bool {
	return t == DeviceTypeCXLType3 || t == DeviceTypeCXLType3Pooled
}

// Link speed bits of the supported speeds vector [FMSS].
const (
	SpeedPCIe1 uint8 = 0x01
	SpeedPCIe2 uint8 = 0x02
	SpeedPCIe3 uint8 = 0x04
	SpeedPCIe4 uint8 = 0x08
	SpeedPCIe5 uint8 = 0x10
	SpeedPCIe6 uint8 = 0x20
)

// LinkSpeed is a maximum or current link speed [FMMS].
type LinkSpeed uint8

const (
	LinkSpeedPCIe1 LinkSpeed = 1
	LinkSpeedPCIe2 LinkSpeed = 2
	LinkSpeedPCIe3 LinkSpeed = 3
	LinkSpeedPCIe4 LinkSpeed = 4
	LinkSpeedPCIe5 LinkSpeed = 5
	LinkSpeedPCIe6 LinkSpeed = 6
)

func (s LinkSpeed) String() string {
	switch s {
	case LinkSpeedPCIe1:
		return "PCIe 1.0 (2.5 GT/s)"
	case LinkSpeedPCIe2:
		return "PCIe 2.0 (5 GT/s)"
	case LinkSpeedPCIe3:
		return "PCIe 3.0 (8 GT/s)"
	case LinkSpeedPCIe4:
		return "PCIe 4.0 (16 GT/s)"
	case LinkSpeedPCIe5:
		return "PCIe 5.0 (32 GT/s)"
	case LinkSpeedPCIe6:
		return "PCIe 6.0 (64 GT/s)"
	}
	return "Unknown"
}

// LtssmState is the link training state [FMLS].
type LtssmState uint8

const (
	LtssmDetect        LtssmState = 0x00
	LtssmPolling       LtssmState = 0x01
	LtssmConfiguration LtssmState = 0x02
	LtssmRecovery      LtssmState = 0x03
	LtssmL0            LtssmState = 0x04
	LtssmL0s           LtssmState = 0x05
	LtssmL1            LtssmState = 0x06
	LtssmL2            LtssmState = 0x07
	LtssmDisabled      LtssmState = 0x08
	LtssmLoopback      LtssmState = 0x09
	LtssmHotReset      LtssmState = 0x0A
)

func (s LtssmState) String() string {
	switch s {
	case LtssmDetect:
		return "Detect"
	case LtssmPolling:
		return "Polling"
	case LtssmConfiguration:
		return "Configuration"
	case LtssmRecovery:
		return "Recovery"
	case LtssmL0:
		return "L0"
	case LtssmL0s:
		return "L0s"
	case LtssmL1:
		return "L1"
	case LtssmL2:
		return "L2"
	case LtssmDisabled:
		return "Disabled"
	case LtssmLoopback:
		return "Loopback"
	case LtssmHotReset:
		return "Hot Reset"
	}
	return "Unknown"
}

// BindStatus is a vPPB binding state [FMBS].
type BindStatus uint8

const (
	BindStatusUnbound    BindStatus = 0x00
	BindStatusInProgress BindStatus = 0x01
	BindStatusBoundPort  BindStatus = 0x02
	BindStatusBoundLD    BindStatus = 0x03
)

func (s BindStatus) String() string {
	switch s {
	case BindStatusUnbound:
		return "Unbound"
	case BindStatusInProgress:
		return "Bind/Unbind In Progress"
	case BindStatusBoundPort:
		return "Bound to Physical Port"
	case BindStatusBoundLD:
		return "Bound to LD"
	}
	return "Unknown"
}

// VCSState is a virtual CXL switch state [FMVS].
type VCSState uint8

const (
	VCSStateDisabled VCSState = 0x00
	VCSStateEnabled  VCSState = 0x01
	VCSStateInvalid  VCSState = 0xFF
)

func (s VCSState) String() string {
	switch s {
	case VCSStateDisabled:
		return "Disabled"
	case VCSStateEnabled:
		return "Enabled"
	case VCSStateInvalid:
		return "Invalid"
	}
	return "Unknown"
}

// Granularity is the MLD memory allocation quantum [FMMG].
type Granularity uint8

const (
	Granularity256MB Granularity = 0x00
	Granularity512MB Granularity = 0x01
	Granularity1GB   Granularity = 0x02
)

func (g Granularity) String() string {
	switch g {
	case Granularity256MB:
		return "256 MB"
	case Granularity512MB:
		return "512 MB"
	case Granularity1GB:
		return "1 GB"
	}
	return "Unknown"
}

// Bytes returns the allocation quantum in bytes, or 0 when out of range.
func (g Granularity) Bytes() uint64 {
	switch g {
	case Granularity256MB:
		return 256 << 20
	case Granularity512MB:
		return 512 << 20
	case Granularity1GB:
		return 1 << 30
	}
	return 0
}

// Config space access types [FMCT].
const (
	CfgRead  uint8 = 0x00
	CfgWrite uint8 = 0x01
)

// Physical port control opcodes [FMPO].
const (
	PortCtrlAssertPerst   uint16 = 0x0000
	PortCtrlDeassertPerst uint16 = 0x0001
	PortCtrlResetPPB      uint16 = 0x0002
)

const (
	// MaxNumLD is the number of logical devices an MLD can present.
	MaxNumLD = 16

	// MaxVCSInfoBlocks caps the VCS info blocks returned per response.
	MaxVCSInfoBlocks = 16

	// LDIDWholePort is the sentinel LDID meaning "bind the whole port".
	LDIDWholePort uint16 = 0xFFFF
)

// ErrTruncated reports an input buffer shorter than the shape being decoded.
var ErrTruncated = errors.New("fmapi: truncated message")

// ErrShortBuffer reports an output buffer too small for the encoded shape.
var ErrShortBuffer = errors.New("fmapi: short encode buffer")

// Object is implemented by every request and response payload. Serialize
// writes the wire form into buf and returns the byte count; Deserialize
// parses the wire form from buf and returns the bytes consumed.
type Object interface {
	Serialize(buf []byte) (int, error)
	Deserialize(buf []byte) (int, error)
}

// Empty is the zero-length payload shared by parameterless requests and
// responses.
type Empty struct{}

func (*Empty) Serialize(buf []byte) (int, error)   { return 0, nil }
func (*Empty) Deserialize(buf []byte) (int, error) { return 0, nil }

// encode writes the structex representation of obj into buf.
func encode(buf []byte, obj interface{}) (int, error) {
	b := structex.NewBuffer(obj)
	if b == nil {
		return 0, errors.New("fmapi: unsupported shape")
	}

	if err := structex.Encode(b, obj); err != nil {
		return 0, err
	}

	if len(buf) < len(b.Bytes()) {
		return 0, ErrShortBuffer
	}

	return copy(buf, b.Bytes()), nil
}

// decode parses the structex representation of obj from buf. Short buffers
// fail with ErrTruncated; no field is ever partially read.
func decode(buf []byte, obj interface{}) (int, error) {
	sz, err := structex.Size(obj)
	if err != nil {
		return 0, err
	}

	if len(buf) < int(sz) {
		return 0, ErrTruncated
	}

	if err := structex.DecodeByteBuffer(bytes.NewBuffer(buf[:int(sz)]), obj); err != nil {
		return 0, err
	}

	return int(sz), nil
}
