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

// Package fabric owns the emulated CXL switch: the physical ports, virtual
// switches, virtual bridges and multi-logical devices, the device catalog,
// and the command handlers that serve the Fabric Management API and the
// emulator control API against that state. A single exclusive lock guards
// the whole model; every handler holds it across all reads and writes.
package fabric

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
	"github.com/NearNodeFlash/cxl-se/pkg/pcie"
)

const (
	MaxPorts       = 256
	MaxVCSs        = 256
	MaxVPPBsPerVCS = 256
	MaxVPPBs       = MaxPorts * fmapi.MaxNumLD

	CfgSpaceSize = pcie.CfgSpaceSize
)

// initialNumDevices sizes the device catalog before the loader grows it.
const initialNumDevices = 32

// MLD aggregates the descriptors of a multi-logical device: its capacity
// split, QoS parameters, per-LD config spaces, and the optional memory
// mapped backing for the device address space.
type MLD struct {
	MemorySize uint64
	Num        uint16
	EPC        uint8
	TTR        uint8

	Granularity fmapi.Granularity
	Rng1        [fmapi.MaxNumLD]uint64
	Rng2        [fmapi.MaxNumLD]uint64

	EPCEnable      uint8
	TTREnable      uint8
	EgressModPcnt  uint8
	EgressSevPcnt  uint8
	SampleInterval uint8
	RCB            uint16
	CompInterval   uint8

	BPAvgPcnt uint8

	AllocBW [fmapi.MaxNumLD]uint8
	BWLimit [fmapi.MaxNumLD]uint8

	CfgSpaces [][]byte

	Mmap     bool
	File     string
	MemSpace []byte
}

// clone copies a catalog MLD template, leaving per-port allocations
// (CfgSpaces, MemSpace, File) to Connect.
func (m *MLD) clone() *MLD {
	c := *m
	c.CfgSpaces = nil
	c.MemSpace = nil
	c.File = ""
	return &c
}

// VPPB is a virtual PCIe-to-PCIe bridge: a bindable slot within a VCS.
// PPID is meaningful only when BindStatus is not unbound; LDID is the
// whole-port sentinel when the binding is not LD scoped.
type VPPB struct {
	VPPBID     uint16
	BindStatus fmapi.BindStatus
	PPID       uint8
	LDID       uint16
}

// VCS is a virtual CXL switch carved out of the physical switch.
type VCS struct {
	VCSID uint8
	State fmapi.VCSState
	USPID uint8
	Num   uint8
	VPPBs []VPPB
}

// Port is one physical switch port and, when connected, the device
// descriptors copied from its catalog entry.
type Port struct {
	PPID    uint8
	State   fmapi.PortState
	DV      fmapi.DeviceVersion
	DT      fmapi.DeviceType
	CV      uint8
	MLW     uint8
	NLW     uint8
	Speeds  uint8
	MLS     uint8
	CLS     uint8
	Ltssm   fmapi.LtssmState
	Lane    uint8
	LaneRev uint8
	Perst   uint8
	Prsnt   uint8
	PwrCtrl uint8

	// LD is the supported logical device count; zero for non-MLD ports.
	LD uint8

	CfgSpace   []byte
	MLD        *MLD
	DeviceName string
}

// Device is one device catalog entry: the descriptors and config space
// template copied to a port on connect.
type Device struct {
	Name     string
	RootPort uint8
	DV       fmapi.DeviceVersion
	DT       fmapi.DeviceType
	CV       uint8
	MLW      uint8
	MLS      uint8
	CfgSpace []byte
	MLD      *MLD
}

// BosStatus is the switch-wide background operation status block.
type BosStatus struct {
	Running uint8
	Pcnt    uint8
	Opcode  uint16
	RC      uint16
	Ext     uint16
}

// Switch is the canonical switch state. All mutable fields are guarded by
// the lock; handlers hold it across validation, mutation and response
// projection.
type Switch struct {
	Version uint8

	VID  uint16
	DID  uint16
	SVID uint16
	SSID uint16
	SN   uint64

	MaxMsgSizeN  uint8
	MsgRspLimitN uint8

	BOS BosStatus

	IngressPort uint8
	NumPorts    uint16
	NumVCSs     uint16
	NumVPPBs    uint16
	NumDecoders uint8

	Ports []Port
	VCSs  []VCS

	Devices []Device

	// Per-port defaults applied by the loader.
	MLW    uint8
	Speeds uint8
	MLS    uint8

	// Dir is the directory holding memory mapped backing files; empty
	// disables backing memory.
	Dir string

	mtx sync.Mutex
	log *log.Entry
}

// NewSwitch constructs a switch with ports starting disabled and VCSs
// starting empty, clamping each count to its maximum.
func NewSwitch(ports, vcss, vppbs int) *Switch {
	if ports > MaxPorts {
		ports = MaxPorts
	}
	if vcss > MaxVCSs {
		vcss = MaxVCSs
	}
	if vppbs > MaxVPPBs {
		vppbs = MaxVPPBs
	}

	s := &Switch{
		Version:      1,
		VID:          0xb1b2,
		DID:          0xc1c2,
		SVID:         0xd1d2,
		SSID:         0xe1e2,
		SN:           0xa1a2a3a4a5a6a7a8,
		MaxMsgSizeN:  13,
		MsgRspLimitN: 12,
		IngressPort:  1,
		NumPorts:     uint16(ports),
		NumVCSs:      uint16(vcss),
		NumVPPBs:     uint16(vppbs),
		NumDecoders:  42,
		MLW:          16,
		Speeds:       fmapi.SpeedPCIe5 | fmapi.SpeedPCIe4 | fmapi.SpeedPCIe3 | fmapi.SpeedPCIe2 | fmapi.SpeedPCIe1,
		MLS:          uint8(fmapi.LinkSpeedPCIe5),
		Ports:        make([]Port, ports),
		VCSs:         make([]VCS, vcss),
		Devices:      make([]Device, initialNumDevices),
		log:          log.WithField("subsystem", "fabric"),
	}

	for i := range s.Ports {
		p := &s.Ports[i]
		p.PPID = uint8(i)
		p.State = fmapi.PortStateDisabled
		p.DV = fmapi.DeviceVersionNotCXL
		p.DT = fmapi.DeviceTypeNone
		p.MLW = s.MLW
		p.Speeds = s.Speeds
		p.MLS = s.MLS
		p.Ltssm = fmapi.LtssmDisabled
		p.CfgSpace = make([]byte, CfgSpaceSize)
	}

	for i := range s.VCSs {
		v := &s.VCSs[i]
		v.VCSID = uint8(i)
		v.State = fmapi.VCSStateDisabled
		v.VPPBs = make([]VPPB, MaxVPPBsPerVCS)
		for k := range v.VPPBs {
			v.VPPBs[k].VPPBID = uint16(k)
		}
	}

	return s
}

// Connect copies a catalog entry onto a port, making it appear as if the
// device were inserted into the slot: link comes up at the lower of the two
// widths and speeds, the config space template is copied in, and an MLD
// entry brings its per-LD config spaces and optional backing memory with it.
func (s *Switch) Connect(p *Port, d *Device) error {
	if d.Name == "" {
		return fmt.Errorf("device has no name")
	}

	p.DV = d.DV
	p.DT = d.DT
	p.CV = d.CV
	p.Ltssm = fmapi.LtssmL0
	p.Lane = 0
	p.LaneRev = 0
	p.Perst = 0
	p.PwrCtrl = 0
	p.LD = 0

	// A root port faces the host and becomes the upstream port.
	if d.RootPort == 1 {
		p.State = fmapi.PortStateUSP
	} else {
		p.State = fmapi.PortStateDSP
	}

	// Negotiate down to the lower width and speed. NLW is nibble encoded.
	if d.MLW < p.MLW {
		p.NLW = d.MLW << 4
	} else {
		p.NLW = p.MLW << 4
	}

	if d.MLS < p.MLS {
		p.CLS = d.MLS
	} else {
		p.CLS = p.MLS
	}

	p.Prsnt = 1

	copy(p.CfgSpace, d.CfgSpace)

	if d.MLD != nil {
		p.LD = uint8(d.MLD.Num)
		p.MLD = d.MLD.clone()

		p.MLD.CfgSpaces = make([][]byte, d.MLD.Num)
		for i := range p.MLD.CfgSpaces {
			p.MLD.CfgSpaces[i] = make([]byte, CfgSpaceSize)
			copy(p.MLD.CfgSpaces[i], d.CfgSpace)
		}
	}

	if d.MLD != nil && d.MLD.Mmap && s.Dir != "" {
		if err := s.mapMemorySpace(p); err != nil {
			return err
		}
	}

	s.log.Debugf("Connected device %s to port %d", d.Name, p.PPID)

	return nil
}

// mapMemorySpace creates a sparse backing file for the port's MLD memory
// address space and maps it shared and writable. Unwritten regions read as
// zero.
func (s *Switch) mapMemorySpace(p *Port) error {
	filename := filepath.Join(s.Dir, fmt.Sprintf("port%02d", p.PPID))

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("could not open backing file %s: %w", filename, err)
	}
	defer f.Close()

	if err := unix.Ftruncate(int(f.Fd()), int64(p.MLD.MemorySize)); err != nil {
		return fmt.Errorf("could not truncate backing file %s to 0x%x: %w", filename, p.MLD.MemorySize, err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(p.MLD.MemorySize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("could not map backing file %s: %w", filename, err)
	}

	p.MLD.MemSpace = mem
	p.MLD.File = filename

	return nil
}

// Disconnect clears a port's device descriptors, making it appear as if the
// device were removed from the slot. The backing memory, when present, is
// flushed before it is unmapped; the MLD is released last. The port's State
// field is deliberately left as is.
func (s *Switch) Disconnect(p *Port) error {
	p.DV = 0
	p.DT = 0
	p.CV = 0
	p.NLW = 0
	p.CLS = 0
	p.Ltssm = 0
	p.Lane = 0
	p.LaneRev = 0
	p.Perst = 0
	p.Prsnt = 0
	p.PwrCtrl = 0
	p.LD = 0

	for i := range p.CfgSpace {
		p.CfgSpace[i] = 0
	}

	p.DeviceName = ""

	if p.MLD != nil && p.MLD.MemSpace != nil {
		if err := unix.Msync(p.MLD.MemSpace, unix.MS_SYNC); err != nil {
			s.log.WithError(err).Warnf("Could not sync backing memory for port %d", p.PPID)
		}
		if err := unix.Munmap(p.MLD.MemSpace); err != nil {
			s.log.WithError(err).Warnf("Could not unmap backing memory for port %d", p.PPID)
		}
		p.MLD.MemSpace = nil
	}

	p.MLD = nil

	s.log.Debugf("Disconnected device from port %d", p.PPID)

	return nil
}

// Close releases every port's backing memory. The switch is not usable
// afterwards.
func (s *Switch) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for i := range s.Ports {
		p := &s.Ports[i]
		if p.MLD != nil && p.MLD.MemSpace != nil {
			unix.Msync(p.MLD.MemSpace, unix.MS_SYNC)
			unix.Munmap(p.MLD.MemSpace)
			p.MLD.MemSpace = nil
		}
	}
}

// Identity projects the switch into an Identify Switch Device response.
// Lock held by caller.
func (s *Switch) Identity() fmapi.PscIDRsp {
	rsp := fmapi.PscIDRsp{
		VID:         s.VID,
		DID:         s.DID,
		SVID:        s.SVID,
		SSID:        s.SSID,
		SN:          s.SN,
		IngressPort: s.IngressPort,
		NumPorts:    uint8(s.NumPorts),
		NumVCSs:     uint8(s.NumVCSs),
		NumVPPBs:    s.NumVPPBs,
		NumDecoders: s.NumDecoders,
	}

	for i := 0; i < int(s.NumPorts) && i < 8*len(rsp.ActivePorts); i++ {
		if s.Ports[i].State != fmapi.PortStateDisabled {
			rsp.ActivePorts[i/8] |= 1 << (i % 8)
		}
	}

	for i := 0; i < int(s.NumVCSs) && i < 8*len(rsp.ActiveVCSs); i++ {
		if s.VCSs[i].State == fmapi.VCSStateEnabled {
			rsp.ActiveVCSs[i/8] |= 1 << (i % 8)
		}
	}

	for i := 0; i < int(s.NumVCSs); i++ {
		v := &s.VCSs[i]
		for k := 0; k < int(v.Num); k++ {
			if v.VPPBs[k].BindStatus != fmapi.BindStatusUnbound {
				rsp.ActiveVPPBs++
			}
		}
	}

	return rsp
}

// Info projects a port into a physical port status block.
func (p *Port) Info() fmapi.PscPortInfo {
	return fmapi.PscPortInfo{
		PPID:    p.PPID,
		State:   uint8(p.State),
		DV:      uint8(p.DV),
		DT:      uint8(p.DT),
		CV:      p.CV,
		MLW:     p.MLW,
		NLW:     p.NLW,
		Speeds:  p.Speeds,
		MLS:     p.MLS,
		CLS:     p.CLS,
		Ltssm:   uint8(p.Ltssm),
		Lane:    p.Lane,
		LaneRev: p.LaneRev,
		Perst:   p.Perst,
		Prsnt:   p.Prsnt,
		PwrCtrl: p.PwrCtrl,
		NumLD:   p.LD,
	}
}

// InfoBlk projects a VCS into an info block carrying the window of vPPB
// status blocks [start, start+limit) clipped to the VCS size.
func (v *VCS) InfoBlk(start, limit uint8) fmapi.VscInfoBlk {
	blk := fmapi.VscInfoBlk{
		VCSID: v.VCSID,
		State: uint8(v.State),
		USPID: v.USPID,
		Total: v.Num,
	}

	if start < v.Num {
		stop := uint(v.Num)
		if uint(limit) < stop-uint(start) {
			stop = uint(start) + uint(limit)
		}

		for k := uint(start); k < stop; k++ {
			blk.List = append(blk.List, fmapi.VscPPBStatus{
				Status: uint8(v.VPPBs[k].BindStatus),
				PPID:   v.VPPBs[k].PPID,
				LDID:   v.VPPBs[k].LDID,
			})
		}
	}
	blk.Num = uint8(len(blk.List))

	return blk
}

// CheckInvariants verifies the model's structural invariants; tests run it
// after every request.
func (s *Switch) CheckInvariants() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.MsgRspLimitN < 8 || s.MsgRspLimitN > 20 {
		return fmt.Errorf("msg_rsp_limit_n %d out of range", s.MsgRspLimitN)
	}

	active := 0
	total := 0
	for i := range s.VCSs {
		v := &s.VCSs[i]
		total += int(v.Num)
		for k := 0; k < int(v.Num); k++ {
			b := &v.VPPBs[k]
			if b.BindStatus == fmapi.BindStatusUnbound {
				continue
			}
			active++

			if b.BindStatus != fmapi.BindStatusBoundLD {
				continue
			}
			if int(b.PPID) >= int(s.NumPorts) {
				return fmt.Errorf("vcs %d vppb %d bound to port %d beyond %d ports", v.VCSID, k, b.PPID, s.NumPorts)
			}
			p := &s.Ports[b.PPID]
			if b.LDID != fmapi.LDIDWholePort && int(b.LDID) >= int(p.LD) {
				return fmt.Errorf("vcs %d vppb %d bound to ld %d beyond %d lds", v.VCSID, k, b.LDID, p.LD)
			}
		}
	}
	if active > total {
		return fmt.Errorf("active vppbs %d exceeds total %d", active, total)
	}

	for i := range s.Ports {
		p := &s.Ports[i]
		if p.MLD == nil {
			continue
		}
		if (p.MLD.MemSpace != nil) != (p.MLD.File != "") {
			return fmt.Errorf("port %d backing map and file disagree", p.PPID)
		}
		if p.MLD.SampleInterval > 15 {
			return fmt.Errorf("port %d sample interval %d out of range", p.PPID, p.MLD.SampleInterval)
		}
	}

	return nil
}

// findDevice returns the catalog entry with the given name. Lock held by
// caller.
func (s *Switch) findDevice(name string) *Device {
	for i := range s.Devices {
		if s.Devices[i].Name != "" && s.Devices[i].Name == name {
			return &s.Devices[i]
		}
	}
	return nil
}

// numDevices returns the catalog's high water mark: the index of the highest
// populated slot plus one. Empty slots below it are counted; trailing empty
// slots are not. Lock held by caller.
func (s *Switch) numDevices() int {
	n := 0
	for i := range s.Devices {
		if s.Devices[i].Name != "" {
			n = i + 1
		}
	}
	return n
}
