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
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
	"github.com/NearNodeFlash/cxl-se/pkg/pcie"
)

// ConfigFile is the YAML configuration document. Every section is optional;
// values overlay the switch's construction defaults.
type ConfigFile struct {
	Emulator EmulatorConfig          `yaml:"emulator"`
	Devices  map[string]DeviceConfig `yaml:"devices"`
	Switch   SwitchConfig            `yaml:"switch"`
	Ports    map[int]PortConfig      `yaml:"ports"`
	VCSs     map[int]VCSConfig       `yaml:"vcss"`
}

// EmulatorConfig carries process level settings. TCPPort and VerbosityHex
// apply only when the command line did not set them.
type EmulatorConfig struct {
	TCPPort      *uint16 `yaml:"tcp-port"`
	Dir          string  `yaml:"dir"`
	VerbosityHex string  `yaml:"verbosity-hex"`
}

// DeviceConfig defines one device catalog entry. DID selects the catalog
// slot the device occupies.
type DeviceConfig struct {
	DID    *int             `yaml:"did"`
	Port   DevicePortConfig `yaml:"port"`
	PciCfg *PciCfgConfig    `yaml:"pcicfg"`
	MLD    *MLDConfig       `yaml:"mld"`
}

// DevicePortConfig carries the link descriptors a connected port copies.
type DevicePortConfig struct {
	DV       *uint8 `yaml:"dv"`
	DT       *uint8 `yaml:"dt"`
	CV       *uint8 `yaml:"cv"`
	MLW      *uint8 `yaml:"mlw"`
	MLS      *uint8 `yaml:"mls"`
	RootPort *uint8 `yaml:"rootport"`
}

// PciCfgConfig synthesizes the device's 4 KiB PCI config space: type 0
// header fields plus capability payloads given as CSV hex byte strings
// keyed by capability id.
type PciCfgConfig struct {
	Vendor    *uint16 `yaml:"vendor"`
	Device    *uint16 `yaml:"device"`
	Command   *uint16 `yaml:"command"`
	Status    *uint16 `yaml:"status"`
	RevID     *uint8  `yaml:"revid"`
	BaseClass *uint8  `yaml:"baseclass"`
	SubClass  *uint8  `yaml:"subclass"`
	PI        *uint8  `yaml:"pi"`
	CacheLine *uint8  `yaml:"cacheline"`
	Type      *uint8  `yaml:"type"`
	SubVendor *uint16 `yaml:"subvendor"`
	Subsystem *uint16 `yaml:"subsystem"`
	IntLine   *uint8  `yaml:"intline"`
	IntPin    *uint8  `yaml:"intpin"`
	MinGnt    *uint8  `yaml:"mingnt"`
	MaxLat    *uint8  `yaml:"maxlat"`

	Cap  map[string]string `yaml:"cap"`
	ECap map[string]string `yaml:"ecap"`
}

// MLDConfig defines the multi-logical device template of a catalog entry.
// Rng1, Rng2 are CSV integer lists; AllocBW and BWLimit are CSV hex byte
// lists. All are capped at 16 entries.
type MLDConfig struct {
	MemorySize     uint64 `yaml:"memory_size"`
	Num            uint16 `yaml:"num"`
	EPC            uint8  `yaml:"epc"`
	TTR            uint8  `yaml:"ttr"`
	Granularity    uint8  `yaml:"granularity"`
	Rng1           string `yaml:"rng1"`
	Rng2           string `yaml:"rng2"`
	AllocBW        string `yaml:"alloc_bw"`
	BWLimit        string `yaml:"bw_limit"`
	EPCEn          uint8  `yaml:"epc_en"`
	TTREn          uint8  `yaml:"ttr_en"`
	EgressModPcnt  uint8  `yaml:"egress_mod_pcnt"`
	EgressSevPcnt  uint8  `yaml:"egress_sev_pcnt"`
	SampleInterval uint8  `yaml:"sample_interval"`
	RCB            uint16 `yaml:"rcb"`
	CompInterval   uint8  `yaml:"comp_interval"`
	BPAvgPcnt      uint8  `yaml:"bp_avg_pcnt"`
	Mmap           uint8  `yaml:"mmap"`
}

// SwitchConfig overlays the switch identity and counts.
type SwitchConfig struct {
	Version      *uint8  `yaml:"version"`
	VID          *uint16 `yaml:"vid"`
	DID          *uint16 `yaml:"did"`
	SVID         *uint16 `yaml:"svid"`
	SSID         *uint16 `yaml:"ssid"`
	SN           *uint64 `yaml:"sn"`
	MaxMsgSizeN  *uint8  `yaml:"max_msg_size_n"`
	MsgRspLimitN *uint8  `yaml:"msg_rsp_limit_n"`
	BosRunning   *uint8  `yaml:"bos_running"`
	BosPcnt      *uint8  `yaml:"bos_pcnt"`
	BosOpcode    *uint16 `yaml:"bos_opcode"`
	BosRC        *uint16 `yaml:"bos_rc"`
	BosExt       *uint16 `yaml:"bos_ext"`
	IngressPort  *uint8  `yaml:"ingress_port"`
	NumPorts     *uint8  `yaml:"num_ports"`
	NumVCSs      *uint8  `yaml:"num_vcss"`
	NumVPPBs     *uint16 `yaml:"num_vppbs"`
	NumDecoders  *uint8  `yaml:"num_decoders"`
	MLW          *uint8  `yaml:"mlw"`
	Speeds       *uint8  `yaml:"speeds"`
	MLS          *uint8  `yaml:"mls"`
}

// PortConfig overlays one physical port.
type PortConfig struct {
	Device string `yaml:"device"`
	MLW    *uint8 `yaml:"mlw"`
	MLS    *uint8 `yaml:"mls"`
	State  *uint8 `yaml:"state"`
}

// VCSConfig overlays one virtual CXL switch.
type VCSConfig struct {
	State   *uint8             `yaml:"state"`
	USPID   *uint8             `yaml:"uspid"`
	NumVPPB *uint8             `yaml:"num_vppb"`
	VPPBs   map[int]VPPBConfig `yaml:"vppbs"`
}

// VPPBConfig pre-binds one vPPB.
type VPPBConfig struct {
	BindStatus *uint8  `yaml:"bind_status"`
	PPID       *uint8  `yaml:"ppid"`
	LDID       *uint16 `yaml:"ldid"`
}

// LoadConfig parses the YAML configuration document at path.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return c, nil
}

// ParseConfig parses a YAML configuration document.
func ParseConfig(data []byte) (*ConfigFile, error) {
	c := &ConfigFile{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("could not parse configuration: %w", err)
	}

	return c, nil
}

// ApplyConfig overlays the configuration onto the switch: emulator
// settings, the device catalog, switch identity, port overrides, and VCS
// definitions, then connects every port whose device name matches a catalog
// entry.
func (s *Switch) ApplyConfig(c *ConfigFile) error {
	s.applyEmulator(&c.Emulator)

	if err := s.applyDevices(c.Devices); err != nil {
		return err
	}

	s.applySwitch(&c.Switch)

	if err := s.applyPorts(c.Ports); err != nil {
		return err
	}

	s.applyVCSs(c.VCSs)

	return nil
}

func (s *Switch) applyEmulator(e *EmulatorConfig) {
	if e.Dir != "" {
		s.Dir = e.Dir
		if err := os.MkdirAll(e.Dir, 0755); err != nil {
			s.log.WithError(err).Warnf("Could not create backing directory %s", e.Dir)
		}
	}
}

func (s *Switch) applyDevices(devices map[string]DeviceConfig) error {
	for _, name := range sortedKeys(devices) {
		dc := devices[name]

		if dc.DID == nil {
			return fmt.Errorf("device %s has no did", name)
		}
		did := *dc.DID

		// Grow the catalog when the slot is beyond the current headroom.
		for did >= len(s.Devices) {
			s.Devices = append(s.Devices, make([]Device, initialNumDevices)...)
		}

		d := &s.Devices[did]
		d.Name = name

		if dc.Port.DV != nil {
			d.DV = fmapi.DeviceVersion(*dc.Port.DV)
		}
		if dc.Port.DT != nil {
			d.DT = fmapi.DeviceType(*dc.Port.DT)
		}
		if dc.Port.CV != nil {
			d.CV = *dc.Port.CV
		}
		if dc.Port.MLW != nil {
			d.MLW = *dc.Port.MLW
		}
		if dc.Port.MLS != nil {
			d.MLS = *dc.Port.MLS
		}
		if dc.Port.RootPort != nil {
			d.RootPort = *dc.Port.RootPort
		}

		d.CfgSpace = make([]byte, CfgSpaceSize)
		if dc.PciCfg != nil {
			if err := buildConfigSpace(d.CfgSpace, dc.PciCfg); err != nil {
				return fmt.Errorf("device %s: %w", name, err)
			}
		}

		if dc.MLD != nil {
			mld, err := buildMLD(dc.MLD)
			if err != nil {
				return fmt.Errorf("device %s: %w", name, err)
			}
			d.MLD = mld
		}

		s.log.Debugf("Loaded device %s into catalog slot %d", name, did)
	}

	return nil
}

// buildConfigSpace synthesizes a config space image: header fields first,
// then the legacy and extended capability lists in key order.
func buildConfigSpace(space []byte, cfg *PciCfgConfig) error {
	hdr := pcie.CfgHdr{}

	set16 := func(dst *uint16, v *uint16) {
		if v != nil {
			*dst = *v
		}
	}
	set8 := func(dst *uint8, v *uint8) {
		if v != nil {
			*dst = *v
		}
	}

	set16(&hdr.Vendor, cfg.Vendor)
	set16(&hdr.Device, cfg.Device)
	set16(&hdr.Command, cfg.Command)
	set16(&hdr.Status, cfg.Status)
	set8(&hdr.Rev, cfg.RevID)
	set8(&hdr.BaseClass, cfg.BaseClass)
	set8(&hdr.SubClass, cfg.SubClass)
	set8(&hdr.PI, cfg.PI)
	set8(&hdr.CLS, cfg.CacheLine)
	set8(&hdr.Type, cfg.Type)
	set16(&hdr.SubVendor, cfg.SubVendor)
	set16(&hdr.Subsystem, cfg.Subsystem)
	set8(&hdr.IntLine, cfg.IntLine)
	set8(&hdr.IntPin, cfg.IntPin)
	set8(&hdr.MinGnt, cfg.MinGnt)
	set8(&hdr.MaxLat, cfg.MaxLat)

	if err := pcie.EncodeHeader(space, &hdr); err != nil {
		return err
	}

	b := pcie.NewCapBuilder(space)

	for _, key := range sortedKeys(cfg.Cap) {
		id, err := strconv.ParseUint(strings.TrimSpace(key), 0, 8)
		if err != nil {
			return fmt.Errorf("bad capability id %q: %w", key, err)
		}

		payload, err := pcie.ParseCSVBytes(cfg.Cap[key], 128)
		if err != nil {
			return err
		}

		if err := b.AddCap(uint8(id), payload); err != nil {
			return err
		}
	}

	for _, key := range sortedKeys(cfg.ECap) {
		// The key packs id<<4 | version.
		k, err := strconv.ParseUint(strings.TrimSpace(key), 0, 32)
		if err != nil {
			return fmt.Errorf("bad extended capability id %q: %w", key, err)
		}

		payload, err := pcie.ParseCSVBytes(cfg.ECap[key], 128)
		if err != nil {
			return err
		}

		if err := b.AddExtCap(uint16(k>>4), uint8(k&0xF), payload); err != nil {
			return err
		}
	}

	return nil
}

func buildMLD(cfg *MLDConfig) (*MLD, error) {
	if cfg.Num > fmapi.MaxNumLD {
		return nil, fmt.Errorf("mld logical device count %d exceeds %d", cfg.Num, fmapi.MaxNumLD)
	}

	m := &MLD{
		MemorySize:     cfg.MemorySize,
		Num:            cfg.Num,
		EPC:            cfg.EPC,
		TTR:            cfg.TTR,
		Granularity:    fmapi.Granularity(cfg.Granularity),
		EPCEnable:      cfg.EPCEn,
		TTREnable:      cfg.TTREn,
		EgressModPcnt:  cfg.EgressModPcnt,
		EgressSevPcnt:  cfg.EgressSevPcnt,
		SampleInterval: cfg.SampleInterval,
		RCB:            cfg.RCB,
		CompInterval:   cfg.CompInterval,
		BPAvgPcnt:      cfg.BPAvgPcnt,
		Mmap:           cfg.Mmap == 1,
	}

	if err := parseCSVU64(cfg.Rng1, m.Rng1[:]); err != nil {
		return nil, fmt.Errorf("rng1: %w", err)
	}
	if err := parseCSVU64(cfg.Rng2, m.Rng2[:]); err != nil {
		return nil, fmt.Errorf("rng2: %w", err)
	}

	allocBW, err := pcie.ParseCSVBytes(cfg.AllocBW, fmapi.MaxNumLD)
	if err != nil {
		return nil, fmt.Errorf("alloc_bw: %w", err)
	}
	copy(m.AllocBW[:], allocBW)

	bwLimit, err := pcie.ParseCSVBytes(cfg.BWLimit, fmapi.MaxNumLD)
	if err != nil {
		return nil, fmt.Errorf("bw_limit: %w", err)
	}
	copy(m.BWLimit[:], bwLimit)

	return m, nil
}

func (s *Switch) applySwitch(c *SwitchConfig) {
	if c.Version != nil {
		s.Version = *c.Version
	}
	if c.VID != nil {
		s.VID = *c.VID
	}
	if c.DID != nil {
		s.DID = *c.DID
	}
	if c.SVID != nil {
		s.SVID = *c.SVID
	}
	if c.SSID != nil {
		s.SSID = *c.SSID
	}
	if c.SN != nil {
		s.SN = *c.SN
	}
	if c.MaxMsgSizeN != nil {
		s.MaxMsgSizeN = *c.MaxMsgSizeN
	}
	if c.MsgRspLimitN != nil {
		s.MsgRspLimitN = *c.MsgRspLimitN
	}
	if c.BosRunning != nil {
		s.BOS.Running = *c.BosRunning
	}
	if c.BosPcnt != nil {
		s.BOS.Pcnt = *c.BosPcnt
	}
	if c.BosOpcode != nil {
		s.BOS.Opcode = *c.BosOpcode
	}
	if c.BosRC != nil {
		s.BOS.RC = *c.BosRC
	}
	if c.BosExt != nil {
		s.BOS.Ext = *c.BosExt
	}
	if c.IngressPort != nil {
		s.IngressPort = *c.IngressPort
	}
	if c.NumPorts != nil {
		s.NumPorts = uint16(*c.NumPorts)
		if int(s.NumPorts) > len(s.Ports) {
			s.NumPorts = uint16(len(s.Ports))
		}
	}
	if c.NumVCSs != nil {
		s.NumVCSs = uint16(*c.NumVCSs)
		if int(s.NumVCSs) > len(s.VCSs) {
			s.NumVCSs = uint16(len(s.VCSs))
		}
	}
	if c.NumVPPBs != nil {
		s.NumVPPBs = *c.NumVPPBs
	}
	if c.NumDecoders != nil {
		s.NumDecoders = *c.NumDecoders
	}
	if c.MLW != nil {
		s.MLW = *c.MLW
	}
	if c.Speeds != nil {
		s.Speeds = *c.Speeds
	}
	if c.MLS != nil {
		s.MLS = *c.MLS
	}
}

func (s *Switch) applyPorts(ports map[int]PortConfig) error {
	if ports == nil {
		return nil
	}

	// Every port is re-defaulted to an active downstream port before the
	// per-port overrides land.
	for i := 0; i < int(s.NumPorts); i++ {
		p := &s.Ports[i]
		p.State = fmapi.PortStateDSP
		p.MLW = s.MLW
		p.MLS = s.MLS
		p.Speeds = s.Speeds
		p.Ltssm = fmapi.LtssmL0
		p.LaneRev = 0
		p.Perst = 0
		p.Prsnt = 0
		p.PwrCtrl = 0
		p.LD = 0
	}

	for id, pc := range ports {
		if id < 0 || id >= int(s.NumPorts) {
			return fmt.Errorf("port %d out of range", id)
		}
		p := &s.Ports[id]

		if pc.Device != "" {
			p.DeviceName = pc.Device
		}
		if pc.MLW != nil {
			p.MLW = *pc.MLW
		}
		if pc.MLS != nil {
			p.MLS = *pc.MLS
		}
		if pc.State != nil {
			p.State = fmapi.PortState(*pc.State)
		}
	}

	// Instantiate each port's device.
	for i := 0; i < int(s.NumPorts); i++ {
		p := &s.Ports[i]
		if p.DeviceName == "" {
			continue
		}

		d := s.findDevice(p.DeviceName)
		if d == nil {
			s.log.Warnf("Port %d names unknown device %s", i, p.DeviceName)
			continue
		}

		if err := s.Connect(p, d); err != nil {
			return fmt.Errorf("port %d: %w", i, err)
		}
	}

	return nil
}

func (s *Switch) applyVCSs(vcss map[int]VCSConfig) {
	for id, vc := range vcss {
		if id < 0 || id >= int(s.NumVCSs) {
			s.log.Warnf("VCS %d out of range", id)
			continue
		}
		v := &s.VCSs[id]

		if vc.State != nil {
			v.State = fmapi.VCSState(*vc.State)
		}
		if vc.USPID != nil {
			v.USPID = *vc.USPID
		}
		if vc.NumVPPB != nil {
			v.Num = *vc.NumVPPB
		}

		for bid, bc := range vc.VPPBs {
			if bid < 0 || bid >= len(v.VPPBs) {
				s.log.Warnf("VCS %d vPPB %d out of range", id, bid)
				continue
			}
			b := &v.VPPBs[bid]

			if bc.BindStatus != nil {
				b.BindStatus = fmapi.BindStatus(*bc.BindStatus)
			}
			if bc.PPID != nil {
				b.PPID = *bc.PPID
			}
			if bc.LDID != nil {
				b.LDID = *bc.LDID
			}
		}
	}
}

func parseCSVU64(s string, dst []uint64) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	fields := strings.Split(s, ",")
	if len(fields) > len(dst) {
		fields = fields[:len(dst)]
	}

	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 0, 64)
		if err != nil {
			return fmt.Errorf("bad CSV value %q: %w", f, err)
		}
		dst[i] = v
	}

	return nil
}

// sortedKeys returns map keys in a stable order; capability lists and
// catalog slots are laid out deterministically.
func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
