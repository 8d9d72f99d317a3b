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
	"testing"

	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
)

const loaderConfig = `
emulator:
  tcp-port: 2509
switch:
  vid: 0x1111
  did: 0x2222
  sn: 0x0102030405060708
  max_msg_size_n: 14
  msg_rsp_limit_n: 10
  num_vcss: 2
  mlw: 8
  mls: 4
devices:
  sld_test:
    did: 0
    port: {dv: 2, dt: 4, cv: 0x01, mlw: 16, mls: 5}
    pcicfg:
      vendor: 0x1dc5
      device: 0xc151
      cap:
        "0x01": "00,00"
  mld_test:
    did: 1
    port: {dv: 2, dt: 5, cv: 0x01, mlw: 8, mls: 4}
    mld:
      memory_size: 0x40000000
      num: 2
      granularity: 1
      rng1: "0,2"
      rng2: "1,3"
      alloc_bw: "20,20"
      bw_limit: "ff,ff"
      egress_mod_pcnt: 10
      egress_sev_pcnt: 25
      sample_interval: 8
      rcb: 100
      comp_interval: 64
ports:
  0: {device: sld_test, mlw: 4}
  1: {device: mld_test}
  5: {state: 0}
vcss:
  0:
    state: 1
    uspid: 0
    num_vppb: 4
    vppbs:
      2: {bind_status: 2, ppid: 0, ldid: 0}
`

func loadTestSwitch(t *testing.T) *Switch {
	t.Helper()

	s := NewSwitch(8, 4, 64)

	cfg, err := ParseConfig([]byte(loaderConfig))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ApplyConfig(cfg); err != nil {
		t.Fatal(err)
	}

	return s
}

func TestConfigSwitchOverlay(t *testing.T) {
	s := loadTestSwitch(t)

	if s.VID != 0x1111 || s.DID != 0x2222 {
		t.Fatalf("Switch identity incorrect: vid 0x%04x did 0x%04x", s.VID, s.DID)
	}
	if s.SN != 0x0102030405060708 {
		t.Fatalf("Serial number incorrect: 0x%016x", s.SN)
	}
	if s.MaxMsgSizeN != 14 || s.MsgRspLimitN != 10 {
		t.Fatalf("Message sizes incorrect: %d %d", s.MaxMsgSizeN, s.MsgRspLimitN)
	}
	if s.NumVCSs != 2 {
		t.Fatalf("VCS count incorrect: %d", s.NumVCSs)
	}

	// Identity the config does not name keeps its construction default.
	if s.SVID != 0xd1d2 {
		t.Fatalf("Subsystem vendor incorrect: 0x%04x", s.SVID)
	}
}

func TestConfigDeviceCatalog(t *testing.T) {
	s := loadTestSwitch(t)

	if s.numDevices() != 2 {
		t.Fatalf("Device count incorrect: %d", s.numDevices())
	}

	d := s.findDevice("sld_test")
	if d == nil {
		t.Fatal("sld_test not in catalog")
	}
	if d.DT != fmapi.DeviceTypeCXLType3 || d.MLW != 16 {
		t.Fatalf("Device descriptors incorrect: %+v", d)
	}

	// Header landed in the config space template.
	if d.CfgSpace[0] != 0xC5 || d.CfgSpace[1] != 0x1D {
		t.Fatalf("Config space vendor incorrect: % x", d.CfgSpace[:2])
	}

	// Capability list grew from 0x40.
	if d.CfgSpace[0x34] != 0x40 || d.CfgSpace[0x40] != 0x01 {
		t.Fatalf("Capability list incorrect: ptr 0x%02x id 0x%02x", d.CfgSpace[0x34], d.CfgSpace[0x40])
	}

	m := s.findDevice("mld_test")
	if m == nil || m.MLD == nil {
		t.Fatal("mld_test not in catalog")
	}
	if m.MLD.Num != 2 || m.MLD.Granularity != fmapi.Granularity512MB {
		t.Fatalf("MLD shape incorrect: %+v", m.MLD)
	}
	if m.MLD.Rng1[1] != 2 || m.MLD.Rng2[1] != 3 {
		t.Fatalf("MLD ranges incorrect: %+v", m.MLD)
	}

	// CSV byte lists are hex.
	if m.MLD.AllocBW[0] != 0x20 || m.MLD.BWLimit[0] != 0xFF {
		t.Fatalf("MLD bandwidth fractions incorrect: %+v", m.MLD)
	}
}

func TestConfigPortOverlay(t *testing.T) {
	s := loadTestSwitch(t)

	// Port 0 is connected to the SLD; the override dropped its width to 4,
	// so the negotiated width is min(16, 4), nibble encoded.
	p := &s.Ports[0]
	if p.State != fmapi.PortStateDSP {
		t.Fatalf("Port 0 state incorrect: %s", p.State)
	}
	if p.Prsnt != 1 || p.NLW != 4<<4 || p.CLS != 4 {
		t.Fatalf("Port 0 link incorrect: prsnt %d nlw %d cls %d", p.Prsnt, p.NLW, p.CLS)
	}
	if p.LD != 0 || p.MLD != nil {
		t.Fatalf("Port 0 should not be an MLD port")
	}

	// Port 1 carries the MLD with per-LD config spaces.
	p = &s.Ports[1]
	if p.LD != 2 || p.MLD == nil || len(p.MLD.CfgSpaces) != 2 {
		t.Fatalf("Port 1 MLD incorrect: ld %d", p.LD)
	}

	// Port 5 was forced back to disabled.
	if s.Ports[5].State != fmapi.PortStateDisabled {
		t.Fatalf("Port 5 state incorrect: %s", s.Ports[5].State)
	}

	// Ports without overrides got the loader defaults.
	if s.Ports[3].State != fmapi.PortStateDSP || s.Ports[3].MLW != 8 {
		t.Fatalf("Port 3 defaults incorrect: %s mlw %d", s.Ports[3].State, s.Ports[3].MLW)
	}
}

func TestConfigVCSOverlay(t *testing.T) {
	s := loadTestSwitch(t)

	v := &s.VCSs[0]
	if v.State != fmapi.VCSStateEnabled || v.Num != 4 {
		t.Fatalf("VCS 0 incorrect: %s num %d", v.State, v.Num)
	}

	b := &v.VPPBs[2]
	if b.BindStatus != fmapi.BindStatusBoundPort || b.PPID != 0 {
		t.Fatalf("vPPB 2 pre-binding incorrect: %+v", b)
	}
}

func TestConnectDisconnect(t *testing.T) {
	s := loadTestSwitch(t)

	p := &s.Ports[2]
	d := s.findDevice("mld_test")

	if err := s.Connect(p, d); err != nil {
		t.Fatal(err)
	}

	if p.Prsnt != 1 || p.LD != 2 || p.MLD == nil {
		t.Fatalf("Connect incorrect: %+v", p)
	}
	if p.Ltssm != fmapi.LtssmL0 {
		t.Fatalf("Connect LTSSM incorrect: %s", p.Ltssm)
	}

	// The port's MLD is a copy; mutating it must not touch the catalog.
	p.MLD.Rng1[0] = 99
	if d.MLD.Rng1[0] == 99 {
		t.Fatal("Connect did not copy the MLD template")
	}

	if err := s.Disconnect(p); err != nil {
		t.Fatal(err)
	}

	if p.Prsnt != 0 || p.LD != 0 || p.MLD != nil {
		t.Fatalf("Disconnect incorrect: %+v", p)
	}

	// Disconnect does not clear the port state.
	if p.State != fmapi.PortStateDSP {
		t.Fatalf("Disconnect cleared port state: %s", p.State)
	}

	for _, b := range p.CfgSpace {
		if b != 0 {
			t.Fatal("Disconnect did not clear config space")
		}
	}
}

func TestNewSwitchClamps(t *testing.T) {
	s := NewSwitch(1000, 1000, 1<<20)

	if s.NumPorts != MaxPorts || s.NumVCSs != MaxVCSs {
		t.Fatalf("Counts not clamped: %d %d", s.NumPorts, s.NumVCSs)
	}
	if int(s.NumVPPBs) != MaxVPPBs {
		t.Fatalf("vPPB count not clamped: %d", s.NumVPPBs)
	}
}
