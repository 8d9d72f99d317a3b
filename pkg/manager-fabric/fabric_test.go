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

package fabric_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/cxl-se/pkg/emapi"
	"github.com/NearNodeFlash/cxl-se/pkg/fmapi"
	fabric "github.com/NearNodeFlash/cxl-se/pkg/manager-fabric"
	"github.com/NearNodeFlash/cxl-se/pkg/mctp"
)

const testConfig = `
switch:
  num_vcss: 4
devices:
  mld_5x8_2.0_4G:
    did: 3
    port: {dv: 2, dt: 5, cv: 0x01, mlw: 8, mls: 4}
    pcicfg:
      vendor: 0x1dc5
      device: 0xc151
      baseclass: 0x05
      subclass: 0x02
      cap:
        "0x01": "00,00"
    mld:
      memory_size: 0x100000000
      num: 4
      granularity: 0
      rng1: "0,4,8,12"
      rng2: "3,7,11,15"
      alloc_bw: "10,10,10,10"
      bw_limit: "80,80,80,80"
      egress_mod_pcnt: 10
      egress_sev_pcnt: 25
      sample_interval: 8
      comp_interval: 64
      mmap: 1
  mld_5x8_1.1_4G:
    did: 4
    port: {dv: 1, dt: 5, cv: 0x01, mlw: 8, mls: 4}
    mld:
      memory_size: 0x100000000
      num: 4
      granularity: 0
      rng1: "0,4,8,12"
      rng2: "3,7,11,15"
      alloc_bw: "10,10,10,10"
      bw_limit: "80,80,80,80"
      egress_mod_pcnt: 10
      egress_sev_pcnt: 25
      sample_interval: 8
      comp_interval: 64
ports:
  1: {device: mld_5x8_2.0_4G}
  2: {device: mld_5x8_2.0_4G}
  10: {state: 0}
vcss:
  0:
    state: 1
    uspid: 0
    num_vppb: 8
`

var _ = Describe("Fabric Manager", func() {
	var (
		s  *fabric.Switch
		tp *mctp.Transport
	)

	BeforeEach(func() {
		s = fabric.NewSwitch(32, 32, 256)
		s.Dir = GinkgoT().TempDir()

		cfg, err := fabric.ParseConfig([]byte(testConfig))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.ApplyConfig(cfg)).To(Succeed())

		tp = mctp.New(0x10)
		tp.SetHandler(mctp.TypeCXLFMAPI, s.FMAPIHandler)
		tp.SetHandler(mctp.TypeCSE, s.EMAPIHandler)
	})

	AfterEach(func() {
		Expect(s.CheckInvariants()).To(Succeed())
		s.Close()
	})

	// fmRequest runs one FM API request through the handler table and
	// returns the response header and a copy of the response payload.
	fmRequest := func(tag uint8, opcode uint16, obj fmapi.Object) (fmapi.Hdr, []byte) {
		req := tp.GetMsg()
		Expect(req).NotTo(BeNil())
		req.Src = 0x20
		req.Tag = tag
		req.Type = mctp.TypeCXLFMAPI

		plen := 0
		if obj != nil {
			n, err := obj.Serialize(req.Payload[fmapi.HdrLen:])
			Expect(err).NotTo(HaveOccurred())
			plen = n
		}

		hdr := fmapi.Hdr{}
		req.Len = fmapi.FillHdr(&hdr, fmapi.CategoryReq, tag, opcode, 0, plen, 0, 0)
		_, err := hdr.Serialize(req.Payload)
		Expect(err).NotTo(HaveOccurred())

		a := &mctp.Action{Req: req}
		Expect(s.FMAPIHandler(tp, a)).To(Succeed())

		done := tp.PopTransmit()
		Expect(done.Rsp).NotTo(BeNil())

		rspHdr := fmapi.Hdr{}
		_, err = rspHdr.Deserialize(done.Rsp.Payload[:done.Rsp.Len])
		Expect(err).NotTo(HaveOccurred())

		payload := make([]byte, done.Rsp.Len-fmapi.HdrLen)
		copy(payload, done.Rsp.Payload[fmapi.HdrLen:done.Rsp.Len])

		tp.PutMsg(done.Req)
		tp.PutMsg(done.Rsp)

		return rspHdr, payload
	}

	// emRequest runs one emulator API request; parameters ride in the
	// header's a and b bytes.
	emRequest := func(tag uint8, opcode uint16, pa uint8, pb uint8) (emapi.Hdr, []byte) {
		req := tp.GetMsg()
		Expect(req).NotTo(BeNil())
		req.Src = 0x20
		req.Tag = tag
		req.Type = mctp.TypeCSE

		hdr := emapi.Hdr{}
		req.Len = emapi.FillHdr(&hdr, emapi.TypeReq, tag, 0, opcode, 0, pa, pb)
		_, err := hdr.Serialize(req.Payload)
		Expect(err).NotTo(HaveOccurred())

		a := &mctp.Action{Req: req}
		Expect(s.EMAPIHandler(tp, a)).To(Succeed())

		done := tp.PopTransmit()
		Expect(done.Rsp).NotTo(BeNil())

		rspHdr := emapi.Hdr{}
		_, err = rspHdr.Deserialize(done.Rsp.Payload[:done.Rsp.Len])
		Expect(err).NotTo(HaveOccurred())

		payload := make([]byte, done.Rsp.Len-emapi.HdrLen)
		copy(payload, done.Rsp.Payload[emapi.HdrLen:done.Rsp.Len])

		tp.PutMsg(done.Req)
		tp.PutMsg(done.Rsp)

		return rspHdr, payload
	}

	// tunnel wraps an MCC request into a Tunnel Management Command on the
	// given port and returns the inner response header and payload.
	tunnel := func(ppid uint8, opcode uint16, obj fmapi.Object) (fmapi.Hdr, []byte) {
		inner := make([]byte, 4096)

		plen := 0
		if obj != nil {
			n, err := obj.Serialize(inner[fmapi.HdrLen:])
			Expect(err).NotTo(HaveOccurred())
			plen = n
		}

		innerHdr := fmapi.Hdr{}
		innerLen := fmapi.FillHdr(&innerHdr, fmapi.CategoryReq, 0, opcode, 0, plen, 0, 0)
		_, err := innerHdr.Serialize(inner)
		Expect(err).NotTo(HaveOccurred())

		rspHdr, payload := fmRequest(1, fmapi.OpMpcTmc, &fmapi.MpcTmcReq{
			PPID: ppid,
			Type: mctp.TypeCXLCCI,
			Msg:  inner[:innerLen],
		})
		Expect(rspHdr.RC).To(Equal(fmapi.RCSuccess))

		tmcRsp := fmapi.MpcTmcRsp{}
		_, err = tmcRsp.Deserialize(payload)
		Expect(err).NotTo(HaveOccurred())

		innerRspHdr := fmapi.Hdr{}
		_, err = innerRspHdr.Deserialize(tmcRsp.Msg)
		Expect(err).NotTo(HaveOccurred())

		return innerRspHdr, tmcRsp.Msg[fmapi.HdrLen:]
	}

	Describe("Identify", func() {
		It("reports the switch identity", func() {
			hdr, payload := fmRequest(3, fmapi.OpPscID, nil)

			Expect(hdr.Category).To(Equal(fmapi.CategoryRsp))
			Expect(hdr.Tag).To(Equal(uint8(3)))
			Expect(hdr.Opcode).To(Equal(fmapi.OpPscID))
			Expect(hdr.Background).To(Equal(uint32(0)))
			Expect(hdr.Len).To(Equal(uint32(44)))
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			expected := []byte{
				0xB2, 0xB1, 0xC2, 0xC1, 0xD2, 0xD1, 0xE2, 0xE1,
				0xA8, 0xA7, 0xA6, 0xA5, 0xA4, 0xA3, 0xA2, 0xA1,
				0x01, 0x20, 0x04,
			}
			Expect(payload[:len(expected)]).To(Equal(expected))
		})

		It("reports the PCIe identity and message size over ISC", func() {
			hdr, payload := fmRequest(0, fmapi.OpIscID, nil)
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.IscIDRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.VID).To(Equal(uint16(0xB1B2)))
			Expect(rsp.SN).To(Equal(uint64(0xA1A2A3A4A5A6A7A8)))
			Expect(rsp.Size).To(Equal(uint8(13)))
		})
	})

	Describe("Bind", func() {
		It("binds a vPPB to an LD and reports it over VSC info", func() {
			hdr, _ := fmRequest(0, fmapi.OpVscBind, &fmapi.VscBindReq{
				VCSID: 0, VPPBID: 1, PPID: 1, LDID: 0,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCBackgroundOpStarted))

			infoHdr, payload := fmRequest(0, fmapi.OpVscInfo, &fmapi.VscInfoReq{
				VPPBStart: 0, VPPBLimit: 8, VCSs: []uint8{0},
			})
			Expect(infoHdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.VscInfoRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.Num).To(Equal(uint8(1)))
			blk := rsp.List[0]
			Expect(blk.Total).To(Equal(uint8(8)))
			Expect(blk.Num).To(Equal(uint8(8)))
			Expect(blk.List[1].Status).To(Equal(uint8(fmapi.BindStatusBoundLD)))
			Expect(blk.List[1].PPID).To(Equal(uint8(1)))
			Expect(blk.List[1].LDID).To(Equal(uint16(0)))

			bosHdr, bosPayload := fmRequest(0, fmapi.OpIscBos, nil)
			Expect(bosHdr.RC).To(Equal(fmapi.RCSuccess))

			bos := fmapi.IscBosRsp{}
			_, err = bos.Deserialize(bosPayload)
			Expect(err).NotTo(HaveOccurred())
			Expect(bos.Pcnt).To(Equal(uint8(100)))
			Expect(bos.Opcode).To(Equal(fmapi.OpVscBind))
		})

		It("rejects a bind to an out-of-range VCS without mutating state", func() {
			hdr, payload := fmRequest(0, fmapi.OpVscBind, &fmapi.VscBindReq{
				VCSID: 99, VPPBID: 1, PPID: 1, LDID: 0,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
			Expect(hdr.Len).To(Equal(uint32(0)))
			Expect(payload).To(BeEmpty())

			for k := 0; k < 8; k++ {
				Expect(s.VCSs[0].VPPBs[k].BindStatus).To(Equal(fmapi.BindStatusUnbound))
			}
		})

		It("rejects a whole-port bind to an MLD port", func() {
			hdr, _ := fmRequest(0, fmapi.OpVscBind, &fmapi.VscBindReq{
				VCSID: 0, VPPBID: 1, PPID: 1, LDID: fmapi.LDIDWholePort,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
		})

		It("unbinds back to the initial state", func() {
			hdr, _ := fmRequest(0, fmapi.OpVscBind, &fmapi.VscBindReq{
				VCSID: 0, VPPBID: 1, PPID: 1, LDID: 2,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCBackgroundOpStarted))

			hdr, _ = fmRequest(0, fmapi.OpVscUnbind, &fmapi.VscUnbindReq{VCSID: 0, VPPBID: 1})
			Expect(hdr.RC).To(Equal(fmapi.RCBackgroundOpStarted))

			b := s.VCSs[0].VPPBs[1]
			Expect(b.BindStatus).To(Equal(fmapi.BindStatusUnbound))
			Expect(b.PPID).To(Equal(uint8(0)))
			Expect(b.LDID).To(Equal(uint16(0)))

			hdr, _ = fmRequest(0, fmapi.OpVscUnbind, &fmapi.VscUnbindReq{VCSID: 0, VPPBID: 1})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
		})
	})

	Describe("Physical port state", func() {
		It("skips out-of-range ports in a port list request", func() {
			hdr, payload := fmRequest(0, fmapi.OpPscPort, &fmapi.PscPortReq{
				Ports: []uint8{0, 32, 33},
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.PscPortRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.Num).To(Equal(uint8(1)))
			Expect(rsp.List[0].PPID).To(Equal(uint8(0)))
		})

		It("reports a connected MLD port", func() {
			_, payload := fmRequest(0, fmapi.OpPscPort, &fmapi.PscPortReq{Ports: []uint8{1}})

			rsp := fmapi.PscPortRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.Num).To(Equal(uint8(1)))
			info := rsp.List[0]
			Expect(info.DT).To(Equal(uint8(fmapi.DeviceTypeCXLType3Pooled)))
			Expect(info.Prsnt).To(Equal(uint8(1)))
			Expect(info.NumLD).To(Equal(uint8(4)))
			Expect(info.NLW).To(Equal(uint8(8 << 4)))
			Expect(info.CLS).To(Equal(uint8(4)))
		})

		It("asserts and deasserts PERST", func() {
			hdr, _ := fmRequest(0, fmapi.OpPscPortCtrl, &fmapi.PscPortCtrlReq{
				PPID: 1, Opcode: fmapi.PortCtrlAssertPerst,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))
			Expect(s.Ports[1].Perst).To(Equal(uint8(1)))

			hdr, _ = fmRequest(0, fmapi.OpPscPortCtrl, &fmapi.PscPortCtrlReq{
				PPID: 1, Opcode: fmapi.PortCtrlDeassertPerst,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))
			Expect(s.Ports[1].Perst).To(Equal(uint8(0)))

			hdr, _ = fmRequest(0, fmapi.OpPscPortCtrl, &fmapi.PscPortCtrlReq{
				PPID: 200, Opcode: fmapi.PortCtrlAssertPerst,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
		})

		It("reads and writes port config space honoring byte enables", func() {
			hdr, _ := fmRequest(0, fmapi.OpPscCfg, &fmapi.PscCfgReq{
				PPID: 1, Reg: 0x40, Ext: 0, FDBE: 0x5, Type: fmapi.CfgWrite,
				Data: [4]uint8{0x11, 0x22, 0x33, 0x44},
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			hdr, payload := fmRequest(0, fmapi.OpPscCfg, &fmapi.PscCfgReq{
				PPID: 1, Reg: 0x40, Ext: 0, FDBE: 0xF, Type: fmapi.CfgRead,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.PscCfgRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			// Only bytes 0 and 2 were write enabled; byte 1 keeps the
			// capability chain pointer the loader put at 0x41.
			Expect(rsp.Data[0]).To(Equal(uint8(0x11)))
			Expect(rsp.Data[2]).To(Equal(uint8(0x33)))
			Expect(rsp.Data[3]).To(Equal(uint8(0x00)))
		})
	})

	Describe("Message limit", func() {
		It("enforces the 8..20 range", func() {
			hdr, _ := fmRequest(0, fmapi.OpIscMsgLimitSet, &fmapi.IscMsgLimit{Limit: 7})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
			Expect(hdr.Len).To(Equal(uint32(0)))

			hdr, payload := fmRequest(0, fmapi.OpIscMsgLimitSet, &fmapi.IscMsgLimit{Limit: 20})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.IscMsgLimit{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.Limit).To(Equal(uint8(20)))

			hdr, _ = fmRequest(0, fmapi.OpIscMsgLimitSet, &fmapi.IscMsgLimit{Limit: 21})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))

			hdr, payload = fmRequest(0, fmapi.OpIscMsgLimitGet, nil)
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))
			_, err = rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.Limit).To(Equal(uint8(20)))
		})
	})

	Describe("MLD memory", func() {
		It("round trips a write and read through the backing map", func() {
			hdr, _ := fmRequest(0, fmapi.OpMpcMem, &fmapi.MpcMemReq{
				PPID: 1, LDID: 0, Type: fmapi.CfgWrite, Offset: 0x1000, Len: 4,
				Data: []uint8{0xDE, 0xAD, 0xBE, 0xEF},
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			hdr, payload := fmRequest(0, fmapi.OpMpcMem, &fmapi.MpcMemReq{
				PPID: 1, LDID: 0, Type: fmapi.CfgRead, Offset: 0x1000, Len: 4,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MpcMemRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.Len).To(Equal(uint64(4)))
			Expect(rsp.Data).To(Equal([]uint8{0xDE, 0xAD, 0xBE, 0xEF}))
		})

		It("reads zero from untouched sparse regions", func() {
			hdr, payload := fmRequest(0, fmapi.OpMpcMem, &fmapi.MpcMemReq{
				PPID: 1, LDID: 1, Type: fmapi.CfgRead, Offset: 0x2000, Len: 8,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MpcMemRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.Data).To(Equal(make([]uint8, 8)))
		})

		It("bounds accesses to the LD's range", func() {
			hdr, _ := fmRequest(0, fmapi.OpMpcMem, &fmapi.MpcMemReq{
				PPID: 1, LDID: 0, Type: fmapi.CfgRead, Offset: 1 << 30, Len: 4,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))

			hdr, _ = fmRequest(0, fmapi.OpMpcMem, &fmapi.MpcMemReq{
				PPID: 1, LDID: 0, Type: fmapi.CfgRead, Offset: 0, Len: 5000,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
		})

		It("fails with UNSUPPORTED when the port has no backing memory", func() {
			// Port 10 gets the 1.1 device, which has no mmap directive.
			emHdr, _ := emRequest(0, emapi.OpConnDev, 10, 4)
			Expect(emHdr.RC).To(Equal(emapi.RCSuccess))

			hdr, _ := fmRequest(0, fmapi.OpMpcMem, &fmapi.MpcMemReq{
				PPID: 10, LDID: 0, Type: fmapi.CfgRead, Offset: 0, Len: 4,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCUnsupported))
		})
	})

	Describe("Tunneled MLD commands", func() {
		It("reports LD info", func() {
			hdr, payload := tunnel(1, fmapi.OpMccInfo, nil)
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MccInfoRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.Size).To(Equal(uint64(0x100000000)))
			Expect(rsp.Num).To(Equal(uint16(4)))
		})

		It("sets and gets QoS allocated bandwidth", func() {
			hdr, _ := tunnel(2, fmapi.OpMccQosBwAllocSet, &fmapi.MccQosBw{
				Start: 1, List: []uint8{0x40, 0x80},
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			hdr, payload := tunnel(2, fmapi.OpMccQosBwAllocGet, &fmapi.MccQosBwGetReq{Num: 4, Start: 0})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MccQosBw{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			// alloc_bw starts at 0x10 for every LD.
			Expect(rsp.List).To(Equal([]uint8{0x10, 0x40, 0x80, 0x10}))
		})

		It("truncates an allocation window to the available tail", func() {
			hdr, payload := tunnel(1, fmapi.OpMccAllocGet, &fmapi.MccAllocGetReq{Start: 2, Limit: 10})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MccAllocGetRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.Total).To(Equal(uint8(4)))
			Expect(rsp.Num).To(Equal(uint8(2)))
			Expect(rsp.List[0].Rng1).To(Equal(uint64(8)))
			Expect(rsp.List[1].Rng2).To(Equal(uint64(15)))
		})

		It("returns an empty window when start equals the LD count", func() {
			hdr, payload := tunnel(1, fmapi.OpMccAllocGet, &fmapi.MccAllocGetReq{Start: 4, Limit: 4})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MccAllocGetRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.Num).To(Equal(uint8(0)))
		})

		It("round trips LD allocations through set and get", func() {
			hdr, _ := tunnel(1, fmapi.OpMccAllocSet, &fmapi.MccAllocSet{
				Start: 0,
				List:  []fmapi.MccAllocEntry{{Rng1: 0, Rng2: 1}, {Rng1: 2, Rng2: 3}},
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			hdr, payload := tunnel(1, fmapi.OpMccAllocGet, &fmapi.MccAllocGetReq{Start: 0, Limit: 2})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MccAllocGetRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.List).To(Equal([]fmapi.MccAllocEntry{{Rng1: 0, Rng2: 1}, {Rng1: 2, Rng2: 3}}))
		})

		It("stores QoS control values without range validation", func() {
			hdr, payload := tunnel(1, fmapi.OpMccQosCtrlSet, &fmapi.MccQosCtrl{
				EgressModPcnt:  0,
				SampleInterval: 8,
				RCB:            0xFFFF,
			})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			rsp := fmapi.MccQosCtrl{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.EgressModPcnt).To(Equal(uint8(0)))
			Expect(rsp.RCB).To(Equal(uint16(0xFFFF)))
		})

		It("rejects an unknown tunneled opcode with UNSUPPORTED", func() {
			hdr, _ := tunnel(1, 0x5420, nil)
			Expect(hdr.RC).To(Equal(fmapi.RCUnsupported))
		})

		It("rejects tunneling to a non Type 3 port", func() {
			rspHdr, _ := fmRequest(1, fmapi.OpMpcTmc, &fmapi.MpcTmcReq{
				PPID: 10, Type: mctp.TypeCXLCCI, Msg: make([]byte, fmapi.HdrLen),
			})
			Expect(rspHdr.RC).To(Equal(fmapi.RCInvalidInput))
		})
	})

	Describe("Emulator API", func() {
		It("lists the device catalog", func() {
			hdr, payload := emRequest(0, emapi.OpListDev, 0, 0)
			Expect(hdr.RC).To(Equal(emapi.RCSuccess))

			// The catalog's high water mark is slot 4; the empty slots
			// below it are listed with empty names.
			Expect(hdr.A).To(Equal(uint8(5)))

			entries, err := emapi.ParseDeviceList(payload)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(5))
			Expect(entries[0].ID).To(Equal(uint8(0)))
			Expect(entries[0].Name).To(BeEmpty())
			Expect(entries[3].ID).To(Equal(uint8(3)))
			Expect(entries[3].Name).To(Equal("mld_5x8_2.0_4G"))
			Expect(entries[4].ID).To(Equal(uint8(4)))
			Expect(entries[4].Name).To(Equal("mld_5x8_1.1_4G"))
		})

		It("connects and disconnects a device", func() {
			hdr, _ := emRequest(0, emapi.OpConnDev, 10, 4)
			Expect(hdr.RC).To(Equal(emapi.RCSuccess))

			_, payload := fmRequest(0, fmapi.OpPscPort, &fmapi.PscPortReq{Ports: []uint8{10}})
			rsp := fmapi.PscPortRsp{}
			_, err := rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.List[0].DT).To(Equal(uint8(fmapi.DeviceTypeCXLType3Pooled)))
			Expect(rsp.List[0].Prsnt).To(Equal(uint8(1)))
			Expect(rsp.List[0].NumLD).To(Equal(uint8(4)))

			hdr, _ = emRequest(0, emapi.OpDisconDev, 10, 0)
			Expect(hdr.RC).To(Equal(emapi.RCSuccess))

			_, payload = fmRequest(0, fmapi.OpPscPort, &fmapi.PscPortReq{Ports: []uint8{10}})
			_, err = rsp.Deserialize(payload)
			Expect(err).NotTo(HaveOccurred())

			Expect(rsp.List[0].DT).To(Equal(uint8(0)))
			Expect(rsp.List[0].Prsnt).To(Equal(uint8(0)))
			Expect(rsp.List[0].NumLD).To(Equal(uint8(0)))

			// Disconnect deliberately leaves the port state behind; the
			// device went away but the port still reads as a DSP.
			Expect(rsp.List[0].State).To(Equal(uint8(fmapi.PortStateDSP)))
		})

		It("rejects a connect to an empty catalog slot", func() {
			hdr, _ := emRequest(0, emapi.OpConnDev, 10, 2)
			Expect(hdr.RC).To(Equal(emapi.RCInvalidInput))
		})

		It("answers unknown opcodes with UNSUPPORTED", func() {
			hdr, _ := emRequest(0, 0x0042, 0, 0)
			Expect(hdr.RC).To(Equal(emapi.RCUnsupported))
		})
	})

	Describe("Unsupported FM API opcodes", func() {
		It("answers with UNSUPPORTED and no payload", func() {
			hdr, payload := fmRequest(0, 0x0042, nil)
			Expect(hdr.RC).To(Equal(fmapi.RCUnsupported))
			Expect(hdr.Len).To(Equal(uint32(0)))
			Expect(payload).To(BeEmpty())
		})
	})

	Describe("AER", func() {
		It("accepts a valid AER request and validates ids", func() {
			hdr, _ := fmRequest(0, fmapi.OpVscAer, &fmapi.VscAerReq{VCSID: 0, VPPBID: 1, ErrorType: 0x1})
			Expect(hdr.RC).To(Equal(fmapi.RCSuccess))

			hdr, _ = fmRequest(0, fmapi.OpVscAer, &fmapi.VscAerReq{VCSID: 0, VPPBID: 200})
			Expect(hdr.RC).To(Equal(fmapi.RCInvalidInput))
		})
	})
})
