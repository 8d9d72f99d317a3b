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
	"io"

	"github.com/NearNodeFlash/cxl-se/pkg/pcie"
)

// Print dumps the switch identity, ports and VCSs.
func (s *Switch) Print(w io.Writer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.printIdentity(w)
	s.printPorts(w)
	s.printVCSs(w)
}

// PrintDevices dumps the device catalog.
func (s *Switch) PrintDevices(w io.Writer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for i := range s.Devices {
		d := &s.Devices[i]
		if d.Name == "" {
			continue
		}

		fmt.Fprintf(w, "%s:\n", d.Name)
		fmt.Fprintf(w, "  Port:\n")
		fmt.Fprintf(w, "    dt:     %2d - %s\n", d.DT, d.DT)
		fmt.Fprintf(w, "    dv:     %2d - %s\n", d.DV, d.DV)
		fmt.Fprintf(w, "    cv:     0x%02x\n", d.CV)
		fmt.Fprintf(w, "    mlw:    %2d\n", d.MLW)
		fmt.Fprintf(w, "    mls:    %2d\n", d.MLS)

		pcie.Print(w, d.CfgSpace, 2)

		if d.MLD != nil {
			printMLD(w, d.MLD, 2)
		}
	}
}

func (s *Switch) printIdentity(w io.Writer) {
	fmt.Fprintf(w, "ingress_port: %d\n", s.IngressPort)
	fmt.Fprintf(w, "num_ports:    %d\n", s.NumPorts)
	fmt.Fprintf(w, "num_vcss:     %d\n", s.NumVCSs)
	fmt.Fprintf(w, "num_vppbs:    %d\n", s.NumVPPBs)
	fmt.Fprintf(w, "num_decoders: %d\n", s.NumDecoders)
	fmt.Fprintf(w, "dir:          %s\n", s.Dir)
}

func (s *Switch) printPorts(w io.Writer) {
	fmt.Fprintf(w, "ports:\n")

	for i := 0; i < int(s.NumPorts); i++ {
		p := &s.Ports[i]

		fmt.Fprintf(w, "  %02d:\n", i)
		fmt.Fprintf(w, "    state:                   %d\t%s\n", p.State, p.State)
		fmt.Fprintf(w, "    dv:                      %d\t%s\n", p.DV, p.DV)
		fmt.Fprintf(w, "    dt:                      %d\t%s\n", p.DT, p.DT)
		fmt.Fprintf(w, "    cv:                      0x%02x\n", p.CV)
		fmt.Fprintf(w, "    max_link_width:          %d\n", p.MLW)
		fmt.Fprintf(w, "    neg_link_width:          %d\n", p.NLW)
		fmt.Fprintf(w, "    speeds:                  0x%02x\n", p.Speeds)
		fmt.Fprintf(w, "    max_link_speed:          %d\n", p.MLS)
		fmt.Fprintf(w, "    cur_link_speed:          %d\n", p.CLS)
		fmt.Fprintf(w, "    ltssm:                   %d\t%s\n", p.Ltssm, p.Ltssm)
		fmt.Fprintf(w, "    first_lane:              %d\n", p.Lane)
		fmt.Fprintf(w, "    lane_reversal:           %d\n", p.LaneRev)
		fmt.Fprintf(w, "    perst:                   %d\n", p.Perst)
		fmt.Fprintf(w, "    prsnt:                   %d\n", p.Prsnt)
		fmt.Fprintf(w, "    pwrctrl:                 %d\n", p.PwrCtrl)
		fmt.Fprintf(w, "    ld:                      %d\n", p.LD)
		fmt.Fprintf(w, "    device:                  %s\n", p.DeviceName)

		if p.MLD != nil {
			printMLD(w, p.MLD, 4)
		}
	}
}

func (s *Switch) printVCSs(w io.Writer) {
	fmt.Fprintf(w, "vcss:\n")

	for i := 0; i < int(s.NumVCSs); i++ {
		v := &s.VCSs[i]

		fmt.Fprintf(w, "  %02d:\n", i)
		fmt.Fprintf(w, "    state:    %d\t%s\n", v.State, v.State)
		fmt.Fprintf(w, "    uspid:    %d\n", v.USPID)
		fmt.Fprintf(w, "    num_vppb: %d\n", v.Num)
		fmt.Fprintf(w, "    vppbs:\n")

		for k := 0; k < int(v.Num); k++ {
			b := &v.VPPBs[k]
			fmt.Fprintf(w, "      %d:\n", k)
			fmt.Fprintf(w, "        bind_status: %d\t%s\n", b.BindStatus, b.BindStatus)
			fmt.Fprintf(w, "        ppid:        %d\n", b.PPID)
			fmt.Fprintf(w, "        ldid:        %d\n", b.LDID)
		}
	}
}

func printMLD(w io.Writer, m *MLD, indent int) {
	pad := fmt.Sprintf("%*s", indent, "")

	fmt.Fprintf(w, "%sMulti-Logical Device:\n", pad)
	fmt.Fprintf(w, "%s  Memory Size                               0x%016x\n", pad, m.MemorySize)
	fmt.Fprintf(w, "%s  Num LD                                    %d\n", pad, m.Num)
	fmt.Fprintf(w, "%s  Egress Port Congestion Supported          %d\n", pad, m.EPC)
	fmt.Fprintf(w, "%s  Temporary Throughput Reduction Supported  %d\n", pad, m.TTR)
	fmt.Fprintf(w, "%s  Granularity                               %d - %s\n", pad, m.Granularity, m.Granularity)
	fmt.Fprintf(w, "%s  Egress Port Congestion Enabled            %d\n", pad, m.EPCEnable)
	fmt.Fprintf(w, "%s  Temporary Throughput Reduction Enabled    %d\n", pad, m.TTREnable)
	fmt.Fprintf(w, "%s  Egress Moderate Percentage                %d\n", pad, m.EgressModPcnt)
	fmt.Fprintf(w, "%s  Egress Severe Percentage                  %d\n", pad, m.EgressSevPcnt)
	fmt.Fprintf(w, "%s  Backpressure Sample Interval              %d\n", pad, m.SampleInterval)
	fmt.Fprintf(w, "%s  ReqCmpBasis                               %d\n", pad, m.RCB)
	fmt.Fprintf(w, "%s  Completion Collection Interval            %d\n", pad, m.CompInterval)
	fmt.Fprintf(w, "%s  Backpressure Average Percentage           %d\n", pad, m.BPAvgPcnt)
	fmt.Fprintf(w, "%s  mmap                                      %t\n", pad, m.Mmap)
	fmt.Fprintf(w, "%s  mmap file                                 %s\n", pad, m.File)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "%s  LDID  Range 1            Range 2            Alloc BW BW Limit\n", pad)
	fmt.Fprintf(w, "%s  ----  ------------------ ------------------ -------- --------\n", pad)
	for i := 0; i < int(m.Num); i++ {
		fmt.Fprintf(w, "%s  %4d: 0x%016x 0x%016x %8d %8d\n", pad, i, m.Rng1[i], m.Rng2[i], m.AllocBW[i], m.BWLimit[i])
	}
}
