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
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/NearNodeFlash/cxl-se/pkg/ec"
)

// DefaultApiRouter exposes read-only debug views of the switch model over
// HTTP. Every projection is taken under the model lock; nothing here
// mutates state.
type DefaultApiRouter struct {
	s   *Switch
	log ec.Logger
}

// NewDefaultApiRouter -
func NewDefaultApiRouter(s *Switch) ec.Router {
	return &DefaultApiRouter{s: s}
}

func (r *DefaultApiRouter) Name() string { return "CXL Switch Emulator Debug API" }

func (r *DefaultApiRouter) Init(log ec.Logger) error {
	r.log = log
	return nil
}

func (r *DefaultApiRouter) Start() error { return nil }
func (r *DefaultApiRouter) Close() error { return nil }

func (r *DefaultApiRouter) Routes() ec.Routes {
	return ec.Routes{{
		Name:        "StateGet",
		Method:      ec.GET_METHOD,
		Path:        "/state",
		HandlerFunc: r.stateGet,
	}, {
		Name:        "PortsGet",
		Method:      ec.GET_METHOD,
		Path:        "/ports",
		HandlerFunc: r.portsGet,
	}, {
		Name:        "PortIdGet",
		Method:      ec.GET_METHOD,
		Path:        "/ports/{id}",
		HandlerFunc: r.portIdGet,
	}, {
		Name:        "VCSsGet",
		Method:      ec.GET_METHOD,
		Path:        "/vcss",
		HandlerFunc: r.vcssGet,
	}, {
		Name:        "VCSIdGet",
		Method:      ec.GET_METHOD,
		Path:        "/vcss/{id}",
		HandlerFunc: r.vcsIdGet,
	}, {
		Name:        "DevicesGet",
		Method:      ec.GET_METHOD,
		Path:        "/devices",
		HandlerFunc: r.devicesGet,
	}}
}

// StateModel is the JSON projection of the switch identity.
type StateModel struct {
	VID          string `json:"vid"`
	DID          string `json:"did"`
	SVID         string `json:"svid"`
	SSID         string `json:"ssid"`
	SN           string `json:"sn"`
	IngressPort  uint8  `json:"ingressPort"`
	NumPorts     uint16 `json:"numPorts"`
	NumVCSs      uint16 `json:"numVCSs"`
	NumVPPBs     uint16 `json:"numVPPBs"`
	NumDecoders  uint8  `json:"numDecoders"`
	MsgRspLimitN uint8  `json:"msgRspLimitN"`
	BosRunning   uint8  `json:"bosRunning"`
	BosPcnt      uint8  `json:"bosPcnt"`
	BosOpcode    string `json:"bosOpcode"`
}

// PortModel is the JSON projection of one physical port.
type PortModel struct {
	PPID   uint8  `json:"ppid"`
	State  string `json:"state"`
	DV     string `json:"dv"`
	DT     string `json:"dt"`
	MLW    uint8  `json:"mlw"`
	NLW    uint8  `json:"nlw"`
	MLS    uint8  `json:"mls"`
	CLS    uint8  `json:"cls"`
	Ltssm  string `json:"ltssm"`
	Prsnt  uint8  `json:"prsnt"`
	LD     uint8  `json:"ld"`
	Device string `json:"device,omitempty"`
}

// VPPBModel is the JSON projection of one vPPB.
type VPPBModel struct {
	VPPBID     uint16 `json:"vppbid"`
	BindStatus string `json:"bindStatus"`
	PPID       uint8  `json:"ppid"`
	LDID       uint16 `json:"ldid"`
}

// VCSModel is the JSON projection of one VCS.
type VCSModel struct {
	VCSID uint8       `json:"vcsid"`
	State string      `json:"state"`
	USPID uint8       `json:"uspid"`
	Num   uint8       `json:"num"`
	VPPBs []VPPBModel `json:"vppbs"`
}

// DeviceModel is the JSON projection of one device catalog entry.
type DeviceModel struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	RootPort uint8  `json:"rootPort"`
	DT       string `json:"dt"`
	NumLD    uint16 `json:"numLD,omitempty"`
}

func (r *DefaultApiRouter) stateGet(w http.ResponseWriter, req *http.Request) {
	s := r.s

	s.mtx.Lock()
	model := StateModel{
		VID:          hex16(s.VID),
		DID:          hex16(s.DID),
		SVID:         hex16(s.SVID),
		SSID:         hex16(s.SSID),
		SN:           hex64(s.SN),
		IngressPort:  s.IngressPort,
		NumPorts:     s.NumPorts,
		NumVCSs:      s.NumVCSs,
		NumVPPBs:     s.NumVPPBs,
		NumDecoders:  s.NumDecoders,
		MsgRspLimitN: s.MsgRspLimitN,
		BosRunning:   s.BOS.Running,
		BosPcnt:      s.BOS.Pcnt,
		BosOpcode:    hex16(s.BOS.Opcode),
	}
	s.mtx.Unlock()

	ec.EncodeResponse(model, nil, w)
}

func (r *DefaultApiRouter) portsGet(w http.ResponseWriter, req *http.Request) {
	s := r.s

	s.mtx.Lock()
	model := make([]PortModel, 0, s.NumPorts)
	for i := 0; i < int(s.NumPorts); i++ {
		model = append(model, portModel(&s.Ports[i]))
	}
	s.mtx.Unlock()

	ec.EncodeResponse(model, nil, w)
}

func (r *DefaultApiRouter) portIdGet(w http.ResponseWriter, req *http.Request) {
	s := r.s

	id, err := strconv.Atoi(mux.Vars(req)["id"])
	if err != nil {
		ec.EncodeResponse(nil, ec.NewErrBadRequest().WithError(err).WithCause("port id is not a number"), w)
		return
	}

	s.mtx.Lock()
	if id < 0 || id >= int(s.NumPorts) {
		s.mtx.Unlock()
		ec.EncodeResponse(nil, ec.ErrNotFound, w)
		return
	}
	model := portModel(&s.Ports[id])
	s.mtx.Unlock()

	ec.EncodeResponse(model, nil, w)
}

func (r *DefaultApiRouter) vcssGet(w http.ResponseWriter, req *http.Request) {
	s := r.s

	s.mtx.Lock()
	model := make([]VCSModel, 0, s.NumVCSs)
	for i := 0; i < int(s.NumVCSs); i++ {
		model = append(model, vcsModel(&s.VCSs[i]))
	}
	s.mtx.Unlock()

	ec.EncodeResponse(model, nil, w)
}

func (r *DefaultApiRouter) vcsIdGet(w http.ResponseWriter, req *http.Request) {
	s := r.s

	id, err := strconv.Atoi(mux.Vars(req)["id"])
	if err != nil {
		ec.EncodeResponse(nil, ec.NewErrBadRequest().WithError(err).WithCause("vcs id is not a number"), w)
		return
	}

	s.mtx.Lock()
	if id < 0 || id >= int(s.NumVCSs) {
		s.mtx.Unlock()
		ec.EncodeResponse(nil, ec.ErrNotFound, w)
		return
	}
	model := vcsModel(&s.VCSs[id])
	s.mtx.Unlock()

	ec.EncodeResponse(model, nil, w)
}

func (r *DefaultApiRouter) devicesGet(w http.ResponseWriter, req *http.Request) {
	s := r.s

	s.mtx.Lock()
	model := []DeviceModel{}
	for i := range s.Devices {
		d := &s.Devices[i]
		if d.Name == "" {
			continue
		}

		m := DeviceModel{
			ID:       i,
			Name:     d.Name,
			RootPort: d.RootPort,
			DT:       d.DT.String(),
		}
		if d.MLD != nil {
			m.NumLD = d.MLD.Num
		}
		model = append(model, m)
	}
	s.mtx.Unlock()

	ec.EncodeResponse(model, nil, w)
}

func portModel(p *Port) PortModel {
	return PortModel{
		PPID:   p.PPID,
		State:  p.State.String(),
		DV:     p.DV.String(),
		DT:     p.DT.String(),
		MLW:    p.MLW,
		NLW:    p.NLW,
		MLS:    p.MLS,
		CLS:    p.CLS,
		Ltssm:  p.Ltssm.String(),
		Prsnt:  p.Prsnt,
		LD:     p.LD,
		Device: p.DeviceName,
	}
}

func vcsModel(v *VCS) VCSModel {
	model := VCSModel{
		VCSID: v.VCSID,
		State: v.State.String(),
		USPID: v.USPID,
		Num:   v.Num,
		VPPBs: make([]VPPBModel, 0, v.Num),
	}

	for k := 0; k < int(v.Num); k++ {
		b := &v.VPPBs[k]
		model.VPPBs = append(model.VPPBs, VPPBModel{
			VPPBID:     b.VPPBID,
			BindStatus: b.BindStatus.String(),
			PPID:       b.PPID,
			LDID:       b.LDID,
		})
	}

	return model
}

func hex16(v uint16) string { return "0x" + strconv.FormatUint(uint64(v), 16) }
func hex64(v uint64) string { return "0x" + strconv.FormatUint(v, 16) }
