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

// IscIDRsp is the Identify response: the device's PCIe identity, serial
// number, and the log2 of the maximum supported message payload size.
type IscIDRsp struct {
	VID  uint16
	DID  uint16
	SVID uint16
	SSID uint16
	SN   uint64
	Size uint8
}

func (r *IscIDRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *IscIDRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// IscBosRsp is the Background Operation Status response block.
type IscBosRsp struct {
	Running uint8
	Pcnt    uint8
	Opcode  uint16
	RC      uint16
	Ext     uint16
}

func (r *IscBosRsp) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *IscBosRsp) Deserialize(buf []byte) (int, error) { return decode(buf, r) }

// IscMsgLimit carries the response message limit for both the Get response
// and the Set request/response. The limit is the n of a 2^n byte cap.
type IscMsgLimit struct {
	Limit uint8
}

func (r *IscMsgLimit) Serialize(buf []byte) (int, error)   { return encode(buf, r) }
func (r *IscMsgLimit) Deserialize(buf []byte) (int, error) { return decode(buf, r) }
