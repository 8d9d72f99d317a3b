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

package mctp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	m := &Msg{
		Dst:     0x10,
		Src:     0x20,
		Tag:     3,
		Owner:   1,
		Type:    TypeCXLFMAPI,
		Len:     4,
		Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	frame := EncodeFrame(m)
	require.Len(t, frame, frameHdrLen+4+1)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)

	assert.Equal(t, m.Dst, decoded.Dst)
	assert.Equal(t, m.Src, decoded.Src)
	assert.Equal(t, m.Tag, decoded.Tag)
	assert.Equal(t, m.Owner, decoded.Owner)
	assert.Equal(t, m.Type, decoded.Type)
	assert.Equal(t, m.Payload[:m.Len], decoded.Payload[:decoded.Len])
}

func TestFrameCorruption(t *testing.T) {
	m := &Msg{Type: TypeCSE, Len: 2, Payload: []byte{0x01, 0x02}}

	frame := EncodeFrame(m)

	// Flip a payload bit; the PEC must catch it.
	frame[frameHdrLen] ^= 0x80

	_, err := DecodeFrame(frame)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestFrameTruncated(t *testing.T) {
	_, err := DecodeFrame([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestMsgPool(t *testing.T) {
	tr := New(0x10)

	msgs := []*Msg{}
	for {
		m := tr.GetMsg()
		if m == nil {
			break
		}
		msgs = append(msgs, m)
	}

	require.Len(t, msgs, numMsgs)

	for _, m := range msgs {
		tr.PutMsg(m)
	}

	assert.NotNil(t, tr.GetMsg())
}

func TestDispatchRouting(t *testing.T) {
	tr := New(0x10)

	handled := false
	tr.SetHandler(TypeCXLFMAPI, func(t *Transport, a *Action) error {
		handled = true
		a.Rsp = t.GetMsg()
		t.PushTransmit(a)
		return nil
	})

	req := tr.GetMsg()
	req.Type = TypeCXLFMAPI
	tr.Dispatch(&Action{Req: req})

	require.True(t, handled)

	a := tr.PopTransmit()
	assert.NotNil(t, a.Rsp)
	tr.PutMsg(a.Req)
	tr.PutMsg(a.Rsp)
}

func TestDispatchUnknownType(t *testing.T) {
	tr := New(0x10)

	req := tr.GetMsg()
	req.Type = 0x55
	tr.Dispatch(&Action{Req: req})

	a := tr.PopCompletion()
	assert.Equal(t, 1, a.CompletionCode)
}

func TestDispatchHandlerFailure(t *testing.T) {
	tr := New(0x10)

	tr.SetHandler(TypeCSE, func(t *Transport, a *Action) error {
		return errors.New("handler failed")
	})

	req := tr.GetMsg()
	req.Type = TypeCSE
	tr.Dispatch(&Action{Req: req})

	a := tr.PopCompletion()
	assert.Equal(t, 1, a.CompletionCode)
}
