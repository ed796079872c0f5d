package v1

import (
	"errors"
	"testing"
	"time"
)

func TestDecodePayloadMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "single ok", raw: `{"receiverName":"bob","sendType":0,"payloadType":0,"content":"hi"}`},
		{name: "mass ok", raw: `{"senderName":"alice","groupId":"g1","sendType":1,"payloadType":2}`},
		{name: "single missing receiver", raw: `{"sendType":0,"content":"hi"}`, want: ErrInvalid},
		{name: "mass missing group", raw: `{"senderName":"alice","sendType":1}`, want: ErrInvalid},
		{name: "mass missing sender", raw: `{"groupId":"g1","sendType":1}`, want: ErrInvalid},
		{name: "unknown send type", raw: `{"receiverName":"bob","sendType":4}`, want: ErrInvalid},
		{name: "unknown payload type", raw: `{"receiverName":"bob","payloadType":3}`, want: ErrInvalid},
		{name: "not json", raw: `{"receiverName":`, want: ErrMalformed},
		{name: "empty", raw: ``, want: ErrMalformed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var p MessagePayload
			err := DecodePayload([]byte(tc.raw), &p)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("DecodePayload: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want=%v", err, tc.want)
			}
		})
	}
}

func TestDecodeIdentity(t *testing.T) {
	t.Parallel()

	var id Identity
	if err := DecodePayload([]byte(`{"username":"alice","deviceClass":1}`), &id); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if id.Username != "alice" || id.DeviceClass != DeviceSecondary {
		t.Fatalf("identity=%+v", id)
	}

	if err := DecodePayload([]byte(`{"nickname":"x"}`), &id); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}
}

func TestGroupRequestRequiresGroup(t *testing.T) {
	t.Parallel()

	var req GroupRequest
	err := DecodePayload([]byte(`{"groupId":"g1","members":[{"username":"a"}]}`), &req)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v want ErrInvalid", err)
	}

	err = DecodePayload([]byte(`{"groupId":"g1","group":{"name":"n"},"members":[{"nickname":"x"}]}`), &req)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("member without username: err=%v want ErrInvalid", err)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Kind: KindSendMsg, ID: "1", TS: time.Now(), Payload: []byte(`{}`)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := []Envelope{
		{V: 2, Kind: KindSendMsg, ID: "1", Payload: []byte(`{}`)},
		{V: Version, ID: "1", Payload: []byte(`{}`)},
		{V: Version, Kind: KindOnMsg, ID: "1", Payload: []byte(`{}`)},
		{V: Version, Kind: KindSendMsg, Payload: []byte(`{}`)},
		{V: Version, Kind: KindSendMsg, ID: "1"},
	}
	for i, e := range bad {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestPayloadTypeRoutable(t *testing.T) {
	t.Parallel()

	for _, p := range []PayloadType{PayloadText, PayloadVoice} {
		if !p.Routable() {
			t.Fatalf("%d should be routable", p)
		}
	}
	for _, p := range []PayloadType{PayloadJoinLeave, PayloadChange} {
		if p.Routable() {
			t.Fatalf("%d should not be routable", p)
		}
	}
}
