package cdap

import (
	"testing"

	"github.com/go-test/deep"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		{
			Opcode:    OpConnect,
			AbsSyntax: 1,
			InvokeID:  7,
			SrcName:   NamingInfo{ApName: "A", AeName: "mgmt"},
			DstName:   NamingInfo{ApName: "B", AeName: "mgmt"},
		},
		{
			Opcode:   OpConnectR,
			InvokeID: 7,
			Result:   0,
		},
		{
			Opcode:   OpCreate,
			InvokeID: 3,
			Object:   ObjectID{Class: "flow", Name: "A=1,B=2", Instance: 42},
			Value:    Value{Kind: ValueKindString, Str: "hello"},
		},
		{
			Opcode:   OpCreateR,
			InvokeID: 3,
			Result:   -1,
			ResultReason: "no parent",
		},
		{
			Opcode:   OpRead,
			InvokeID: 4,
			Object:   ObjectID{Class: "flow", Name: "A=1"},
			Scope:    2,
			Filter:   []byte{0x01, 0x02, 0x03},
		},
		{
			Opcode:   OpReadR,
			InvokeID: 4,
			Value:    Value{Kind: ValueKindBytes, Bytes: []byte{0xde, 0xad, 0xbe, 0xef}},
		},
		{
			Opcode:   OpWrite,
			InvokeID: 5,
			Value:    Value{Kind: ValueKindInt32, Int32: -7},
		},
		{
			Opcode:   OpWrite,
			InvokeID: 6,
			Value:    Value{Kind: ValueKindInt64, Int64: -9000000000},
		},
		{
			Opcode:   OpWrite,
			InvokeID: 6,
			Value:    Value{Kind: ValueKindFloat32, Float32: 3.25},
		},
		{
			Opcode:   OpWrite,
			InvokeID: 6,
			Value:    Value{Kind: ValueKindFloat64, Float64: -1.5e10},
		},
		{
			Opcode:   OpWrite,
			InvokeID: 6,
			Value:    Value{Kind: ValueKindBool, Bool: true},
		},
		{
			Opcode:   OpRelease,
			InvokeID: 9,
			Auth: &AuthPolicy{
				Name: "password",
				Value: AuthValue{
					Name:      "password",
					Encrypted: []byte{1, 2, 3, 4},
				},
			},
		},
		{Opcode: OpStart, InvokeID: 10, Object: ObjectID{Class: "x", Name: "y"}},
		{Opcode: OpStop, InvokeID: 11, Object: ObjectID{Class: "x", Name: "y"}},
		{Opcode: OpCancelRead, InvokeID: 12},
		{Opcode: OpCancelReadR, InvokeID: 12},
		{Opcode: OpDelete, InvokeID: 13, Object: ObjectID{Class: "x", Name: "y"}},
		{Opcode: OpDeleteR, InvokeID: 13},
	}

	for i, msg := range cases {
		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if diff := deep.Equal(msg, decoded); diff != nil {
			t.Fatalf("case %d: round trip mismatch: %v", i, diff)
		}
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	if _, err := Decode([]byte{0, 0}); err == nil {
		t.Fatal("Decode on a too-short buffer should fail")
	}
}

func TestDecodeRejectsBadFrameLength(t *testing.T) {
	msg := Message{Opcode: OpConnect, InvokeID: 1, DstName: NamingInfo{ApName: "x"}, AbsSyntax: 1}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	encoded = append(encoded, 0xff) // frame length no longer matches body
	if _, err := Decode(encoded); err == nil {
		t.Fatal("Decode should reject a frame whose length prefix disagrees with the body")
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	msg := Message{Opcode: OpConnect, InvokeID: 1, DstName: NamingInfo{ApName: "x"}, AbsSyntax: 1}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// overwrite the terminal tagEnd byte with an invalid tag id.
	encoded[len(encoded)-1] = 0xfe
	if _, err := Decode(encoded); err == nil {
		t.Fatal("Decode should reject an unrecognized tag")
	}
}
