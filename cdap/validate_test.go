package cdap

import "testing"

func TestValidateConnectRequiresDstApNameAndAbsSyntax(t *testing.T) {
	if err := validateMessage(Message{Opcode: OpConnect}); err == nil {
		t.Fatal("CONNECT with no dst_ap_name and no abs_syntax should fail validation")
	}
	if err := validateMessage(Message{Opcode: OpConnect, DstName: NamingInfo{ApName: "B"}}); err == nil {
		t.Fatal("CONNECT missing abs_syntax should fail validation")
	}
	if err := validateMessage(Message{Opcode: OpConnect, DstName: NamingInfo{ApName: "B"}, AbsSyntax: 1}); err != nil {
		t.Fatalf("well-formed CONNECT should validate: %v", err)
	}
}

func TestValidateReadRRequiresValueUnlessErrorOrIncomplete(t *testing.T) {
	if err := validateMessage(Message{Opcode: OpReadR, Result: 0}); err == nil {
		t.Fatal("READ_R with result==0 and no value should fail validation")
	}
	if err := validateMessage(Message{Opcode: OpReadR, Result: -1}); err != nil {
		t.Fatalf("READ_R with a non-zero result should not require a value: %v", err)
	}
	if err := validateMessage(Message{Opcode: OpReadR, Result: 0, Flags: FlagReadIncomplete}); err != nil {
		t.Fatalf("READ_R flagged incomplete should not require a value: %v", err)
	}
	if err := validateMessage(Message{Opcode: OpReadR, Result: 0, Value: Value{Kind: ValueKindBytes}}); err != nil {
		t.Fatalf("READ_R with a value should validate: %v", err)
	}
}

func TestValidateWriteForbidsResultFields(t *testing.T) {
	if err := validateMessage(Message{Opcode: OpWrite, Result: -1}); err == nil {
		t.Fatal("WRITE carrying a result code should fail validation")
	}
	if err := validateMessage(Message{Opcode: OpWrite, ResultReason: "nope"}); err == nil {
		t.Fatal("WRITE carrying a result reason should fail validation")
	}
	if err := validateMessage(Message{Opcode: OpWrite, Value: Value{Kind: ValueKindInt32, Int32: 1}}); err != nil {
		t.Fatalf("plain WRITE should validate: %v", err)
	}
}
