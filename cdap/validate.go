package cdap

import "github.com/rinastack/efcp-core/rerr"

// validateMessage enforces the mandatory-field rules per opcode. Its
// failures are classified MalformedMessage and never mutate session state
// (the caller runs this before touching the session's state machine).
func validateMessage(msg Message) error {
	switch msg.Opcode {
	case OpConnect, OpConnectR:
		if msg.DstName.ApName == "" {
			return rerr.New(rerr.MalformedMessage, "cdap.validate_connect_dst_ap_name")
		}
		if msg.AbsSyntax == 0 {
			return rerr.New(rerr.MalformedMessage, "cdap.validate_connect_abs_syntax")
		}
	case OpReadR:
		if msg.Result == 0 && msg.Value.Kind == ValueKindNone && msg.Flags != FlagReadIncomplete {
			return rerr.New(rerr.MalformedMessage, "cdap.validate_read_r_value")
		}
	case OpWrite:
		if msg.Result != 0 || msg.ResultReason != "" {
			return rerr.New(rerr.MalformedMessage, "cdap.validate_write_result_fields")
		}
	}
	return nil
}
