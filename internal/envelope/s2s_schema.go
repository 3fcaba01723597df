package envelope

import "fmt"

// ValidateS2SPayload hand-checks the small, fixed set of inter-process
// command payload shapes named in §4.3: health, broadcast sweep, and
// command push. Unlike the C2S Registry this isn't table-driven -- the
// spec calls for exactly these three, by hand, and a registry would be
// machinery without a second caller.
func ValidateS2SPayload(typ string, payload map[string]interface{}) error {
	switch typ {
	case "s2s.health":
		return nil // no required fields
	case "s2s.broadcast.sweep":
		return RequireString(payload, "event_type")
	case "s2s.command.push":
		if err := RequireString(payload, "cmd_type"); err != nil {
			return err
		}
		return RequireString(payload, "idem_key")
	default:
		return fmt.Errorf("unrecognized s2s command type %q", typ)
	}
}
