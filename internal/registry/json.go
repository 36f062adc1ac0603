package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalJSON encodes radio states as their names.
func (s RadioState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts both state names and their numeric values, so patch
// payloads can be written by hand.
func (s *RadioState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		switch strings.ToUpper(name) {
		case "ON":
			*s = RadioStateOn
		case "OFF":
			*s = RadioStateOff
		case "UNKNOWN", "":
			*s = RadioStateUnknown
		default:
			return fmt.Errorf("unknown radio state %q", name)
		}
		return nil
	}

	var n int32
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = RadioState(n)
	return nil
}
