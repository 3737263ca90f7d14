package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// WireDate is a timestamp encoded on the wire as an integer array
// [year, month, day, hour, minute, second(, nanosecond)]. The month is
// 1-based and maps straight onto time.Month. Trailing zero components may be
// omitted by the server, so anything from three to seven elements decodes.
type WireDate struct {
	time.Time
}

// NewWireDate wraps t.
func NewWireDate(t time.Time) WireDate {
	return WireDate{Time: t}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *WireDate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Time = time.Time{}
		return nil
	}
	var parts []int
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("wire date: %w", err)
	}
	if len(parts) < 3 || len(parts) > 7 {
		return fmt.Errorf("wire date: want 3 to 7 components, got %d", len(parts))
	}
	var c [7]int
	copy(c[:], parts)
	if c[1] < 1 || c[1] > 12 {
		return fmt.Errorf("wire date: month %d out of range", c[1])
	}
	d.Time = time.Date(c[0], time.Month(c[1]), c[2], c[3], c[4], c[5], c[6], time.Local)
	return nil
}

// MarshalJSON implements json.Marshaler using the six-component form.
func (d WireDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	t := d.Time
	return json.Marshal([]int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()})
}
