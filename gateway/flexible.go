package gateway

import (
	"encoding/json"
	"fmt"
)

// FlexibleID decodes a field the Bank sends sometimes as a JSON string
// and sometimes as a number (PaymentId in particular).
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*f = FlexibleID(fmt.Sprintf("%d", i))
		return nil
	}

	var fl float64
	if err := json.Unmarshal(data, &fl); err == nil {
		*f = FlexibleID(fmt.Sprintf("%.0f", fl))
		return nil
	}

	return fmt.Errorf("unable to parse %s as id", string(data))
}

func (f FlexibleID) String() string { return string(f) }
