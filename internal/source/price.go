package source

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// price decodes a catalog price sent either as a JSON number or as a
// string such as "3.99" or "$3.99". Anything unparseable decodes to zero.
type price float64

func (p *price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimPrefix(strings.TrimSpace(s), "$")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*p = 0
			return nil
		}
		*p = price(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = price(f)
	return nil
}

func (p price) positive() bool { return p > 0 }

func (p price) ptr() *float64 {
	f := float64(p)
	return &f
}
