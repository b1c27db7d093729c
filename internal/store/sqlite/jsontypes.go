package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonUint32Slice and jsonInt32Slice store a traceroute's hop/SNR lists as
// a single JSON column rather than a child table, since they are only ever
// read or written whole (§4.5, §4.11).

type jsonUint32Slice []uint32

func (s jsonUint32Slice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal([]uint32(s))
}

func (s *jsonUint32Slice) Scan(v any) error {
	b, ok := asBytes(v)
	if !ok {
		return fmt.Errorf("jsonUint32Slice: unsupported scan type %T", v)
	}
	var out []uint32
	if len(b) > 0 {
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

type jsonInt32Slice []int32

func (s jsonInt32Slice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal([]int32(s))
}

func (s *jsonInt32Slice) Scan(v any) error {
	b, ok := asBytes(v)
	if !ok {
		return fmt.Errorf("jsonInt32Slice: unsupported scan type %T", v)
	}
	var out []int32
	if len(b) > 0 {
		if err := json.Unmarshal(b, &out); err != nil {
			return err
		}
	}
	*s = out
	return nil
}

func asBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}
