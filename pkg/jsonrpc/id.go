package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a JSON-RPC request id: a string, an integer, or absent/null. It is
// never a float, matching the spec's "numeric ids are preserved as
// integers" invariant — json.Number is used on decode so 1 and "1" never
// compare equal and 1 never becomes 1.0.
type ID struct {
	str    string
	num    int64
	isStr  bool
	isNum  bool
}

// StringID builds a string-valued id.
func StringID(s string) ID { return ID{str: s, isStr: true} }

// IntID builds an integer-valued id.
func IntID(n int64) ID { return ID{num: n, isNum: true} }

// IsNull reports whether the id is the JSON null value (no id present).
func (id ID) IsNull() bool { return !id.isStr && !id.isNum }

// IsString reports whether the id holds a string value.
func (id ID) IsString() bool { return id.isStr }

// IsInt reports whether the id holds an integer value.
func (id ID) IsInt() bool { return id.isNum }

// String returns the string value, or "" if the id is not a string.
func (id ID) String() string { return id.str }

// Int returns the integer value, or 0 if the id is not an integer.
func (id ID) Int() int64 { return id.num }

// Raw renders the id the way it would appear in JSON, for logging.
func (id ID) Raw() string {
	switch {
	case id.isStr:
		return fmt.Sprintf("%q", id.str)
	case id.isNum:
		return fmt.Sprintf("%d", id.num)
	default:
		return "null"
	}
}

// Equal reports whether two ids represent the same JSON-RPC identity.
// A string id and an integer id are never equal even if their textual
// forms coincide ("1" != 1).
func (id ID) Equal(other ID) bool {
	if id.isStr != other.isStr || id.isNum != other.isNum {
		return false
	}
	if id.isStr {
		return id.str == other.str
	}
	if id.isNum {
		return id.num == other.num
	}
	return true // both null
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id.isStr:
		return json.Marshal(id.str)
	case id.isNum:
		return json.Marshal(id.num)
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || len(data) == 0 {
		*id = ID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("jsonrpc: invalid string id: %w", err)
		}
		*id = ID{str: s, isStr: true}
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("jsonrpc: id must be a string, integer, or null: %w", err)
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("jsonrpc: numeric id must be an integer, got %q: %w", n.String(), err)
	}
	*id = ID{num: i, isNum: true}
	return nil
}
