package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// GroupPrefix prefixes every per-identity group name.
const GroupPrefix = "user_"

// Identity is the opaque principal a session and its tasks belong to.
// Tokens and events produced by older clients encode it as a JSON number,
// so decoding accepts both numbers and strings. It always encodes as a string.
type Identity string

// IsZero reports whether the identity is absent.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}

func (i Identity) String() string {
	return string(i)
}

// GroupName is the deterministic group name for sessions owned by i.
func (i Identity) GroupName() string {
	return GroupPrefix + string(i)
}

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (i *Identity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		*i = Identity(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidIdentity, data)
	}
	*i = Identity(n.String())
	return nil
}
