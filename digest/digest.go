// Package digest ingests flow digests from the data plane and keeps the last
// time each flow was seen.
package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	stamerrors "github.com/xiaonanln/stam/util/errors"
)

// FlowHash identifies a flow. On the wire it is a JSON string or integer;
// integers are kept as their decimal form, so 42 and "42" name the same flow.
type FlowHash string

// UnmarshalJSON accepts a JSON string or an integer.
func (h *FlowHash) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = FlowHash(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flow_hash must be a string or integer: %s", data)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		if _, uerr := strconv.ParseUint(n.String(), 10, 64); uerr != nil {
			return fmt.Errorf("flow_hash must be an integer: %s", n)
		}
	}
	*h = FlowHash(n.String())
	return nil
}

// FlowDigest reports that a flow was observed at Timestamp (seconds, as sent by the reporter).
type FlowDigest struct {
	FlowHash  FlowHash `json:"flow_hash"`
	Timestamp float64  `json:"timestamp"`
}

// wireDigest detects missing fields.
type wireDigest struct {
	FlowHash  *FlowHash `json:"flow_hash"`
	Timestamp *float64  `json:"timestamp"`
}

// Decode parses one digest message. Any failure is a MalformedDigest error.
func Decode(line []byte) (FlowDigest, error) {
	var w wireDigest
	if err := json.Unmarshal(line, &w); err != nil {
		return FlowDigest{}, malformed(err)
	}
	if w.FlowHash == nil || *w.FlowHash == "" {
		return FlowDigest{}, malformed(fmt.Errorf("missing flow_hash"))
	}
	if w.Timestamp == nil {
		return FlowDigest{}, malformed(fmt.Errorf("missing timestamp"))
	}
	return FlowDigest{FlowHash: *w.FlowHash, Timestamp: *w.Timestamp}, nil
}

func malformed(err error) error {
	return stamerrors.New(stamerrors.MalformedDigest, "decode", "digest", err)
}
