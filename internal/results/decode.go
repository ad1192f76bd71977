package results

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var errNotObject = errors.New("not a json object")

type member struct {
	Key   string
	Value json.RawMessage
}

// decodeObject returns the members of a JSON object in document order.
func decodeObject(raw json.RawMessage) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}
	var out []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err //nolint:wrapcheck
		}
		out = append(out, member{Key: key, Value: value})
	}
	return out, nil
}

func field(members []member, key string) (json.RawMessage, bool) {
	for _, m := range members {
		if m.Key == key {
			if isNull(m.Value) {
				return nil, false
			}
			return m.Value, true
		}
	}
	return nil, false
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// number accepts JSON numbers and numeric strings. null decodes as zero.
func number(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "nan":
		return math.NaN(), true
	case "":
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func optionalNumber(members []member, key string) *float64 {
	raw, ok := field(members, key)
	if !ok {
		return nil
	}
	f, ok := number(raw)
	if !ok {
		return nil
	}
	return &f
}

// text renders a scalar as a string; null becomes "".
func text(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func stringField(members []member, key string) string {
	raw, ok := field(members, key)
	if !ok {
		return ""
	}
	return text(raw)
}

func firstChar(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// unquoteJSON unwraps a JSON document that was sent as a string.
func unquoteJSON(raw json.RawMessage) json.RawMessage {
	if firstChar(raw) != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return raw
	}
	return json.RawMessage(s)
}
