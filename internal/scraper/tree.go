package scraper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const maxDecodeDepth = 10000

var errTooDeep = errors.New("embedded data nested too deeply")

// object is a decoded JSON object that keeps its keys in page order.
type object struct {
	keys   []string
	values map[string]any
}

// MarshalJSON encodes the values so typed decoding can reuse a subtree.
func (o *object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.values)
}

// decode parses one JSON value into a tree of *object, []any, json.Number,
// string, bool and nil. Trailing bytes after the value are ignored.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return decodeValue(dec, 0)
}

func decodeValue(dec *json.Decoder, depth int) (any, error) {
	if depth > maxDecodeDepth {
		return nil, errTooDeep
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := &object{values: make(map[string]any)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			v, err := decodeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			if _, dup := obj.values[key]; !dup {
				obj.keys = append(obj.keys, key)
			}
			obj.values[key] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		list := []any{}
		for dec.More() {
			v, err := decodeValue(dec, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	}
	return nil, fmt.Errorf("unexpected %q", delim)
}
