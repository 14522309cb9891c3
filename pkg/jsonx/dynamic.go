// Package jsonx converts typed values into the dynamic JSON shapes the
// provider SDKs expect for schemas and extra parameters.
package jsonx

import json "github.com/goccy/go-json"

// ToDynamicJSON round-trips a value through JSON into a map[string]any.
// Provider SDKs take tool parameter schemas as untyped maps, not structs.
func ToDynamicJSON(val any) (map[string]any, error) {
	result := make(map[string]any)
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	return result, nil
}
