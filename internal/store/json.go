package store

import (
	"encoding/json"
)

// jsonEncode marshals v for a TEXT column. Encoding failures collapse to an
// empty container so a bad payload never blocks a write.
func jsonEncode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// jsonDecode unmarshals a TEXT column into out, tolerating empty cells.
func jsonDecode(s string, out any) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), out)
}
