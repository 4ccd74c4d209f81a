package output

import (
	"encoding/json"
)

// JSONFormatter renders values as JSON.
type JSONFormatter struct {
	Indent bool
}

// Encode marshals v.
func (f *JSONFormatter) Encode(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
