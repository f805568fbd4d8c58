package data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

const (
	// MaxConstrainedDataBytes is the size at which job data is shrunk for size-constrained dialects.
	MaxConstrainedDataBytes = 64 * 1024
	// MaxConstrainedStringBytes is the longest string value kept intact when shrinking.
	MaxConstrainedStringBytes = 2048
)

// Truncation records one string value replaced by constrainData.
type Truncation struct {
	Path string
	Size int
}

// constrainData replaces long string values anywhere in data when data reaches MaxConstrainedDataBytes.
// Shorter payloads are returned unchanged.
func constrainData(data json.RawMessage) (json.RawMessage, []Truncation, error) {
	if len(data) < MaxConstrainedDataBytes {
		return data, nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, nil, fmt.Errorf("decode job data: %w", err)
	}

	var truncated []Truncation
	tree = truncateStrings(tree, "", &truncated)
	if len(truncated) == 0 {
		return data, nil, nil
	}

	out, err := json.Marshal(tree)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job data: %w", err)
	}
	return out, truncated, nil
}

func truncateStrings(v any, path string, out *[]Truncation) any {
	switch val := v.(type) {
	case string:
		if len(val) > MaxConstrainedStringBytes {
			*out = append(*out, Truncation{Path: path, Size: len(val)})
			return fmt.Sprintf("[truncated - originally %d bytes]", len(val))
		}
		return val
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			val[k] = truncateStrings(val[k], child, out)
		}
		return val
	case []any:
		for i := range val {
			val[i] = truncateStrings(val[i], path+"["+strconv.Itoa(i)+"]", out)
		}
		return val
	default:
		return v
	}
}
