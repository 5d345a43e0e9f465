package verifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var ErrCanonicalize = errors.New("failed to canonicalize payload")

// Canonicalize turns a JSON object into its canonical query-string form:
// keys sorted lexicographically, rendered as `key=value` pairs joined by
// `&`. String values are rendered verbatim, numbers without a trailing
// fraction when integral, booleans as true/false and anything nested as
// compact JSON. The output is the pre-hash input of the signing scheme, so
// it must be byte-for-byte reproducible for a given logical payload.
func Canonicalize(payload string) (string, error) {
	var fields map[string]interface{}
	err := json.Unmarshal([]byte(payload), &fields)
	if err != nil {
		return "", errors.Join(ErrCanonicalize, err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := renderValue(fields[k])
		if err != nil {
			return "", errors.Join(ErrCanonicalize, err)
		}
		pairs = append(pairs, k+"="+v)
	}

	return strings.Join(pairs, "&"), nil
}

func renderValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("unsupported payload value: %w", err)
		}
		return string(raw), nil
	}
}
