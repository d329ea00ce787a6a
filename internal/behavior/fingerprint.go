package behavior

import (
	"encoding/hex"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
)

// Fingerprint computes a stable hash of actionName plus the canonical
// (sorted-key) serialization of params, used by the repeated_action
// detector (spec §4.6). Collision resistance of ~48 bits is sufficient per
// spec, so a 64-bit FNV-1a hash truncated to 12 hex chars is plenty.
func Fingerprint(actionName string, params map[string]interface{}) string {
	h := fnv.New64a()
	h.Write([]byte(actionName))
	h.Write([]byte{0})
	writeCanonical(h, params)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func writeCanonical(h hash.Hash, params map[string]interface{}) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		writeValue(h, params[k])
		h.Write([]byte{';'})
	}
}

func writeValue(h hash.Hash, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		h.Write([]byte{'{'})
		writeCanonical(h, val)
		h.Write([]byte{'}'})
	case []interface{}:
		h.Write([]byte{'['})
		for _, item := range val {
			writeValue(h, item)
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	case string:
		h.Write([]byte(val))
	case bool:
		h.Write([]byte(strconv.FormatBool(val)))
	case float64:
		h.Write([]byte(strconv.FormatFloat(val, 'g', -1, 64)))
	case nil:
		h.Write([]byte("null"))
	default:
		h.Write([]byte("?"))
	}
}
