package job

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint derives the 64-hex-char content digest used for duplicate
// detection. It is a pure function of {name, frequency, cronExpression,
// data}: key order inside data and leading/trailing whitespace in string
// values do not affect the result, while any semantic change to the payload
// does.
func Fingerprint(name string, frequency Frequency, cronExpression string, data map[string]interface{}) string {
	var b strings.Builder

	// Name and cron are quoted so a value containing the delimiters cannot
	// masquerade as a different (name, cron) pair.
	b.WriteString("name=")
	b.WriteString(strconv.Quote(strings.TrimSpace(name)))
	b.WriteString("|frequency=")
	b.WriteString(string(frequency))
	b.WriteString("|cron=")
	b.WriteString(strconv.Quote(strings.TrimSpace(cronExpression)))
	b.WriteString("|data=")
	writeCanonical(&b, data)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// writeCanonical serializes v into a deterministic textual form: object keys
// sorted lexicographically at every nesting level, string values trimmed,
// nil rendered as an explicit null marker, arrays in order with normalized
// elements.
func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(strconv.Quote(strings.TrimSpace(val)))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case float64:
		// JSON decoding yields float64 for all numbers; render integral
		// values without an exponent so 1 and 1.0 collapse to one form.
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case float32:
		b.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, elem)
		}
		b.WriteByte(']')
	default:
		// Non-JSON types (custom structs, ints of other widths) fall back
		// to their default formatting, which is deterministic per type.
		fmt.Fprintf(b, "%v", val)
	}
}
