package structure

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Payload is structured data attached to a block or entity. Values follow the
// NBT shapes produced by the codecs: int8/int16/int32/int64, float32/float64,
// string, []any, map[string]any (or Payload) and the typed array slices.
type Payload map[string]any

// Clone deep-copies p.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Without returns a copy of p with the given keys removed.
func (p Payload) Without(keys ...string) Payload {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Payload:
		return t.Clone()
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = map[string]any(Payload(e).Clone())
		}
		return out
	case []int8:
		return slices.Clone(t)
	case []byte:
		return slices.Clone(t)
	case []int32:
		return slices.Clone(t)
	case []int64:
		return slices.Clone(t)
	default:
		return v
	}
}

// List returns the entries of a list-valued key, or nil if the key is absent
// or not a list.
func (p Payload) List(key string) []any {
	switch t := p[key].(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	return nil
}

var bareKey = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)

// FormatSNBT renders v in the stringified NBT syntax accepted by server
// commands. Compound keys are written in sorted order.
func FormatSNBT(v any) string {
	var b strings.Builder
	writeSNBT(&b, v)
	return b.String()
}

func writeSNBT(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("{}")
	case Payload:
		writeCompound(b, t)
	case map[string]any:
		writeCompound(b, t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		writeCompound(b, m)
	case []any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeSNBT(b, e)
		}
		b.WriteByte(']')
	case []map[string]any:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCompound(b, e)
		}
		b.WriteByte(']')
	case []int8:
		writeArray(b, "B", len(t), func(i int) string { return strconv.Itoa(int(t[i])) + "b" })
	case []byte:
		writeArray(b, "B", len(t), func(i int) string { return strconv.Itoa(int(int8(t[i]))) + "b" })
	case []int32:
		writeArray(b, "I", len(t), func(i int) string { return strconv.Itoa(int(t[i])) })
	case []int64:
		writeArray(b, "L", len(t), func(i int) string { return strconv.FormatInt(t[i], 10) + "L" })
	case bool:
		if t {
			b.WriteString("1b")
		} else {
			b.WriteString("0b")
		}
	case int8:
		b.WriteString(strconv.Itoa(int(t)) + "b")
	case uint8:
		b.WriteString(strconv.Itoa(int(int8(t))) + "b")
	case int16:
		b.WriteString(strconv.Itoa(int(t)) + "s")
	case int32:
		b.WriteString(strconv.Itoa(int(t)))
	case int:
		b.WriteString(strconv.Itoa(t))
	case int64:
		b.WriteString(strconv.FormatInt(t, 10) + "L")
	case float32:
		b.WriteString(strconv.FormatFloat(float64(t), 'g', -1, 32) + "f")
	case float64:
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64) + "d")
	case string:
		b.WriteString(quoteSNBT(t))
	default:
		b.WriteString(quoteSNBT(fmt.Sprint(t)))
	}
}

func writeCompound(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if bareKey.MatchString(k) {
			b.WriteString(k)
		} else {
			b.WriteString(quoteSNBT(k))
		}
		b.WriteByte(':')
		writeSNBT(b, m[k])
	}
	b.WriteByte('}')
}

func writeArray(b *strings.Builder, prefix string, n int, elem func(int) string) {
	b.WriteByte('[')
	b.WriteString(prefix)
	b.WriteByte(';')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(elem(i))
	}
	b.WriteByte(']')
}

func quoteSNBT(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
