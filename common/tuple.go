package common

import (
	"sort"
	"strings"
)

// Tuple is one row flowing through the execution pipeline, a mapping of
// column name to value. Qualified columns are stored as "table.column".
type Tuple struct {
	cols   []string
	values map[string]Value
}

// NewTuple returns an empty tuple
func NewTuple() *Tuple {
	return &Tuple{values: make(map[string]Value)}
}

// TupleFromMap builds a tuple from a column map
func TupleFromMap(m map[string]Value) *Tuple {
	t := NewTuple()
	for k, v := range m {
		t.Set(k, v)
	}
	return t
}

// Set stores a value under a column name, preserving first-set column order
func (t *Tuple) Set(col string, v Value) {
	if _, ok := t.values[col]; !ok {
		t.cols = append(t.cols, col)
	}
	t.values[col] = v
}

// Get fetches a column value. Falls back to suffix match for unqualified
// lookups against qualified columns, erroring only on ambiguity handled by
// callers.
func (t *Tuple) Get(col string) (Value, bool) {
	if v, ok := t.values[col]; ok {
		return v, true
	}
	// Unqualified name against qualified storage
	if !strings.Contains(col, ".") {
		suffix := "." + col
		for _, c := range t.cols {
			if strings.HasSuffix(c, suffix) {
				return t.values[c], true
			}
		}
	}
	return Value{}, false
}

// Columns returns column names in insertion order
func (t *Tuple) Columns() []string {
	return t.cols
}

// Len returns the number of columns
func (t *Tuple) Len() int {
	return len(t.cols)
}

// Merge combines two tuples, prefixing nothing; right-hand columns win on
// collision. Used by join operators.
func (t *Tuple) Merge(other *Tuple) *Tuple {
	out := NewTuple()
	for _, c := range t.cols {
		out.Set(c, t.values[c])
	}
	for _, c := range other.cols {
		out.Set(c, other.values[c])
	}
	return out
}

// Clone returns a deep copy
func (t *Tuple) Clone() *Tuple {
	out := NewTuple()
	for _, c := range t.cols {
		out.Set(c, t.values[c])
	}
	return out
}

// CanonicalJSON renders the tuple as JSON with keys sorted bytewise. This
// is the row payload format: identical tuples always encode to identical
// bytes, which replay and change streams rely on.
func (t *Tuple) CanonicalJSON() string {
	keys := make([]string, len(t.cols))
	copy(keys, t.cols)
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeJSONString(&sb, k)
		sb.WriteByte(':')
		writeJSONValue(&sb, t.values[k])
	}
	sb.WriteByte('}')
	return sb.String()
}

// MemorySize estimates the tuple's in-memory footprint in bytes, used for
// sandbox accounting at materialization points.
func (t *Tuple) MemorySize() uint64 {
	var size uint64
	for _, c := range t.cols {
		size += uint64(len(c)) + 16
		v := t.values[c]
		if v.Kind == KindString {
			size += uint64(len(v.S))
		} else {
			size += 8
		}
	}
	return size
}

func writeJSONValue(sb *strings.Builder, v Value) {
	switch v.Kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.B {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindString:
		writeJSONString(sb, v.S)
	default:
		sb.WriteString(strings.TrimPrefix(v.String(), "'"))
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				const hex = "0123456789abcdef"
				sb.WriteString(`\u00`)
				sb.WriteByte(hex[r>>4])
				sb.WriteByte(hex[r&0xf])
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}
