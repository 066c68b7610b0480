package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/caffeineduck/newstate/transfer"
)

// ToJSON converts v into nil, bool, float64, string, []any or
// map[string]any. Non-finite numbers become the strings "nan", "inf"
// and "-inf".
func ToJSON(v transfer.Value) (any, error) {
	return toJSON(v, 0)
}

// ValuesToJSON converts a result sequence into a JSON array.
func ValuesToJSON(vals []transfer.Value) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		j, err := toJSON(v, 0)
		if err != nil {
			return nil, err
		}
		out[i] = j
	}
	return out, nil
}

func toJSON(v transfer.Value, depth int) (any, error) {
	switch v := v.(type) {
	case nil, transfer.Nil:
		return nil, nil
	case transfer.Bool:
		return bool(v), nil
	case transfer.Number:
		f := float64(v)
		switch {
		case math.IsNaN(f):
			return "nan", nil
		case math.IsInf(f, 1):
			return "inf", nil
		case math.IsInf(f, -1):
			return "-inf", nil
		}
		return f, nil
	case transfer.String:
		return string(v), nil
	case transfer.Address:
		return v.String(), nil
	case *transfer.Table:
		if v == nil {
			return nil, nil
		}
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		if n := v.Len(); n > 0 && n == v.Count() {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				e, err := toJSON(v.Get(transfer.Number(i)), depth+1)
				if err != nil {
					return nil, err
				}
				arr[i-1] = e
			}
			return arr, nil
		}
		obj := make(map[string]any, v.Count())
		var err error
		v.Range(func(k, val transfer.Value) bool {
			var e any
			if e, err = toJSON(val, depth+1); err != nil {
				return false
			}
			obj[k.String()] = e
			return true
		})
		if err != nil {
			return nil, err
		}
		return obj, nil
	}
	return nil, fmt.Errorf("codec: unsupported value %T", v)
}

// FromJSON converts a value decoded by encoding/json. Arrays become
// sequences; object keys stay strings and are visited in sorted order.
// JSON null inside an array leaves a hole, as it would in a Lua
// table constructor.
func FromJSON(j any) (transfer.Value, error) {
	return fromJSON(j, 0)
}

func fromJSON(j any, depth int) (transfer.Value, error) {
	switch j := j.(type) {
	case nil:
		return transfer.Nil{}, nil
	case bool:
		return transfer.Bool(j), nil
	case float64:
		return transfer.Number(j), nil
	case int:
		return transfer.Number(float64(j)), nil
	case json.Number:
		f, err := strconv.ParseFloat(j.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return transfer.Number(f), nil
	case string:
		return transfer.String(j), nil
	case []any:
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		t := transfer.NewTable(len(j))
		for i, e := range j {
			v, err := fromJSON(e, depth+1)
			if err != nil {
				return nil, err
			}
			_ = t.Set(transfer.Number(i+1), v)
		}
		return t, nil
	case map[string]any:
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		keys := make([]string, 0, len(j))
		for k := range j {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := transfer.NewTable(len(j))
		for _, k := range keys {
			v, err := fromJSON(j[k], depth+1)
			if err != nil {
				return nil, err
			}
			t.SetString(k, v)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, j)
}

// ParseJSON decodes text as a single JSON value.
func ParseJSON(text []byte) (transfer.Value, error) {
	var j any
	if err := json.Unmarshal(text, &j); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return FromJSON(j)
}
