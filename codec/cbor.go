package codec

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/caffeineduck/newstate/transfer"
	"github.com/fxamacker/cbor/v2"
)

const (
	TagTable   = 40100
	TagAddress = 40101
)

// ErrMalformed is returned when decoded data does not describe a value.
var ErrMalformed = errors.New("codec: malformed value")

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxNestedLevels: transfer.DefaultMaxDepth*3 + 8,
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes a single value.
func Marshal(v transfer.Value) ([]byte, error) {
	w, err := encode(v, 0)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(w)
}

// Unmarshal decodes a single value.
func Unmarshal(data []byte) (transfer.Value, error) {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return decode(raw, 0)
}

// UnmarshalEnvelope decodes a CBOR document that carries encoded values
// somewhere inside it, such as a request body, into v. It applies the
// same nesting limit as Unmarshal so that embedded values are not
// rejected before they are reached.
func UnmarshalEnvelope(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	return nil
}

// MarshalValues encodes a sequence of values as one CBOR array.
func MarshalValues(vals []transfer.Value) ([]byte, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		w, err := encode(v, 0)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return encMode.Marshal(out)
}

// UnmarshalValues decodes a sequence written by MarshalValues.
func UnmarshalValues(data []byte) ([]transfer.Value, error) {
	var raw []any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	out := make([]transfer.Value, len(raw))
	for i, r := range raw {
		v, err := decode(r, 0)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Size returns the encoded size of v.
func Size(v transfer.Value) (int, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Diagnose returns the CBOR diagnostic notation of data.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

func encode(v transfer.Value, depth int) (any, error) {
	switch v := v.(type) {
	case nil, transfer.Nil:
		return nil, nil
	case transfer.Bool:
		return bool(v), nil
	case transfer.Number:
		return encodeNumber(float64(v)), nil
	case transfer.String:
		return []byte(v), nil
	case transfer.Address:
		return cbor.Tag{Number: TagAddress, Content: uint64(v)}, nil
	case *transfer.Table:
		if v == nil {
			return nil, nil
		}
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		pairs := make([]any, 0, v.Count())
		var err error
		v.Range(func(k, val transfer.Value) bool {
			var ek, ev any
			if ek, err = encode(k, depth+1); err != nil {
				return false
			}
			if ev, err = encode(val, depth+1); err != nil {
				return false
			}
			pairs = append(pairs, []any{ek, ev})
			return true
		})
		if err != nil {
			return nil, err
		}
		return cbor.Tag{Number: TagTable, Content: pairs}, nil
	}
	return nil, fmt.Errorf("codec: unsupported value %T", v)
}

func encodeNumber(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<63 {
		if f == 0 && math.Signbit(f) {
			return f
		}
		return int64(f)
	}
	return f
}

func decode(raw any, depth int) (transfer.Value, error) {
	switch r := raw.(type) {
	case nil:
		return transfer.Nil{}, nil
	case bool:
		return transfer.Bool(r), nil
	case uint64:
		return transfer.Number(float64(r)), nil
	case int64:
		return transfer.Number(float64(r)), nil
	case float64:
		return transfer.Number(r), nil
	case big.Int:
		f, _ := new(big.Float).SetInt(&r).Float64()
		return transfer.Number(f), nil
	case []byte:
		return transfer.String(r), nil
	case string:
		return transfer.String(r), nil
	case cbor.ByteString:
		return transfer.String(r), nil
	case cbor.Tag:
		return decodeTag(r, depth)
	case []any:
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		t := transfer.NewTable(len(r))
		for i, e := range r {
			v, err := decode(e, depth+1)
			if err != nil {
				return nil, err
			}
			// null leaves a hole, as in a table constructor
			_ = t.Set(transfer.Number(i+1), v)
		}
		return t, nil
	case map[any]any:
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		t := transfer.NewTable(len(r))
		for k, e := range r {
			if err := setDecoded(t, k, e, depth); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unexpected %T", ErrMalformed, raw)
}

func decodeTag(tag cbor.Tag, depth int) (transfer.Value, error) {
	switch tag.Number {
	case TagAddress:
		n, ok := tag.Content.(uint64)
		if !ok {
			return nil, fmt.Errorf("%w: address content %T", ErrMalformed, tag.Content)
		}
		return transfer.Address(uintptr(n)), nil
	case TagTable:
		pairs, ok := tag.Content.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: table content %T", ErrMalformed, tag.Content)
		}
		if depth >= transfer.DefaultMaxDepth {
			return nil, fmt.Errorf("codec: %w", transfer.ErrTooDeep)
		}
		t := transfer.NewTable(len(pairs))
		for _, p := range pairs {
			kv, ok := p.([]any)
			if !ok || len(kv) != 2 {
				return nil, fmt.Errorf("%w: table entry", ErrMalformed)
			}
			if err := setDecoded(t, kv[0], kv[1], depth); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag.Number)
}

func setDecoded(t *transfer.Table, rawKey, rawVal any, depth int) error {
	k, err := decode(rawKey, depth+1)
	if err != nil {
		return err
	}
	v, err := decode(rawVal, depth+1)
	if err != nil {
		return err
	}
	if err := t.Set(k, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
