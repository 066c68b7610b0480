package hostfunc

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/caffeineduck/newstate/transfer"
)

func vals(vs ...transfer.Value) []transfer.Value { return vs }

func str(s string) transfer.Value { return transfer.String(s) }

func TestKVSetGet(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	_, err := kv.Set(ctx, vals(str("foo"), str("bar")))
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := kv.Get(ctx, vals(str("foo")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val[0] != str("bar") {
		t.Errorf("expected bar, got %v", val[0])
	}
}

func TestKVGetDefault(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	val, err := kv.Get(ctx, vals(str("missing"), str("fallback")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val[0] != str("fallback") {
		t.Errorf("expected fallback, got %v", val[0])
	}
}

func TestKVGetMissing(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	val, err := kv.Get(ctx, vals(str("missing")))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !transfer.IsNil(val[0]) {
		t.Errorf("expected nil, got %v", val[0])
	}
}

func TestKVKeyRequired(t *testing.T) {
	kv := NewKV(DefaultKVConfig())

	_, err := kv.Get(context.Background(), vals(transfer.Number(1)))
	if err == nil || err.Error() != "key required" {
		t.Errorf("expected 'key required', got %v", err)
	}
}

func TestKVDelete(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	kv.Set(ctx, vals(str("foo"), str("bar")))
	res, _ := kv.Delete(ctx, vals(str("foo")))
	if res[0] != transfer.Bool(true) {
		t.Errorf("expected delete to report existing key, got %v", res[0])
	}

	val, _ := kv.Get(ctx, vals(str("foo")))
	if !transfer.IsNil(val[0]) {
		t.Errorf("expected nil after delete, got %v", val[0])
	}
}

func TestKVSetNilDeletes(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	kv.Set(ctx, vals(str("foo"), str("bar")))
	kv.Set(ctx, vals(str("foo"), transfer.Nil{}))

	if kv.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", kv.Len())
	}
}

func TestKVKeys(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	kv.Set(ctx, vals(str("c"), transfer.Number(3)))
	kv.Set(ctx, vals(str("a"), transfer.Number(1)))
	kv.Set(ctx, vals(str("b"), transfer.Number(2)))

	result, err := kv.Keys(ctx, nil)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}

	want := transfer.List(str("a"), str("b"), str("c"))
	if !transfer.Equal(result[0], want) {
		t.Errorf("expected %v, got %v", want, result[0])
	}
}

func TestKVOverwrite(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	kv.Set(ctx, vals(str("foo"), str("original")))
	kv.Set(ctx, vals(str("foo"), str("updated")))

	val, _ := kv.Get(ctx, vals(str("foo")))
	if val[0] != str("updated") {
		t.Errorf("expected updated, got %v", val[0])
	}
}

func TestKVStoresCopies(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	tbl := transfer.List(transfer.Number(1))
	kv.Set(ctx, vals(str("t"), tbl))
	tbl.Append(transfer.Number(2))

	val, _ := kv.Get(ctx, vals(str("t")))
	got := val[0].(*transfer.Table)
	if got.Len() != 1 {
		t.Errorf("stored table aliases caller table: %v", got)
	}

	got.Append(transfer.Number(3))
	again, _ := kv.Get(ctx, vals(str("t")))
	if again[0].(*transfer.Table).Len() != 1 {
		t.Errorf("returned table aliases stored table: %v", again[0])
	}
}

func TestKVAnyValue(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	nested := transfer.NewTable(0)
	nested.SetString("nested", str("value"))

	tests := []struct {
		name  string
		value transfer.Value
	}{
		{"string", str("hello")},
		{"int", transfer.Number(42)},
		{"float", transfer.Number(3.14)},
		{"bool", transfer.Bool(true)},
		{"address", transfer.Address(7)},
		{"list", transfer.List(transfer.Number(1), transfer.Number(2), transfer.Number(3))},
		{"map", nested},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kv.Set(ctx, vals(str(tt.name), tt.value))
			if err != nil {
				t.Fatalf("Set %s failed: %v", tt.name, err)
			}

			val, err := kv.Get(ctx, vals(str(tt.name)))
			if err != nil {
				t.Fatalf("Get %s failed: %v", tt.name, err)
			}
			if !transfer.Equal(val[0], tt.value) {
				t.Errorf("expected %v, got %v", tt.value, val[0])
			}
		})
	}
}

func TestKVKeyTooLarge(t *testing.T) {
	kv := NewKV(KVConfig{MaxKeySize: 10})
	ctx := context.Background()

	_, err := kv.Set(ctx, vals(str("this-key-is-too-long"), str("x")))
	if err == nil {
		t.Error("expected error for key too large")
	}
}

func TestKVValueTooLarge(t *testing.T) {
	kv := NewKV(KVConfig{MaxValueSize: 10})
	ctx := context.Background()

	_, err := kv.Set(ctx, vals(str("k"), str("this-value-is-way-too-large")))
	if err == nil || !strings.Contains(err.Error(), "max size") {
		t.Errorf("expected error for value too large, got %v", err)
	}
}

func TestKVTooManyEntries(t *testing.T) {
	kv := NewKV(KVConfig{MaxEntries: 2})
	ctx := context.Background()

	kv.Set(ctx, vals(str("a"), str("1")))
	kv.Set(ctx, vals(str("b"), str("2")))

	_, err := kv.Set(ctx, vals(str("c"), str("3")))
	if err == nil {
		t.Error("expected error for too many entries")
	}

	if _, err := kv.Set(ctx, vals(str("a"), str("updated"))); err != nil {
		t.Errorf("overwrite of existing key should succeed when full: %v", err)
	}
}

func TestKVRegister(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)

	got := strings.Join(r.List(), ",")
	if got != "kv_delete,kv_get,kv_keys,kv_set" {
		t.Errorf("unexpected registrations: %s", got)
	}
}

func TestKVConcurrent(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + (n % 26)))
			kv.Set(ctx, vals(str(key), transfer.Number(n)))
			kv.Get(ctx, vals(str(key)))
		}(i)
	}
	wg.Wait()
}
