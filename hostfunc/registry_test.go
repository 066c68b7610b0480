package hostfunc

import (
	"context"
	"testing"

	"github.com/caffeineduck/newstate/transfer"
)

func TestRegistryMergeAndAll(t *testing.T) {
	base := NewRegistry()
	base.Register("now", Now)

	extra := NewRegistry()
	extra.Register("echo", func(ctx context.Context, args []transfer.Value) ([]transfer.Value, error) {
		return args, nil
	})

	base.Merge(extra)
	base.Merge(nil)

	all := base.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 functions, got %d", len(all))
	}

	fn, ok := base.Get("echo")
	if !ok {
		t.Fatal("echo not registered")
	}
	out, _ := fn(context.Background(), []transfer.Value{transfer.String("x")})
	if len(out) != 1 || out[0] != transfer.String("x") {
		t.Errorf("unexpected echo result %v", out)
	}
}

func TestNow(t *testing.T) {
	out, err := Now(context.Background(), nil)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if n, ok := out[0].(transfer.Number); !ok || n <= 0 {
		t.Errorf("unexpected time %v", out[0])
	}
}
