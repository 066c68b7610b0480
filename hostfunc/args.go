package hostfunc

import (
	"fmt"

	"github.com/caffeineduck/newstate/transfer"
)

func arg(args []transfer.Value, i int) transfer.Value {
	if i < len(args) && args[i] != nil {
		return args[i]
	}
	return transfer.Nil{}
}

func stringArg(args []transfer.Value, i int, name string) (string, error) {
	s, ok := arg(args, i).(transfer.String)
	if !ok {
		return "", fmt.Errorf("%s required", name)
	}
	return string(s), nil
}

func optStringArg(args []transfer.Value, i int) string {
	s, _ := arg(args, i).(transfer.String)
	return string(s)
}
