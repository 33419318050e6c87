// Package debugquery evaluates the read-only scalar expressions accepted on
// the UDP discovery socket. Each query runs in a fresh Lua state with no
// libraries opened and only scalar snapshot values as globals, so a query
// cannot reach or mutate live game state.
package debugquery

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Shopify/go-lua"
)

// maxExprLen bounds accepted expressions
const maxExprLen = 512

// Snapshot is the set of scalar values exposed to queries. Supported value
// types: string, bool, int, int64, float64.
type Snapshot map[string]any

// SnapshotFunc produces a point-in-time snapshot of queryable state
type SnapshotFunc func() Snapshot

// Evaluator runs expressions against snapshots
type Evaluator struct {
	snapshot SnapshotFunc
	logger   *slog.Logger
}

// New creates an Evaluator drawing values from the given snapshot function
func New(snapshot SnapshotFunc, logger *slog.Logger) *Evaluator {
	return &Evaluator{snapshot: snapshot, logger: logger}
}

// Evaluate runs one expression and returns its stringified value. Malformed
// input yields an error, never a panic.
func (e *Evaluator) Evaluate(expr string) (result string, err error) {
	if len(expr) == 0 || len(expr) > maxExprLen {
		return "", errors.New("bad expression length")
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("debug query panicked", slog.Any("panic", r))
			result = ""
			err = errors.New("evaluation failed")
		}
	}()

	l := lua.NewState()
	for name, value := range e.snapshot() {
		if !pushScalar(l, value) {
			continue
		}
		l.SetGlobal(name)
	}

	if err := lua.DoString(l, "return "+expr); err != nil {
		return "", errors.New("invalid expression")
	}
	if l.Top() < 1 {
		return "nil", nil
	}
	return stringify(l, -1), nil
}

func pushScalar(l *lua.State, value any) bool {
	switch v := value.(type) {
	case string:
		l.PushString(v)
	case bool:
		l.PushBoolean(v)
	case int:
		l.PushInteger(v)
	case int64:
		l.PushNumber(float64(v))
	case float64:
		l.PushNumber(v)
	default:
		return false
	}
	return true
}

func stringify(l *lua.State, index int) string {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(index))
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return strconv.FormatFloat(n, 'g', -1, 64)
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	default:
		return fmt.Sprintf("<%s>", lua.TypeNameOf(l, index))
	}
}
