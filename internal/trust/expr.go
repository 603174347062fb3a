package trust

import (
	"fmt"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

func compileExpr(expression string) (func(map[string]any, time.Time) (bool, error), error) {
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{
			"cert": Facts(nil),
			"now":  time.Time{},
		}),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, err
	}
	return func(facts map[string]any, now time.Time) (bool, error) {
		return runExpr(program, facts, now)
	}, nil
}

func runExpr(program *exprvm.Program, facts map[string]any, now time.Time) (bool, error) {
	out, err := exprlang.Run(program, map[string]any{
		"cert": facts,
		"now":  now,
	})
	if err != nil {
		return false, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("policy returned %T, not bool", out)
	}
	return ok, nil
}
