package trust

import (
	"fmt"
	"time"

	celgo "github.com/google/cel-go/cel"
)

func compileCEL(expression string) (func(map[string]any, time.Time) (bool, error), error) {
	env, err := celgo.NewEnv(
		celgo.Variable("cert", celgo.MapType(celgo.StringType, celgo.DynType)),
		celgo.Variable("now", celgo.TimestampType),
	)
	if err != nil {
		return nil, err
	}

	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !checked.OutputType().IsExactType(celgo.BoolType) && !checked.OutputType().IsExactType(celgo.DynType) {
		return nil, fmt.Errorf("policy must evaluate to bool, not %s", checked.OutputType())
	}
	program, err := env.Program(checked)
	if err != nil {
		return nil, err
	}

	return func(facts map[string]any, now time.Time) (bool, error) {
		out, _, err := program.Eval(map[string]any{
			"cert": facts,
			"now":  now,
		})
		if err != nil {
			return false, err
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return false, fmt.Errorf("policy returned %T, not bool", out.Value())
		}
		return ok, nil
	}, nil
}
