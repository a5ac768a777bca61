package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Variables available to evidence rules.
const (
	VarEvidence       = "evidence"
	VarMissionType    = "mission_type"
	VarMemberID       = "member_id"
	VarElapsedSeconds = "elapsed_seconds"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	programCache = sync.Map{}
)

// Env returns the shared environment every evidence rule is compiled against.
func Env() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable(VarEvidence, cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable(VarMissionType, cel.StringType),
			cel.Variable(VarMemberID, cel.StringType),
			cel.Variable(VarElapsedSeconds, cel.IntType),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return env, envErr
}

func ValidateExpression(expr string) error {
	_, err := compile(expr)
	return err
}

func compile(expr string) (cel.Program, error) {
	if v, ok := programCache.Load(expr); ok {
		return v.(cel.Program), nil
	}

	e, err := Env()
	if err != nil {
		return nil, err
	}

	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}

	programCache.Store(expr, prg)
	return prg, nil
}

func Evaluate(expr string, attrs map[string]any) (bool, error) {
	prg, err := compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}
