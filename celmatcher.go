package scenevcr

import (
	"github.com/google/cel-go/cel"

	"github.com/seborama/scenevcr/cassette/scene"
	vcrerr "github.com/seborama/scenevcr/errors"
)

// NewExpressionMatcher compiles a CEL expression into a Matcher.
//
// The expression must evaluate to a bool. It sees the variables 'observed' and 'stored',
// each a map with the keys: method, url, scheme, host, port, path (strings), query and
// headers (maps of lists of strings) and body (string).
// For instance:
//
//	observed.method == stored.method && observed.headers["X-Api-Version"] == stored.headers["X-Api-Version"]
//
// An expression that does not compile is an ErrInvalidConfiguration. An evaluation error
// is a mismatch.
func NewExpressionMatcher(expression string) (Matcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("observed", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("stored", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, vcrerr.Wrapf(vcrerr.ErrInvalidConfiguration, err, "CEL environment")
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, vcrerr.Wrapf(vcrerr.ErrInvalidConfiguration, issues.Err(), "compile matcher expression")
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, vcrerr.Kindf(vcrerr.ErrInvalidConfiguration, "matcher expression returns '%s', not bool", ast.OutputType())
	}

	prg, err := env.Program(ast, cel.CostLimit(100000))
	if err != nil {
		return nil, vcrerr.Wrapf(vcrerr.ErrInvalidConfiguration, err, "matcher expression program")
	}

	return func(observed, stored *scene.Request) bool {
		out, _, err := prg.Eval(map[string]any{
			"observed": expressionInput(observed),
			"stored":   expressionInput(stored),
		})
		if err != nil {
			return false
		}

		matched, ok := out.Value().(bool)

		return ok && matched
	}, nil
}

func expressionInput(req *scene.Request) map[string]any {
	in := map[string]any{
		"method":  req.Method,
		"url":     "",
		"scheme":  "",
		"host":    "",
		"port":    "",
		"path":    "",
		"query":   map[string]any{},
		"headers": map[string]any{},
		"body":    string(req.Body),
	}

	if req.URL != nil {
		in["url"] = req.URL.String()
		in["scheme"] = req.URL.Scheme
		in["host"] = req.URL.Hostname()
		in["port"] = effectivePort(req)
		in["path"] = req.URL.Path
		in["query"] = listMap(req.URL.Query())
	}

	in["headers"] = listMap(canonicalHeader(req.Header))

	return in
}

func listMap(m map[string][]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}

	return out
}
