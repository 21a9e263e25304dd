// Package sandbox implements the Code Sandbox (component C4): it safely
// executes an LLM-produced analysis fragment against a Frame. Fragments are
// written in a small Go-expression dialect (parsed with go/parser rather
// than any third-party expression-eval library, since no package in this
// stack's dependency pack offers an AST whitelist suitable for this use)
// restricted to a strict node-type, identifier and method whitelist, with a
// single sanctioned assignment sink (__result__).
package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"

	"analystengine/internal/session"
)

// Error is the tagged failure C4 returns for a single fragment.
type Error struct {
	Kind    session.SandboxErrorSubKind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

func unsafe(format string, args ...any) error {
	return &Error{Kind: session.SandboxUnsafe, Message: fmt.Sprintf(format, args...)}
}
func syntaxErr(format string, args ...any) error {
	return &Error{Kind: session.SandboxSyntax, Message: fmt.Sprintf(format, args...)}
}
func runtimeErr(format string, args ...any) error {
	return &Error{Kind: session.SandboxRuntime, Message: fmt.Sprintf(format, args...)}
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[a-zA-Z]*\\n?(.*?)```")
	commentRe   = regexp.MustCompile(`//.*$`)
	importRe    = regexp.MustCompile(`(?m)^\s*import\s+.*$`)
	appendCallRe = regexp.MustCompile(`\.Append\(`)
)

// Preprocess strips markdown fences, comments, blank lines and import
// statements, and rewrites the deprecated row-appending call .Append( to
// .Concat(. Concat is not in methodWhitelist, so a rewritten call is still
// rejected by walkWhitelist.
func Preprocess(code string) string {
	if m := fenceRe.FindStringSubmatch(code); m != nil {
		code = m[1]
	}
	code = importRe.ReplaceAllString(code, "")
	code = appendCallRe.ReplaceAllString(code, ".Concat(")

	var lines []string
	for _, line := range strings.Split(code, "\n") {
		line = commentRe.ReplaceAllString(line, "")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Run evaluates a fragment against frame, applying the single-retry shape
// repair and the null-result re-run policy documented for C4. A whitelisted
// method called with an out-of-range argument (e.g. a quantile or head/tail
// count derived from bad LLM output) must surface as a SandboxError, not
// crash the caller, so any panic escaping evaluation is recovered here and
// converted to SandboxRuntime.
func Run(fragment string, frame *Frame) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, runtimeErr("panic during evaluation: %v", r)
		}
	}()

	code := Preprocess(fragment)

	val, err := evalFragment(code, frame)
	if err != nil {
		if serr, ok := err.(*Error); ok && serr.Kind == session.SandboxRuntime && isShapeMismatch(serr) {
			repaired := repairShape(code)
			if repaired != code {
				val, err = evalFragment(repaired, frame)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if val == nil && looksLikeGroupingCall(code) {
		val, err = evalFragment(code, frame)
		if err != nil {
			return nil, err
		}
		if val == nil {
			// surfaced as a warning by the caller; still a successful result.
			return nil, nil
		}
	}

	return flatten(val), nil
}

func isShapeMismatch(e *Error) bool {
	return strings.Contains(e.Message, "shape mismatch") || strings.Contains(e.Message, "ErrShapeMismatch")
}

func looksLikeGroupingCall(code string) bool {
	return strings.Contains(code, ".PivotTable(") || strings.Contains(code, ".GroupByAgg(") || strings.Contains(code, ".CrossTab(")
}

// repairShape rewrites the common multi-column tuple-selection shape error:
// a single combined argument where two separate column arguments were
// expected, e.g. PivotTable("a,b", "", "values", "sum") -> PivotTable("a",
// "b", "values", "sum").
var tuplePivotRe = regexp.MustCompile(`PivotTable\("([^",]+),\s*([^",]+)",\s*""`)

func repairShape(code string) string {
	return tuplePivotRe.ReplaceAllString(code, `PivotTable("$1", "$2"`)
}

func evalFragment(code string, frame *Frame) (any, error) {
	if expr, err := parser.ParseExpr(code); err == nil {
		if werr := walkWhitelist(expr); werr != nil {
			return nil, werr
		}
		ev := &evaluator{frame: frame}
		return ev.eval(expr)
	}

	wrapped := "package p\nfunc __wrap__() {\n" + code + "\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "fragment.go", wrapped, 0)
	if err != nil {
		return nil, syntaxErr("parse: %v", err)
	}
	if len(file.Decls) != 1 {
		return nil, unsafe("fragment must be a single function body")
	}
	fn, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok {
		return nil, unsafe("fragment must contain only statements")
	}

	ev := &evaluator{frame: frame}
	for _, stmt := range fn.Body.List {
		switch s := stmt.(type) {
		case *ast.ExprStmt:
			if werr := walkWhitelist(s.X); werr != nil {
				return nil, werr
			}
			if _, err := ev.eval(s.X); err != nil {
				return nil, err
			}
		case *ast.AssignStmt:
			if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
				return nil, unsafe("only single-target assignment is permitted")
			}
			lhs, ok := s.Lhs[0].(*ast.Ident)
			if !ok || lhs.Name != "__result__" {
				return nil, unsafe("assignment target must be __result__")
			}
			if werr := walkWhitelist(s.Rhs[0]); werr != nil {
				return nil, werr
			}
			v, err := ev.eval(s.Rhs[0])
			if err != nil {
				return nil, err
			}
			ev.result = v
			ev.hasResult = true
		default:
			return nil, unsafe("statement kind %T is not permitted", stmt)
		}
	}

	if !ev.hasResult {
		return nil, unsafe("fragment did not assign __result__")
	}
	return ev.result, nil
}

// walkWhitelist rejects the fragment unless every node is a permitted type,
// every identifier is in the sanctioned set, every call targets a
// whitelisted builtin or tabular method, and no assignment targets anything
// but __result__.
func walkWhitelist(n ast.Node) error {
	var walkErr error
	ast.Inspect(n, func(node ast.Node) bool {
		if walkErr != nil {
			return false
		}
		switch v := node.(type) {
		case nil:
			return true
		case *ast.BasicLit, *ast.BinaryExpr, *ast.UnaryExpr, *ast.ParenExpr,
			*ast.ExprStmt, *ast.KeyValueExpr, *ast.ArrayType, *ast.MapType,
			*ast.Ellipsis, *ast.IndexExpr, *ast.CompositeLit:
			return true
		case *ast.Ident:
			if !isAllowedIdent(v.Name) {
				walkErr = unsafe("identifier %q is not permitted", v.Name)
				return false
			}
		case *ast.SelectorExpr:
			if xid, ok := v.X.(*ast.Ident); !ok || xid.Name != "D" {
				walkErr = unsafe("attribute access is only permitted on D")
				return false
			}
			if !methodWhitelist[v.Sel.Name] {
				walkErr = unsafe("method %q is not in the tabular-method whitelist", v.Sel.Name)
				return false
			}
			// D and the method name are both checked above; they are not
			// walked again as bare identifiers.
			return false
		case *ast.CallExpr:
			switch fn := v.Fun.(type) {
			case *ast.SelectorExpr:
				// validated when the SelectorExpr node itself is visited.
			case *ast.Ident:
				if !builtinWhitelist[fn.Name] {
					walkErr = unsafe("call to %q is not permitted", fn.Name)
					return false
				}
			default:
				walkErr = unsafe("unsupported call target")
				return false
			}
		case *ast.AssignStmt:
			if len(v.Lhs) != 1 {
				walkErr = unsafe("only single-target assignment is permitted")
				return false
			}
			id, ok := v.Lhs[0].(*ast.Ident)
			if !ok || id.Name != "__result__" {
				walkErr = unsafe("assignment target must be __result__")
				return false
			}
		case *ast.FuncLit, *ast.FuncDecl, *ast.ForStmt, *ast.RangeStmt,
			*ast.IfStmt, *ast.SwitchStmt, *ast.GoStmt, *ast.DeferStmt,
			*ast.ImportSpec, *ast.GenDecl, *ast.TypeSpec:
			walkErr = unsafe("node kind %T is not permitted", node)
			return false
		}
		return true
	})
	return walkErr
}

type evaluator struct {
	frame     *Frame
	result    any
	hasResult bool
}

func (e *evaluator) eval(n ast.Expr) (any, error) {
	switch v := n.(type) {
	case *ast.ParenExpr:
		return e.eval(v.X)
	case *ast.BasicLit:
		return literalValue(v)
	case *ast.Ident:
		switch v.Name {
		case "D":
			return e.frame, nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "nil":
			return nil, nil
		case "__result__":
			return e.result, nil
		}
		return nil, unsafe("identifier %q is not permitted", v.Name)
	case *ast.UnaryExpr:
		val, err := e.eval(v.X)
		if err != nil {
			return nil, err
		}
		return applyUnary(v.Op, val)
	case *ast.BinaryExpr:
		l, err := e.eval(v.X)
		if err != nil {
			return nil, err
		}
		r, err := e.eval(v.Y)
		if err != nil {
			return nil, err
		}
		return applyBinary(v.Op, l, r)
	case *ast.CompositeLit:
		return e.evalComposite(v)
	case *ast.CallExpr:
		return e.evalCall(v)
	case *ast.SelectorExpr:
		return nil, unsafe("bare attribute access is not a value")
	default:
		return nil, unsafe("expression kind %T is not permitted", n)
	}
}

func (e *evaluator) evalComposite(v *ast.CompositeLit) (any, error) {
	switch v.Type.(type) {
	case *ast.MapType:
		out := map[string]any{}
		for _, elt := range v.Elts {
			kv, ok := elt.(*ast.KeyValueExpr)
			if !ok {
				return nil, unsafe("map literal element must be key:value")
			}
			key, err := e.eval(kv.Key)
			if err != nil {
				return nil, err
			}
			val, err := e.eval(kv.Value)
			if err != nil {
				return nil, err
			}
			ks, _ := key.(string)
			out[ks] = val
		}
		return out, nil
	default:
		var out []any
		for _, elt := range v.Elts {
			val, err := e.eval(elt)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	}
}

func (e *evaluator) evalCall(v *ast.CallExpr) (any, error) {
	if sel, ok := v.Fun.(*ast.SelectorExpr); ok {
		xid, ok := sel.X.(*ast.Ident)
		if !ok || xid.Name != "D" {
			return nil, unsafe("attribute access is only permitted on D")
		}
		args, err := e.evalArgs(v.Args)
		if err != nil {
			return nil, err
		}
		val, callErr := callFrameMethod(e.frame, sel.Sel.Name, args)
		if callErr != nil {
			if _, ok := callErr.(*Error); ok {
				return nil, callErr
			}
			// A raw Frame-method error (e.g. ErrShapeMismatch) is wrapped as
			// a runtime SandboxError so Run's shape-mismatch repair path can
			// recognize it by message.
			return nil, runtimeErr("%v", callErr)
		}
		return val, nil
	}

	id, ok := v.Fun.(*ast.Ident)
	if !ok {
		return nil, unsafe("unsupported call target")
	}
	args, err := e.evalArgs(v.Args)
	if err != nil {
		return nil, err
	}
	return callBuiltin(id.Name, args)
}

func (e *evaluator) evalArgs(exprs []ast.Expr) ([]any, error) {
	out := make([]any, 0, len(exprs))
	for _, a := range exprs {
		v, err := e.eval(a)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func literalValue(lit *ast.BasicLit) (any, error) {
	switch lit.Kind {
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 10, 64)
		if err != nil {
			return nil, syntaxErr("bad int literal %q", lit.Value)
		}
		return n, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, syntaxErr("bad float literal %q", lit.Value)
		}
		return f, nil
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, syntaxErr("bad string literal %q", lit.Value)
		}
		return s, nil
	default:
		return nil, unsafe("literal kind %v is not permitted", lit.Kind)
	}
}
