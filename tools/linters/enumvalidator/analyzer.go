// Package enumvalidator reports string literals assigned to enum-typed fields.
//
// An enum is a named type with an underlying string kind that has at least one
// constant declared in its own package, such as model.EventRole or turn.State.
// Writing a raw literal into such a field bypasses the declared set.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "enumvalidator",
	Doc:      "reports string literals assigned to enum-typed struct fields",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	enums := map[*types.Named]bool{}

	nodeFilter := []ast.Node{
		(*ast.AssignStmt)(nil),
		(*ast.CompositeLit)(nil),
	}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		switch n := n.(type) {
		case *ast.AssignStmt:
			if len(n.Lhs) != len(n.Rhs) {
				return
			}
			for i, lhs := range n.Lhs {
				sel, ok := lhs.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				checkField(pass, enums, sel.Sel, n.Rhs[i])
			}
		case *ast.CompositeLit:
			for _, elt := range n.Elts {
				kv, ok := elt.(*ast.KeyValueExpr)
				if !ok {
					continue
				}
				key, ok := kv.Key.(*ast.Ident)
				if !ok {
					continue
				}
				checkField(pass, enums, key, kv.Value)
			}
		}
	})
	return nil, nil
}

func checkField(pass *analysis.Pass, cache map[*types.Named]bool, field *ast.Ident, value ast.Expr) {
	lit, ok := ast.Unparen(value).(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return
	}
	v, ok := pass.TypesInfo.ObjectOf(field).(*types.Var)
	if !ok || !v.IsField() {
		return
	}
	named, ok := v.Type().(*types.Named)
	if !ok || !isEnum(cache, named) {
		return
	}
	pass.Reportf(lit.Pos(), "enum field %s assigned string literal %s; use a %s constant",
		field.Name, lit.Value, named.Obj().Name())
}

func isEnum(cache map[*types.Named]bool, named *types.Named) bool {
	if known, ok := cache[named]; ok {
		return known
	}
	enum := false
	if basic, ok := named.Underlying().(*types.Basic); ok && basic.Info()&types.IsString != 0 {
		if pkg := named.Obj().Pkg(); pkg != nil {
			scope := pkg.Scope()
			for _, name := range scope.Names() {
				if c, ok := scope.Lookup(name).(*types.Const); ok && types.Identical(c.Type(), named) {
					enum = true
					break
				}
			}
		}
	}
	cache[named] = enum
	return enum
}
