package scope

import (
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"

	"github.com/geeth24/codeflow/internal/jsast"
)

// Analyze builds the scope tree of prog.
func Analyze(prog *ast.Program) *Analysis {
	b := &builder{
		prog:     prog,
		a:        &Analysis{byNode: make(map[ast.Node]ID)},
		bodies:   make(map[*ast.BlockStatement]ID),
		declared: make(map[ast.Node]bool),
		methods:  make(map[*ast.FunctionLiteral]bool),
	}

	root := b.open(NoScope, KindProgram, "", prog, false)
	sc := b.a.Scope(root)
	sc.StartLine = 1
	sc.EndLine = b.lastLine()

	jsast.Walk(&visitor{b: b, scope: root, fn: root}, prog)
	b.a.finish()
	return b.a
}

type builder struct {
	prog *ast.Program
	a    *Analysis
	// bodies are blocks that belong to a function, catch clause or static
	// block and therefore share their owner's scope.
	bodies map[*ast.BlockStatement]ID
	// declared marks function and class literals introduced by a declaration;
	// their name binds in the enclosing scope instead of their own.
	declared map[ast.Node]bool
	methods  map[*ast.FunctionLiteral]bool
}

func (b *builder) open(parent ID, kind Kind, label string, node ast.Node, hasThis bool) ID {
	id := ID(len(b.a.scopes))
	sc := Scope{ID: id, Parent: parent, Kind: kind, Label: label, HasThis: hasThis}
	if _, isProg := node.(*ast.Program); !isProg {
		sc.StartLine = b.line(node.Idx0())
		sc.EndLine = b.line(node.Idx1() - 1)
	}
	b.a.scopes = append(b.a.scopes, sc)
	b.a.byNode[node] = id
	return id
}

func (b *builder) bind(id ID, name string) {
	if !trackable(name) {
		return
	}
	sc := &b.a.scopes[id]
	sc.Names = append(sc.Names, name)
}

func (b *builder) line(idx file.Idx) int {
	if idx < file.Idx(b.prog.File.Base()) {
		return 1
	}
	return jsast.Line(b.prog, idx)
}

func (b *builder) lastLine() int {
	src := strings.TrimRight(b.prog.File.Source(), "\r\n")
	if src == "" {
		return 1
	}
	return b.prog.File.Position(len(src) - 1).Line
}

// visitor carries the current lexical scope and the scope that receives
// var declarations.
type visitor struct {
	b     *builder
	scope ID
	fn    ID
}

func (v *visitor) child(kind Kind, label string, node ast.Node, hasThis, isFunc bool) *visitor {
	id := v.b.open(v.scope, kind, label, node, hasThis)
	next := &visitor{b: v.b, scope: id, fn: v.fn}
	if isFunc {
		next.fn = id
	}
	return next
}

func (v *visitor) hasThis() bool {
	return v.b.a.scopes[v.scope].HasThis
}

func (v *visitor) Visit(node ast.Node) jsast.Visitor {
	if node == nil {
		return nil
	}
	b := v.b

	switch n := node.(type) {
	// declarations
	case *ast.VariableStatement:
		v.bindAll(v.fn, n.List)
	case *ast.ForLoopInitializerVarDeclList:
		v.bindAll(v.fn, n.List)
	case *ast.ForIntoVar:
		bindTarget(n.Binding.Target, func(name string) { b.bind(v.fn, name) })
	case *ast.LexicalDeclaration:
		v.bindAll(v.scope, n.List)
	case *ast.ForDeclaration:
		bindTarget(n.Target, func(name string) { b.bind(v.scope, name) })
	case *ast.FunctionDeclaration:
		if n.Function.Name != nil {
			b.bind(v.scope, n.Function.Name.Name.String())
		}
		b.declared[n.Function] = true
	case *ast.ClassDeclaration:
		if n.Class.Name != nil {
			b.bind(v.scope, n.Class.Name.Name.String())
		}
		b.declared[n.Class] = true
	case *ast.ParameterList:
		v.bindAll(v.scope, n.List)
		if n.Rest != nil {
			bindTarget(n.Rest, func(name string) { b.bind(v.scope, name) })
		}

	// scopes
	case *ast.FunctionLiteral:
		label := ""
		if n.Name != nil {
			label = n.Name.Name.String()
		}
		kind, this := KindFunction, false
		if b.methods[n] {
			kind, this = KindMethod, true
		}
		next := v.child(kind, label, n, this, true)
		if label != "" && !b.declared[n] {
			b.bind(next.scope, label)
		}
		if n.Body != nil {
			b.bodies[n.Body] = next.scope
		}
		return next
	case *ast.ArrowFunctionLiteral:
		next := v.child(KindArrow, "", n, v.hasThis(), true)
		if body, ok := n.Body.(*ast.BlockStatement); ok {
			b.bodies[body] = next.scope
		}
		return next
	case *ast.ClassLiteral:
		label := ""
		if n.Name != nil {
			label = n.Name.Name.String()
		}
		next := v.child(KindClass, label, n, false, false)
		if label != "" && !b.declared[n] {
			b.bind(next.scope, label)
		}
		for _, el := range n.Body {
			if m, ok := el.(*ast.MethodDefinition); ok && m.Body != nil {
				b.methods[m.Body] = true
			}
		}
		return next
	case *ast.ClassStaticBlock:
		next := v.child(KindStaticBlock, "", n, true, true)
		if n.Block != nil {
			b.bodies[n.Block] = next.scope
		}
		return next
	case *ast.CatchStatement:
		next := v.child(KindCatch, "", n, v.hasThis(), false)
		if n.Parameter != nil {
			bindTarget(n.Parameter, func(name string) { b.bind(next.scope, name) })
		}
		if n.Body != nil {
			b.bodies[n.Body] = next.scope
		}
		return next
	case *ast.BlockStatement:
		if id, ok := b.bodies[n]; ok {
			b.a.byNode[n] = id
			return v
		}
		return v.child(KindBlock, "", n, v.hasThis(), false)
	case *ast.SwitchStatement:
		return v.child(KindSwitch, "", n, v.hasThis(), false)
	case *ast.ForStatement:
		if _, ok := n.Initializer.(*ast.ForLoopInitializerLexicalDecl); ok {
			return v.child(KindFor, "", n, v.hasThis(), false)
		}
	case *ast.ForInStatement:
		if _, ok := n.Into.(*ast.ForDeclaration); ok {
			return v.child(KindFor, "", n, v.hasThis(), false)
		}
	case *ast.ForOfStatement:
		if _, ok := n.Into.(*ast.ForDeclaration); ok {
			return v.child(KindFor, "", n, v.hasThis(), false)
		}
	}
	return v
}

func (v *visitor) bindAll(id ID, list []*ast.Binding) {
	for _, bd := range list {
		bindTarget(bd.Target, func(name string) { v.b.bind(id, name) })
	}
}

// bindTarget reports every identifier bound by a declaration target,
// descending into destructuring patterns. Member expression targets
// (only legal in assignment patterns) bind nothing.
func bindTarget(target ast.Node, add func(string)) {
	switch t := target.(type) {
	case *ast.Identifier:
		add(t.Name.String())
	case *ast.Binding:
		bindTarget(t.Target, add)
	case *ast.AssignExpression:
		bindTarget(t.Left, add)
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			if el != nil {
				bindTarget(el, add)
			}
		}
		if t.Rest != nil {
			bindTarget(t.Rest, add)
		}
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				add(p.Name.Name.String())
			case *ast.PropertyKeyed:
				bindTarget(p.Value, add)
			case *ast.SpreadElement:
				bindTarget(p.Expression, add)
			}
		}
		if t.Rest != nil {
			bindTarget(t.Rest, add)
		}
	}
}
