package jsast

import "github.com/dop251/goja/ast"

// A Visitor's Visit method is invoked for each node encountered by Walk.
// If the result visitor w is not nil, Walk visits each of the children
// of node with the visitor w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(node ast.Node) (w Visitor)
}

// Walk traverses a goja AST in depth-first order, mirroring go/ast.Walk.
// Nil children are skipped.
func Walk(v Visitor, node ast.Node) {
	if isNil(node) {
		return
	}
	if v = v.Visit(node); v == nil {
		return
	}

	switch n := node.(type) {
	case *ast.Program:
		walkStmts(v, n.Body)

	// statements
	case *ast.BlockStatement:
		walkStmts(v, n.List)
	case *ast.ExpressionStatement:
		Walk(v, n.Expression)
	case *ast.VariableStatement:
		walkBindings(v, n.List)
	case *ast.LexicalDeclaration:
		walkBindings(v, n.List)
	case *ast.FunctionDeclaration:
		Walk(v, n.Function)
	case *ast.ClassDeclaration:
		Walk(v, n.Class)
	case *ast.IfStatement:
		Walk(v, n.Test)
		Walk(v, n.Consequent)
		Walk(v, n.Alternate)
	case *ast.ForStatement:
		Walk(v, n.Initializer)
		Walk(v, n.Test)
		Walk(v, n.Update)
		Walk(v, n.Body)
	case *ast.ForInStatement:
		Walk(v, n.Into)
		Walk(v, n.Source)
		Walk(v, n.Body)
	case *ast.ForOfStatement:
		Walk(v, n.Into)
		Walk(v, n.Source)
		Walk(v, n.Body)
	case *ast.WhileStatement:
		Walk(v, n.Test)
		Walk(v, n.Body)
	case *ast.DoWhileStatement:
		Walk(v, n.Body)
		Walk(v, n.Test)
	case *ast.SwitchStatement:
		Walk(v, n.Discriminant)
		for _, c := range n.Body {
			Walk(v, c)
		}
	case *ast.CaseStatement:
		Walk(v, n.Test)
		walkStmts(v, n.Consequent)
	case *ast.TryStatement:
		Walk(v, n.Body)
		Walk(v, n.Catch)
		Walk(v, n.Finally)
	case *ast.CatchStatement:
		Walk(v, n.Parameter)
		Walk(v, n.Body)
	case *ast.WithStatement:
		Walk(v, n.Object)
		Walk(v, n.Body)
	case *ast.LabelledStatement:
		Walk(v, n.Statement)
	case *ast.ReturnStatement:
		Walk(v, n.Argument)
	case *ast.ThrowStatement:
		Walk(v, n.Argument)
	case *ast.BranchStatement, *ast.EmptyStatement, *ast.DebuggerStatement, *ast.BadStatement:
		// leaves

	// loop heads
	case *ast.ForLoopInitializerExpression:
		Walk(v, n.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		walkBindings(v, n.List)
	case *ast.ForLoopInitializerLexicalDecl:
		Walk(v, &n.LexicalDeclaration)
	case *ast.ForIntoVar:
		Walk(v, n.Binding)
	case *ast.ForDeclaration:
		Walk(v, n.Target)
	case *ast.ForIntoExpression:
		Walk(v, n.Expression)

	// functions and classes
	case *ast.FunctionLiteral:
		Walk(v, n.Name)
		Walk(v, n.ParameterList)
		Walk(v, n.Body)
	case *ast.ArrowFunctionLiteral:
		Walk(v, n.ParameterList)
		Walk(v, n.Body)
	case *ast.ExpressionBody:
		Walk(v, n.Expression)
	case *ast.ParameterList:
		walkBindings(v, n.List)
		Walk(v, n.Rest)
	case *ast.Binding:
		Walk(v, n.Target)
		Walk(v, n.Initializer)
	case *ast.ClassLiteral:
		Walk(v, n.Name)
		Walk(v, n.SuperClass)
		for _, el := range n.Body {
			Walk(v, el)
		}
	case *ast.FieldDefinition:
		Walk(v, n.Key)
		Walk(v, n.Initializer)
	case *ast.MethodDefinition:
		Walk(v, n.Key)
		Walk(v, n.Body)
	case *ast.ClassStaticBlock:
		Walk(v, n.Block)

	// patterns
	case *ast.ArrayPattern:
		walkExprs(v, n.Elements)
		Walk(v, n.Rest)
	case *ast.ObjectPattern:
		for _, p := range n.Properties {
			Walk(v, p)
		}
		Walk(v, n.Rest)

	// expressions
	case *ast.ArrayLiteral:
		walkExprs(v, n.Value)
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			Walk(v, p)
		}
	case *ast.PropertyShort:
		Walk(v, &n.Name)
		Walk(v, n.Initializer)
	case *ast.PropertyKeyed:
		Walk(v, n.Key)
		Walk(v, n.Value)
	case *ast.SpreadElement:
		Walk(v, n.Expression)
	case *ast.AssignExpression:
		Walk(v, n.Left)
		Walk(v, n.Right)
	case *ast.BinaryExpression:
		Walk(v, n.Left)
		Walk(v, n.Right)
	case *ast.UnaryExpression:
		Walk(v, n.Operand)
	case *ast.ConditionalExpression:
		Walk(v, n.Test)
		Walk(v, n.Consequent)
		Walk(v, n.Alternate)
	case *ast.SequenceExpression:
		walkExprs(v, n.Sequence)
	case *ast.CallExpression:
		Walk(v, n.Callee)
		walkExprs(v, n.ArgumentList)
	case *ast.NewExpression:
		Walk(v, n.Callee)
		walkExprs(v, n.ArgumentList)
	case *ast.DotExpression:
		Walk(v, n.Left)
	case *ast.PrivateDotExpression:
		Walk(v, n.Left)
	case *ast.BracketExpression:
		Walk(v, n.Left)
		Walk(v, n.Member)
	case *ast.OptionalChain:
		Walk(v, n.Expression)
	case *ast.Optional:
		Walk(v, n.Expression)
	case *ast.TemplateLiteral:
		Walk(v, n.Tag)
		walkExprs(v, n.Expressions)
	case *ast.YieldExpression:
		Walk(v, n.Argument)
	case *ast.AwaitExpression:
		Walk(v, n.Argument)
	}

	v.Visit(nil)
}

type inspector func(ast.Node) bool

func (f inspector) Visit(node ast.Node) Visitor {
	if f(node) {
		return f
	}
	return nil
}

// Inspect traverses an AST in depth-first order: it starts by calling
// f(node); node must not be nil. If f returns true, Inspect invokes f
// recursively for each of the non-nil children of node, followed by a
// call of f(nil).
func Inspect(node ast.Node, f func(ast.Node) bool) {
	Walk(inspector(f), node)
}

func walkStmts(v Visitor, list []ast.Statement) {
	for _, s := range list {
		Walk(v, s)
	}
}

func walkExprs(v Visitor, list []ast.Expression) {
	for _, e := range list {
		Walk(v, e)
	}
}

func walkBindings(v Visitor, list []*ast.Binding) {
	for _, b := range list {
		Walk(v, b)
	}
}
