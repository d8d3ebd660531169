// Package jsast is the JavaScript front-end: it parses guest programs with
// the goja parser, reports syntax errors with positions and offers a
// go/ast-style walker over the resulting tree.
package jsast

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// ParseError describes a program that is not valid JavaScript.
// Line and Column are 1-based; Offset is a byte offset into the source.
type ParseError struct {
	Name    string
	Line    int
	Column  int
	Offset  int
	Message string
	// More is the number of additional errors the parser reported.
	More int
	// Early marks errors found after parsing, while compiling the tree.
	Early bool
}

func (e *ParseError) Error() string {
	name := e.Name
	if name == "" {
		name = "<input>"
	}
	msg := fmt.Sprintf("%s:%d:%d: SyntaxError: %s", name, e.Line, e.Column, e.Message)
	if e.More > 0 {
		msg += fmt.Sprintf(" (and %d more errors)", e.More)
	}
	return msg
}

// Parse parses src and checks it for early errors (duplicate lexical
// declarations, invalid assignment targets and similar) that the parser alone
// does not detect.
func Parse(name, src string) (*ast.Program, error) {
	prog, err := parser.ParseFile(nil, name, src, 0, parser.WithDisableSourceMaps)
	if err != nil {
		return nil, convertParseError(name, src, err)
	}
	if _, err := goja.CompileAST(prog, false); err != nil {
		return nil, convertCompileError(name, src, err)
	}
	return prog, nil
}

func convertParseError(name, src string, err error) error {
	var list parser.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &ParseError{
			Name:    name,
			Line:    first.Position.Line,
			Column:  first.Position.Column,
			Offset:  offsetOf(src, first.Position.Line, first.Position.Column),
			Message: first.Message,
			More:    len(list) - 1,
		}
	}
	var single *parser.Error
	if errors.As(err, &single) {
		return &ParseError{
			Name:    name,
			Line:    single.Position.Line,
			Column:  single.Position.Column,
			Offset:  offsetOf(src, single.Position.Line, single.Position.Column),
			Message: single.Message,
		}
	}
	return &ParseError{Name: name, Line: 1, Column: 1, Message: err.Error()}
}

func convertCompileError(name, src string, err error) error {
	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		pe := &ParseError{Name: name, Line: 1, Column: 1, Offset: syn.Offset, Message: syn.Message, Early: true}
		if syn.File != nil {
			pos := syn.File.Position(syn.Offset)
			pe.Line, pe.Column = pos.Line, pos.Column
		}
		return pe
	}
	var ref *goja.CompilerReferenceError
	if errors.As(err, &ref) {
		pe := &ParseError{Name: name, Line: 1, Column: 1, Offset: ref.Offset, Message: ref.Message, Early: true}
		if ref.File != nil {
			pos := ref.File.Position(ref.Offset)
			pe.Line, pe.Column = pos.Line, pos.Column
		}
		return pe
	}
	return &ParseError{Name: name, Line: 1, Column: 1, Message: err.Error(), Early: true}
}

// offsetOf maps a 1-based line/column back to a byte offset in src.
func offsetOf(src string, line, col int) int {
	if line <= 1 {
		return min(max(col-1, 0), len(src))
	}
	cur := 1
	for i := 0; i < len(src); i++ {
		if src[i] != '\n' {
			continue
		}
		cur++
		if cur == line {
			return min(i+1+max(col-1, 0), len(src))
		}
	}
	return len(src)
}

// Offset converts a node index into a byte offset within the program source.
func Offset(prog *ast.Program, idx file.Idx) int {
	return int(idx) - prog.File.Base()
}

// Line returns the 1-based source line of idx.
func Line(prog *ast.Program, idx file.Idx) int {
	return prog.File.Position(Offset(prog, idx)).Line
}

// Start returns where the first token of node begins. It differs from
// Idx0 for a tagged template, whose Idx0 is its opening backtick, and for
// every node whose leftmost child is one.
func Start(node ast.Node) file.Idx {
	switch n := node.(type) {
	case *ast.ExpressionStatement:
		return Start(n.Expression)
	case *ast.TemplateLiteral:
		if n.Tag != nil {
			return Start(n.Tag)
		}
	case *ast.CallExpression:
		return Start(n.Callee)
	case *ast.DotExpression:
		return Start(n.Left)
	case *ast.PrivateDotExpression:
		return Start(n.Left)
	case *ast.BracketExpression:
		return Start(n.Left)
	case *ast.BinaryExpression:
		return Start(n.Left)
	case *ast.AssignExpression:
		return Start(n.Left)
	case *ast.ConditionalExpression:
		return Start(n.Test)
	case *ast.SequenceExpression:
		if len(n.Sequence) > 0 {
			return Start(n.Sequence[0])
		}
	case *ast.UnaryExpression:
		if n.Postfix {
			return Start(n.Operand)
		}
	case *ast.OptionalChain:
		return Start(n.Expression)
	case *ast.Optional:
		return Start(n.Expression)
	}
	return node.Idx0()
}

func isNil(node ast.Node) bool {
	if node == nil {
		return true
	}
	rv := reflect.ValueOf(node)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
