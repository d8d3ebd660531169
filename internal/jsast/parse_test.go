package jsast

import (
	"errors"
	"strings"
	"testing"

	"github.com/dop251/goja/ast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	prog, err := Parse("ok.js", "let a = 1;\nfunction f(b) { return a + b; }\nf(2);\n")
	require.NoError(t, err)
	require.Len(t, prog.Body, 3)
	assert.Equal(t, 2, Line(prog, prog.Body[1].Idx0()))
	assert.Equal(t, 11, Offset(prog, prog.Body[1].Idx0()))
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse("bad.js", "let a = 1;\nlet b = ;\n")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad.js", pe.Name)
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, 9, pe.Column)
	assert.Equal(t, 19, pe.Offset)
	assert.False(t, pe.Early)
	assert.Contains(t, pe.Message, "Unexpected token")
	assert.True(t, strings.HasPrefix(pe.Error(), "bad.js:2:9: SyntaxError: "))
}

func TestParse_EarlyError(t *testing.T) {
	_, err := Parse("", "let a = 1;\nlet a = 2;")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Early)
	assert.Equal(t, 2, pe.Line)
	assert.Contains(t, pe.Message, "already been declared")
	assert.True(t, strings.HasPrefix(pe.Error(), "<input>:2:"))
}

func TestStart(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"tag`hi`;", 0},
		{"  String.raw`a`.length;", 2},
		{"x; f`x`();", 3},
		{"a = tag`b`;", 0},
		{"i++;", 0},
		{"!ok;", 0},
	}
	for _, tt := range tests {
		prog, err := Parse("s.js", tt.src)
		require.NoError(t, err, tt.src)
		last := prog.Body[len(prog.Body)-1]
		assert.Equal(t, tt.want, Offset(prog, Start(last)), tt.src)
	}
}

func TestOffsetOf(t *testing.T) {
	src := "ab\ncd\n"
	assert.Equal(t, 0, offsetOf(src, 1, 1))
	assert.Equal(t, 4, offsetOf(src, 2, 2))
	assert.Equal(t, len(src), offsetOf(src, 9, 1))
	assert.Equal(t, len(src), offsetOf(src, 1, 99))
}

func TestInspect_VisitsNestedNodes(t *testing.T) {
	prog, err := Parse("walk.js", `
const xs = [1, 2];
for (const x of xs) {
  if (x > 1) { console.log(x); }
}
class C { m() { return () => this; } }
`)
	require.NoError(t, err)

	var idents []string
	var arrows, ifs int
	Inspect(prog, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.Identifier:
			idents = append(idents, string(n.Name))
		case *ast.ArrowFunctionLiteral:
			arrows++
		case *ast.IfStatement:
			ifs++
		}
		return true
	})
	assert.Equal(t, 1, arrows)
	assert.Equal(t, 1, ifs)
	assert.Contains(t, idents, "console")
	assert.Contains(t, idents, "xs")
	assert.Contains(t, idents, "x")
}

func TestInspect_PrunesSubtree(t *testing.T) {
	prog, err := Parse("prune.js", "function f() { g(); }\nh();")
	require.NoError(t, err)

	var calls int
	Inspect(prog, func(n ast.Node) bool {
		if _, ok := n.(*ast.FunctionLiteral); ok {
			return false
		}
		if _, ok := n.(*ast.CallExpression); ok {
			calls++
		}
		return true
	})
	assert.Equal(t, 1, calls)
}
