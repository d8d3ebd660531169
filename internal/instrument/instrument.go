// Package instrument rewrites a JavaScript program so that a probe call runs
// immediately before every traceable statement.
//
// A probe call has the shape
//
//	__cf$probe(<line>,<scope>,<evaluator>,"<token>");
//
// where evaluator is an arrow function generated at the call site that maps a
// name to its current value and token identifies the rewrite, so calls
// written by the guest itself can be told apart. Without a token the last
// argument is omitted. Because it is a closure written inline, it reads
// bindings exactly as the statement that follows would.
package instrument

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"

	"github.com/geeth24/codeflow/internal/jsast"
	"github.com/geeth24/codeflow/internal/scope"
)

const (
	// ProbeName is the global the host binds to the recorder.
	ProbeName = scope.ReservedPrefix + "probe"
	nameParam = scope.ReservedPrefix + "n"
)

// Site is one inserted probe.
type Site struct {
	Line   int
	Scope  scope.ID
	Offset int // byte offset of the statement in the original source
}

// Result is the outcome of a successful rewrite.
type Result struct {
	Source string
	Sites  []Site
	// Lines counts probes per original source line.
	Lines map[int]int
	Token string
}

// Probes returns the number of inserted probe calls.
func (r *Result) Probes() int { return len(r.Sites) }

// InstrumentError reports a rewrite that did not produce a valid program.
// It indicates a bug in the rewriter, never a problem with the input.
type InstrumentError struct {
	Name string
	Err  error
}

func (e *InstrumentError) Error() string {
	return fmt.Sprintf("instrument %s: rewritten program is invalid: %v", e.Name, e.Err)
}

func (e *InstrumentError) Unwrap() error { return e.Err }

// Rewrite instruments src, which must be the text prog was parsed from.
// token is passed with every probe call; it must be alphanumeric.
func Rewrite(src string, prog *ast.Program, an *scope.Analysis, token string) (*Result, error) {
	rw := &rewriter{
		src:    src,
		prog:   prog,
		an:     an,
		bodies: make(map[*ast.BlockStatement]bool),
		res:    &Result{Lines: make(map[int]int), Token: token},
	}
	rw.index()
	jsast.Walk(&visitor{rw: rw, scope: 0}, prog)

	out := rw.apply()
	name := prog.File.Name()
	if _, err := jsast.Parse(name, out); err != nil {
		return nil, &InstrumentError{Name: name, Err: err}
	}
	rw.res.Source = out
	return rw.res, nil
}

type edit struct {
	off    int
	text   string
	closer bool
	seq    int
}

type rewriter struct {
	src   string
	prog  *ast.Program
	an    *scope.Analysis
	edits []edit
	// bodies holds function bodies, which may open with a directive prologue.
	bodies map[*ast.BlockStatement]bool
	res    *Result
	// starts and ends hold the sorted offsets of every node boundary. They
	// are token boundaries, never inside a comment or a string.
	starts []int
	ends   []int
}

// index records the boundaries of every node of the program.
func (rw *rewriter) index() {
	jsast.Walk(boundsVisitor{rw}, rw.prog)
	slices.Sort(rw.starts)
	slices.Sort(rw.ends)
}

type boundsVisitor struct{ rw *rewriter }

func (b boundsVisitor) Visit(node ast.Node) jsast.Visitor {
	if node == nil {
		return nil
	}
	if lo, hi, ok := bounds(node); ok {
		b.rw.starts = append(b.rw.starts, jsast.Offset(b.rw.prog, lo))
		b.rw.ends = append(b.rw.ends, jsast.Offset(b.rw.prog, hi))
	}
	return b
}

// bounds returns Idx0 and Idx1 of node, or false when goja panics on it:
// both index into child lists, which are empty for "" or "case 1:".
func bounds(node ast.Node) (lo, hi file.Idx, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return node.Idx0(), node.Idx1(), true
}

func (rw *rewriter) insert(off int, text string, closer bool) {
	rw.edits = append(rw.edits, edit{off: off, text: text, closer: closer, seq: len(rw.edits)})
}

// apply splices every edit into the source in a single forward pass.
// At equal offsets closing braces go first so that a wrapped statement is
// closed before the next statement's probe opens.
func (rw *rewriter) apply() string {
	slices.SortStableFunc(rw.edits, func(a, b edit) int {
		if a.off != b.off {
			return a.off - b.off
		}
		if a.closer != b.closer {
			if a.closer {
				return -1
			}
			return 1
		}
		return a.seq - b.seq
	})

	var sb strings.Builder
	extra := 0
	for _, e := range rw.edits {
		extra += len(e.text)
	}
	sb.Grow(len(rw.src) + extra)

	last := 0
	for _, e := range rw.edits {
		sb.WriteString(rw.src[last:e.off])
		sb.WriteString(e.text)
		last = e.off
	}
	sb.WriteString(rw.src[last:])
	return sb.String()
}

// probe records a site for stmt and returns its call text.
func (rw *rewriter) probe(stmt ast.Statement, id scope.ID) (int, string) {
	off := rw.statementStart(stmt)
	line := jsast.Line(rw.prog, jsast.Start(stmt))
	rw.res.Sites = append(rw.res.Sites, Site{Line: line, Scope: id, Offset: off})
	rw.res.Lines[line]++
	return off, probeCall(line, id, rw.an.Visible(id), rw.res.Token)
}

func (rw *rewriter) list(stmts []ast.Statement, id scope.ID, prologue bool) {
	for _, s := range stmts {
		if prologue {
			if isDirective(s) {
				continue
			}
			prologue = false
		}
		if !traceable(s) {
			continue
		}
		off, text := rw.probe(s, id)
		rw.insert(off, text, false)
	}
}

// wrap turns a traceable sole body into a block holding its probe.
func (rw *rewriter) wrap(body ast.Statement, id scope.ID) {
	if body == nil || !traceable(body) {
		return
	}
	off, text := rw.probe(body, id)
	rw.insert(off, "{"+text, false)
	rw.insert(rw.statementEnd(body), "}", true)
}

// statementStart returns the offset where stmt begins in the text. The tree
// drops parentheses, so an expression statement such as "(f)()" starts
// before its first node. Only trivia and punctuation lie between the
// nearest preceding node boundary and the first token; the last run of "("
// there belongs to the statement.
func (rw *rewriter) statementStart(stmt ast.Statement) int {
	first := jsast.Offset(rw.prog, jsast.Start(stmt))
	lo := 0
	if i, _ := slices.BinarySearch(rw.starts, first); i > 0 {
		lo = rw.starts[i-1]
	}
	if i, found := slices.BinarySearch(rw.ends, first); found {
		lo = first
	} else if i > 0 {
		lo = max(lo, rw.ends[i-1])
	}

	open := -1
	for i := skipTrivia(rw.src, lo); i < first; i = skipTrivia(rw.src, i+1) {
		if rw.src[i] != '(' {
			open = -1
		} else if open < 0 {
			open = i
		}
	}
	if open >= 0 {
		return open
	}
	return first
}

// statementEnd returns the offset just past body, including parentheses
// around its last node and its terminating semicolon.
func (rw *rewriter) statementEnd(body ast.Statement) int {
	end := jsast.Offset(rw.prog, body.Idx1())
	for {
		i := skipTrivia(rw.src, end)
		if i >= len(rw.src) {
			return end
		}
		switch rw.src[i] {
		case ')':
			end = i + 1
		case ';':
			return i + 1
		default:
			return end
		}
	}
}

type visitor struct {
	rw    *rewriter
	scope scope.ID
}

func (v *visitor) Visit(node ast.Node) jsast.Visitor {
	if node == nil {
		return nil
	}
	rw := v.rw
	cur := v.scope
	if id, ok := rw.an.ScopeOf(node); ok {
		cur = id
	}

	switch n := node.(type) {
	case *ast.Program:
		rw.list(n.Body, cur, true)
	case *ast.FunctionLiteral:
		if n.Body != nil {
			rw.bodies[n.Body] = true
		}
	case *ast.ArrowFunctionLiteral:
		if body, ok := n.Body.(*ast.BlockStatement); ok {
			rw.bodies[body] = true
		}
	case *ast.BlockStatement:
		rw.list(n.List, cur, rw.bodies[n])
	case *ast.CaseStatement:
		rw.list(n.Consequent, cur, false)
	case *ast.IfStatement:
		rw.wrap(n.Consequent, cur)
		rw.wrap(n.Alternate, cur)
	case *ast.ForStatement:
		rw.wrap(n.Body, cur)
	case *ast.ForInStatement:
		rw.wrap(n.Body, cur)
	case *ast.ForOfStatement:
		rw.wrap(n.Body, cur)
	case *ast.WhileStatement:
		rw.wrap(n.Body, cur)
	case *ast.DoWhileStatement:
		rw.wrap(n.Body, cur)
	case *ast.WithStatement:
		rw.wrap(n.Body, cur)
	case *ast.LabelledStatement:
		rw.wrap(n.Statement, cur)
	}

	if cur == v.scope {
		return v
	}
	return &visitor{rw: rw, scope: cur}
}

// traceable reports whether stmt runs exactly once per control-flow pass and
// is therefore probed directly. Compound statements are probed through
// their bodies instead.
func traceable(stmt ast.Statement) bool {
	switch stmt.(type) {
	case *ast.ExpressionStatement,
		*ast.VariableStatement,
		*ast.LexicalDeclaration,
		*ast.ReturnStatement,
		*ast.ThrowStatement,
		*ast.BranchStatement,
		*ast.DebuggerStatement,
		*ast.ClassDeclaration:
		return true
	}
	return false
}

func isDirective(stmt ast.Statement) bool {
	es, ok := stmt.(*ast.ExpressionStatement)
	if !ok {
		return false
	}
	_, ok = es.Expression.(*ast.StringLiteral)
	return ok
}

// probeCall renders the probe text. It never contains a newline, so line
// numbers in runtime errors still match the original source.
func probeCall(line int, id scope.ID, names []string, token string) string {
	var sb strings.Builder
	sb.WriteString(ProbeName)
	sb.WriteByte('(')
	sb.WriteString(strconv.Itoa(line))
	sb.WriteByte(',')
	sb.WriteString(strconv.Itoa(int(id)))
	sb.WriteByte(',')
	if len(names) == 0 {
		sb.WriteString("null")
	} else {
		sb.WriteString("(" + nameParam + ")=>{switch(" + nameParam + "){")
		for _, n := range names {
			sb.WriteString("case ")
			sb.WriteString(quote(n))
			sb.WriteString(":return ")
			sb.WriteString(n)
			sb.WriteByte(';')
		}
		sb.WriteString("}}")
	}
	if token != "" {
		sb.WriteString(`,"` + token + `"`)
	}
	sb.WriteString(");")
	return sb.String()
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return string(b)
}

// skipTrivia returns the first offset at or after i that is neither
// whitespace nor part of a comment.
func skipTrivia(src string, i int) int {
	for i < len(src) {
		switch c := src[i]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f':
			i++
		case strings.HasPrefix(src[i:], "//"):
			nl := strings.IndexByte(src[i:], '\n')
			if nl < 0 {
				return len(src)
			}
			i += nl + 1
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return len(src)
			}
			i += 2 + end + 2
		default:
			return i
		}
	}
	return i
}
