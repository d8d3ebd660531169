// Package scope computes, for every lexical scope of a JavaScript program,
// the identifiers a probe placed in that scope may observe.
//
// The analysis is purely syntactic. A name being visible does not mean its
// binding is initialised at a given point; consumers must tolerate lookups
// that fail with a ReferenceError (temporal dead zone).
package scope

import (
	"slices"
	"strings"

	"github.com/dop251/goja/ast"
)

// ReservedPrefix marks identifiers generated by the instrumenter.
// Such names are never tracked.
const ReservedPrefix = "__cf$"

// ThisName is reported among visible names inside methods and constructors.
const ThisName = "this"

// ID identifies a scope within an Analysis. The program scope is always 0.
type ID int32

// NoScope is the parent of the program scope.
const NoScope ID = -1

// Kind classifies the construct that opened a scope.
type Kind uint8

const (
	KindProgram Kind = iota
	KindFunction
	KindArrow
	KindMethod
	KindBlock
	KindCatch
	KindFor
	KindSwitch
	KindClass
	KindStaticBlock
)

func (k Kind) String() string {
	switch k {
	case KindProgram:
		return "program"
	case KindFunction:
		return "function"
	case KindArrow:
		return "arrow"
	case KindMethod:
		return "method"
	case KindBlock:
		return "block"
	case KindCatch:
		return "catch"
	case KindFor:
		return "for"
	case KindSwitch:
		return "switch"
	case KindClass:
		return "class"
	case KindStaticBlock:
		return "static"
	default:
		return "unknown"
	}
}

// Scope is one node of the scope tree.
type Scope struct {
	ID     ID
	Parent ID
	Kind   Kind
	// Label is the function or class name for named scopes.
	Label string
	// StartLine and EndLine are 1-based and inclusive.
	StartLine int
	EndLine   int
	// Names declared directly in this scope, sorted.
	Names []string
	// HasThis is set for method bodies and arrows nested in them.
	HasThis bool
}

// IdentifierSet is a sorted, duplicate-free list of names.
type IdentifierSet []string

// Contains reports whether name is in the set.
func (s IdentifierSet) Contains(name string) bool {
	_, ok := slices.BinarySearch(s, name)
	return ok
}

// Analysis is the scope tree of one program. It is immutable once built
// and safe for concurrent readers.
type Analysis struct {
	scopes  []Scope
	byNode  map[ast.Node]ID
	visible []IdentifierSet
	global  IdentifierSet
}

// Len returns the number of scopes.
func (a *Analysis) Len() int { return len(a.scopes) }

// Scope returns the scope with the given id.
func (a *Analysis) Scope(id ID) *Scope {
	if id < 0 || int(id) >= len(a.scopes) {
		return nil
	}
	return &a.scopes[id]
}

// Scopes returns all scopes in creation order (parents before children).
func (a *Analysis) Scopes() []Scope { return a.scopes }

// Visible returns the sorted names observable from scope id: its own names,
// every ancestor's names and "this" where applicable.
// The returned slice must not be modified.
func (a *Analysis) Visible(id ID) IdentifierSet {
	if id < 0 || int(id) >= len(a.visible) {
		return nil
	}
	return a.visible[id]
}

// Global returns every tracked name in the program regardless of scope.
func (a *Analysis) Global() IdentifierSet { return a.global }

// ScopeOf reports the scope opened by node. Function, catch and static block
// bodies map to the scope of their owner.
func (a *Analysis) ScopeOf(node ast.Node) (ID, bool) {
	id, ok := a.byNode[node]
	return id, ok
}

// finish computes the memoised visible sets. Parents always precede their
// children in a.scopes, so one forward pass suffices.
func (a *Analysis) finish() {
	a.visible = make([]IdentifierSet, len(a.scopes))
	all := make(map[string]struct{})
	for i := range a.scopes {
		sc := &a.scopes[i]
		slices.Sort(sc.Names)
		sc.Names = slices.Compact(sc.Names)
		for _, n := range sc.Names {
			all[n] = struct{}{}
		}

		var names []string
		if sc.Parent != NoScope {
			names = append(names, a.visible[sc.Parent]...)
			// "this" is not inherited through plain functions
			if !sc.HasThis {
				names = slices.DeleteFunc(names, func(n string) bool { return n == ThisName })
			}
		}
		names = append(names, sc.Names...)
		if sc.HasThis {
			names = append(names, ThisName)
		}
		slices.Sort(names)
		a.visible[i] = slices.Compact(names)
	}

	a.global = make(IdentifierSet, 0, len(all))
	for n := range all {
		a.global = append(a.global, n)
	}
	slices.Sort(a.global)
}

func trackable(name string) bool {
	return name != "" && !strings.HasPrefix(name, ReservedPrefix)
}
