//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expr

import (
	"sort"
	"strings"

	"github.com/uber/aresquery/query/value"
)

// Visitor can be called by Walk to traverse an expression tree. nestDiff is the number
// of row scopes entered between the root of the walk and the visited node.
type Visitor interface {
	Visit(ex Expression, nestDiff int) Visitor
}

// Walk traverses an expression tree root first. Children are skipped when Visit returns nil.
func Walk(v Visitor, ex Expression) {
	walk(v, ex, 0)
}

func walk(v Visitor, ex Expression, nestDiff int) {
	if ex == nil {
		return
	}
	if v = v.Visit(ex, nestDiff); v == nil {
		return
	}
	c, ok := ex.(*ChainExpression)
	if !ok {
		return
	}
	walk(v, c.Expression, nestDiff)
	for _, a := range c.Actions {
		inner := nestDiff
		if Nests(a) {
			inner++
		}
		for _, operand := range Operands(a) {
			walk(v, operand, inner)
		}
	}
}

type visitorFunc func(ex Expression, nestDiff int) bool

func (f visitorFunc) Visit(ex Expression, nestDiff int) Visitor {
	if f(ex, nestDiff) {
		return f
	}
	return nil
}

// ForEach calls fn on every node of the tree, root first.
func ForEach(ex Expression, fn func(ex Expression, nestDiff int)) {
	Walk(visitorFunc(func(ex Expression, nestDiff int) bool {
		fn(ex, nestDiff)
		return true
	}), ex)
}

// Some tells whether pred holds for at least one node. The walk stops at the first hit.
func Some(ex Expression, pred func(ex Expression, nestDiff int) bool) bool {
	found := false
	Walk(visitorFunc(func(ex Expression, nestDiff int) bool {
		if found {
			return false
		}
		if pred(ex, nestDiff) {
			found = true
			return false
		}
		return true
	}), ex)
	return found
}

// Every tells whether pred holds for all nodes. The walk stops at the first miss.
func Every(ex Expression, pred func(ex Expression, nestDiff int) bool) bool {
	return !Some(ex, func(ex Expression, nestDiff int) bool {
		return !pred(ex, nestDiff)
	})
}

// SubstituteFunc returns a replacement for a node, or nil to keep the node and descend
// into its children.
type SubstituteFunc func(ex Expression, nestDiff int) (Expression, error)

// Substitute rebuilds the tree root first with the replacements returned by fn.
// Untouched subtrees are shared with the input.
func Substitute(ex Expression, fn SubstituteFunc) (Expression, error) {
	return substitute(ex, 0, fn)
}

func substitute(ex Expression, nestDiff int, fn SubstituteFunc) (Expression, error) {
	replacement, err := fn(ex, nestDiff)
	if err != nil {
		return nil, err
	}
	if replacement != nil {
		return replacement, nil
	}
	c, ok := ex.(*ChainExpression)
	if !ok {
		return ex, nil
	}
	root, err := substitute(c.Expression, nestDiff, fn)
	if err != nil {
		return nil, err
	}
	changed := root != c.Expression
	actions := make([]Action, len(c.Actions))
	for i, a := range c.Actions {
		inner := nestDiff
		if Nests(a) {
			inner++
		}
		operands := Operands(a)
		if len(operands) == 0 {
			actions[i] = a
			continue
		}
		replaced := make([]Expression, len(operands))
		operandChanged := false
		for j, operand := range operands {
			if replaced[j], err = substitute(operand, inner, fn); err != nil {
				return nil, err
			}
			operandChanged = operandChanged || replaced[j] != operand
		}
		if operandChanged {
			actions[i] = WithOperands(a, replaced)
			changed = true
		} else {
			actions[i] = a
		}
	}
	if !changed {
		return c, nil
	}
	return Chain(root, actions...), nil
}

// MustSubstitute is Substitute for replacement functions that never fail.
func MustSubstitute(ex Expression, fn func(ex Expression, nestDiff int) Expression) Expression {
	out, _ := Substitute(ex, func(ex Expression, nestDiff int) (Expression, error) {
		return fn(ex, nestDiff), nil
	})
	return out
}

// FreeReferences lists the references that escape the expression, as ^-prefixed names
// relative to its root scope, sorted and without duplicates.
func FreeReferences(ex Expression) []string {
	seen := map[string]struct{}{}
	collectFreeReferences(ex, 0, seen)
	return sortedNames(seen)
}

// ActionFreeReferences lists the references of the operands of an action that escape the
// chain the action is part of.
func ActionFreeReferences(a Action) []string {
	start := 0
	if Nests(a) {
		start = 1
	}
	seen := map[string]struct{}{}
	for _, operand := range Operands(a) {
		collectFreeReferences(operand, start, seen)
	}
	return sortedNames(seen)
}

func collectFreeReferences(ex Expression, start int, seen map[string]struct{}) {
	walk(visitorFunc(func(node Expression, nestDiff int) bool {
		if ref, ok := node.(*RefExpression); ok && ref.Nest >= nestDiff {
			seen[strings.Repeat("^", ref.Nest-nestDiff)+ref.Name] = struct{}{}
		}
		return true
	}), ex, start)
}

func sortedNames(seen map[string]struct{}) []string {
	refs := make([]string, 0, len(seen))
	for name := range seen {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return refs
}

// HasExternal tells whether the tree holds an external expression.
func HasExternal(ex Expression) bool {
	return Some(ex, func(node Expression, _ int) bool {
		_, ok := node.(*ExternalExpression)
		return ok
	})
}

// IsResolved tells whether the tree holds no free reference.
func IsResolved(ex Expression) bool {
	return len(FreeReferences(ex)) == 0
}

// ReferencesColumn tells whether ex reads the column name of the row it is evaluated on.
func ReferencesColumn(ex Expression, name string) bool {
	return Some(ex, func(node Expression, nestDiff int) bool {
		ref, ok := node.(*RefExpression)
		return ok && ref.Nest == nestDiff && ref.Name == name
	})
}

// Externals collects the external expressions of the tree, root first.
func Externals(ex Expression) []*ExternalExpression {
	var externals []*ExternalExpression
	ForEach(ex, func(node Expression, _ int) {
		if e, ok := node.(*ExternalExpression); ok {
			externals = append(externals, e)
		}
	})
	return externals
}

// Equals compares two expression trees structurally.
func Equals(a, b Expression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *LiteralExpression:
		y, ok := b.(*LiteralExpression)
		return ok && value.KindOf(x.Value) == value.KindOf(y.Value) && value.Equals(x.Value, y.Value)
	case *RefExpression:
		y, ok := b.(*RefExpression)
		return ok && x.Name == y.Name && x.Nest == y.Nest &&
			(x.Type == y.Type || x.Type == value.UnknownKind || y.Type == value.UnknownKind)
	case *ExternalExpression:
		y, ok := b.(*ExternalExpression)
		return ok && x.Source.Equals(y.Source)
	case *ChainExpression:
		y, ok := b.(*ChainExpression)
		if !ok || len(x.Actions) != len(y.Actions) || !Equals(x.Expression, y.Expression) {
			return false
		}
		for i := range x.Actions {
			if !ActionEquals(x.Actions[i], y.Actions[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ActionEquals compares two actions structurally.
func ActionEquals(a, b Action) bool {
	if a.Op() != b.Op() || actionParams(a) != actionParams(b) {
		return false
	}
	x, y := Operands(a), Operands(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if !Equals(x[i], y[i]) {
			return false
		}
	}
	return true
}
