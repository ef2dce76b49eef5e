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
	"github.com/uber/aresquery/utils"
)

const maxSimplifyPasses = 16

// Simplify rewrites an expression into an equivalent canonical form, folding every
// action that can be pushed into an external source. Simplifying a simplified
// expression returns an equal expression.
func Simplify(ex Expression) (Expression, error) {
	current := ex
	for pass := 0; pass < maxSimplifyPasses; pass++ {
		next, err := simplifyOnce(current)
		if err != nil {
			return nil, utils.StackError(err, "failed to simplify %s", ex)
		}
		if Equals(next, current) {
			return next, nil
		}
		current = next
	}
	return current, nil
}

func simplifyOnce(ex Expression) (Expression, error) {
	c, ok := ex.(*ChainExpression)
	if !ok {
		return ex, nil
	}
	current, err := simplifyOnce(c.Expression)
	if err != nil {
		return nil, err
	}
	inlined := map[string]Expression{}
	for _, a := range c.Actions {
		if a, err = simplifyOperands(a, inlined); err != nil {
			return nil, err
		}
		rebind(inlined, a)
		if current, err = performAction(current, a); err != nil {
			return nil, err
		}
	}
	return current, nil
}

// rebind updates the columns bound to externals after a, which may bind, replace or drop
// columns of the rows.
func rebind(inlined map[string]Expression, a Action) {
	switch t := a.(type) {
	case *ApplyAction:
		delete(inlined, t.Name)
		if _, isExternal := t.Expression.(*ExternalExpression); isExternal && IsResolved(t.Expression) {
			inlined[t.Name] = t.Expression
		}
	case *SelectAction:
		kept := make(map[string]bool, len(t.Attributes))
		for _, name := range t.Attributes {
			kept[name] = true
		}
		for name := range inlined {
			if !kept[name] {
				delete(inlined, name)
			}
		}
	case *SplitAction, *JoinAction:
		// The rows are replaced by groups, or columns of the other side may win.
		for name := range inlined {
			delete(inlined, name)
		}
	}
}

// simplifyOperands simplifies the operands of an action. Columns bound to an external
// by an earlier apply of the same chain are inlined into the operands of nesting
// actions so that work on them can be pushed down.
func simplifyOperands(a Action, inlined map[string]Expression) (Action, error) {
	operands := Operands(a)
	if len(operands) == 0 {
		return a, nil
	}
	replaced := make([]Expression, len(operands))
	for i, operand := range operands {
		if Nests(a) && len(inlined) > 0 {
			operand = inlineColumns(operand, inlined)
		}
		simplified, err := simplifyOnce(operand)
		if err != nil {
			return nil, err
		}
		replaced[i] = simplified
	}
	return WithOperands(a, replaced), nil
}

func inlineColumns(ex Expression, inlined map[string]Expression) Expression {
	return MustSubstitute(ex, func(node Expression, nestDiff int) Expression {
		ref, ok := node.(*RefExpression)
		if !ok || ref.Nest != 0 || nestDiff != 0 {
			return nil
		}
		return inlined[ref.Name]
	})
}

// performAction appends one action to an already simplified expression, applying the
// local rewrite rules.
func performAction(current Expression, a Action) (Expression, error) {
	if ext, ok := current.(*ExternalExpression); ok {
		if source := ext.Source.AddAction(a); source != nil {
			return External(source), nil
		}
		return Chain(current, a), nil
	}

	if folded, ok, err := foldConstant(current, a); ok || err != nil {
		return folded, err
	}

	switch t := a.(type) {
	case *ArithmeticAction:
		return simplifyArithmetic(current, t)
	case *ComparisonAction:
		return simplifyComparison(current, t)
	case *BooleanAction:
		return simplifyBoolean(current, t)
	case *NotAction:
		return simplifyNot(current)
	case *ConcatAction:
		if IsLiteral(t.Expression, "") {
			return current, nil
		}
	case *FallbackAction:
		if IsLiteral(t.Expression, nil) {
			return current, nil
		}
	case *FilterAction:
		return simplifyFilter(current, t)
	case *ApplyAction:
		return simplifyApply(current, t)
	case *SortAction:
		return simplifySort(current, t)
	case *LimitAction:
		return simplifyLimit(current, t)
	case *AggregateAction:
		return simplifyAggregate(current, t)
	}
	return Chain(current, a), nil
}

// foldConstant evaluates a scalar action on a literal when all of its operands are
// literals too.
func foldConstant(current Expression, a Action) (Expression, bool, error) {
	input, ok := LiteralValue(current)
	if !ok || !IsScalarAction(a) {
		return nil, false, nil
	}
	operands := Operands(a)
	values := make([]interface{}, len(operands))
	for i, operand := range operands {
		if values[i], ok = LiteralValue(operand); !ok {
			return nil, false, nil
		}
	}
	result, err := ComputeScalar(a, input, values)
	if err != nil {
		return nil, false, err
	}
	return Literal(result), true, nil
}
