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
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// NotFoundPolicy tells Resolve what to do with a reference missing from the datum.
type NotFoundPolicy int

const (
	// ResolveThrow fails on a missing reference.
	ResolveThrow NotFoundPolicy = iota
	// ResolveNull replaces a missing reference with null.
	ResolveNull
	// ResolveLeave keeps a missing reference as is.
	ResolveLeave
)

// Scope is a chain of datums, innermost first, that references resolve against.
type Scope struct {
	Datum  value.Datum
	Parent *Scope
}

// Resolve replaces the references bound to the top scope of ex with the values of datum.
// Sources become external expressions, other values become literals. References that
// climb above the top scope are left in place for an enclosing evaluation.
func Resolve(ex Expression, datum value.Datum, ifNotFound NotFoundPolicy) (Expression, error) {
	return ResolveInScope(ex, &Scope{Datum: datum}, ifNotFound)
}

// ResolveInScope is Resolve against a chain of scopes: a reference n levels above the
// root of ex is looked up in the datum n levels up the chain.
func ResolveInScope(ex Expression, scope *Scope, ifNotFound NotFoundPolicy) (Expression, error) {
	return Substitute(ex, func(node Expression, nestDiff int) (Expression, error) {
		ref, ok := node.(*RefExpression)
		if !ok || ref.Nest < nestDiff {
			return nil, nil
		}
		target := scope
		for i := nestDiff; i < ref.Nest && target != nil; i++ {
			target = target.Parent
		}
		if target == nil {
			return node, nil
		}
		v, found := target.Datum[ref.Name]
		if !found {
			switch ifNotFound {
			case ResolveNull:
				return Null(), nil
			case ResolveLeave:
				return node, nil
			}
			return nil, utils.TypeError("could not resolve %s because it was not in the context", ref)
		}
		return valueExpression(v), nil
	})
}

func valueExpression(v interface{}) Expression {
	switch t := v.(type) {
	case Source:
		return External(t)
	case Expression:
		return t
	}
	return Literal(v)
}
