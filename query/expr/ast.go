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
	"strconv"
	"strings"
	"time"

	"github.com/uber/aresquery/query/value"
)

// Expression is a node of an immutable expression tree. All node types of this package
// implement it; the set of variants is closed.
type Expression interface {
	expression()
	// Kind returns the output kind of the expression, UnknownKind when it can not be
	// told before reference checking.
	Kind() value.Kind
	String() string
}

// Modes of a source. A source starts raw and moves at most once, to total or split.
const (
	ModeRaw   = "raw"
	ModeTotal = "total"
	ModeSplit = "split"
)

// Source is a handle on a remote dataset that actions can be pushed into.
type Source interface {
	// Kind is DATASET, or the kind of the single value the source has been reduced to.
	Kind() value.Kind
	// Mode is one of ModeRaw, ModeTotal or ModeSplit.
	Mode() string
	// Attributes describes the columns of the rows the source produces.
	Attributes() []value.AttributeInfo
	// Remote names the backend, used to tag references into the source.
	Remote() string
	// AddAction returns a new source absorbing the action, or nil when it can not.
	AddAction(a Action) Source
	Equals(other Source) bool
	String() string
}

// LiteralExpression is a constant value.
type LiteralExpression struct {
	Value interface{}
}

// RefExpression is a named reference. Nest counts the scopes to climb before the name
// is looked up; Type and Remote are filled in by reference checking.
type RefExpression struct {
	Name   string
	Nest   int
	Type   value.Kind
	Remote string
}

// ExternalExpression wraps a remote source.
type ExternalExpression struct {
	Source Source
}

// ChainExpression applies a non empty sequence of actions to an expression.
type ChainExpression struct {
	Expression Expression
	Actions    []Action
}

func (*LiteralExpression) expression()  {}
func (*RefExpression) expression()      {}
func (*ExternalExpression) expression() {}
func (*ChainExpression) expression()    {}

// Literal creates a literal. Go numbers are converted to float64.
func Literal(v interface{}) *LiteralExpression {
	return &LiteralExpression{Value: value.Normalize(v)}
}

// Null is the null literal.
func Null() *LiteralExpression {
	return &LiteralExpression{}
}

// True is the true literal.
func True() *LiteralExpression {
	return &LiteralExpression{Value: true}
}

// False is the false literal.
func False() *LiteralExpression {
	return &LiteralExpression{Value: false}
}

// Ply is a literal dataset of one empty row, the usual start of a query.
func Ply() *LiteralExpression {
	return &LiteralExpression{Value: value.NewDataset([]value.Datum{{}})}
}

// Ref creates a reference. Leading ^ characters set the nesting and a :KIND suffix sets
// the expected type, as in ^^page:STRING.
func Ref(name string) *RefExpression {
	nest := 0
	for strings.HasPrefix(name, "^") {
		nest++
		name = name[1:]
	}
	ref := &RefExpression{Name: name, Nest: nest}
	if i := strings.LastIndex(name, ":"); i > 0 {
		ref.Name = name[:i]
		ref.Type = value.Kind(name[i+1:])
	}
	return ref
}

// External creates an external expression.
func External(source Source) *ExternalExpression {
	return &ExternalExpression{Source: source}
}

// Chain appends actions to an expression. Appending to a chain extends it; appending
// nothing returns the expression unchanged.
func Chain(ex Expression, actions ...Action) Expression {
	if len(actions) == 0 {
		return ex
	}
	if c, ok := ex.(*ChainExpression); ok {
		all := make([]Action, 0, len(c.Actions)+len(actions))
		all = append(all, c.Actions...)
		all = append(all, actions...)
		return &ChainExpression{Expression: c.Expression, Actions: all}
	}
	return &ChainExpression{Expression: ex, Actions: append([]Action(nil), actions...)}
}

// Kind of a literal is the kind of its value.
func (l *LiteralExpression) Kind() value.Kind {
	return value.KindOf(l.Value)
}

// Kind of a reference is its checked type.
func (r *RefExpression) Kind() value.Kind {
	return r.Type
}

// Kind of an external is the kind of its source.
func (e *ExternalExpression) Kind() value.Kind {
	return e.Source.Kind()
}

// Kind of a chain is folded over its actions from the root kind.
func (c *ChainExpression) Kind() value.Kind {
	kind := c.Expression.Kind()
	for _, a := range c.Actions {
		kind = outputKind(a, kind)
	}
	return kind
}

// Last returns the last action of the chain.
func (c *ChainExpression) Last() Action {
	return c.Actions[len(c.Actions)-1]
}

// Prefix returns the chain without its last action.
func (c *ChainExpression) Prefix() Expression {
	if len(c.Actions) == 1 {
		return c.Expression
	}
	return &ChainExpression{Expression: c.Expression, Actions: c.Actions[:len(c.Actions)-1]}
}

func (l *LiteralExpression) String() string {
	switch v := l.Value.(type) {
	case string:
		return strconv.Quote(v)
	case time.Time:
		return value.FormatTime(v)
	case *value.Set:
		if v.ElementKind() == value.StringKind {
			parts := make([]string, 0, v.Size())
			for _, e := range v.Elements() {
				parts = append(parts, strconv.Quote(value.ToString(e)))
			}
			return "{" + strings.Join(parts, ",") + "}"
		}
	}
	return value.ToString(l.Value)
}

func (r *RefExpression) String() string {
	s := "$" + strings.Repeat("^", r.Nest) + r.Name
	if r.Type != value.UnknownKind {
		s += ":" + string(r.Type)
	}
	return s
}

func (e *ExternalExpression) String() string {
	return "External(" + e.Source.String() + ")"
}

func (c *ChainExpression) String() string {
	var b strings.Builder
	b.WriteString(c.Expression.String())
	for _, a := range c.Actions {
		b.WriteString(".")
		b.WriteString(a.String())
	}
	return b.String()
}

// IsLiteral tells whether ex is a literal holding v.
func IsLiteral(ex Expression, v interface{}) bool {
	l, ok := ex.(*LiteralExpression)
	return ok && value.Equals(l.Value, value.Normalize(v))
}

// LiteralValue returns the value of a literal expression.
func LiteralValue(ex Expression) (interface{}, bool) {
	l, ok := ex.(*LiteralExpression)
	if !ok {
		return nil, false
	}
	return l.Value, true
}
