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

package druid

import (
	"time"

	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/query/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

const (
	isoFormat = "yyyy-MM-dd'T'HH:mm:ss.SSS'Z'"
	utcZone   = "Etc/UTC"
)

var (
	minTime = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Joda patterns of the time parts druid can extract.
var timePartFormats = map[string]string{
	common.SecondOfMinute: "s",
	common.MinuteOfHour:   "m",
	common.HourOfDay:      "H",
	common.DayOfWeek:      "e",
	common.DayOfMonth:     "d",
	common.DayOfYear:      "D",
	common.WeekOfYear:     "w",
	common.MonthOfYear:    "M",
	common.YearPart:       "yyyy",
}

func unsupported(message string, args ...interface{}) error {
	return utils.UnsupportedError("druid: "+message, args...)
}

// compiler translates the parts of one external.
type compiler struct {
	ext    *broker.External
	config *broker.SourceConfig
}

func newCompiler(ext *broker.External) *compiler {
	return &compiler{ext: ext, config: ext.Config()}
}

func (c *compiler) column(name string) string {
	if name == c.config.TimeAttribute {
		return TimeColumn
	}
	return name
}

func (c *compiler) attribute(ref *expr.RefExpression) (broker.AttributeConfig, error) {
	if ref.Nest != 0 {
		return broker.AttributeConfig{}, unsupported("can not reference an outer scope, got %s", ref)
	}
	attribute, ok := c.config.Attribute(ref.Name)
	if !ok {
		return broker.AttributeConfig{}, unsupported("%s has no attribute %s", c.config.Name, ref.Name)
	}
	return attribute, nil
}

func attributeKind(attribute broker.AttributeConfig) value.Kind {
	if attribute.Special == broker.SpecialRange {
		return value.NumberRangeKind
	}
	return attribute.Type
}

// dimension is a column of the source, possibly transformed by extraction functions.
type dimension struct {
	column       string
	fn           *ExtractionFn
	kind         value.Kind
	numeric      bool
	encoding     *broker.RangeEncoding
	unfilterable bool
	unsplitable  bool
	decode       func(raw interface{}) (interface{}, error)
}

func (d *dimension) spec(outputName string) *DimensionSpec {
	if d.fn == nil {
		return &DimensionSpec{Type: "default", Dimension: d.column, OutputName: outputName}
	}
	return &DimensionSpec{Type: "extraction", Dimension: d.column, OutputName: outputName, ExtractionFn: d.fn}
}

func (d *dimension) ordering() string {
	if d.numeric {
		return Numeric
	}
	return Lexicographic
}

func (d *dimension) selector(v interface{}) *Filter {
	return &Filter{Type: "selector", Dimension: d.column, Value: v, ExtractionFn: d.fn}
}

func (d *dimension) bound(r *value.Range) *Filter {
	f := &Filter{Type: "bound", Dimension: d.column, ExtractionFn: d.fn, Ordering: Lexicographic}
	if r.Kind() == value.NumberRangeKind {
		f.Ordering = Numeric
	}
	if r.Start() != nil {
		f.Lower, f.LowerStrict = dimensionValue(r.Start()), r.OpenStart()
	}
	if r.End() != nil {
		f.Upper, f.UpperStrict = dimensionValue(r.End()), r.OpenEnd()
	}
	return f
}

// dimensionValue renders a value the way druid stores it in a dimension.
func dimensionValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return value.ToString(v)
}

func rootRef(ex expr.Expression) (*expr.RefExpression, []expr.Action, bool) {
	switch t := ex.(type) {
	case *expr.RefExpression:
		return t, nil, true
	case *expr.ChainExpression:
		ref, ok := t.Expression.(*expr.RefExpression)
		return ref, t.Actions, ok
	}
	return nil, nil, false
}

func isTimeFunction(a expr.Action) bool {
	switch a.(type) {
	case *expr.TimeFloorAction, *expr.TimeBucketAction, *expr.TimePartAction:
		return true
	}
	return false
}

func timezoneName(timezone string) string {
	if timezone == "" {
		return utcZone
	}
	return timezone
}

func isoExtraction(granularity *Granularity) *ExtractionFn {
	return &ExtractionFn{Type: "timeFormat", Format: isoFormat, TimeZone: utcZone, Granularity: granularity}
}

// dimension compiles an attribute followed by scalar actions into a dimension with
// extraction functions.
func (c *compiler) dimension(ex expr.Expression) (*dimension, error) {
	ref, actions, ok := rootRef(ex)
	if !ok {
		return nil, unsupported("%s is not an attribute expression", ex)
	}
	attribute, err := c.attribute(ref)
	if err != nil {
		return nil, err
	}
	d := &dimension{
		column:       c.column(ref.Name),
		kind:         attributeKind(attribute),
		unfilterable: attribute.Unfilterable,
		unsplitable:  attribute.Unsplitable,
	}
	d.numeric = d.kind == value.NumberKind
	d.decode = decoderOf(d.kind)
	if attribute.Special == broker.SpecialRange {
		d.encoding = attribute.Range
		d.decode = rangeDecoder(attribute.Range)
	}

	var fns []*ExtractionFn
	if d.column == TimeColumn && (len(actions) == 0 || !isTimeFunction(actions[0])) {
		fns = append(fns, isoExtraction(nil))
	}
	for i, a := range actions {
		if d.encoding != nil {
			return nil, unsupported("can not transform the encoded range attribute %s with %s", ref.Name, a)
		}
		switch t := a.(type) {
		case *expr.TimeFloorAction, *expr.TimeBucketAction:
			if d.column != TimeColumn || i > 0 {
				return nil, unsupported("%s is only supported on the time attribute", a)
			}
			duration, timezone, bucket := timeFloorOf(a)
			loc, err := common.ParseTimezone(timezone)
			if err != nil {
				return nil, err
			}
			fns = append(fns, isoExtraction(&Granularity{
				Type:     "period",
				Period:   duration.String(),
				TimeZone: timezoneName(timezone),
			}))
			d.kind, d.decode = value.TimeKind, decodeTime
			if bucket {
				d.kind, d.decode = value.TimeRangeKind, bucketDecoder(duration, loc)
			}
		case *expr.TimePartAction:
			format, ok := timePartFormats[t.Part]
			if d.column != TimeColumn || i > 0 || !ok {
				return nil, unsupported("can not extract %s", a)
			}
			fns = append(fns, &ExtractionFn{Type: "timeFormat", Format: format, TimeZone: timezoneName(t.Timezone), Locale: "en"})
			d.kind, d.decode, d.numeric = value.NumberKind, decodeNumber, true
		case *expr.NumberBucketAction:
			if d.kind != value.NumberKind {
				return nil, unsupported("%s needs a number, got %s", a, d.kind)
			}
			fns = append(fns, &ExtractionFn{Type: "bucket", Size: t.Size, Offset: t.Offset})
			d.kind, d.decode, d.numeric = value.NumberRangeKind, numberBucketDecoder(t.Size), true
		case *expr.SubstrAction:
			if d.kind != value.StringKind {
				return nil, unsupported("%s needs a string, got %s", a, d.kind)
			}
			fns = append(fns, &ExtractionFn{Type: "substring", Index: t.Position, Length: t.Length})
		case *expr.ExtractAction:
			if d.kind != value.StringKind {
				return nil, unsupported("%s needs a string, got %s", a, d.kind)
			}
			re, err := expr.CompileRegexp(t.Regexp)
			if err != nil {
				return nil, err
			}
			pattern := t.Regexp
			if re.NumSubexp() == 0 {
				pattern = "(" + pattern + ")"
			}
			fns = append(fns, &ExtractionFn{Type: "regex", Expr: pattern, Index: 1})
		case *expr.FallbackAction:
			v, ok := expr.LiteralValue(t.Expression)
			last := len(fns) - 1
			if !ok || last < 0 || fns[last].Type != "regex" {
				return nil, unsupported("can only fall back after an extraction, got %s", a)
			}
			fns[last].ReplaceMissingValue = true
			fns[last].ReplaceMissingValueWith = v
		default:
			return nil, unsupported("can not express %s", a)
		}
	}

	switch len(fns) {
	case 0:
	case 1:
		d.fn = fns[0]
	default:
		d.fn = &ExtractionFn{Type: "cascade", ExtractionFns: fns}
	}
	return d, nil
}

func timeFloorOf(a expr.Action) (common.Duration, string, bool) {
	if t, ok := a.(*expr.TimeBucketAction); ok {
		return t.Duration, t.Timezone, true
	}
	t := a.(*expr.TimeFloorAction)
	return t.Duration, t.Timezone, false
}

func (c *compiler) filterDimension(ex expr.Expression) (*dimension, error) {
	d, err := c.dimension(ex)
	if err != nil {
		return nil, err
	}
	if d.unfilterable {
		return nil, unsupported("%s is not filterable", d.column)
	}
	return d, nil
}

// isTimeColumn tells whether ex is a plain reference to the time attribute.
func (c *compiler) isTimeColumn(ex expr.Expression) bool {
	ref, ok := ex.(*expr.RefExpression)
	return ok && ref.Nest == 0 && c.config.TimeAttribute != "" && ref.Name == c.config.TimeAttribute
}

func junction(kind string, filters ...*Filter) *Filter {
	fields := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f.Type == kind {
			fields = append(fields, f.Fields...)
		} else {
			fields = append(fields, f)
		}
	}
	if len(fields) == 1 {
		return fields[0]
	}
	return &Filter{Type: kind, Fields: fields}
}

// filter compiles a boolean expression over the rows of the source.
func (c *compiler) filter(ex expr.Expression) (*Filter, error) {
	switch t := ex.(type) {
	case *expr.LiteralExpression:
		switch t.Value {
		case true:
			return &Filter{Type: "true"}, nil
		case false:
			return &Filter{Type: "false"}, nil
		}
	case *expr.RefExpression:
		d, err := c.filterDimension(t)
		if err != nil {
			return nil, err
		}
		if d.kind == value.BooleanKind {
			return d.selector("true"), nil
		}
	case *expr.ChainExpression:
		return c.chainFilter(t)
	}
	return nil, unsupported("can not filter on %s", ex)
}

func (c *compiler) chainFilter(chain *expr.ChainExpression) (*Filter, error) {
	prefix := chain.Prefix()
	switch a := chain.Last().(type) {
	case *expr.BooleanAction:
		left, err := c.filter(prefix)
		if err != nil {
			return nil, err
		}
		right, err := c.filter(a.Expression)
		if err != nil {
			return nil, err
		}
		return junction(string(a.Operator), left, right), nil
	case *expr.NotAction:
		inner, err := c.filter(prefix)
		if err != nil {
			return nil, err
		}
		return &Filter{Type: "not", Field: inner}, nil
	case *expr.ComparisonAction:
		return c.comparison(prefix, a)
	case *expr.ContainsAction:
		needle, ok := expr.LiteralValue(a.Expression)
		if s, isString := needle.(string); ok && isString {
			d, err := c.filterDimension(prefix)
			if err != nil {
				return nil, err
			}
			return &Filter{
				Type:         "search",
				Dimension:    d.column,
				ExtractionFn: d.fn,
				Query:        &SearchQuery{Type: "contains", Value: s, CaseSensitive: !a.IgnoreCase},
			}, nil
		}
	case *expr.MatchAction:
		d, err := c.filterDimension(prefix)
		if err != nil {
			return nil, err
		}
		return &Filter{Type: "regex", Dimension: d.column, ExtractionFn: d.fn, Pattern: a.Regexp}, nil
	}
	return nil, unsupported("can not filter on %s", chain)
}

func (c *compiler) comparison(prefix expr.Expression, a *expr.ComparisonAction) (*Filter, error) {
	v, ok := expr.LiteralValue(a.Expression)
	if !ok {
		return nil, unsupported("can only compare with literals, got %s", a)
	}
	if c.isTimeColumn(prefix) {
		intervals, err := timeIntervals(a.Operator, v)
		if err != nil {
			return nil, err
		}
		return &Filter{Type: "interval", Dimension: TimeColumn, Intervals: intervalStrings(intervals)}, nil
	}
	d, err := c.filterDimension(prefix)
	if err != nil {
		return nil, err
	}
	if d.encoding != nil {
		return encodedRangeFilter(d, a.Operator, v)
	}

	switch a.Operator {
	case expr.OpIs:
		if r, ok := v.(*value.Range); ok {
			return d.bound(r), nil
		}
		return d.selector(dimensionValue(v)), nil
	case expr.OpIn:
		switch t := v.(type) {
		case *value.Range:
			return d.bound(t), nil
		case *value.Set:
			if t.ElementKind().IsRange() {
				fields := make([]*Filter, 0, t.Size())
				for _, e := range t.Elements() {
					fields = append(fields, d.bound(e.(*value.Range)))
				}
				return junction("or", fields...), nil
			}
			values := make([]interface{}, 0, t.Size())
			for _, e := range t.Elements() {
				values = append(values, dimensionValue(e))
			}
			return &Filter{Type: "in", Dimension: d.column, Values: values, ExtractionFn: d.fn}, nil
		}
	case expr.OpLessThan, expr.OpLessThanOrEqual, expr.OpGreaterThan, expr.OpGreaterThanOrEqual:
		if v == nil {
			break
		}
		f := &Filter{Type: "bound", Dimension: d.column, ExtractionFn: d.fn, Ordering: d.ordering()}
		switch a.Operator {
		case expr.OpLessThan:
			f.Upper, f.UpperStrict = dimensionValue(v), true
		case expr.OpLessThanOrEqual:
			f.Upper = dimensionValue(v)
		case expr.OpGreaterThan:
			f.Lower, f.LowerStrict = dimensionValue(v), true
		default:
			f.Lower = dimensionValue(v)
		}
		return f, nil
	}
	return nil, unsupported("can not filter on %s", a)
}

// encodedRangeFilter filters a column holding ranges encoded as strings. Membership in a
// number range matches the rows whose encoded range starts in it.
func encodedRangeFilter(d *dimension, op expr.Op, v interface{}) (*Filter, error) {
	switch t := v.(type) {
	case *value.Range:
		if t.Kind() != value.NumberRangeKind {
			break
		}
		if op == expr.OpIs {
			return d.selector(d.encoding.Serialize(t)), nil
		}
		if op == expr.OpIn {
			f := d.bound(t)
			f.ExtractionFn = &ExtractionFn{Type: "regex", Expr: d.encoding.StartRegexp(), Index: 1}
			return f, nil
		}
	case *value.Set:
		if op == expr.OpIn && t.ElementKind() == value.NumberRangeKind {
			values := make([]interface{}, 0, t.Size())
			for _, e := range t.Elements() {
				values = append(values, d.encoding.Serialize(e.(*value.Range)))
			}
			return &Filter{Type: "in", Dimension: d.column, Values: values}, nil
		}
	}
	return nil, unsupported("can not filter the encoded range attribute %s with %s", d.column, op)
}

// interval is a half open span of time.
type interval struct {
	start, end time.Time
}

func (i interval) String() string {
	return value.FormatTime(i.start) + "/" + value.FormatTime(i.end)
}

func (i interval) intersect(other interval) (interval, bool) {
	result := i
	if other.start.After(result.start) {
		result.start = other.start
	}
	if other.end.Before(result.end) {
		result.end = other.end
	}
	return result, result.start.Before(result.end)
}

func intervalOf(r *value.Range) interval {
	i := interval{start: minTime, end: maxTime}
	if start, ok := r.Start().(time.Time); ok {
		i.start = start
		if r.OpenStart() {
			i.start = start.Add(time.Millisecond)
		}
	}
	if end, ok := r.End().(time.Time); ok {
		i.end = end
		if !r.OpenEnd() {
			i.end = end.Add(time.Millisecond)
		}
	}
	return i
}

func pointInterval(t time.Time) interval {
	return interval{start: t, end: t.Add(time.Millisecond)}
}

// timeIntervals converts a comparison of the time attribute with a literal.
func timeIntervals(op expr.Op, v interface{}) ([]interval, error) {
	switch op {
	case expr.OpIs, expr.OpIn:
		switch t := v.(type) {
		case time.Time:
			return []interval{pointInterval(t)}, nil
		case *value.Range:
			if t.Kind() == value.TimeRangeKind {
				return []interval{intervalOf(t)}, nil
			}
		case *value.Set:
			intervals := make([]interval, 0, t.Size())
			for _, e := range t.Elements() {
				switch element := e.(type) {
				case time.Time:
					intervals = append(intervals, pointInterval(element))
				case *value.Range:
					intervals = append(intervals, intervalOf(element))
				default:
					return nil, unsupported("can not compare the time attribute with %v", e)
				}
			}
			return intervals, nil
		}
	case expr.OpLessThan, expr.OpLessThanOrEqual, expr.OpGreaterThan, expr.OpGreaterThanOrEqual:
		t, ok := v.(time.Time)
		if !ok {
			break
		}
		switch op {
		case expr.OpLessThan:
			return []interval{{start: minTime, end: t}}, nil
		case expr.OpLessThanOrEqual:
			return []interval{{start: minTime, end: t.Add(time.Millisecond)}}, nil
		case expr.OpGreaterThan:
			return []interval{{start: t.Add(time.Millisecond), end: maxTime}}, nil
		default:
			return []interval{{start: t, end: maxTime}}, nil
		}
	}
	return nil, unsupported("can not compare the time attribute with %s(%v)", op, v)
}

func intersectIntervals(a, b []interval) []interval {
	var result []interval
	for _, x := range a {
		for _, y := range b {
			if i, ok := x.intersect(y); ok {
				result = append(result, i)
			}
		}
	}
	return result
}

func intervalStrings(intervals []interval) []string {
	if len(intervals) == 0 {
		// Druid needs at least one interval, an empty one matches nothing.
		return []string{interval{start: minTime, end: minTime}.String()}
	}
	strs := make([]string, len(intervals))
	for i, iv := range intervals {
		strs[i] = iv.String()
	}
	return strs
}

// conjuncts flattens nested ands.
func conjuncts(ex expr.Expression) []expr.Expression {
	if c, ok := ex.(*expr.ChainExpression); ok {
		if b, ok := c.Last().(*expr.BooleanAction); ok && b.Operator == expr.OpAnd {
			return append(conjuncts(c.Prefix()), conjuncts(b.Expression)...)
		}
	}
	return []expr.Expression{ex}
}

// timeCondition matches a comparison of the time attribute with a literal.
func (c *compiler) timeCondition(ex expr.Expression) (expr.Op, interface{}, bool) {
	chain, ok := ex.(*expr.ChainExpression)
	if !ok || len(chain.Actions) != 1 || !c.isTimeColumn(chain.Expression) {
		return "", nil, false
	}
	comparison, ok := chain.Actions[0].(*expr.ComparisonAction)
	if !ok {
		return "", nil, false
	}
	v, ok := expr.LiteralValue(comparison.Expression)
	return comparison.Operator, v, ok
}

// checkFilter tells whether a filter on the rows of the source compiles.
func (c *compiler) checkFilter(ex expr.Expression) error {
	for _, conjunct := range conjuncts(ex) {
		if op, v, ok := c.timeCondition(conjunct); ok {
			if _, err := timeIntervals(op, v); err != nil {
				return err
			}
			continue
		}
		if _, err := c.filter(conjunct); err != nil {
			return err
		}
	}
	return nil
}

// intervalsAndFilter splits the filter of the source into the intervals its time
// conditions select and a filter on the remaining conditions.
func (c *compiler) intervalsAndFilter(ex expr.Expression) ([]string, *Filter, error) {
	var intervals []interval
	bounded := false
	var residual []*Filter
	if ex != nil {
		for _, conjunct := range conjuncts(ex) {
			if op, v, ok := c.timeCondition(conjunct); ok {
				selected, err := timeIntervals(op, v)
				if err != nil {
					return nil, nil, err
				}
				if bounded {
					intervals = intersectIntervals(intervals, selected)
				} else {
					intervals, bounded = selected, true
				}
				continue
			}
			if expr.IsLiteral(conjunct, true) {
				continue
			}
			f, err := c.filter(conjunct)
			if err != nil {
				return nil, nil, err
			}
			residual = append(residual, f)
		}
	}
	if !bounded {
		if c.config.TimeAttribute != "" && !c.config.AllowEternity {
			return nil, nil, unsupported("%s must be filtered on %s unless allow_eternity is set",
				c.config.Name, c.config.TimeAttribute)
		}
		intervals = []interval{{start: minTime, end: maxTime}}
	}
	var filter *Filter
	if len(residual) > 0 {
		filter = junction("and", residual...)
	}
	return intervalStrings(intervals), filter, nil
}
