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
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/expr"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
)

// Name is the engine of druid sources.
const Name = "druid"

// Introspection strategies of druid sources.
const (
	// IntrospectSegmentMetadata runs a segmentMetadata query, the default.
	IntrospectSegmentMetadata = "segment-metadata"
	// IntrospectDatasource lists the dimensions and metrics of the datasource.
	IntrospectDatasource = "datasource-get"
)

// Engine compiles externals into druid native queries.
type Engine struct{}

// NewEngine creates the druid engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Name implements broker.Engine.
func (e *Engine) Name() string {
	return Name
}

// CanHandleFilter accepts the filters the compiler can express, as row filters before a
// split and as having filters after.
func (e *Engine) CanHandleFilter(ext *broker.External, filter expr.Expression) bool {
	c := newCompiler(ext)
	if ext.Mode() == expr.ModeSplit {
		_, err := c.having(filter)
		return err == nil
	}
	return c.checkFilter(filter) == nil
}

// CanHandleSort accepts sorts on outputs of a split, and on time for raw rows.
func (e *Engine) CanHandleSort(ext *broker.External, sort *expr.SortAction) bool {
	if ext.Mode() == expr.ModeRaw {
		return newCompiler(ext).isTimeSort(sort)
	}
	return true
}

// CanHandleAggregate accepts aggregates over plain attributes whose filter compiles.
func (e *Engine) CanHandleAggregate(ext *broker.External, aggregation broker.Aggregation) bool {
	c := newCompiler(ext)
	if _, _, err := c.aggregation("", aggregation.Aggregate); err != nil {
		return false
	}
	if aggregation.Filter != nil {
		if _, err := c.filter(aggregation.Filter); err != nil {
			return false
		}
	}
	return true
}

// CanHandleSplit accepts splits whose keys compile into dimensions.
func (e *Engine) CanHandleSplit(ext *broker.External, split *expr.SplitAction) bool {
	c := newCompiler(ext)
	for _, k := range split.Keys {
		d, err := c.dimension(k.Expression)
		if err != nil || d.unsplitable {
			return false
		}
	}
	return true
}

// CanHandleApply accepts post aggregations. Druid can not compute columns of raw rows.
func (e *Engine) CanHandleApply(ext *broker.External, apply *expr.ApplyAction) bool {
	if ext.Mode() == expr.ModeRaw {
		return false
	}
	_, err := newCompiler(ext).postAggregator(apply.Expression)
	return err == nil
}

// Compile implements broker.Engine.
func (e *Engine) Compile(ext *broker.External) (*broker.NativeQuery, error) {
	return newCompiler(ext).compile()
}

// NewRequester talks to the druid broker at the url of the source.
func (e *Engine) NewRequester(config *broker.SourceConfig, requesterConfig common.RequesterConfig) (broker.Requester, error) {
	if config.URL == "" {
		return nil, utils.ConstructionError("druid source %s has no url", config.Name)
	}
	return NewHTTPRequester(config.URL, requesterConfig.Headers), nil
}

// Introspect reads the columns of the datasource of a source.
func (e *Engine) Introspect(ctx context.Context, requester broker.Requester, config *broker.SourceConfig) ([]broker.AttributeConfig, error) {
	switch config.IntrospectionStrategy {
	case "", IntrospectSegmentMetadata:
		return introspectSegmentMetadata(ctx, requester, config)
	case IntrospectDatasource:
		return introspectDatasource(ctx, requester, config)
	}
	return nil, utils.ConstructionError("unknown introspection strategy %s of druid source %s",
		config.IntrospectionStrategy, config.Name)
}

func introspectSegmentMetadata(ctx context.Context, requester broker.Requester, config *broker.SourceConfig) ([]broker.AttributeConfig, error) {
	q := &Query{
		QueryType:              SegmentMetadata,
		DataSource:             config.Source,
		Merge:                  true,
		AnalysisTypes:          []string{"aggregators"},
		LenientAggregatorMerge: true,
	}
	if config.AllowEternity {
		q.Intervals = intervalStrings([]interval{{start: minTime, end: maxTime}})
	}
	response, err := requester.Request(ctx, broker.Request{Source: config.Name, Query: q})
	if err != nil {
		return nil, err
	}
	segments, err := listOf(response)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, errors.Errorf("no segments found for datasource %s", config.Source)
	}
	segment, err := objectOf(segments[0])
	if err != nil {
		return nil, err
	}
	columns, err := objectOf(segment["columns"])
	if err != nil {
		return nil, err
	}
	attributes := make([]broker.AttributeConfig, 0, len(columns))
	for name, raw := range columns {
		column, err := objectOf(raw)
		if err != nil {
			return nil, err
		}
		nativeType, _ := column["type"].(string)
		if attribute, ok := nativeAttribute(config, name, nativeType); ok {
			attributes = append(attributes, attribute)
		}
	}
	sortAttributes(attributes, config.TimeAttribute)
	return attributes, nil
}

func introspectDatasource(ctx context.Context, requester broker.Requester, config *broker.SourceConfig) ([]broker.AttributeConfig, error) {
	response, err := requester.Request(ctx, broker.Request{Source: config.Name, Query: DatasourceRequest{DataSource: config.Source}})
	if err != nil {
		return nil, err
	}
	object, err := objectOf(response)
	if err != nil {
		return nil, err
	}
	var attributes []broker.AttributeConfig
	if config.TimeAttribute != "" {
		attributes = append(attributes, broker.AttributeConfig{Name: config.TimeAttribute, Type: value.TimeKind, NativeType: "LONG"})
	}
	for field, kind := range map[string]value.Kind{"dimensions": value.StringKind, "metrics": value.NumberKind} {
		names, err := listOf(object[field])
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if s, ok := name.(string); ok {
				attributes = append(attributes, broker.AttributeConfig{Name: s, Type: kind})
			}
		}
	}
	sortAttributes(attributes, config.TimeAttribute)
	return attributes, nil
}

// nativeAttribute maps a druid column type to an attribute.
func nativeAttribute(config *broker.SourceConfig, name, nativeType string) (broker.AttributeConfig, bool) {
	attribute := broker.AttributeConfig{Name: name, NativeType: nativeType}
	if name == TimeColumn {
		attribute.Name = TimeColumn
		if config.TimeAttribute != "" {
			attribute.Name = config.TimeAttribute
		}
		attribute.Type = value.TimeKind
		return attribute, true
	}
	switch strings.TrimSuffix(strings.TrimPrefix(nativeType, "COMPLEX<"), ">") {
	case "STRING":
		attribute.Type = value.StringKind
	case "LONG", "FLOAT", "DOUBLE":
		attribute.Type = value.NumberKind
	case "hyperUnique", "HLLSketch", "HLLSketchBuild", "HLLSketchMerge", "thetaSketch":
		attribute.Type, attribute.Special = value.NumberKind, broker.SpecialUnique
		attribute.Unsplitable = true
	case "approximateHistogram", "approxHistogram":
		attribute.Type, attribute.Special = value.NumberKind, broker.SpecialHistogram
		attribute.Unsplitable = true
	default:
		return attribute, false
	}
	return attribute, true
}

// sortAttributes puts the time attribute first and the others by name.
func sortAttributes(attributes []broker.AttributeConfig, timeAttribute string) {
	sort.SliceStable(attributes, func(i, j int) bool {
		ti, tj := attributes[i].Type == value.TimeKind && attributes[i].Name == timeAttribute,
			attributes[j].Type == value.TimeKind && attributes[j].Name == timeAttribute
		if ti != tj {
			return ti
		}
		return attributes[i].Name < attributes[j].Name
	})
}
