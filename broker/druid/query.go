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

// Query types.
const (
	TimeBoundary    = "timeBoundary"
	Timeseries      = "timeseries"
	TopN            = "topN"
	GroupBy         = "groupBy"
	Scan            = "scan"
	SegmentMetadata = "segmentMetadata"
)

// TimeColumn is the primary time column of every druid datasource.
const TimeColumn = "__time"

// Query is a druid native query. Which fields are set depends on QueryType.
type Query struct {
	QueryType        string             `json:"queryType"`
	DataSource       string             `json:"dataSource"`
	Intervals        []string           `json:"intervals,omitempty"`
	Granularity      interface{}        `json:"granularity,omitempty"`
	Filter           *Filter            `json:"filter,omitempty"`
	Dimension        *DimensionSpec     `json:"dimension,omitempty"`
	Dimensions       []*DimensionSpec   `json:"dimensions,omitempty"`
	Metric           interface{}        `json:"metric,omitempty"`
	Threshold        int                `json:"threshold,omitempty"`
	Aggregations     []*Aggregation     `json:"aggregations,omitempty"`
	PostAggregations []*PostAggregation `json:"postAggregations,omitempty"`
	Having           *Having            `json:"having,omitempty"`
	LimitSpec        *LimitSpec         `json:"limitSpec,omitempty"`
	// Bound of a timeBoundary query, minTime or maxTime.
	Bound string `json:"bound,omitempty"`
	// Columns, Limit, Order and ResultFormat belong to scan queries.
	Columns      []string `json:"columns,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Order        string   `json:"order,omitempty"`
	ResultFormat string   `json:"resultFormat,omitempty"`
	// Merge and AnalysisTypes belong to segmentMetadata queries.
	Merge                  bool                   `json:"merge,omitempty"`
	AnalysisTypes          []string               `json:"analysisTypes,omitempty"`
	LenientAggregatorMerge bool                   `json:"lenientAggregatorMerge,omitempty"`
	Context                map[string]interface{} `json:"context,omitempty"`
}

// Granularity is a period granularity.
type Granularity struct {
	Type     string `json:"type"`
	Period   string `json:"period,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Filter is a druid dimension filter.
type Filter struct {
	Type         string        `json:"type"`
	Dimension    string        `json:"dimension,omitempty"`
	Value        interface{}   `json:"value,omitempty"`
	Values       []interface{} `json:"values,omitempty"`
	Lower        interface{}   `json:"lower,omitempty"`
	Upper        interface{}   `json:"upper,omitempty"`
	LowerStrict  bool          `json:"lowerStrict,omitempty"`
	UpperStrict  bool          `json:"upperStrict,omitempty"`
	Ordering     string        `json:"ordering,omitempty"`
	Pattern      string        `json:"pattern,omitempty"`
	Query        *SearchQuery  `json:"query,omitempty"`
	Intervals    []string      `json:"intervals,omitempty"`
	ExtractionFn *ExtractionFn `json:"extractionFn,omitempty"`
	Fields       []*Filter     `json:"fields,omitempty"`
	Field        *Filter       `json:"field,omitempty"`
}

// SearchQuery is the query of a search filter.
type SearchQuery struct {
	Type          string `json:"type"`
	Value         string `json:"value"`
	CaseSensitive bool   `json:"caseSensitive"`
}

// ExtractionFn transforms dimension values before they are filtered or grouped.
type ExtractionFn struct {
	Type string `json:"type"`
	// Expr is the pattern of a regex function.
	Expr string `json:"expr,omitempty"`
	// Index is the capture group of a regex function or the start of a substring one.
	Index                   int             `json:"index,omitempty"`
	Length                  int             `json:"length,omitempty"`
	Format                  string          `json:"format,omitempty"`
	TimeZone                string          `json:"timeZone,omitempty"`
	Locale                  string          `json:"locale,omitempty"`
	Granularity             *Granularity    `json:"granularity,omitempty"`
	Size                    float64         `json:"size,omitempty"`
	Offset                  float64         `json:"offset,omitempty"`
	ReplaceMissingValue     bool            `json:"replaceMissingValue,omitempty"`
	ReplaceMissingValueWith interface{}     `json:"replaceMissingValueWith,omitempty"`
	ExtractionFns           []*ExtractionFn `json:"extractionFns,omitempty"`
}

// DimensionSpec names a grouping dimension.
type DimensionSpec struct {
	Type         string        `json:"type"`
	Dimension    string        `json:"dimension"`
	OutputName   string        `json:"outputName"`
	ExtractionFn *ExtractionFn `json:"extractionFn,omitempty"`
}

// Aggregation is a druid aggregator.
type Aggregation struct {
	Type       string       `json:"type"`
	Name       string       `json:"name,omitempty"`
	FieldName  string       `json:"fieldName,omitempty"`
	Fields     []string     `json:"fields,omitempty"`
	Round      bool         `json:"round,omitempty"`
	Filter     *Filter      `json:"filter,omitempty"`
	Aggregator *Aggregation `json:"aggregator,omitempty"`
}

// PostAggregation is a druid post aggregator.
type PostAggregation struct {
	Type        string             `json:"type"`
	Name        string             `json:"name,omitempty"`
	Fn          string             `json:"fn,omitempty"`
	Fields      []*PostAggregation `json:"fields,omitempty"`
	FieldName   string             `json:"fieldName,omitempty"`
	Value       interface{}        `json:"value,omitempty"`
	Probability float64            `json:"probability,omitempty"`
}

// Having filters the rows of a groupBy query.
type Having struct {
	Type        string      `json:"type"`
	Aggregation string      `json:"aggregation,omitempty"`
	Dimension   string      `json:"dimension,omitempty"`
	Value       interface{} `json:"value,omitempty"`
	HavingSpecs []*Having   `json:"havingSpecs,omitempty"`
	HavingSpec  *Having     `json:"havingSpec,omitempty"`
}

// LimitSpec orders and truncates the rows of a groupBy query.
type LimitSpec struct {
	Type    string               `json:"type"`
	Limit   int                  `json:"limit,omitempty"`
	Columns []*OrderByColumnSpec `json:"columns,omitempty"`
}

// OrderByColumnSpec is one ordering column of a LimitSpec.
type OrderByColumnSpec struct {
	Dimension      string `json:"dimension"`
	Direction      string `json:"direction"`
	DimensionOrder string `json:"dimensionOrder,omitempty"`
}

// Orderings of dimension values.
const (
	Lexicographic = "lexicographic"
	Numeric       = "numeric"
)

// TopNMetric orders the rows of a topN query by a dimension, or inverts another metric.
type TopNMetric struct {
	Type     string      `json:"type"`
	Metric   interface{} `json:"metric,omitempty"`
	Ordering string      `json:"ordering,omitempty"`
}

// DatasourceRequest asks a druid broker for the dimensions and metrics of a datasource.
type DatasourceRequest struct {
	DataSource string
}
