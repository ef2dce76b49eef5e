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

package broker

import (
	"io/ioutil"

	"github.com/getlantern/deepcopy"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// Special attribute encodings.
const (
	// SpecialUnique columns hold approximate distinct count sketches.
	SpecialUnique = "unique"
	// SpecialHistogram columns hold approximate histograms for quantiles.
	SpecialHistogram = "histogram"
	// SpecialRange columns hold number ranges encoded as delimited strings.
	SpecialRange = "range"
)

// AttributeConfig describes one column of a source.
type AttributeConfig struct {
	Name string     `yaml:"name" validate:"nonzero"`
	Type value.Kind `yaml:"type"`
	// NativeType is the type reported by the backend.
	NativeType   string         `yaml:"native_type,omitempty"`
	Unsplitable  bool           `yaml:"unsplitable,omitempty"`
	Unfilterable bool           `yaml:"unfilterable,omitempty"`
	Special      string         `yaml:"special,omitempty"`
	Range        *RangeEncoding `yaml:"range,omitempty"`
}

// SourceConfig describes a remote data source.
type SourceConfig struct {
	Name   string `yaml:"name" validate:"nonzero"`
	Engine string `yaml:"engine" validate:"nonzero"`
	// Source is the druid datasource or the sql table.
	Source string `yaml:"source" validate:"nonzero"`
	// URL of the druid broker, or the dsn of the sql database.
	URL           string            `yaml:"url" validate:"nonzero"`
	TimeAttribute string            `yaml:"time_attribute"`
	Attributes    []AttributeConfig `yaml:"attributes"`
	// AllowEternity lets queries without a time filter run over all of the data.
	AllowEternity bool `yaml:"allow_eternity"`
	// AllowSelectQueries lets raw rows be fetched from the backend.
	AllowSelectQueries bool `yaml:"allow_select_queries"`
	// ExactResultsOnly forbids query shapes returning approximate results.
	ExactResultsOnly      bool                   `yaml:"exact_results_only"`
	IntrospectionStrategy string                 `yaml:"introspection_strategy"`
	Context               map[string]interface{} `yaml:"context"`
	Version               string                 `yaml:"version"`
}

type catalogFile struct {
	Sources []*SourceConfig `yaml:"sources"`
}

// LoadSourceConfigs reads a yaml catalog of sources.
func LoadSourceConfigs(path string) ([]*SourceConfig, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, utils.StackError(err, "failed to read source catalog %s", path)
	}
	return ParseSourceConfigs(data)
}

// ParseSourceConfigs parses a yaml catalog of sources.
func ParseSourceConfigs(data []byte) ([]*SourceConfig, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, utils.StackError(err, "failed to parse source catalog")
	}
	for _, config := range file.Sources {
		config.normalizeContext()
	}
	return file.Sources, nil
}

// yaml.v2 decodes nested maps with interface keys, which the json encoders of the
// engines can not handle.
func (c *SourceConfig) normalizeContext() {
	for k, v := range c.Context {
		c.Context[k] = normalizeYAML(v)
	}
}

func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			if s, ok := k.(string); ok {
				m[s] = normalizeYAML(e)
			}
		}
		return m
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeYAML(e)
		}
	}
	return v
}

// Validate checks the config against the engines it can run on.
func (c *SourceConfig) Validate(engines Engines) error {
	if err := validator.Validate(c); err != nil {
		return utils.ConstructionError("invalid source %s: %v", c.Name, err)
	}
	if _, ok := engines[c.Engine]; !ok {
		return utils.ConstructionError("source %s uses unknown engine %s", c.Name, c.Engine)
	}
	seen := make(map[string]bool, len(c.Attributes))
	for _, a := range c.Attributes {
		if err := validator.Validate(a); err != nil {
			return utils.ConstructionError("invalid attribute in source %s: %v", c.Name, err)
		}
		if seen[a.Name] {
			return utils.ConstructionError("source %s declares attribute %s twice", c.Name, a.Name)
		}
		seen[a.Name] = true
		switch a.Special {
		case "", SpecialUnique, SpecialHistogram:
		case SpecialRange:
			if a.Range == nil {
				return utils.ConstructionError("range attribute %s of %s has no range encoding", a.Name, c.Name)
			}
			if err := a.Range.Validate(); err != nil {
				return err
			}
		default:
			return utils.ConstructionError("attribute %s of %s has unknown special %s", a.Name, c.Name, a.Special)
		}
	}
	if c.TimeAttribute != "" && len(c.Attributes) > 0 && !seen[c.TimeAttribute] {
		return utils.ConstructionError("time attribute %s is not an attribute of %s", c.TimeAttribute, c.Name)
	}
	return nil
}

// Clone returns a deep copy of the config.
func (c *SourceConfig) Clone() (*SourceConfig, error) {
	dst := new(SourceConfig)
	if err := deepcopy.Copy(dst, c); err != nil {
		return nil, utils.StackError(err, "failed to copy source %s", c.Name)
	}
	return dst, nil
}

// WithIntrospected returns a copy of the config whose attributes are the introspected
// ones, overridden by the attributes declared in the config.
func (c *SourceConfig) WithIntrospected(introspected []AttributeConfig) (*SourceConfig, error) {
	dst, err := c.Clone()
	if err != nil {
		return nil, err
	}
	declared := make(map[string]bool, len(c.Attributes))
	for _, a := range c.Attributes {
		declared[a.Name] = true
	}
	merged := make([]AttributeConfig, 0, len(introspected)+len(c.Attributes))
	for _, a := range introspected {
		if !declared[a.Name] {
			merged = append(merged, a)
		}
	}
	dst.Attributes = append(merged, dst.Attributes...)
	return dst, nil
}

// Attribute looks up an attribute by name.
func (c *SourceConfig) Attribute(name string) (AttributeConfig, bool) {
	for _, a := range c.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeConfig{}, false
}

// AttributeInfos describes the rows of the source.
func (c *SourceConfig) AttributeInfos() []value.AttributeInfo {
	infos := make([]value.AttributeInfo, len(c.Attributes))
	for i, a := range c.Attributes {
		kind := a.Type
		if a.Special == SpecialRange && kind == "" {
			kind = value.NumberRangeKind
		}
		infos[i] = value.AttributeInfo{Name: a.Name, Kind: kind, Special: a.Special}
	}
	return infos
}
