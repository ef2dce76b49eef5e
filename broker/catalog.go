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
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/query/value"
	"github.com/uber/aresquery/utils"
	"golang.org/x/sync/errgroup"
)

const (
	// IntrospectionNone turns introspection off for a source, its declared attributes
	// are used as is.
	IntrospectionNone = "none"

	defaultRefreshInterval = 10 * time.Minute
)

// SourceStatus is the state of one source of the catalog.
type SourceStatus struct {
	Name           string                `json:"name"`
	Engine         string                `json:"engine"`
	Source         string                `json:"source"`
	Attributes     []value.AttributeInfo `json:"attributes"`
	IntrospectedAt *time.Time            `json:"introspectedAt,omitempty"`
	Error          string                `json:"error,omitempty"`
}

type catalogSource struct {
	declared       *SourceConfig
	requester      Requester
	external       *External
	introspectedAt *time.Time
	err            error
}

// Catalog holds the data sources of the broker and the raw externals queries start from.
type Catalog struct {
	sync.RWMutex

	engines         Engines
	requesterConfig common.RequesterConfig
	sources         map[string]*catalogSource
}

// NewCatalog creates an empty catalog.
func NewCatalog(engines Engines, requesterConfig common.RequesterConfig) *Catalog {
	return &Catalog{
		engines:         engines,
		requesterConfig: requesterConfig,
		sources:         make(map[string]*catalogSource),
	}
}

// LoadFile loads the yaml catalog at path.
func (c *Catalog) LoadFile(ctx context.Context, path string) error {
	configs, err := LoadSourceConfigs(path)
	if err != nil {
		return err
	}
	return c.Load(ctx, configs)
}

// Load replaces the sources of the catalog. Configs are validated and requesters built
// before anything changes; introspection failures only mark the failing source.
func (c *Catalog) Load(ctx context.Context, configs []*SourceConfig) error {
	sources := make(map[string]*catalogSource, len(configs))
	for _, config := range configs {
		if err := config.Validate(c.engines); err != nil {
			return err
		}
		if _, exists := sources[config.Name]; exists {
			return utils.ConstructionError("source %s is declared twice", config.Name)
		}
		requester, err := c.engines[config.Engine].NewRequester(config, c.requesterConfig)
		if err != nil {
			return utils.StackError(err, "failed to create requester for source %s", config.Name)
		}
		sources[config.Name] = &catalogSource{
			declared:  config,
			requester: DecorateRequester(requester, c.requesterConfig),
		}
	}

	c.introspectAll(ctx, sources)

	c.Lock()
	for name := range c.sources {
		if _, kept := sources[name]; !kept {
			utils.DeleteSourceReporter(name)
		}
	}
	c.sources = sources
	c.Unlock()

	utils.GetRootReporter().GetGauge(utils.NumberOfSources).Update(float64(len(sources)))
	utils.GetLogger().With("sources", len(sources)).Info("source catalog loaded")
	return nil
}

// introspectAll introspects the sources in parallel and sets their externals.
func (c *Catalog) introspectAll(ctx context.Context, sources map[string]*catalogSource) {
	var lock sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	for _, s := range sources {
		s := s
		utils.AddSourceReporter(s.declared.Name, s.declared.Engine)
		group.Go(func() error {
			external, introspectedAt, err := c.introspect(ctx, s)
			lock.Lock()
			defer lock.Unlock()
			s.err = err
			if external != nil {
				s.external, s.introspectedAt = external, introspectedAt
			}
			return nil
		})
	}
	group.Wait()
}

func (c *Catalog) introspect(ctx context.Context, s *catalogSource) (*External, *time.Time, error) {
	config := s.declared
	engine := c.engines[config.Engine]
	reporter := utils.GetReporter(config.Name)
	if config.IntrospectionStrategy == IntrospectionNone {
		return NewExternal(engine, config, s.requester), nil, nil
	}

	introspected, err := engine.Introspect(ctx, s.requester, config)
	if err == nil {
		var merged *SourceConfig
		if merged, err = config.WithIntrospected(introspected); err == nil {
			reporter.GetCounter(utils.IntrospectionSuccess).Inc(1)
			now := utils.Now()
			return NewExternal(engine, merged, s.requester), &now, nil
		}
	}

	reporter.GetCounter(utils.IntrospectionFailure).Inc(1)
	utils.GetLogger().With("source", config.Name, "error", err).Warn("failed to introspect source")
	if s.external != nil {
		// Keep serving the last known attributes.
		return nil, nil, err
	}
	if len(config.Attributes) > 0 {
		return NewExternal(engine, config, s.requester), nil, err
	}
	return nil, nil, err
}

// Refresh introspects all sources again.
func (c *Catalog) Refresh(ctx context.Context) {
	c.RLock()
	sources := make(map[string]*catalogSource, len(c.sources))
	for name, s := range c.sources {
		copied := *s
		sources[name] = &copied
	}
	c.RUnlock()

	c.introspectAll(ctx, sources)

	c.Lock()
	for name, s := range sources {
		// The catalog may have been reloaded meanwhile.
		if current, ok := c.sources[name]; ok && current.declared == s.declared {
			c.sources[name] = s
		}
	}
	c.Unlock()
}

// Run refreshes the catalog every interval until ctx is done.
func (c *Catalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// External returns the raw external of a source, false if the source is unknown or has
// never been introspected.
func (c *Catalog) External(name string) (*External, bool) {
	c.RLock()
	defer c.RUnlock()
	s, ok := c.sources[name]
	if !ok || s.external == nil {
		return nil, false
	}
	return s.external, true
}

// Datum binds the name of every available source to its raw external.
func (c *Catalog) Datum() value.Datum {
	c.RLock()
	defer c.RUnlock()
	datum := make(value.Datum, len(c.sources))
	for name, s := range c.sources {
		if s.external != nil {
			datum[name] = s.external
		}
	}
	return datum
}

// Sources returns the state of every source, sorted by name.
func (c *Catalog) Sources() []SourceStatus {
	c.RLock()
	defer c.RUnlock()
	statuses := make([]SourceStatus, 0, len(c.sources))
	for name, s := range c.sources {
		status := SourceStatus{
			Name:           name,
			Engine:         s.declared.Engine,
			Source:         s.declared.Source,
			IntrospectedAt: s.introspectedAt,
		}
		if s.external != nil {
			status.Attributes = s.external.Attributes()
		}
		if s.err != nil {
			status.Error = ErrorMessage(s.err)
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// ErrorMessage returns the message of err without the stack trace of stacked errors.
func ErrorMessage(err error) string {
	if e, ok := err.(*utils.StackedError); ok {
		return e.Message()
	}
	return err.Error()
}
