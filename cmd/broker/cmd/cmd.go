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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/uber/aresquery/api"
	"github.com/uber/aresquery/broker"
	"github.com/uber/aresquery/broker/druid"
	"github.com/uber/aresquery/broker/sql"
	"github.com/uber/aresquery/common"
	"github.com/uber/aresquery/utils"
)

// Execute runs the broker command.
func Execute(setters ...Option) {
	options := &Options{}

	for _, setter := range setters {
		setter(options)
	}

	cmd := &cobra.Command{
		Use:     "aresquery",
		Short:   "AresQuery broker",
		Long:    `AresQuery broker evaluates expression queries, pushing the work it can down to druid and sql sources`,
		Example: `./aresquery --config config/aresquery.yaml --port 9475`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := ReadConfig(options.DefaultCfg, cmd.Flags())
			if err != nil {
				common.NewLoggerFactory().GetDefaultLogger().With("err", err.Error()).Fatal("failed to read configs")
			}
			if err := options.initLoggers(cfg.Logging); err != nil {
				common.NewLoggerFactory().GetDefaultLogger().With("err", err.Error()).Fatal("invalid logging config")
			}

			if options.Metrics == nil {
				options.Metrics = common.NewReporterMetrics(cfg.Metrics, options.statsReporter())
			}

			start(
				cfg,
				options.ServerLogger,
				options.QueryLogger,
				options.Metrics,
				options.HTTPWrappers...,
			)
		},
	}
	AddFlags(cmd)
	cmd.Execute()
}

// Engines returns every engine the broker can push queries to.
func Engines() broker.Engines {
	return broker.NewEngines(druid.NewEngine(), sql.NewMySQLEngine(), sql.NewPostgresEngine())
}

func start(cfg common.BrokerConfig, logger common.Logger, queryLogger common.Logger, metricsCfg common.Metrics, httpWrappers ...utils.HTTPHandlerWrapper) {
	logger.With("config", cfg).Info("Starting aresquery broker service")

	scope, closer, err := metricsCfg.NewRootScope()
	if err != nil {
		logger.Fatal("Failed to create new root scope", err)
	}
	defer closer.Close()

	// Init common components.
	utils.Init(cfg, logger, queryLogger, scope)

	scope.Counter("restart").Inc(1)
	serverRestartTimer := scope.Timer("restart").Start()
	defer serverRestartTimer.Stop()

	if cfg.SourcesPath == "" {
		logger.Fatal("Missing sources_path")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := broker.NewCatalog(Engines(), cfg.Requester)
	if err := catalog.LoadFile(ctx, cfg.SourcesPath); err != nil {
		logger.With("err", err.Error()).Fatal("Failed to load sources")
	}
	go catalog.Run(ctx, time.Duration(cfg.IntrospectionIntervalInSeconds)*time.Second)

	// executor
	exec := broker.NewQueryExecutor(catalog, cfg.Query)

	// init handlers
	queryHandler := broker.NewQueryHandler(exec, catalog)
	healthCheckHandler := api.NewHealthCheckHandler(catalog)

	// start HTTP server
	router := mux.NewRouter()
	metricsLoggingProvider := utils.NewMetricsLoggingMiddleWareProvider(scope, logger)
	httpWrappers = append([]utils.HTTPHandlerWrapper{metricsLoggingProvider.WithMetrics, metricsLoggingProvider.WithLogging}, httpWrappers...)
	queryHandler.Register(router, httpWrappers...)
	healthCheckHandler.Register(router)

	// Start HTTP server for debugging.
	if cfg.DebugPort > 0 {
		go func() {
			debugRouter := mux.NewRouter()
			debugRouter.HandleFunc("/debug/pprof/cmdline", utils.WithMetricsFunc(pprof.Cmdline))
			debugRouter.HandleFunc("/debug/pprof/profile", utils.WithMetricsFunc(pprof.Profile))
			debugRouter.HandleFunc("/debug/pprof/symbol", utils.WithMetricsFunc(pprof.Symbol))
			debugRouter.HandleFunc("/debug/pprof/trace", utils.WithMetricsFunc(pprof.Trace))
			debugRouter.PathPrefix("/debug/pprof/").HandlerFunc(utils.WithMetricsFunc(pprof.Index))
			healthCheckHandler.Register(debugRouter.PathPrefix("/dbg").Subrouter())

			utils.GetLogger().Infof("Starting HTTP server on dbg-port %d", cfg.DebugPort)
			utils.GetLogger().Fatal(http.ListenAndServe(fmt.Sprintf(":%d", cfg.DebugPort), utils.NoCache(debugRouter)))
		}()
	}

	// Support CORS calls.
	allowOrigins := handlers.AllowedOrigins([]string{"*"})
	allowHeaders := handlers.AllowedHeaders([]string{"Accept", "Accept-Language", "Content-Language", "Origin", "Content-Type", "RequestID"})
	allowMethods := handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"})

	utils.GetLogger().Infof("Starting HTTP server on port %d with max connection %d", cfg.Port, cfg.HTTP.MaxConnections)
	utils.LimitServe(cfg.Port, handlers.CORS(allowOrigins, allowHeaders, allowMethods)(api.WithPanicHandling(router)), cfg.HTTP)
}

// AddFlags adds flags to command
func AddFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "config/aresquery.yaml", "AresQuery config file")
	cmd.Flags().IntP("port", "p", 0, "AresQuery service port")
	cmd.Flags().IntP("debug_port", "d", 0, "AresQuery debug port")
	cmd.Flags().String("sources_path", "", "Yaml catalog of data sources")
}

// ReadConfig populates BrokerConfig
func ReadConfig(defaultCfg map[string]interface{}, flags *pflag.FlagSet) (cfg common.BrokerConfig, err error) {
	v := viper.New()
	v.SetConfigType("yaml")
	// bind command flags
	v.BindPFlags(flags)

	utils.BindEnvironments(v)

	// set defaults
	v.SetDefault("port", 9475)
	v.SetDefault("logging", map[string]interface{}{
		"level":    "info",
		"encoding": "json",
	})
	v.SetDefault("http", map[string]interface{}{
		"max_connections":           300,
		"read_time_out_in_seconds":  20,
		"write_time_out_in_seconds": 300,
	})
	v.MergeConfigMap(defaultCfg)

	// merge in config file
	if cfgFile, err := flags.GetString("config"); err == nil && cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("aresquery")
		v.AddConfigPath("./config")
	}

	if err := v.MergeInConfig(); err == nil {
		fmt.Println("Using config file: ", v.ConfigFileUsed())
	}

	err = v.Unmarshal(&cfg, func(config *mapstructure.DecoderConfig) {
		config.TagName = "yaml"
	})
	return
}
