package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/andrej220/rolectl/internal/dispatch"
	"github.com/andrej220/rolectl/internal/lg"
	"github.com/andrej220/rolectl/internal/persistence"
	"github.com/andrej220/rolectl/internal/publisher"
	"github.com/andrej220/rolectl/pkg/config"
	"github.com/andrej220/rolectl/pkg/executor"
	"github.com/spf13/cobra"
)

var errHostsFailed = errors.New("one or more hosts failed")

type globalOptions struct {
	configPath string
	storeType  string
	mongo      config.MongoConfig
	debug      bool
	logFormat  string
	reportPath string
	parallel   int
	failFast   bool
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	opts   globalOptions
	logger lg.Logger
	store  config.Store
	tables *config.Tables

	// newExecutor is swapped in tests.
	newExecutor func(cfg config.SSHConfig, logger lg.Logger) executor.Executor
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&app{newExecutor: sshExecutor})
}

func newRootCommandWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           SERVICENAME,
		Short:         "Resolve host roles and run process control commands over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			if c, ok := a.store.(io.Closer); ok {
				return c.Close()
			}
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.opts.configPath, "config", "c", "rolectl.yaml", "path to the YAML configuration")
	f.StringVar(&a.opts.storeType, "store", "file", "configuration store: file or mongo")
	f.StringVar(&a.opts.mongo.URI, "mongo-uri", "mongodb://localhost:27017", "MongoDB URI for --store=mongo")
	f.StringVar(&a.opts.mongo.DBName, "mongo-db", "rolectl", "MongoDB database for --store=mongo")
	f.StringVar(&a.opts.mongo.CollName, "mongo-coll", "config", "MongoDB collection for --store=mongo")
	f.StringVar(&a.opts.mongo.ID, "mongo-id", "default", "configuration document _id for --store=mongo")
	f.BoolVar(&a.opts.debug, "debug", false, "enable debug logging")
	f.StringVar(&a.opts.logFormat, "log-format", "console", "json or console")
	f.StringVar(&a.opts.reportPath, "report", "", "write the run report to this file (.json or .yaml)")
	f.IntVar(&a.opts.parallel, "parallel", -1, "hosts worked on at once (0 = unlimited, default from config)")
	f.BoolVar(&a.opts.failFast, "fail-fast", false, "cancel remaining hosts after the first failure")

	root.AddCommand(
		newRolesCommand(a),
		newHostsCommand(a),
		newProcessesCommand(a),
		newTasksCommand(a),
		newTaskCommand(a),
		newWatchCommand(a),
	)
	for _, op := range operationCommands(a) {
		root.AddCommand(op)
	}
	return root
}

func (a *app) init() error {
	if a.logger == nil {
		a.logger = lg.New(lg.NewConfig(SERVICENAME, a.opts.debug, a.opts.logFormat))
	}

	storeType, err := config.ParseStoreType(a.opts.storeType)
	if err != nil {
		return err
	}
	var storeCfg any = &config.FileConfig{Path: a.opts.configPath}
	if storeType == config.MongoStore {
		storeCfg = &a.opts.mongo
	}
	a.store, err = config.NewStore(storeType, storeCfg, a.logger)
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}

	cfg, err := config.Load(a.store)
	if err != nil {
		return err
	}
	a.tables, err = cfg.Build()
	if err != nil {
		return err
	}
	a.logger.Debug("configuration loaded",
		lg.Int("hosts", len(a.tables.Index.Hosts())),
		lg.Int("roles", len(a.tables.Index.Roles())),
		lg.Int("processes", a.tables.Registry.Len()))
	return nil
}

// dispatcher builds a Dispatcher and returns the cleanup to run after it.
func (a *app) dispatcher() (*dispatch.Dispatcher, func()) {
	cfg := a.tables.Config
	exec := a.newExecutor(cfg.SSH, a.logger)

	opts := dispatch.Options{
		Parallel: cfg.Dispatch.Parallel,
		FailFast: cfg.Dispatch.FailFast || a.opts.failFast,
		Logger:   a.logger,
	}
	if a.opts.parallel >= 0 {
		opts.Parallel = a.opts.parallel
	}

	var pub *publisher.Kafka
	if len(cfg.Publish.Brokers) > 0 {
		pub = publisher.NewKafka(publisher.Config{Brokers: cfg.Publish.Brokers, Topic: cfg.Publish.Topic}, a.logger)
		opts.Publisher = pub
	}

	cleanup := func() {
		if c, ok := exec.(io.Closer); ok {
			_ = c.Close()
		}
		if pub != nil {
			if err := pub.Close(); err != nil {
				a.logger.Warn("closing publisher", lg.Err(err))
			}
		}
	}
	return dispatch.New(a.tables, exec, opts), cleanup
}

// finish prints and stores the report and turns failed hosts into an error.
func (a *app) finish(out io.Writer, report *dispatch.Report, runErr error) error {
	if report != nil {
		printReport(out, report)
		if a.opts.reportPath != "" {
			if err := persistence.WriteReport(report, a.opts.reportPath); err != nil {
				a.logger.Error("writing report", lg.String("path", a.opts.reportPath), lg.Err(err))
			}
		}
	}
	if runErr != nil {
		return runErr
	}
	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%w: %v", errHostsFailed, failed)
	}
	return nil
}

func sshExecutor(cfg config.SSHConfig, logger lg.Logger) executor.Executor {
	return executor.NewSSHExecutor(executor.SSHConfig{
		User:                cfg.User,
		Port:                cfg.Port,
		KeyPath:             cfg.KeyPath,
		Password:            cfg.Password,
		KnownHosts:          cfg.KnownHosts,
		Timeout:             cfg.Timeout,
		InitialInterval:     cfg.Retry.InitialInterval,
		MaxInterval:         cfg.Retry.MaxInterval,
		MaxElapsed:          cfg.Retry.MaxElapsed,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
	}, logger)
}
