package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reliability-tracker/pkg/config"
	"reliability-tracker/pkg/database"
	"reliability-tracker/pkg/events"
	"reliability-tracker/pkg/models"
	"reliability-tracker/pkg/reliability"
	"reliability-tracker/pkg/search"
	"reliability-tracker/pkg/server"
	"reliability-tracker/pkg/sqlstore"
)

var (
	debugFlag bool
	logger    *slog.Logger
)

// store is what the commands need from either database engine.
type store interface {
	reliability.Store
	InitSchema(ctx context.Context) error
	UpsertClient(ctx context.Context, client *models.GatewayClient) error
	GetClient(ctx context.Context, msisdn string) (*models.GatewayClient, error)
	CreateTest(ctx context.Context, test *models.ReliabilityTest) error
	Close() error
}

var rootCmd = &cobra.Command{
	Use:   "reliability-tracker",
	Short: "Track SMS gateway client reliability from test completion events",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the gateway_clients and reliability_tests tables",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, err := initStore(cmd.Context(), cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		logger.Info("Database schema ready", "engine", cfg.Database.Engine)
	},
}

var addClientCmd = &cobra.Command{
	Use:     "add-client [msisdn] [country] [operator] [operator-code]",
	Short:   "Register or refresh a gateway client",
	Example: "add-client +237600000001 Cameroon MTN 62401 --protocols sms,smpp",
	Args:    cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		protocols, _ := cmd.Flags().GetStringSlice("protocols")

		cfg := loadConfig()
		st, err := initStore(cmd.Context(), cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		client := &models.GatewayClient{
			MSISDN:       args[0],
			Country:      args[1],
			Operator:     args[2],
			OperatorCode: args[3],
			Protocols:    models.Protocols(protocols),
		}
		if err := st.UpsertClient(cmd.Context(), client); err != nil {
			logger.Error("Error adding client", "msisdn", client.MSISDN, "error", err)
			os.Exit(1)
		}
		logger.Info("Client added successfully", "msisdn", client.MSISDN)
	},
}

var startTestCmd = &cobra.Command{
	Use:   "start-test [msisdn]",
	Short: "Create a pending reliability test for a client and print its id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, err := initStore(cmd.Context(), cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		client, err := st.GetClient(cmd.Context(), args[0])
		if err != nil {
			logger.Error("Error looking up client", "msisdn", args[0], "error", err)
			os.Exit(1)
		}

		test := &models.ReliabilityTest{
			ID:     uuid.NewString(),
			MSISDN: client.MSISDN,
		}
		if err := st.CreateTest(cmd.Context(), test); err != nil {
			logger.Error("Error starting test", "msisdn", client.MSISDN, "error", err)
			os.Exit(1)
		}

		logger.Info("Test started", "test_id", test.ID, "msisdn", test.MSISDN)
		fmt.Println(test.ID)
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete [test-id] [sms-sent-ms] [sms-received-ms]",
	Short: "Apply a completion event to a pending test",
	Long: `Apply a completion event to a pending test.
[sms-sent-ms] and [sms-received-ms] are epoch timestamps in milliseconds.
The command prints the protocol result as JSON and exits non-zero when the
update was rejected.`,
	Example: "complete 0b6f3c1e-8d2a-4f11-9c55-2f1d7e0a9b44 1709294400000 1709294401000",
	Args:    cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, err := initStore(cmd.Context(), cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		handler := newHandler(cfg, st, nil)
		adapter := reliability.NewEventAdapter(handler, logger)
		result := adapter.Update(cmd.Context(), args[0], reliability.UpdateRequest{
			SMSSentTimestamp:     reliability.Timestamp(args[1]),
			SMSReceivedTimestamp: reliability.Timestamp(args[2]),
		})

		out, _ := json.Marshal(result)
		fmt.Println(string(out))
		if !result.Success {
			os.Exit(1)
		}
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Mark pending tests older than the timeout as timedout",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, err := initStore(cmd.Context(), cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		n, err := newHandler(cfg, st, nil).Sweeper().Sweep(cmd.Context(), st, time.Now())
		if err != nil {
			logger.Error("Error sweeping tests", "error", err)
			os.Exit(1)
		}
		logger.Info("Sweep completed", "timed_out", n)
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score [msisdn]",
	Short: "Compute a client's reliability from its test history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st, err := initStore(cmd.Context(), cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		score, err := newHandler(cfg, st, nil).Score(cmd.Context(), args[0])
		if err != nil {
			logger.Error("Error computing reliability", "msisdn", args[0], "error", err)
			os.Exit(1)
		}
		fmt.Printf("%.2f\n", score)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve completion events over HTTP and Kafka and sweep periodically",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := loadConfig()
		st, err := initStore(ctx, cfg.Database)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer st.Close()

		var recorder reliability.Recorder
		if cfg.Elasticsearch.Enabled {
			indexer, err := search.NewIndexer(cfg.Elasticsearch, logger)
			if err != nil {
				logger.Error("Error creating elasticsearch indexer", "error", err)
				os.Exit(1)
			}
			if err := indexer.EnsureIndex(ctx); err != nil {
				logger.Error("Error preparing elasticsearch index", "error", err)
				os.Exit(1)
			}
			recorder = indexer
		}

		handler := newHandler(cfg, st, recorder)
		adapter := reliability.NewEventAdapter(handler, logger)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.Sweeper().Run(ctx, st, cfg.Reliability.SweepInterval)
		}()

		if cfg.Kafka.Enabled {
			consumer, err := events.NewConsumer(cfg.Kafka, adapter, logger)
			if err != nil {
				logger.Error("Error creating kafka consumer", "error", err)
				os.Exit(1)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx); err != nil {
					logger.Error("Kafka consumer stopped", "error", err)
					stop()
				}
			}()
		}

		srv := server.New(adapter, handler, logger)
		if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
			logger.Error("HTTP server failed", "error", err)
			stop()
			wg.Wait()
			os.Exit(1)
		}
		wg.Wait()
		logger.Info("Shut down cleanly")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	addClientCmd.Flags().StringSlice("protocols", []string{"sms"}, "Protocols the client supports")

	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(addClientCmd)
	rootCmd.AddCommand(startTestCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(serveCmd)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.reliability-tracker")
	viper.AddConfigPath("/etc/reliability-tracker/")

	viper.SetEnvPrefix("RELIABILITY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if file := viper.ConfigFileUsed(); file != "" {
		logger.Debug("Loaded configuration", "file", file)
	}
	return cfg
}

// initStore connects to the configured engine and makes sure the schema exists.
func initStore(ctx context.Context, cfg config.Database) (store, error) {
	var (
		st  store
		err error
	)
	switch cfg.Engine {
	case config.EnginePostgres:
		st, err = database.NewDB(cfg.Postgres)
	default:
		st, err = sqlstore.Open(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := st.InitSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return st, nil
}

func newHandler(cfg *config.Config, st store, recorder reliability.Recorder) *reliability.Handler {
	return reliability.NewHandler(st, reliability.Settings{
		Timeout:   cfg.Reliability.Timeout,
		Threshold: cfg.Reliability.Threshold,
		Window:    cfg.Reliability.Window,
		Recorder:  recorder,
	}, logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
