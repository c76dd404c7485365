// Package cli provides the command-line interface of the API server. It
// loads the configuration, wires the stores, cache, notification bus and
// attachment file store, and runs the HTTP server until interrupted.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"open-pryv.io/core/api"
	"open-pryv.io/core/attachments"
	"open-pryv.io/core/cache"
	"open-pryv.io/core/common"
	"open-pryv.io/core/config"
	"open-pryv.io/core/methods"
	"open-pryv.io/core/model"
	"open-pryv.io/core/notifications"
	"open-pryv.io/core/server"
	"open-pryv.io/core/storage"
	"open-pryv.io/core/streams"
	"open-pryv.io/core/versioning"
)

// cfgFile holds the path given via --config; empty means the standard
// search locations.
var cfgFile string

var RootCmd = &cobra.Command{
	Use:   "pryv-core",
	Short: "personal data store API server",
	Long: `The core API server: per-user event and stream storage, token-scoped
accesses, attachments, versioning and change notifications, served over a
single HTTP API.`,
	RunE: runServer,
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "run the API server",
	RunE:  runServer,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, $HOME/.pryv, /etc/pryv)")
	RootCmd.AddCommand(serverCmd)
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	common.ConfigureLogger(cfg.Logging.Level, cfg.Logging.Format)
	log := common.Logger.WithField("component", "boot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: CouchDB in production, in-memory for development setups.
	var stores *storage.Stores
	if cfg.Database.InMemory {
		log.Info("using in-memory stores")
		stores = storage.NewMemoryStores()
	} else {
		couch, err := storage.NewCouchDBService(ctx, storage.CouchDBConfig{
			URL:             cfg.Database.URL,
			Database:        cfg.Database.Database,
			Username:        cfg.Database.Username,
			Password:        cfg.Database.Password,
			CreateIfMissing: cfg.Database.CreateIfMissing,
		})
		if err != nil {
			return err
		}
		defer couch.Close()
		stores = storage.NewCouchDBStores(couch)
	}

	// Redis backs the cross-process cache invalidation channel and the
	// optional redis notification transport.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	userCache := cache.New(redisClient)
	bus := notifications.NewBus()
	defer bus.Close()

	if cfg.Messaging.Enabled {
		switch cfg.Messaging.Transport {
		case "amqp":
			transport, err := notifications.NewAMQPTransport(cfg.Messaging.AMQPURL, cfg.Messaging.AMQPQueue)
			if err != nil {
				return err
			}
			bus.AttachTransport(transport)
		case "redis":
			if redisClient == nil {
				log.Warn("redis messaging transport requires redis.enabled, skipping")
				break
			}
			transport := notifications.NewRedisTransport(redisClient, uuid.New().String())
			bus.AttachTransport(transport)
			go func() {
				if err := transport.Listen(ctx, bus); err != nil && ctx.Err() == nil {
					log.WithError(err).Warn("redis transport listener stopped")
				}
			}()
		}
	}
	go func() {
		if err := userCache.Listen(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("cache invalidation listener stopped")
		}
	}()

	files, err := attachments.NewFileStore(
		cfg.Attachments.RootPath, cfg.Attachments.TempPath, cfg.Attachments.ComputeIntegrity)
	if err != nil {
		return err
	}

	svc := &api.Services{
		Stores: stores,
		Cache:  userCache,
		Bus:    bus,
		Files:  files,
		Config: cfg,
		Versioning: versioning.Settings{
			ForceKeepHistory: cfg.Versioning.ForceKeepHistory,
			Mode:             model.DeletionMode(cfg.Versioning.DeletionMode),
		},
		SystemStreams: streams.DefaultRegistry(),
		TrustedApps:   config.ParseTrustedApps(cfg.Auth.TrustedApps),
	}

	reg := api.NewRegistry()
	methods.RegisterAll(reg, svc)

	return server.New(svc, reg).Start(ctx)
}
