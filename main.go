package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	cfgwatch "PRelay/config"
	"PRelay/data/database/mgo/mongoutil"
	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/middleware"
	"PRelay/service/bus"
	"PRelay/service/gateway"
	"PRelay/service/kafka"
	"PRelay/service/metrics"
	"PRelay/service/natsx"
	"PRelay/service/presence"
	"PRelay/service/push"
	"PRelay/service/relay"
	"PRelay/service/storage"
	rstore "PRelay/service/storage/redis"
	"PRelay/service/subscription"
	"PRelay/tools/ids"
	"PRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfgPath := flag.String("config", "", "path to the config file (yaml/json/toml)")
	watch := flag.Bool("watch", false, "apply log level and CORS origin changes from the config file")
	flag.Parse()

	if err := run(*cfgPath, *watch); err != nil {
		fmt.Fprintln(os.Stderr, "prelay:", err)
		os.Exit(1)
	}
}

// closers run in reverse order on shutdown.
type closers []func(context.Context)

func (c *closers) add(f func(context.Context)) { *c = append(*c, f) }

func (c closers) run(ctx context.Context) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i](ctx)
	}
}

func run(cfgPath string, watch bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanup closers

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	gen := ids.NewGenerator(cfg.NodeID)
	origin := strconv.FormatInt(cfg.NodeID, 10)

	// lazily shared clients
	var (
		rdb *redis.Client
		nc  *natsx.NatsxClient
	)
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		c, err := rstore.NewClient(ctx, rstore.Config{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		rdb = c
		cleanup.add(func(context.Context) { _ = c.Close() })
		return c, nil
	}
	natsClient := func() (*natsx.NatsxClient, error) {
		if nc != nil {
			return nc, nil
		}
		c, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: cfg.Nats.Servers, Name: cfg.Nats.Name, User: cfg.Nats.User, Password: cfg.Nats.Password,
		}, log)
		if err != nil {
			return nil, err
		}
		nc = c
		cleanup.add(func(context.Context) { _ = c.Close() })
		return c, nil
	}

	var gw *gateway.Server
	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	err = func() error {
		defer bootCancel()

		hub := gateway.NewHub(log)
		var fanout bus.Bus
		switch cfg.Bus.Driver {
		case config.BusNats:
			c, err := natsClient()
			if err != nil {
				return err
			}
			if fanout, err = bus.NewNats(c, cfg.Bus.Subject, origin, hub, log); err != nil {
				return err
			}
		case config.BusRedis:
			c, err := redisClient()
			if err != nil {
				return err
			}
			if fanout, err = bus.NewRedis(bootCtx, c, cfg.Bus.Channel, origin, hub, log); err != nil {
				return err
			}
		default:
			fanout = bus.NewLocal(hub)
		}
		cleanup.add(func(context.Context) { _ = fanout.Close() })

		var subs subscription.Store
		switch cfg.Subscriptions.Driver {
		case config.StoreRedis:
			c, err := redisClient()
			if err != nil {
				return err
			}
			subs = subscription.NewRedis(c, cfg.Subscriptions.KeyPrefix)
		case config.StoreMongo:
			mc, err := mongoutil.NewMongoDB(bootCtx, &mongoutil.Config{
				Uri:         cfg.Mongo.URI,
				Database:    cfg.Mongo.Database,
				Username:    cfg.Mongo.Username,
				Password:    cfg.Mongo.Password,
				AuthSource:  cfg.Mongo.AuthSource,
				MaxPoolSize: cfg.Mongo.MaxPoolSize,
			})
			if err != nil {
				return err
			}
			cleanup.add(func(ctx context.Context) { _ = mc.Disconnect(ctx) })
			subs = subscription.NewMongo(mc.GetDB(), cfg.Subscriptions.Collection)
		default:
			subs = subscription.NewMemory()
		}

		var sender push.Sender
		switch cfg.Push.Driver {
		case config.PushKafka:
			kc := kafka.Config{
				Brokers:           cfg.Kafka.Brokers,
				Version:           cfg.Kafka.Version,
				Compression:       cfg.Kafka.Compression,
				Retries:           cfg.Kafka.Retries,
				Partitions:        cfg.Kafka.Partitions,
				ReplicationFactor: cfg.Kafka.ReplicationFactor,
			}
			client, err := kafka.Dial(kc, log)
			if err != nil {
				return err
			}
			cleanup.add(func(context.Context) { _ = client.Close() })
			if cfg.Kafka.EnsureTopic {
				if err := client.EnsureTopics(cfg.Push.Topic); err != nil {
					return err
				}
			}
			sender = push.NewKafkaSender(client.Producer(), cfg.Push.Topic)
		case config.PushNats:
			c, err := natsClient()
			if err != nil {
				return err
			}
			mode := natsx.Core
			if cfg.Push.JetStream {
				mode = natsx.JetStream
			}
			if err := c.RegisterRoute(natsx.NatsxRoute{Biz: pushBiz, Subject: cfg.Push.Subject, Mode: mode}); err != nil {
				return err
			}
			sender = push.NewNatsSender(natsx.NewNatsxProducer(c), pushBiz)
		default:
			sender = push.NewLogSender(log)
		}
		pusher := push.NewDispatcher(sender, cfg.Push.Timeout, gen, log, m)
		cleanup.add(func(ctx context.Context) {
			if err := pusher.Close(ctx); err != nil {
				log.Warn("pending pushes abandoned", zap.Error(err))
			}
		})

		registry := presence.NewRegistry()
		dir := presence.NewDirectory(registry, presence.WithLogger(log))
		if cfg.Clustered() {
			c, err := redisClient()
			if err != nil {
				return err
			}
			if dir, err = sharedDirectory(ctx, bootCtx, c, cfg, origin, registry, fanout, log, &cleanup); err != nil {
				return err
			}
		}
		br := presence.NewBroadcaster(dir, fanout, log, m)
		disp := relay.NewDispatcher(dir, br, subs, pusher, log, m)

		gw = gateway.NewServer(gateway.Options{
			ReadLimit:      cfg.WS.ReadLimit,
			PingInterval:   cfg.WS.PingInterval,
			PongWait:       cfg.WS.PongWait,
			WriteWait:      cfg.WS.WriteWait,
			SendQueue:      cfg.WS.SendQueue,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		}, hub, disp, gen, reg, log, m)

		if cfg.LogLevel != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		r := gin.New()
		r.Use(middleware.Recovery(log), middleware.AccessLog(log.Named("http")))
		gw.Register(r)

		srv := &http.Server{Addr: cfg.HTTPAddress, Handler: r}
		go func() {
			log.Info("http listening", zap.String("addr", cfg.HTTPAddress), zap.Int64("node", cfg.NodeID))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server failed", zap.Error(err))
				stop()
			}
		}()
		cleanup.add(func(ctx context.Context) {
			gw.Shutdown()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn("http shutdown", zap.Error(err))
			}
		})

		gs, err := serveHealth(cfg.GRPCAddress, log)
		if err != nil {
			return err
		}
		cleanup.add(func(context.Context) { gs.GracefulStop() })
		return nil
	}()
	if err != nil {
		shutdown(cleanup, cfg.ShutdownGracePeriod)
		return err
	}

	if watch && cfgPath != "" {
		if err := watchConfig(cfgPath, log, gw); err != nil {
			shutdown(cleanup, cfg.ShutdownGracePeriod)
			return err
		}
	}

	<-ctx.Done()
	log.Info("shutting down")
	shutdown(cleanup, cfg.ShutdownGracePeriod)
	return nil
}

const pushBiz = "relay.push"

// sharedDirectory backs presence with the redis owner table so every node sees the
// same roster. Entries this node left behind are purged on start and on shutdown.
func sharedDirectory(
	ctx, bootCtx context.Context,
	rdb redis.UniversalClient,
	cfg config.Config,
	origin string,
	registry *presence.Registry,
	fanout bus.Bus,
	log *zap.Logger,
	cleanup *closers,
) (*presence.Directory, error) {
	online := storage.NewOnlineStore(rdb, storage.OnlineConfig{
		KeyPrefix: cfg.Presence.KeyPrefix,
		NodeID:    origin,
		TTL:       cfg.Presence.TTL,
	}, log)
	n, err := online.Purge(bootCtx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Info("stale presence entries purged", zap.Int64("entries", n))
	}
	if err := online.Heartbeat(bootCtx); err != nil {
		return nil, err
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	safe.Go(log, "presence.heartbeat", func() { online.Run(hbCtx) })
	cleanup.add(func(ctx context.Context) {
		hbCancel()
		if _, err := online.Purge(ctx); err != nil {
			log.Warn("presence purge on shutdown failed", zap.Error(err))
		}
	})
	return presence.NewDirectory(registry, presence.WithShared(online, fanout), presence.WithLogger(log)), nil
}

// watchConfig applies the settings that can change without a restart: log level and CORS origins.
func watchConfig(path string, log *zap.Logger, gw *gateway.Server) error {
	w, err := cfgwatch.NewWatcher(path, log)
	if err != nil {
		return err
	}
	w.OnChange(func(old, cur config.Config) {
		if old.LogLevel != cur.LogLevel {
			if err := logger.SetLevel(cur.LogLevel); err != nil {
				log.Warn("log level not applied", zap.Error(err))
			} else {
				log.Info("log level changed", zap.String("from", old.LogLevel), zap.String("to", cur.LogLevel))
			}
		}
		if !slices.Equal(old.CORS.AllowedOrigins, cur.CORS.AllowedOrigins) {
			gw.SetAllowedOrigins(cur.CORS.AllowedOrigins)
			log.Info("allowed origins changed", zap.Strings("origins", cur.CORS.AllowedOrigins))
		}
	})
	w.Start()
	return nil
}

func shutdown(c closers, grace time.Duration) {
	if grace <= 0 {
		grace = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	c.run(ctx)
}

// serveHealth exposes the standard gRPC health service for orchestrators.
func serveHealth(addr string, log *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("prelay.Relay", healthpb.HealthCheckResponse_SERVING)

	go func() {
		log.Info("grpc health listening", zap.String("addr", addr))
		if err := gs.Serve(lis); err != nil {
			log.Error("grpc server failed", zap.Error(err))
		}
	}()
	return gs, nil
}
