package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coach-messaging/internal/api"
	"coach-messaging/internal/client"
	"coach-messaging/internal/config"
	"coach-messaging/internal/db"
	"coach-messaging/internal/logging"
	"coach-messaging/internal/observability"
	"coach-messaging/internal/stubserver"
	"coach-messaging/internal/transport"
)

func main() {
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, "coach-messaging", cfg.OTLPEndpoint)
		if err != nil {
			log.Warn().Err(err).Msg("tracing disabled")
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(flushCtx)
			}()
		}
	}

	if cfg.EmbeddedBackend {
		database, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open stub backend database")
		}
		stub := stubserver.New(stubserver.NewSQLRepository(database), log)
		go func() {
			addr := backendAddr(cfg.BackendURL)
			log.Info().Str("addr", addr).Msg("embedded stub backend listening")
			if err := stub.Router().Run(addr); err != nil {
				log.Error().Err(err).Msg("stub backend stopped")
			}
		}()
	}

	data := api.NewClient(cfg.BackendURL, cfg.UserID, log)

	var push transport.PushChannel
	switch {
	case cfg.AMQPURL != "":
		push = transport.NewAMQPChannel(cfg.AMQPURL, cfg.AMQPExchange, cfg.UserID, cfg.ReconnectInterval, log)
	case cfg.WSURL != "":
		push = transport.NewWSChannel(cfg.WSURL, cfg.UserID, cfg.ReconnectInterval, log)
	}

	core := client.New(client.Options{
		UserID: cfg.UserID,
		Data:   data,
		Push:   push,
		Transport: transport.Config{
			CountPollInterval:   cfg.CountPollInterval,
			MessagePollInterval: cfg.MessagePollInterval,
		},
		StaleAfter:      cfg.StaleAfter,
		NotificationTTL: cfg.NotificationTTL,
		Logger:          log,
	})
	core.Start()
	defer core.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "push": core.IsPushAvailable()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/debug/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, core.DebugState())
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("user_id", cfg.UserID).Msg("sync daemon listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

// backendAddr extracts host:port from the backend URL for the embedded stub.
func backendAddr(backendURL string) string {
	u, err := url.Parse(backendURL)
	if err != nil || u.Host == "" {
		return ":8083"
	}
	return u.Host
}
