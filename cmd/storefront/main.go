// Command storefront is a terminal client for the storefront REST backend.
//
// Usage:
//
//	storefront [-config file] <command> [flags]
//
// Commands: login, register, logout, whoami, cart, count, delete, flush,
// products, add-product. The session is kept in the configured session store;
// use the redis store to stay logged in across invocations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	storefront "github.com/AnandSundar/go-storefront"
	"github.com/AnandSundar/go-storefront/internal/assets"
	"github.com/AnandSundar/go-storefront/internal/config"
	"github.com/AnandSundar/go-storefront/internal/logger"
	"github.com/AnandSundar/go-storefront/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "path to the YAML config file")
	flag.Usage = usage
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	log := logger.New(cfg.Logger.Level)
	log.Debug("configuration loaded", slog.String("config", cfg.String()))

	sessions, closeSessions, err := newSessionStore(cfg.Session)
	if err != nil {
		log.Error("failed to open session store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeSessions()

	a := &app{
		cfg:      cfg,
		log:      log,
		out:      os.Stdout,
		sessions: sessions,
	}
	if cfg.Assets.Endpoint != "" {
		a.uploader, err = assets.New(assets.Config{
			Endpoint:      cfg.Assets.Endpoint,
			Region:        cfg.Assets.Region,
			Bucket:        cfg.Assets.Bucket,
			AccessKey:     cfg.Assets.AccessKey,
			SecretKey:     cfg.Assets.SecretKey,
			UseSSL:        cfg.Assets.UseSSL,
			PublicBaseURL: cfg.Assets.PublicBaseURL,
		})
		if err != nil {
			log.Error("failed to configure image uploads", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, flag.Args()); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, storefront.MessageOf(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: storefront [-config file] <command> [flags]

Commands:
  login        -email -password
  register     -email -password -first-name -last-name -gender -role -address [-dob]
  logout
  whoami
  cart
  count
  delete       <cart-item-id>
  flush
  products     [-page n]
  add-product  -name -brand -price -quantity -category -description [-free-shipping] [-image file]

Flags:
`)
	flag.PrintDefaults()
}

// newSessionStore opens the configured session backend
func newSessionStore(cfg config.Session) (storefront.SessionStore, func(), error) {
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return store.NewRedisStore(client, cfg.Namespace, cfg.TTL), func() { client.Close() }, nil
	default:
		return store.NewMemoryStore(cfg.TTL), func() {}, nil
	}
}

func newShop(a *app, out io.Writer) *storefront.Storefront {
	opts := []storefront.Option{
		storefront.WithLogger(a.log),
		storefront.WithFetchTimeout(a.cfg.Cache.FetchTimeout),
		storefront.WithMutationTimeout(a.cfg.Backend.MutationTimeout),
		storefront.WithRetry(a.cfg.Cache.RetryAttempts, a.cfg.Cache.RetryBackoff),
		storefront.WithPageSize(a.cfg.Pagination.PageSize),
		storefront.WithNotifier(printer{out: out}),
	}
	if a.cfg.Backend.Timeout > 0 {
		opts = append(opts, storefront.WithHTTPClient(httpClient(a.cfg.Backend.Timeout)))
	}
	return storefront.New(a.cfg.Backend.BaseURL, a.sessions, opts...)
}
