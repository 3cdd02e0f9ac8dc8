package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/tripkeeper/internal/flagx"
	"github.com/dmitrijs2005/tripkeeper/internal/logging"
	"github.com/dmitrijs2005/tripkeeper/internal/server/admin"
	"github.com/dmitrijs2005/tripkeeper/internal/server/config"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tripkeeper/internal/server/repositories/tokencache"
	"github.com/dmitrijs2005/tripkeeper/internal/server/services"
	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewJSON(os.Stderr, cfg.LogLevel)

	rm, err := repomanager.New(cfg.DatabaseDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rm.Close()

	var cache tokencache.Cache = tokencache.Nop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		cache = tokencache.NewRedisCache(rdb, cfg.CacheTTL)
	}

	families := services.NewFamilyService(rm, cache, logger)
	reaper := services.NewReaperService(rm, nil, logger)
	runner := admin.NewRunner(families, reaper, rm, os.Stdout)

	args := flagx.Positional(os.Args[1:], config.ValueFlags)
	if err := runner.Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, admin.ErrUsage) {
			fmt.Fprintln(os.Stderr, admin.Usage)
			return 2
		}
		return 1
	}
	return 0
}
