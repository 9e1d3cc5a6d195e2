package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"tradelink/internal/cli"
	"tradelink/internal/config"
	"tradelink/internal/svc"
)

const shutdownTimeout = 15 * time.Second

var configFile = flag.String("f", config.DefaultPath, "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(config.ResolveMainPath(*configFile))
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = cfg.Name
	}
	logx.MustSetup(cfg.Log)
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.MustNewServiceContext(*cfg)
	if err := svcCtx.PrepareStorage(ctx); err != nil {
		logx.Errorf("prepare storage: %v", err)
	}
	if records, err := svcCtx.StoredRecords(ctx); err != nil {
		logx.Errorf("load stored connection records: %v", err)
	} else {
		for _, rec := range records {
			logx.Infof("stored connection %s: %s, last error %q", rec.Key(), rec.State, rec.LastError)
		}
	}

	sub := svcCtx.Bus.Subscribe("log", 256)
	done := make(chan struct{})
	threading.GoSafe(func() {
		defer close(done)
		cli.NewEventLogger(ctx).Run(sub)
	})

	results := svcCtx.AutoConnect(ctx)
	live := 0
	for _, res := range results {
		if res.OK() {
			live++
		}
	}
	logx.Infof("tradelink started: %d/%d auto-connect credentials live", live, len(results))

	<-ctx.Done()
	logx.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svcCtx.Close(shutdownCtx); err != nil {
		logx.Errorf("shutdown: %v", err)
	}
	<-done
}
