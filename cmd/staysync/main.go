package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staysync/internal/config"
	"staysync/internal/ics"
	"staysync/internal/lock"
	appLog "staysync/internal/log"
	"staysync/internal/manual"
	"staysync/internal/model"
	"staysync/internal/reconcile"
	"staysync/internal/report"
	"staysync/internal/scheduler"
	"staysync/internal/store"
	"staysync/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	if err := config.LoadDotEnv(flags.envFile); err != nil {
		appLog.Error("failed to load env file", err, "path", flags.envFile)
		os.Exit(1)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	conf.Normalize()
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	if err := appLog.Configure(appLog.Options{
		Level:      appLog.ParseLevel(conf.Log.Level),
		File:       conf.Log.File,
		MaxSizeMB:  conf.Log.MaxSizeMB,
		MaxBackups: conf.Log.MaxBackups,
		MaxAgeDays: conf.Log.MaxAgeDays,
	}); err != nil {
		appLog.Error("failed to configure logging", err)
		os.Exit(1)
	}

	appLog.Info("staysync starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"db_driver", conf.Database.Driver,
		"sync_enabled", conf.Sync.Enabled,
		"sync_cron", conf.Sync.Cron,
		"horizon_days", conf.Sync.HorizonDays,
		"properties", len(conf.Properties),
		"redis", conf.Redis.Addr != "",
		"once", flags.once,
	)

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf, loc, flags.once); err != nil {
		appLog.Error("staysync stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("staysync exiting")
}

func run(ctx context.Context, conf *config.Config, loc *time.Location, once bool) error {
	st, err := store.Open(ctx, store.Options{
		Driver:      conf.Database.Driver,
		DSN:         conf.Database.DSN,
		WaitTimeout: time.Duration(conf.Database.WaitTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	if err := st.SyncProperties(ctx, registry(conf)); err != nil {
		return err
	}

	fetcher := ics.NewFetcher(ics.Options{
		Timeout:      time.Duration(conf.Fetch.TimeoutSeconds) * time.Second,
		MaxRedirects: conf.Fetch.MaxRedirects,
		Concurrency:  conf.Fetch.Concurrency,
		CacheDir:     conf.Fetch.CacheDir,
		Location:     loc,
	})
	syncer := reconcile.NewSyncer(reconcile.Options{
		Store:    st,
		Fetcher:  fetcher,
		Sources:  conf,
		Location: loc,
	})
	sched := scheduler.New(scheduler.Options{
		Syncer:      syncer,
		Spec:        conf.Sync.Cron,
		HorizonDays: conf.Sync.HorizonDays,
		Location:    loc,
	})

	if once {
		_, err := sched.RunOnce(ctx)
		return err
	}

	var locker lock.Locker = lock.NewMemory()
	if conf.Redis.Addr != "" {
		rl, err := lock.NewRedis(ctx, lock.RedisOptions{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rl.Close() }()
		locker = rl
	}

	if conf.Sync.Enabled {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
			defer stop()
			sched.Stop(stopCtx)
		}()
	} else {
		appLog.Info("scheduled sync disabled")
	}

	srv := web.NewServer(web.Deps{
		Config:   conf,
		Store:    st,
		Syncer:   syncer,
		Manual:   manual.NewService(manual.Options{Store: st, Locker: locker, Location: loc}),
		Reports:  report.NewService(report.Options{Store: st, Location: loc}),
		Location: loc,
	})
	return web.StartServer(ctx, conf.Listen, srv.Handler())
}

// registry maps configured properties onto stored rows. Export tokens are
// left empty so existing ones survive and new properties get one issued.
func registry(conf *config.Config) []model.Property {
	props := make([]model.Property, 0, len(conf.Properties))
	for _, p := range conf.Properties {
		props = append(props, model.Property{
			Name:         p.Name,
			DisplayName:  p.DisplayName,
			Group:        p.Group,
			CleaningCost: p.CleaningCost,
		})
	}
	return props
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/staysync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env", ".env", "Optional dotenv file loaded before the config")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one full sync and exit")

	flag.Parse()

	return cfg
}
