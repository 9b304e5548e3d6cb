package main

import (
	"context"
	"time"

	"github.com/airenas/async-api/pkg/miniofs"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/audit"
	"github.com/airenas/vox/internal/pkg/broadcast"
	"github.com/airenas/vox/internal/pkg/consul"
	"github.com/airenas/vox/internal/pkg/devices"
	"github.com/airenas/vox/internal/pkg/handoff"
	"github.com/airenas/vox/internal/pkg/ingress"
	"github.com/airenas/vox/internal/pkg/postgres"
	"github.com/airenas/vox/internal/pkg/registry"
	"github.com/airenas/vox/internal/pkg/session"
	"github.com/airenas/vox/internal/pkg/utils"
	capi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/gommon/color"
)

func main() {
	goapp.StartWithDefault()

	go utils.RunPerfEndpoint()

	printBanner()

	cfg := goapp.Config
	data := &ingress.Data{}
	data.Port = cfg.GetInt("port")
	var err error

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	dbConfig, err := pgxpool.ParseConfig(cfg.GetString("db.url"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db pool")
	}
	defer dbPool.Close()

	db, err := postgres.NewDB(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init db")
	}
	if err := db.Live(ctx); err != nil {
		goapp.Log.Fatal().Err(err).Msg("db not ready")
	}
	data.DB = db

	sender, err := postgres.NewSender(dbPool)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init gue sender")
	}

	filer, err := miniofs.NewFiler(ctx, miniofs.Options{Bucket: cfg.GetString("filer.bucket"),
		URL: cfg.GetString("filer.url"), User: cfg.GetString("filer.user"), Key: cfg.GetString("filer.key")})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init filer")
	}

	provider, err := consul.NewProvider(&capi.Config{Address: cfg.GetString("consul.address")},
		cfg.GetString("consul.service"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init consul provider")
	}
	checkInterval := cfg.GetDuration("consul.checkInterval")
	if checkInterval <= 0 {
		checkInterval = time.Second * 15
	}
	if _, err := provider.StartRegistryLoop(ctx, checkInterval); err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start consul loop")
	}

	gateway, err := handoff.NewGateway(sender, filer, handoffConfig(cfg.GetUint64("handoff.retryCount"),
		cfg.GetDuration("handoff.timeout"), cfg.GetDuration("handoff.initialWait")))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init handoff gateway")
	}

	recorder, err := audit.NewRecorder(ctx, db, cfg.GetInt("audit.buffer"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init audit recorder")
	}

	resolver, err := devices.NewRegistry(db, cfg.GetDuration("device.cacheTTL"))
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init device registry")
	}

	hub := broadcast.NewHub(cfg.GetInt("ws.buffer"))

	sessions, err := registry.NewRegistry(&registry.Data{Resolver: resolver, Broadcaster: hub,
		Session: &session.Data{Provider: provider, Handoff: gateway, Audit: recorder,
			Events: hub, DB: db, Cfg: sessionConfig(cfg.GetInt("session.reorderWindow"),
				cfg.GetInt("session.segmentBuffer"), cfg.GetUint64("session.reconnectCount"),
				cfg.GetDuration("session.reconnectInitialWait"))}})
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init session registry")
	}
	data.Sessions = sessions
	data.WSHandler = ingress.NewViewers(hub)

	err = ingress.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}
	cancelFunc()
	select {
	case <-recorder.Done():
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
}

func sessionConfig(reorderWindow, segmentBuffer int, reconnectCount uint64, reconnectWait time.Duration) session.Config {
	res := session.DefaultConfig()
	if reorderWindow > 0 {
		res.ReorderWindow = reorderWindow
	}
	if segmentBuffer > 0 {
		res.SegmentBuffer = segmentBuffer
	}
	if reconnectCount > 0 {
		res.ReconnectCount = reconnectCount
	}
	if reconnectWait > 0 {
		res.ReconnectInitialWait = reconnectWait
	}
	return res
}

func handoffConfig(retryCount uint64, timeout, initialWait time.Duration) handoff.Config {
	res := handoff.DefaultConfig()
	if retryCount > 0 {
		res.RetryCount = retryCount
	}
	if timeout > 0 {
		res.Timeout = timeout
	}
	if initialWait > 0 {
		res.InitialWait = initialWait
	}
	return res
}

var (
	version = "DEV"
)

func printBanner() {
	banner := `
   _    ______  _  __
  | |  / / __ \| |/ /
  | | / / / / /|   /
  | |/ / /_/ //   |
  |___/\____//_/|_|

                  __              __             __
  ____  _________/ /_  ___  _____/ /__________ _/ /_____  _____
 / __ \/ ___/ ___/ __ \/ _ \/ ___/ __/ ___/ __ ` + "`" + `/ __/ __ \/ ___/
/ /_/ / /  / /__/ / / /  __(__  ) /_/ /  / /_/ / /_/ /_/ / /
\____/_/   \___/_/ /_/\___/____/\__/_/   \__,_/\__/\____/_/   v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/vox"))
}
