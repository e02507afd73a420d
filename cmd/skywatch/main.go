package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/gustycube/skywatch/internal/api"
	"github.com/gustycube/skywatch/internal/classify"
	"github.com/gustycube/skywatch/internal/clock"
	"github.com/gustycube/skywatch/internal/config"
	"github.com/gustycube/skywatch/internal/dedup"
	"github.com/gustycube/skywatch/internal/emit"
	"github.com/gustycube/skywatch/internal/geocode"
	"github.com/gustycube/skywatch/internal/health"
	"github.com/gustycube/skywatch/internal/httpclient"
	"github.com/gustycube/skywatch/internal/janitor"
	"github.com/gustycube/skywatch/internal/lifecycle"
	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/metrics"
	"github.com/gustycube/skywatch/internal/output"
	"github.com/gustycube/skywatch/internal/progress"
	"github.com/gustycube/skywatch/internal/queue"
	"github.com/gustycube/skywatch/internal/rate"
	"github.com/gustycube/skywatch/internal/registry"
	"github.com/gustycube/skywatch/internal/resolve"
	"github.com/gustycube/skywatch/internal/store"
	"github.com/gustycube/skywatch/internal/telemetry"
	"github.com/gustycube/skywatch/internal/tracker"
	"github.com/gustycube/skywatch/internal/transport"
	"github.com/gustycube/skywatch/internal/types"
)

const version = "1.0.0"

func main() {
	var configFile string
	var input, inputFile string
	var natsURL, natsSubject, natsPublish string
	var gazetteer, geocoderURL string
	var dedupWindow, janitorInterval, geocodeTimeout int
	var schedule, snapshotFile, snapshotFormat string
	var gitRepo, gitRemote string
	var ingest, spoolDir string
	var boltPath, sqlitePath string
	var mtlsCert, mtlsKey, mtlsCA string
	var apiAddr, metricsAddr string
	var otelEndpoint, otelService string
	var otelInsecure bool
	var linger bool
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&input, "input", "", "message source: stdin, file, nats or redis")
	flag.StringVar(&inputFile, "input_file", "", "JSONL or plain-text message file for -input=file")
	flag.StringVar(&natsURL, "nats_url", "", "NATS server URL")
	flag.StringVar(&natsSubject, "nats_subject", "", "NATS subject carrying inbound messages")
	flag.StringVar(&natsPublish, "nats_publish_prefix", "", "publish snapshots and changes under this subject prefix")
	flag.StringVar(&gazetteer, "gazetteer", "", "YAML gazetteer overriding the built-in one (reloaded on change)")
	flag.StringVar(&geocoderURL, "geocoder_url", "", "Nominatim-compatible search URL (empty: gazetteer only)")
	flag.IntVar(&dedupWindow, "dedup_window_sec", 0, "seconds an identical message is suppressed")
	flag.IntVar(&janitorInterval, "janitor_interval_sec", 0, "seconds between eviction sweeps")
	flag.IntVar(&geocodeTimeout, "geocode_timeout_sec", 0, "geocoder deadline per message")
	flag.StringVar(&schedule, "sync_schedule", "", "cron schedule for snapshot sync")
	flag.StringVar(&snapshotFile, "snapshot_file", "", "write snapshots to this file")
	flag.StringVar(&snapshotFormat, "snapshot_format", "", "snapshot format (json, jsonl, csv)")
	flag.StringVar(&gitRepo, "git_repo", "", "commit snapshots into this git working tree")
	flag.StringVar(&gitRemote, "git_remote", "", "push snapshot commits to this remote")
	flag.StringVar(&ingest, "ingest", "", "POST snapshots to this endpoint")
	flag.StringVar(&spoolDir, "spool_dir", "", "spool dir for failed snapshot pushes")
	flag.StringVar(&boltPath, "bolt_path", "", "persist snapshots to a bbolt file")
	flag.StringVar(&sqlitePath, "sqlite_path", "", "persist snapshots to a SQLite database")
	flag.StringVar(&mtlsCert, "mtls_cert", "", "client cert (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsKey, "mtls_key", "", "client key (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsCA, "mtls_ca", "", "CA bundle (PEM) for mTLS to ingest")
	flag.StringVar(&apiAddr, "api_addr", "", "API listen addr")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics and health listen addr")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&linger, "linger", false, "keep serving the API after stdin or file input ends")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "skywatch tracks airborne threats reported in free-text alert messages\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tail -f channel.log | %s -snapshot_file=targets.json\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input=nats -nats_url=nats://127.0.0.1:4222 -sqlite_path=skywatch.db\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=config.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR       Redis server for cross-instance deduplication\n")
		fmt.Fprintf(os.Stderr, "  REDIS_QUEUE_ADDR Redis server for the inbound work queue\n")
		fmt.Fprintf(os.Stderr, "  REDIS_QUEUE_KEY  Redis list key for the work queue\n")
		fmt.Fprintf(os.Stderr, "  NATS_URL         NATS server URL\n")
		fmt.Fprintf(os.Stderr, "  GEOCODER_URL     Nominatim-compatible search URL\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL        Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("skywatch v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	log := logging.New()
	defer log.Sync()

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalw("failed to load config file", "file", configFile, "err", err)
		}
		log.Infow("loaded config from file", "file", configFile)
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	cfg.LoadFromEnv()
	cfg.MergeWithFlags(map[string]interface{}{
		"input":                input,
		"input_file":           inputFile,
		"nats_url":             natsURL,
		"nats_subject":         natsSubject,
		"nats_publish_prefix":  natsPublish,
		"gazetteer":            gazetteer,
		"geocoder_url":         geocoderURL,
		"dedup_window_sec":     dedupWindow,
		"janitor_interval_sec": janitorInterval,
		"geocode_timeout_sec":  geocodeTimeout,
		"sync_schedule":        schedule,
		"snapshot_file":        snapshotFile,
		"snapshot_format":      snapshotFormat,
		"git_repo":             gitRepo,
		"git_remote":           gitRemote,
		"ingest":               ingest,
		"spool_dir":            spoolDir,
		"bolt_path":            boltPath,
		"sqlite_path":          sqlitePath,
		"mtls_cert":            mtlsCert,
		"mtls_key":             mtlsKey,
		"mtls_ca":              mtlsCA,
		"api_addr":             apiAddr,
		"metrics_addr":         metricsAddr,
		"otel_endpoint":        otelEndpoint,
		"otel_service":         otelService,
		"otel_insecure":        otelInsecure,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, version, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("version", version)
	healthHandler.SetMetadata("input", cfg.Input)

	// Core pipeline.
	clk := clock.Real{}
	reg := registry.New(cfg.DedupWindow())
	cls := classify.New(cfg.Rules(), cfg.UnknownLifetime())

	geo, err := buildGeocoder(ctx, cfg, log)
	if err != nil {
		log.Fatalw("geocoder init", "err", err)
	}

	var shared dedup.Shared
	var redisPing func(context.Context) error
	if cfg.RedisAddr != "" {
		rd, err := dedup.NewRedis(cfg.RedisAddr, cfg.DedupWindow(), log)
		if err != nil {
			log.Fatalw("redis dedup init", "err", err)
		}
		defer rd.Close()
		shared = rd
		redisPing = rd.Ping
		log.Infow("redis dedup enabled", "addr", cfg.RedisAddr)
	}
	healthHandler.RegisterChecker("redis", health.NewPingChecker("redis", redisPing))

	tr := tracker.New(reg, tracker.Options{
		Classifier:     cls,
		Geocoder:       geo,
		Resolver:       resolve.New(cfg.Resolver),
		Engine:         lifecycle.New(cls, cfg.Lifecycle()),
		Shared:         shared,
		Clock:          clk,
		GeocodeTimeout: cfg.GeocodeTimeout(),
		Log:            log,
	})

	// NATS is shared by the inbound source and the publisher.
	var nc *nats.Conn
	if cfg.Input == config.InputNATS || cfg.NATSPublishPrefix != "" {
		if cfg.NATSURL == "" {
			log.Fatalw("nats_url is required for nats_publish_prefix")
		}
		nc, err = transport.Connect(cfg.NATSURL, "skywatch", log)
		if err != nil {
			log.Fatalw("nats connect", "url", cfg.NATSURL, "err", err)
		}
		defer nc.Close()
		healthHandler.RegisterChecker("nats", health.NewPingChecker("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("status %s", nc.Status())
			}
			return nil
		}))
	}
	var natsPub *transport.NATSPublisher
	if nc != nil && cfg.NATSPublishPrefix != "" {
		natsPub = transport.NewNATSPublisher(nc, cfg.NATSPublishPrefix, log)
	}

	gateway, closers, err := buildGateway(cfg, natsPub, log)
	if err != nil {
		log.Fatalw("sync gateway init", "err", err)
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	syncer := emit.NewSyncer(reg, gateway, clk, cfg.SyncSchedule, log)
	healthHandler.RegisterChecker("sync", health.NewPingChecker("sync", func(context.Context) error {
		_, err := syncer.Status()
		return err
	}))

	hub := api.NewHub(log)
	tr.Subscribe(hub.Publish)
	if natsPub != nil {
		tr.Subscribe(natsPub.PublishChange)
	}
	tr.Subscribe(func(c types.Change) {
		if c.Kind == types.ChangeCleared {
			syncer.Notify()
		}
	})

	jan := janitor.New(reg, clk, cfg.JanitorInterval(), log)
	jan.OnEvict(func(ids []string) {
		c := types.Change{Kind: types.ChangeEvicted, IDs: ids, At: clk.Now()}
		hub.Publish(c)
		if natsPub != nil {
			natsPub.PublishChange(c)
		}
		syncer.Notify()
	})
	healthHandler.RegisterChecker("janitor", health.NewFreshnessChecker(jan.LastRun, 3*jan.Interval()))

	src, closeSrc, err := buildSource(cfg, nc, log)
	if err != nil {
		log.Fatalw("input init", "input", cfg.Input, "err", err)
	}
	defer closeSrc()

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(ctx, cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	// Background workers stop on runCtx; the source may end it early.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil {
				log.Warnw("worker stopped with error", "worker", name, "err", err)
			}
		}()
	}
	start("hub", func(c context.Context) error { hub.Run(c); return nil })
	start("janitor", func(c context.Context) error { jan.Run(c); return nil })
	start("syncer", syncer.Run)
	if cfg.APIAddr != "" {
		srv := api.New(tr, hub, log)
		start("api", func(c context.Context) error { return srv.ListenAndServe(c, cfg.APIAddr) })
	}

	log.Infow("starting skywatch",
		"input", cfg.Input,
		"dedup_window", cfg.DedupWindow(),
		"sync_schedule", cfg.SyncSchedule,
		"config_file", configFile,
	)
	healthHandler.SetReady(true)

	stats := progress.NewStats(progress.DefaultLogInterval)
	handle := func(c context.Context, ev types.Event) error {
		res, err := tr.Ingest(c, ev)
		stats.Record(res, err)
		if stats.ShouldLog() {
			log.Infow(stats.LogAndReset(), "active", len(tr.ListActive()))
		}
		return err
	}
	if err := src.Run(runCtx, handle); err != nil && runCtx.Err() == nil {
		log.Warnw("input stopped with error", "err", err)
	}
	bounded := cfg.Input == config.InputStdin || cfg.Input == config.InputFile
	if bounded && linger && runCtx.Err() == nil {
		log.Infow("input finished, serving until signalled")
		<-runCtx.Done()
	}

	healthHandler.SetReady(false)
	stop()
	wg.Wait()
	log.Infow(stats.Summary())
	log.Infow("shutdown complete", "targets", len(tr.ListActive()))
}

func buildGeocoder(ctx context.Context, cfg *config.Config, log *logging.Logger) (geocode.Geocoder, error) {
	static, err := geocode.NewStatic()
	if err != nil {
		return nil, err
	}
	if cfg.Gazetteer != "" {
		if err := static.Load(cfg.Gazetteer); err != nil {
			return nil, fmt.Errorf("gazetteer %s: %w", cfg.Gazetteer, err)
		}
		if err := static.Watch(ctx, cfg.Gazetteer, log); err != nil {
			log.Warnw("gazetteer watch disabled", "path", cfg.Gazetteer, "err", err)
		}
	}
	log.Infow("gazetteer loaded", "entries", static.Len())
	chain := geocode.Chain{static}
	if cfg.GeocoderURL != "" {
		client := httpclient.NewResilientClient(httpclient.Default(), cfg.UA)
		burst := int(cfg.GeocoderRate)
		if burst < 1 {
			burst = 1
		}
		nom := geocode.NewNominatim(cfg.GeocoderURL, cfg.GeocoderCountries, client, rate.New(cfg.GeocoderRate, burst))
		chain = append(chain, geocode.NewCached(nom, cfg.GeocodeCacheSize, time.Duration(cfg.GeocodeCacheTTLMin)*time.Minute))
		log.Infow("remote geocoder enabled", "url", cfg.GeocoderURL)
	}
	return chain, nil
}

// buildGateway assembles every configured sink. With none configured the
// snapshot is printed to stdout.
func buildGateway(cfg *config.Config, natsPub *transport.NATSPublisher, log *logging.Logger) (emit.Gateway, []func(), error) {
	format, err := output.ParseFormat(cfg.SnapshotFormat)
	if err != nil {
		return nil, nil, err
	}
	var multi emit.Multi
	var closers []func()

	if cfg.SnapshotFile != "" {
		multi = append(multi, emit.Named{Name: "file", Gateway: output.NewFileSink(cfg.SnapshotFile, format)})
	}
	if cfg.GitRepo != "" {
		multi = append(multi, emit.Named{Name: "git", Gateway: output.NewGitPublisher(output.GitOptions{
			Repo:   cfg.GitRepo,
			File:   cfg.GitFile,
			Format: format,
			Remote: cfg.GitRemote,
			Branch: cfg.GitBranch,
			Author: cfg.GitAuthor,
		}, log)})
	}
	if cfg.Ingest != "" {
		h, err := emit.NewHTTP(cfg.Ingest, cfg.SpoolDir, emit.TLSFiles{Cert: cfg.MTLSCert, Key: cfg.MTLSKey, CA: cfg.MTLSCA}, log)
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := h.Drain(ctx); err != nil {
			log.Warnw("spool replay failed", "err", err)
		}
		cancel()
		multi = append(multi, emit.Named{Name: "http", Gateway: h})
	}
	if cfg.BoltPath != "" {
		b, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = b.Close() })
		multi = append(multi, emit.Named{Name: "bolt", Gateway: b})
	}
	if cfg.SQLitePath != "" {
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = s.Close() })
		multi = append(multi, emit.Named{Name: "sqlite", Gateway: s})
	}
	if natsPub != nil {
		multi = append(multi, emit.Named{Name: "nats", Gateway: natsPub})
	}
	if len(multi) == 0 {
		log.Infow("no sync sink configured, printing snapshots to stdout")
		return emit.GatewayFunc(func(_ context.Context, records []emit.Record) error {
			return output.WriteRecords(os.Stdout, format, records)
		}), closers, nil
	}
	return multi, closers, nil
}

func buildSource(cfg *config.Config, nc *nats.Conn, log *logging.Logger) (transport.Source, func(), error) {
	noop := func() {}
	switch cfg.Input {
	case config.InputFile:
		f, err := os.Open(cfg.InputFile)
		if err != nil {
			return nil, nil, err
		}
		return transport.NewLines(f, log), func() { f.Close() }, nil
	case config.InputNATS:
		return transport.NewNATS(nc, cfg.NATSSubject, log), noop, nil
	case config.InputRedis:
		q, err := queue.NewRedis(cfg.RedisQueueAddr, cfg.RedisQueueKey)
		if err != nil {
			return nil, nil, err
		}
		log.Infow("redis queue enabled", "addr", cfg.RedisQueueAddr, "key", cfg.RedisQueueKey)
		return transport.NewRedisQueue(q, log), func() { _ = q.Close() }, nil
	default:
		return transport.NewLines(os.Stdin, log), noop, nil
	}
}
