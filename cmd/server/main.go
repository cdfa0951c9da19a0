package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"meshworld.ai/internal/actors"
	"meshworld.ai/internal/config"
	"meshworld.ai/internal/location"
	"meshworld.ai/internal/persistence/ticklog"
	"meshworld.ai/internal/sim/shard"
	"meshworld.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/netcore.yaml", "node config path (empty for built-in defaults)")
		addr       = flag.String("addr", ":8080", "http listen address")
		logLevel   = flag.String("log_level", "info", "log level: debug, info, warn, error")
		nodeID     = flag.String("node", "", "node id override")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}

	ctx, cancel := signalContext()
	defer cancel()

	dir, closeDir, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		logger.Error("location directory", "backend", cfg.Location.Backend, "err", err)
		os.Exit(1)
	}
	defer closeDir()

	opts := actors.Options{
		NodeID:        cfg.NodeID,
		WorldID:       cfg.WorldID,
		TickPeriod:    cfg.TickPeriod(),
		NotifyRadius:  cfg.NotificationRadius,
		Epsilon:       cfg.MovementEpsilon,
		DefaultRadius: cfg.DefaultRadius,
		Recipients:    cfg.RecipientFilter(),
		MailboxSize:   cfg.MailboxSize,
		Retry:         cfg.RetryPolicy(),
		Directory:     dir,
		Logger:        logger,
	}
	for _, z := range cfg.Zones {
		opts.Zones = append(opts.Zones, actors.ZoneOptions{ID: z.ID, Name: z.Name, CapacityHint: z.CapacityHint})
	}
	if cfg.TickLog.Enabled {
		tl := ticklog.New(cfg.TickLog.Dir)
		defer func() {
			if err := tl.Close(); err != nil {
				logger.Error("ticklog close", "err", err)
			}
		}()
		opts.TickLog = tl
		go func() {
			if err := tl.FlushEvery(ctx, ticklog.DefaultFlushInterval); err != nil && ctx.Err() == nil {
				logger.Error("ticklog flush", "err", err)
			}
		}()
	}

	node, err := actors.NewNode(ctx, opts)
	if err != nil {
		logger.Error("node", "err", err)
		os.Exit(1)
	}
	defer node.Close()

	go func() {
		if err := node.Run(ctx); err != nil {
			logger.Error("node stopped", "err", err)
			cancel()
		}
	}()

	wsSrv := ws.NewServer(node, node.Dispatcher, logger.With("component", "ws"))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, node, wsSrv.Stats())
	})

	enableAdminHTTP := envBool("MW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("MW_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(adminState(node))
		})
		mux.HandleFunc("/admin/v1/zones/pause", zoneToggle(node, true))
		mux.HandleFunc("/admin/v1/zones/resume", zoneToggle(node, false))
	} else {
		logger.Info("admin endpoints disabled (MW_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", "addr", *addr, "node", cfg.NodeID, "world", cfg.WorldID, "zones", len(cfg.Zones), "tick", cfg.TickPeriod())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", "err", err)
		os.Exit(1)
	}
}

// openDirectory builds the configured location directory. The returned func
// releases it; for sqlite it also withdraws this node's registrations.
func openDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger) (location.Directory, func(), error) {
	if cfg.Location.Backend != "sqlite" {
		return location.NewLocalDirectory(), func() {}, nil
	}
	d, err := location.OpenSQLite(cfg.Location.SQLitePath, cfg.NodeID, cfg.PropagationInterval(), logger)
	if err != nil {
		return nil, nil, err
	}
	// A previous run of this node may have crashed without cleaning up.
	if n, err := d.PurgeNode(ctx, cfg.NodeID); err != nil {
		_ = d.Close()
		return nil, nil, err
	} else if n > 0 {
		logger.Warn("purged stale registrations", "node", cfg.NodeID, "rows", n)
	}
	return d, func() {
		ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := d.PurgeNode(ctx2, cfg.NodeID); err != nil {
			logger.Warn("purge on shutdown", "err", err)
		}
		_ = d.Close()
	}, nil
}

type zoneState struct {
	Zone      uint32        `json:"zone"`
	State     string        `json:"state"`
	Residents int           `json:"residents"`
	Metrics   shard.Metrics `json:"metrics"`
}

func adminState(n *actors.Node) any {
	pop := n.Residency.Population()
	zones := make([]zoneState, 0, len(n.Zones()))
	for _, id := range n.Zones() {
		sh, _ := n.Shard(id)
		zones = append(zones, zoneState{Zone: id, State: sh.State().String(), Residents: pop[id], Metrics: sh.Metrics()})
	}
	return struct {
		NodeID   string      `json:"node_id"`
		WorldID  string      `json:"world_id"`
		Sessions int         `json:"sessions"`
		Zones    []zoneState `json:"zones"`
	}{
		NodeID:   n.ID(),
		WorldID:  n.WorldID(),
		Sessions: n.SessionCount(),
		Zones:    zones,
	}
}

// zoneToggle pauses or resumes the zone named by ?zone=<id>.
func zoneToggle(n *actors.Node, pause bool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseUint(r.URL.Query().Get("zone"), 10, 32)
		if err != nil {
			http.Error(rw, "bad zone", http.StatusBadRequest)
			return
		}
		sh, ok := n.Shard(uint32(id))
		if !ok {
			http.Error(rw, "unknown zone", http.StatusNotFound)
			return
		}
		if pause {
			sh.Pause()
		} else {
			sh.Resume()
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"zone": id, "paused": sh.Paused()})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
