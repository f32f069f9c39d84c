package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zimokernel/tickwire/pkg/channel"
	"github.com/zimokernel/tickwire/pkg/config"
	"github.com/zimokernel/tickwire/pkg/connection"
	"github.com/zimokernel/tickwire/pkg/observability"
	"github.com/zimokernel/tickwire/pkg/tick"
	"github.com/zimokernel/tickwire/pkg/transport"
	"github.com/zimokernel/tickwire/pkg/transport/middleware"
)

// run drives a complete in-process session: two connections over a local
// link, shaped by the configured conditioner and compression, stepping a
// fixed-tick loop until the duration elapses.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("tickwire-sim started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(opts.MetricsAddr, mux); err != nil {
				zap.L().Error("metrics server stopped", zap.Error(err))
			}
		}()
		zap.L().Info("serving metrics", zap.String("addr", opts.MetricsAddr))
	}

	ta, tb := transport.NewLocalPair()
	cond := middleware.ConditionerConfig{
		Latency: time.Duration(cfg.Conditioner.LatencyMS) * time.Millisecond,
		Jitter:  time.Duration(cfg.Conditioner.JitterMS) * time.Millisecond,
		Loss:    cfg.Conditioner.Loss,
	}
	comp := middleware.CompressionConfig{Algorithm: cfg.Compression.Algorithm, Level: cfg.Compression.Level}

	sendA, recvA, err := middleware.Apply(ta, &cond, comp)
	if err != nil {
		zap.L().Error("failed to build client middleware", zap.Error(err))
		return 1
	}
	sendB, recvB, err := middleware.Apply(tb, &cond, comp)
	if err != nil {
		zap.L().Error("failed to build server middleware", zap.Error(err))
		return 1
	}

	client, err := buildConnection(cfg, sendA, metrics, logger.Named("client"))
	if err != nil {
		zap.L().Error("failed to build client connection", zap.Error(err))
		return 1
	}
	server, err := buildConnection(cfg, sendB, metrics, logger.Named("server"))
	if err != nil {
		zap.L().Error("failed to build server connection", zap.Error(err))
		return 1
	}

	dataChannel, ok := pickDataChannel(cfg)
	if !ok {
		zap.L().Error("no channel available for payload traffic")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dt := time.Duration(cfg.Sync.TickIntervalMS) * time.Millisecond
	steps := int(opts.Duration / dt)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()

	var (
		delivered int
		syncedAt  tick.Tick
		wasSynced bool
	)
	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			zap.L().Info("interrupted")
			step = steps
		case <-ticker.C:
		}
		now := time.Now()
		cur := tick.Tick(step)

		client.PushInput(cur, []byte(fmt.Sprintf("input@%d", step)))
		if err := client.BufferSend(dataChannel, []byte(fmt.Sprintf("state@%d", step)), cur); err != nil {
			zap.L().Error("buffer send failed", zap.Error(err))
			return 1
		}

		if err := client.Update(dt, now, cur); err != nil {
			zap.L().Error("client update failed", zap.Error(err))
			return 1
		}
		if err := server.Update(dt, now, cur); err != nil {
			zap.L().Error("server update failed", zap.Error(err))
			return 1
		}

		if err := pump(recvA, client, now); err != nil {
			zap.L().Error("client receive failed", zap.Error(err))
			return 1
		}
		if err := pump(recvB, server, now); err != nil {
			zap.L().Error("server receive failed", zap.Error(err))
			return 1
		}

		for {
			if _, ok := server.ReadMessage(dataChannel); !ok {
				break
			}
			delivered++
		}

		if !wasSynced && client.IsSynced() {
			wasSynced = true
			syncedAt = cur
			predicted, _ := client.PredictedRemoteTick(now)
			zap.L().Info("client synced",
				zap.Uint16("tick", uint16(cur)),
				zap.Duration("rtt", client.RTT()),
				zap.Uint16("predicted_remote_tick", uint16(predicted)))
		}
	}

	zap.L().Info("session finished",
		zap.Int("steps", steps),
		zap.Int("delivered", delivered),
		zap.Bool("synced", client.IsSynced()),
		zap.Uint16("synced_at_tick", uint16(syncedAt)),
		zap.Duration("rtt", client.RTT()))
	return 0
}

func buildConnection(cfg *config.Config, sender transport.PacketSender, m *observability.Metrics, log *zap.Logger) (*connection.Connection, error) {
	b := channel.NewBuilder().WithMetrics(m)
	for _, ch := range cfg.Channels {
		kind, err := channel.ParseKind(ch.Kind)
		if err != nil {
			return nil, err
		}
		var opts []channel.EngineOption
		if ch.ResendIntervalMS > 0 {
			opts = append(opts, channel.WithResendInterval(time.Duration(ch.ResendIntervalMS)*time.Millisecond))
		}
		b.Add(ch.ID, kind, opts...)
	}
	reg, err := b.Build()
	if err != nil {
		return nil, err
	}
	return connection.New(connection.Config{
		Registry:    reg,
		Sender:      sender,
		MTU:         cfg.MTU,
		SyncChannel: cfg.Sync.ChannelID,
		Sync: connection.SyncTuning{
			NumProbes:       cfg.Sync.NumProbes,
			ProbeInterval:   time.Duration(cfg.Sync.ProbeIntervalMS) * time.Millisecond,
			TickInterval:    time.Duration(cfg.Sync.TickIntervalMS) * time.Millisecond,
			ResyncThreshold: cfg.Sync.ResyncThresholdTicks,
		},
		InputDepth: cfg.InputDepth,
		Logger:     log,
		Metrics:    m,
	})
}

// pickDataChannel prefers a channel not claimed by sync traffic.
func pickDataChannel(cfg *config.Config) (uint8, bool) {
	for _, ch := range cfg.Channels {
		if ch.ID != cfg.Sync.ChannelID {
			return ch.ID, true
		}
	}
	return 0, false
}

func pump(r transport.PacketReceiver, c *connection.Connection, now time.Time) error {
	for {
		data, _, ok, err := r.Recv()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := c.RecvPacket(data, now); err != nil {
			return err
		}
	}
}
