package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mtmcore/mtmcore/admin"
	"github.com/mtmcore/mtmcore/apply"
	"github.com/mtmcore/mtmcore/barrier"
	"github.com/mtmcore/mtmcore/catalog"
	"github.com/mtmcore/mtmcore/cfg"
	"github.com/mtmcore/mtmcore/coordinator"
	"github.com/mtmcore/mtmcore/deadlock"
	"github.com/mtmcore/mtmcore/devhost"
	"github.com/mtmcore/mtmcore/dmq"
	"github.com/mtmcore/mtmcore/hlc"
	"github.com/mtmcore/mtmcore/hooks"
	"github.com/mtmcore/mtmcore/membership"
	"github.com/mtmcore/mtmcore/nodemask"
	"github.com/mtmcore/mtmcore/referee"
	"github.com/mtmcore/mtmcore/resolver"
	"github.com/mtmcore/mtmcore/syncpoint"
	"github.com/mtmcore/mtmcore/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()
	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("mtmcored starting")
	telemetry.InitializeTelemetry()

	selfID := int(cfg.Config.NodeID)
	maxNodes := cfg.Config.Cluster.MaxNodes
	peerIDs := make([]int, 0, maxNodes-1)
	for id := 1; id <= maxNodes; id++ {
		if id != selfID {
			peerIDs = append(peerIDs, id)
		}
	}

	var queue dmq.Queue
	if cfg.Config.DMQ.NATSUrl != "" {
		nq, err := dmq.DialNATS(cfg.Config.DMQ.NATSUrl, selfID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to dial NATS DMQ transport")
			return
		}
		defer nq.Close()
		queue = nq
	} else {
		queue = dmq.NewMemQueue(dmq.NewMemBus(), selfID)
	}
	for _, peer := range peerIDs {
		if err := queue.AttachReceiver(fmt.Sprintf("peer%d", peer), peer); err != nil {
			log.Fatal().Err(err).Int("peer", peer).Msg("failed to attach DMQ receiver")
			return
		}
	}

	machine := membership.New(selfID, maxNodes)
	machine.ConfigLoaded()

	b := barrier.New()

	sendInterval := time.Duration(cfg.Config.Cluster.HeartbeatSendTimeoutMS) * time.Millisecond
	recvTimeout := time.Duration(cfg.Config.Cluster.HeartbeatRecvTimeoutMS) * time.Millisecond
	heartbeats := membership.NewHeartbeatTracker(machine, queue, sendInterval, recvTimeout, peerIDs)

	var refereeClient *referee.Client
	if cfg.RefereeEnabled() {
		refereeClient = referee.NewClient(cfg.Config.Referee.ConnString, selfID)
		log.Info().Str("referee", cfg.Config.Referee.ConnString).Msg("external referee configured for 2-node split-brain arbitration")
		if maxNodes == 2 {
			queue.OnDetach(func(peerID int) {
				epoch := uint64(time.Now().UnixNano())
				won, err := machine.ResolveSplitBrain(refereeClient, epoch)
				if err != nil {
					log.Warn().Err(err).Msg("referee arbitration failed")
					return
				}
				log.Info().Bool("won", won).Int("peer", peerID).Msg("referee arbitration resolved")
			})
			machine.OnPeerRejoin(func(peerID int) {
				if err := refereeClient.Surrender(); err != nil {
					log.Warn().Err(err).Int("peer", peerID).Msg("referee surrender failed")
					return
				}
				log.Info().Int("peer", peerID).Msg("referee grant surrendered, peer reachable again")
			})
		}
	}

	catalogPath := filepath.Join(cfg.Config.DataDir, "catalog.db")
	cat, err := catalog.Open(catalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog store")
		return
	}
	defer cat.Close()

	syncpointDir := filepath.Join(cfg.Config.DataDir, "syncpoint")
	sp, err := syncpoint.Open(syncpointDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open syncpoint store")
		return
	}
	defer sp.Close()

	guard := apply.NewGuard(b, devhost.ReplicationSubscriber{}, peerIDs...)

	local := devhost.LocalTwoPhase{}
	coord := coordinator.New(selfID, machine, b, queue, local)
	coord.Ineligible = guard.IneligibleMask
	coord.StopNewCommits = func() bool { return false }

	remoteFuncs, err := hooks.NewRemoteFunctionMatcher(cfg.Config.DDL.RemoteFunctions)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compile remote_functions patterns")
		return
	}
	coreHooks := hooks.NewCoreHooks("mtmcore", remoteFuncs, cfg.Config.Coordinator.MonotonicSequences)
	coreHooks.SetIneligibilityGate(guard.IneligibleMask)
	coreHooks.SetClock(hlc.NewClock(uint64(selfID)))

	graph := deadlock.NewLocalGraph()
	detector := deadlock.NewDetector(selfID, queue)
	reporter := deadlock.NewReporter(selfID, graph, machine, queue, detector)

	status := resolver.NewStatusTracker()
	res := resolver.New(selfID, machine, queue, local, status)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	peers := nodemask.Of(peerIDs...)
	go heartbeats.Run(ctx)
	go reporter.Run(ctx)
	go detector.RunInbox(ctx, peers)

	detectionInterval := time.Duration(cfg.Config.Deadlock.DetectionIntervalMS) * time.Millisecond
	go detector.Run(ctx, peers, detectionInterval)

	resolverInterval := time.Duration(cfg.Config.Resolver.PollIntervalMS) * time.Millisecond
	go res.Run(ctx, resolverInterval)

	for _, peer := range peerIDs {
		lsn, err := sp.Get(peer)
		if err != nil {
			log.Fatal().Err(err).Int("peer", peer).Msg("failed to read syncpoint for peer")
			return
		}
		if err := guard.OnPeerJoin(ctx, peer, lsn); err != nil {
			log.Fatal().Err(err).Int("peer", peer).Msg("failed to attach replication stream for peer")
			return
		}
	}

	machine.BeginRecovery()
	machine.CaughtUp()
	machine.GoOnline()
	log.Info().Int("self_id", selfID).Msg("node transitioned to ONLINE")

	admin.AuthSecret = os.Getenv("MTMCORE_ADMIN_SECRET")
	adminSrv := admin.NewServer(machine, detector, status, cat)
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, adminSrv)
	mux.Handle("/metrics", telemetry.GetMetricsHandler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
		Handler: mux,
	}
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("admin HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin HTTP server stopped")
		}
	}()

	// coord is held here for host-integration glue to call Commit on;
	// the standalone binary itself never originates a transaction.

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("admin HTTP server shutdown error")
	}
}
