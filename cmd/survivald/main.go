package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"survivald/internal/config"
	"survivald/internal/heartbeat"
	"survivald/internal/model"
	"survivald/internal/notifier"
	"survivald/internal/oracle"
	"survivald/internal/recorder"
	"survivald/internal/tier"
	"survivald/internal/treasury"
	"survivald/internal/work"
)

// recordingSink forwards work results to the treasury and the history
// recorder.
type recordingSink struct {
	treasury *treasury.Manager
	rec      recorder.Recorder
}

func (s *recordingSink) RecordWorkResult(r model.WorkResult) {
	s.treasury.RecordWorkResult(r)
	if err := s.rec.RecordWork(&r); err != nil {
		logrus.Errorf("record work result: %v", err)
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.Info("survivald starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("config validation: %v", err)
	}

	// Init oracle
	ledger := oracle.NewHTTPLedger(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.RequestsPerSecond)
	credit := oracle.NewHTTPCredit(cfg.Ledger.CreditURL, cfg.Ledger.APIKey)
	orc := oracle.NewOracle(ledger, credit)
	logrus.Infof("ledger client: %s", ledger.Name())

	// Init treasury
	tm, err := treasury.NewManager(cfg.Treasury.StateFile, cfg.Policy(), treasury.Options{
		ProfitShareThresholdUSD: *cfg.Treasury.ProfitShareThresholdUSD,
		MinWinRate:              *cfg.Treasury.MinWinRate,
		MinOperatingReserveUSD:  cfg.Treasury.MinOperatingReserveUSD,
		MinEmergencyReserveUSD:  cfg.Treasury.MinEmergencyReserveUSD,
	})
	if err != nil {
		logrus.Fatalf("init treasury: %v", err)
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			logrus.Warnf("init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init work engine sources
	ttl := time.Duration(cfg.Tiers.NormalTickMs) * time.Millisecond
	var sources []work.Source
	for _, sc := range cfg.Work.Sources {
		if sc.StreamURL != "" && model.Category(sc.Category) == model.CategoryTrading {
			ss := work.NewStreamSource(sc.URL, sc.StreamURL, ttl)
			go ss.Start(ctx)
			sources = append(sources, ss)
			continue
		}
		sources = append(sources, work.NewHTTPSource(model.Category(sc.Category), sc.URL, ttl))
	}

	engine := work.NewEngine(work.EngineConfig{
		Enabled:       cfg.Work.Enabled,
		MaxConcurrent: cfg.Work.MaxConcurrent,
		MinPayoutUSD:  *cfg.Work.MinPayoutUSD,
		JobTimeout:    cfg.JobTimeout(),
	}, sources, &recordingSink{treasury: tm, rec: rec})

	// Init tier classifier with configured tick intervals
	params := tier.DefaultParams()
	for t, ms := range map[model.SurvivalTier]int{
		model.TierNormal:     cfg.Tiers.NormalTickMs,
		model.TierLowCompute: cfg.Tiers.LowComputeTickMs,
		model.TierCritical:   cfg.Tiers.CriticalTickMs,
		model.TierDead:       cfg.Tiers.DeadPollMs,
	} {
		p := params[t]
		p.TickInterval = time.Duration(ms) * time.Millisecond
		params[t] = p
	}
	classifier := tier.NewClassifier(tier.Thresholds{
		CreditLow:     cfg.Tiers.CreditLow,
		CreditHigh:    cfg.Tiers.CreditHigh,
		TreasuryFloor: cfg.Tiers.TreasuryFloorUSD,
		TreasuryLow:   cfg.Tiers.TreasuryLowUSD,
		TreasuryHigh:  cfg.Tiers.TreasuryHighUSD,
		UpgradeMargin: cfg.Tiers.UpgradeMargin,
	}, params)

	// Init broadcaster
	broadcaster := notifier.NewWebhookBroadcaster(cfg.Webhook.URL)

	// Init heartbeat scheduler
	sched := heartbeat.NewScheduler(heartbeat.Config{
		DistressAfterTicks: cfg.Heartbeat.DistressAfterTicks,
		DistressMinGap:     time.Duration(cfg.Heartbeat.DistressMinGapMin) * time.Minute,
		CreatorAddress:     cfg.Treasury.CreatorAddress,
		WorkPriority:       model.Urgency(cfg.Work.Priority),
		ShutdownGrace:      time.Duration(cfg.Heartbeat.ShutdownGraceSec) * time.Second,
		SnapshotCron:       cfg.Heartbeat.SnapshotCron,
		DailyReportCron:    cfg.Heartbeat.DailyReportCron,
	}, orc, ledger, tm, engine, classifier, broadcaster, rec)
	if err := sched.RegisterMaintenance(); err != nil {
		logrus.Fatalf("register maintenance tasks: %v", err)
	}

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	logrus.Info("survivald is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logrus.Info("shutdown signal received, stopping...")
	cancel()
	<-done
	logrus.Info("survivald stopped")
}
