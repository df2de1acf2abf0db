package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/config"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/database"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/detector"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/feed"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/secif"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/sink"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/watchdog"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// pipeline wires the watchdog task to its state, findings and sinks.
type pipeline struct {
	state    *rpl.Table
	handle   *watchdog.Handle
	findings chan models.Finding
	sinks    *sink.Multi
	resolver database.NodeResolver
	drained  chan struct{}
	log      *logrus.Entry
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	p := &pipeline{
		state:    rpl.NewTable(),
		findings: make(chan models.Finding, cfg.Findings.Buffer),
		resolver: database.NewNullResolver(),
		drained:  make(chan struct{}),
		log:      logrus.WithField("component", "pipeline"),
	}

	if cfg.State.File != "" {
		instances, err := config.LoadState(cfg.State.File)
		if err != nil {
			return nil, err
		}
		p.state.Replace(instances)
		p.log.Infof("Loaded %d RPL instances from %s", len(instances), cfg.State.File)
	}

	// Registry overflow is a startup failure
	rules := watchdog.NewRuleEngine()
	if _, err := detector.RegisterRules(rules, p.state); err != nil {
		return nil, err
	}
	protectors := watchdog.NewProtectorEngine()
	if err := detector.RegisterProtectors(protectors); err != nil {
		return nil, err
	}

	validator, err := newValidator(cfg.Security, p.state)
	if err != nil {
		return nil, err
	}
	opts := []watchdog.DispatcherOption{watchdog.WithValidator(validator)}
	if cfg.Watchdog.KeepUnclaimed {
		opts = append(opts, watchdog.WithKeepUnclaimed())
	}
	dispatcher := watchdog.NewDispatcher(rules, protectors, opts...)

	p.sinks = sink.NewMulti(sink.NewLogSink(nil))
	if err := p.openSinks(cfg); err != nil {
		p.sinks.Close()
		return nil, err
	}

	classifier := detector.NewClassifier(p.findings)
	classifier.SetMinSeverity(cfg.Findings.MinSeverity)
	classifier.SetLabeler(p.resolver)

	wd := watchdog.New(dispatcher,
		watchdog.WithQueueSize(cfg.Watchdog.QueueSize),
		watchdog.WithReportFunc(classifier.Process),
	)
	// The task is stopped through the handle so queued events are drained
	p.handle = wd.Start(context.Background())

	go func() {
		defer close(p.drained)
		sink.Drain(context.Background(), p.findings, p.sinks)
	}()

	return p, nil
}

func newValidator(sc config.SecurityConfig, state rpl.State) (rpl.Validator, error) {
	if !sc.Enabled {
		return rpl.DefaultValidator{}, nil
	}

	prefix, err := netip.ParsePrefix(sc.DODAGPrefix)
	if err != nil {
		return nil, fmt.Errorf("security.dodag_prefix: %w", err)
	}
	trusted := make([]netip.Prefix, 0, len(sc.TrustedSenders))
	for _, s := range sc.TrustedSenders {
		t, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("security.trusted_senders: %w", err)
		}
		trusted = append(trusted, t)
	}

	registry := secif.NewRegistry(secif.WithVerifiedByDefault(sc.VerifiedByDefault))
	if _, err := registry.Register(secif.SenderAllowlist(trusted, sc.MaxRankDrop), prefix); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"component": "secif",
		"dodag":     prefix,
		"trusted":   len(trusted),
	}).Info("DIO parent verification enabled")
	return secif.NewValidator(nil, registry, state), nil
}

// openSinks connects the optional sinks. Unreachable Redis, PostgreSQL and
// MQTT backends are logged and skipped.
func (p *pipeline) openSinks(cfg *config.Config) error {
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			p.log.WithError(err).Warn("Invalid Redis URL")
		} else {
			redisClient = redis.NewClient(opt)
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				p.log.WithError(err).Warn("Redis connection failed, counting in memory")
				redisClient.Close()
				redisClient = nil
			} else {
				p.log.Infof("Connected to Redis: %s", cfg.Redis.URL)
			}
		}
	}
	p.sinks.Add(sink.NewErrorCounter(redisClient))

	if cfg.Database.URL != "" {
		writer, err := database.NewFindingWriter(cfg.Database.URL)
		if err != nil {
			p.log.WithError(err).Warn("Database connection failed")
		} else {
			writer.Start()
			p.sinks.Add(writer)
		}
	}

	// Priority: CSV file > Database > Null
	switch {
	case cfg.Nodes.File != "":
		r, err := database.NewFileResolver(cfg.Nodes.File)
		if err != nil {
			p.log.WithError(err).Warnf("Failed to load node labels from %s", cfg.Nodes.File)
		} else {
			p.resolver = r
		}
	case cfg.Database.URL != "":
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			p.log.WithError(err).Warn("Node resolver database connection failed")
		} else {
			r := database.NewDatabaseResolver(db, cfg.Database.NodesTable)
			r.Start()
			p.resolver = r
		}
	}

	if cfg.MQTT.Broker != "" {
		s, err := sink.NewMQTTSink(cfg.MQTT)
		if err != nil {
			p.log.WithError(err).Warn("MQTT connection failed")
		} else {
			p.sinks.Add(s)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		s, err := sink.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return err
		}
		p.sinks.Add(s)
	}
	return nil
}

// submit queues a captured frame, blocking while the queue is full.
func (p *pipeline) submit(ctx context.Context, f feed.Frame) error {
	return p.handle.Submit(ctx, watchdog.Event{Type: watchdog.EventPacket, Packet: f.Envelope})
}

// close stops the task, flushes findings and closes the sinks.
func (p *pipeline) close() {
	p.handle.Stop()
	close(p.findings)
	<-p.drained

	if err := p.sinks.Close(); err != nil {
		p.log.WithError(err).Warn("Closing sinks")
	}
	p.resolver.Stop()

	stats := p.handle.Stats()
	p.log.Infof("Final stats: received=%d, cycles=%d, reports=%d, invalid=%d, aborted=%d, dropped=%d",
		stats.Received, stats.Cycles, stats.Reports, stats.ValidationFailures, stats.Aborted, stats.Dropped)
}
