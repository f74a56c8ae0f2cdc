// Command pulsebotd is the PulseBot runtime binary: the agent loop, the
// scheduled producers, and a handful of operator subcommands (`setup`,
// `init`, `task list`, `chat`) that exercise the same stream substrate a
// deployed channel adapter would.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pulsebot/internal/agentloop"
	"pulsebot/internal/config"
	"pulsebot/internal/embedding"
	"pulsebot/internal/kafkamirror"
	"pulsebot/internal/llm"
	"pulsebot/internal/memory"
	"pulsebot/internal/metastore"
	"pulsebot/internal/observability"
	"pulsebot/internal/perr"
	"pulsebot/internal/scheduled"
	"pulsebot/internal/skills"
	"pulsebot/internal/streamdb"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfgPath := os.Getenv("PULSEBOT_CONFIG")
	if cfgPath == "" {
		cfgPath = "pulsebot.yaml"
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(cfgPath)
	case "setup":
		err = runSetup(cfgPath)
	case "run":
		err = runAgent(cfgPath)
	case "serve":
		err = runServe()
	case "chat":
		err = runChat(cfgPath)
	case "task":
		err = runTask(cfgPath, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Msg("pulsebotd")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pulsebotd <run|serve|chat|setup|init|task list>")
}

func runInit(cfgPath string) error {
	if _, err := os.Stat(cfgPath); err == nil {
		return perr.New(perr.ConfigError, "config file already exists: "+cfgPath)
	}
	return config.WriteDefault(cfgPath)
}

// runSetup idempotently creates the five append-only logs against the
// configured streaming database.
func runSetup(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Logging.Path, cfg.Logging.Level)

	db, err := dialStream(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := streamdb.EnsureSchema(ctx, db); err != nil {
		return err
	}
	log.Info().Msg("streams ready")
	return nil
}

// runAgent wires every long-lived task (the agent loop's tail, each
// scheduled producer) as a supervised errgroup and runs it until the
// process receives SIGINT/SIGTERM or a task returns an unrecoverable
// error (ConfigError/SchemaMismatch per §7).
func runAgent(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Logging.Path, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		shutdown, err := observability.InitOTel(ctx, cfg.OTel)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without it")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	db, err := dialStream(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := streamdb.EnsureSchema(ctx, db); err != nil {
		return err
	}

	mirror, err := kafkamirror.New(cfg.KafkaMirror)
	if err != nil {
		return err
	}
	defer mirror.Close()
	mirrored := kafkamirror.Wrap(db, mirror)

	httpClient := observability.NewHTTPClient(nil)

	provider, err := llm.New(cfg.Agent.Provider, cfg, httpClient)
	if err != nil {
		return err
	}

	var skillsRDB *redis.Client
	if cfg.Skills.RedisAddr != "" {
		skillsRDB = redis.NewClient(&redis.Options{Addr: cfg.Skills.RedisAddr})
	}
	reg, err := skills.Build(ctx, cfg.Skills, cfg.Search, ".", nil, httpClient, skillsRDB)
	if err != nil {
		return err
	}

	mem, err := buildMemory(ctx, mirrored, cfg, httpClient)
	if err != nil {
		return err
	}

	loop := agentloop.New(mirrored, provider, reg, mem, cfg.Agent)
	if cfg.Database.MetastoreDSN != "" {
		dir, err := metastore.Open(ctx, cfg.Database.MetastoreDSN)
		if err != nil {
			log.Warn().Err(err).Msg("metastore unreachable, using raw session ids")
		} else {
			defer dir.Close()
			loop.WithSessionDirectory(dir)
		}
	}

	sched := scheduled.New(mirrored, cfg.Agent, cfg.ScheduledTasks)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// runServe reports that the HTTP/WebSocket façade is an out-of-scope
// external collaborator (§1): the core exposes the message log's `target`
// convention as its entire contract, but does not implement the façade
// itself.
func runServe() error {
	return perr.New(perr.ConfigError, "serve: the HTTP/WebSocket façade is an external collaborator; "+
		"point it at the message log using the target convention (agent, channel:<name>, broadcast) "+
		"and, optionally, the kafka_mirror")
}

// runChat is a local interactive client: it appends user_input rows to a
// fixed session and prints agent_response rows as they arrive, exercising
// the same message-log contract a channel adapter would use.
func runChat(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Logging.Path, cfg.Logging.Level)

	db, err := dialStream(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	const sessionID = "cli-chat"
	cursor, err := db.Tail(ctx, streamdb.MessageStream, "target = 'channel:cli'", streamdb.SeekLatestAt())
	if err != nil {
		return err
	}
	defer cursor.Cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case row, ok := <-cursor.Rows:
				if !ok {
					return
				}
				if row.String("message_type") != "agent_response" {
					continue
				}
				var content struct {
					Text string `json:"text"`
				}
				_ = json.Unmarshal([]byte(row.String("content")), &content)
				fmt.Println(cfg.Agent.Name + ": " + content.Text)
			}
		}
	}()

	fmt.Println("Connected. Type a message and press Enter; Ctrl-C to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		content, _ := json.Marshal(map[string]any{"text": text})
		if err := db.Append(ctx, streamdb.MessageStream, streamdb.Row{
			"id":           streamdb.NewID(),
			"source":       "cli",
			"target":       "agent",
			"session_id":   sessionID,
			"message_type": "user_input",
			"content":      string(content),
		}); err != nil {
			log.Error().Err(err).Msg("send failed")
		}
	}
	return nil
}

// runTask implements `task list`: prints the configured scheduled tasks
// and whether each is enabled.
func runTask(cfgPath string, args []string) error {
	if len(args) != 1 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "usage: pulsebotd task list")
		return perr.New(perr.ConfigError, "unknown task subcommand")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	for name, t := range cfg.ScheduledTasks {
		schedule := t.Cron
		if schedule == "" {
			schedule = t.Interval
		}
		fmt.Printf("%-16s enabled=%-5v schedule=%s\n", name, t.Enabled, schedule)
	}
	return nil
}

func dialStream(cfg config.Config) (*streamdb.ClickHouseClient, error) {
	return streamdb.Dial(streamdb.DSN{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.StreamPort,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		DialTimeout: time.Duration(cfg.Database.DialTimeoutSec) * time.Second,
	})
}

func buildMemory(ctx context.Context, db streamdb.Client, cfg config.Config, httpClient *http.Client) (*memory.Manager, error) {
	if !cfg.Memory.Enabled {
		return memory.New(db, nil, cfg.Memory.SimilarityThreshold), nil
	}

	pc := cfg.Providers[cfg.Memory.EmbeddingProvider]
	embedder := embedding.NewHTTP(embedding.HTTPConfig{
		BaseURL:  pc.Host,
		APIKey:   pc.APIKey,
		Model:    cfg.Memory.EmbeddingModel,
		Provider: cfg.Memory.EmbeddingProvider,
		Timeout:  time.Duration(cfg.Memory.EmbeddingTimeoutSec) * time.Second,
		Client:   httpClient,
	})

	var prov embedding.Provider = embedder
	if cfg.Memory.EmbeddingCacheRedis != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Memory.EmbeddingCacheRedis})
		prov = embedding.NewCache(embedder, rdb, 24*time.Hour)
	}

	var opts []memory.Option
	if cfg.Memory.QdrantURL != "" {
		dims := cfg.Memory.DimensionOverride
		mirror, err := memory.NewQdrantMirror(ctx, cfg.Memory.QdrantURL, cfg.Memory.QdrantCollection, dims)
		if err != nil {
			log.Warn().Err(err).Msg("qdrant mirror unavailable, falling back to full-scan search")
		} else {
			opts = append(opts, memory.WithMirror(mirror))
		}
	}

	return memory.New(db, prov, cfg.Memory.SimilarityThreshold, opts...), nil
}
