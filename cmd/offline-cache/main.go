// Command offline-cache inspects and manages an offline cache database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/gigview/offline-cache/cache"
	"github.com/gigview/offline-cache/service"
)

var cli struct {
	ConfigPath string `help:"Directory to search for config.yaml." default:"." env:"OFFLINE_CACHE_CONFIG_PATH"`
	DB         string `help:"Override the bolt database file path."`
	LogLevel   string `help:"Log level (debug, info, warn, error)." default:"warn" enum:"debug,info,warn,error"`
	NoColor    bool   `help:"Disable colored log output."`

	Status statusCmd `cmd:"" help:"Show connectivity, last sync time, and queue depth."`
	Keys   keysCmd   `cmd:"" help:"List all keys in the store."`
	Get    getCmd    `cmd:"" help:"Print a cached entry and its metadata."`
	Queue  queueCmd  `cmd:"" help:"List pending offline actions."`
	Drain  drainCmd  `cmd:"" help:"Replay pending offline actions against the API."`
	Clear  clearCmd  `cmd:"" help:"Remove cached listings, and per-user data when --user is given."`
}

type cliContext struct {
	ctx context.Context
	svc *service.Service
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("offline-cache"),
		kong.Description("Inspect and manage an offline cache database."),
		kong.UsageOnError(),
	)

	var level slog.Level
	switch cli.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: cli.NoColor,
	}))

	cfg, err := loadConfig(cli.ConfigPath, logger)
	kctx.FatalIfErrorf(err)
	if cli.DB != "" {
		cfg.StorePath = cli.DB
	}

	svc, err := service.New(cfg)
	kctx.FatalIfErrorf(err)
	defer svc.Close()

	err = kctx.Run(&cliContext{ctx: context.Background(), svc: svc})
	kctx.FatalIfErrorf(err)
}

type statusCmd struct{}

func (c *statusCmd) Run(cc *cliContext) error {
	online := cc.svc.Monitor.CheckConnection(cc.ctx)
	if online {
		fmt.Println("connectivity: online")
	} else {
		fmt.Println("connectivity: offline")
	}

	if last, ok := cc.svc.App.LastSync(cc.ctx); ok {
		fmt.Printf("last sync:    %s (%s ago)\n", last.Format(time.RFC3339), time.Since(last).Round(time.Second))
	} else {
		fmt.Println("last sync:    never")
	}

	fmt.Printf("queued:       %d action(s)\n", cc.svc.Queue.Len(cc.ctx))

	keys, err := cc.svc.Store.ListKeys(cc.ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}
	fmt.Printf("stored keys:  %d\n", len(keys))
	return nil
}

type keysCmd struct{}

func (c *keysCmd) Run(cc *cliContext) error {
	keys, err := cc.svc.Store.ListKeys(cc.ctx)
	if err != nil {
		return fmt.Errorf("listing keys: %w", err)
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

type getCmd struct {
	Key string `arg:"" help:"Store key to read."`
}

func (c *getCmd) Run(cc *cliContext) error {
	data, err := cc.svc.Store.Read(cc.ctx, c.Key)
	if err != nil {
		return fmt.Errorf("reading %q: %w", c.Key, err)
	}

	var env cache.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Not an envelope, print the raw record.
		fmt.Println(string(data))
		return nil
	}

	codec, err := cache.NewCodec()
	if err != nil {
		return fmt.Errorf("creating codec: %w", err)
	}
	defer codec.Close()

	payload, err := codec.DecodePayload(env.Payload, env.Encoding, env.Digest, env.Size)
	if err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}

	fmt.Printf("written:  %s\n", env.WrittenAt.Format(time.RFC3339))
	fmt.Printf("expires:  %s", env.ExpiresAt.Format(time.RFC3339))
	if time.Now().After(env.ExpiresAt) {
		fmt.Print(" (expired)")
	}
	fmt.Println()
	fmt.Printf("size:     %d bytes\n", env.Size)
	fmt.Printf("digest:   %s\n", env.Digest.ShortString())
	fmt.Println(string(payload))
	return nil
}

type queueCmd struct{}

func (c *queueCmd) Run(cc *cliContext) error {
	actions := cc.svc.Queue.Actions(cc.ctx)
	if len(actions) == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for _, action := range actions {
		fmt.Printf("%s  %-12s attempts=%d  created=%s\n",
			action.ID, action.Kind, action.Attempts, action.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

type drainCmd struct {
	Timeout time.Duration `help:"Overall drain deadline." default:"2m"`
}

func (c *drainCmd) Run(cc *cliContext) error {
	ctx, cancel := context.WithTimeout(cc.ctx, c.Timeout)
	defer cancel()

	result, err := cc.svc.Queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("draining queue: %w", err)
	}
	fmt.Printf("dispatched=%d failed=%d dropped=%d duration=%s\n",
		result.Dispatched, result.Failed, result.Dropped, result.Duration.Round(time.Millisecond))
	if remaining := cc.svc.Queue.Len(cc.ctx); remaining > 0 {
		fmt.Printf("%d action(s) still queued\n", remaining)
	}
	return nil
}

type clearCmd struct {
	User []string `help:"Also clear tickets and favorites for these user IDs."`
}

func (c *clearCmd) Run(cc *cliContext) error {
	if err := cc.svc.App.Clear(cc.ctx, c.User...); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Println("cleared")
	return nil
}
