package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/roelfdiedericks/pagebot/internal/bot"
	"github.com/roelfdiedericks/pagebot/internal/broadcast"
	"github.com/roelfdiedericks/pagebot/internal/commands"
	"github.com/roelfdiedericks/pagebot/internal/completion"
	"github.com/roelfdiedericks/pagebot/internal/config"
	pbhttp "github.com/roelfdiedericks/pagebot/internal/http"
	. "github.com/roelfdiedericks/pagebot/internal/logging"
	"github.com/roelfdiedericks/pagebot/internal/members"
	"github.com/roelfdiedericks/pagebot/internal/messenger"
	"github.com/roelfdiedericks/pagebot/internal/reporter"
	"github.com/roelfdiedericks/pagebot/internal/store"
	"github.com/roelfdiedericks/pagebot/internal/webhook"
)

const version = "0.1.0"

// Globals are flags shared by every command
type Globals struct {
	Config   string `help:"Path to the TOML config file (default pagebot.toml if present)." env:"PAGEBOT_CONFIG" type:"path"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error)." name:"log-level"`
}

// CLI is the command tree
type CLI struct {
	Globals

	Serve      ServeCmd     `cmd:"" default:"1" help:"Run the webhook server (default)."`
	Version    VersionCmd   `cmd:"" help:"Print the version."`
	ShowConfig ConfigCmd    `cmd:"" name:"config" help:"Print the effective configuration with secrets masked."`
	Members    MembersCmd   `cmd:"" help:"Print member and subscriber counts from the store file."`
	Broadcast  BroadcastCmd `cmd:"" help:"Send the broadcast to all subscribers once, now."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pagebot"),
		kong.Description("Messenger page bot: slash commands, member registration and scheduled broadcasts."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// setupLogging applies the configured level, letting --log-level win.
func (g *Globals) setupLogging(cfg *config.Config) {
	level := cfg.Logging.Level
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	logCfg := DefaultLogConfig()
	logCfg.Level = ParseLevel(level)
	logCfg.ShowCaller = logCfg.Level >= LevelDebug
	Init(logCfg)
}

func (g *Globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	g.setupLogging(cfg)
	L_object("config", cfg.Redacted())
	return cfg, nil
}

// loadUnchecked is load without validation, for inspection commands.
func (g *Globals) loadUnchecked() (*config.Config, error) {
	cfg, err := config.LoadUnchecked(g.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	g.setupLogging(cfg)
	return cfg, nil
}

func newSender(cfg *config.Config) *messenger.GraphClient {
	return messenger.NewGraphClient(messenger.GraphConfig{
		BaseURL:     cfg.Messenger.BaseURL,
		APIVersion:  cfg.Messenger.APIVersion,
		AccessToken: cfg.Messenger.AccessToken,
	})
}

func closeStore(st store.Store) {
	if c, ok := st.(io.Closer); ok {
		if err := c.Close(); err != nil {
			L_warn("store: close failed", "error", err)
		}
	}
}

// ServeCmd runs the bot
type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	L_info("pagebot %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenDriver(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer closeStore(st)
	if fs, ok := st.(*store.FileStore); ok && cfg.Store.Watch {
		go func() {
			if err := fs.Watch(ctx); err != nil {
				L_warn("store: watcher stopped", "error", err)
			}
		}()
	}

	sender := newSender(cfg)
	rep := reporter.New(sender, cfg.Bot.AdminID, cfg.Bot.ErrorReportURL)
	ai := completion.NewOpenAIClient(completion.Config{
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		BaseURL:   cfg.AI.BaseURL,
		MaxTokens: cfg.AI.MaxTokens,
	})
	loc := cfg.Location()

	router := commands.NewManager(&commands.Env{
		Store:             st,
		Completer:         ai,
		BotName:           cfg.Bot.Name,
		OwnerName:         cfg.Bot.OwnerName,
		AdminID:           cfg.Bot.AdminID,
		Location:          loc,
		BroadcastInterval: cfg.BroadcastInterval(),
	})
	registrar := members.NewRegistrar(st, sender, cfg.Bot.Name)
	proc := bot.NewProcessor(registrar, router, sender, rep)
	wh := webhook.NewHandler(cfg.Messenger.VerifyToken, cfg.Messenger.AppSecret, proc, rep)

	var sched *broadcast.Scheduler
	if cfg.Broadcast.Disabled {
		L_info("broadcast: disabled")
	} else {
		sched = broadcast.New(broadcast.Config{
			Store:    st,
			Sender:   sender,
			Reporter: rep,
			Interval: cfg.BroadcastInterval(),
			Location: loc,
		})
		if err := sched.Start(); err != nil {
			return err
		}
	}

	srv := pbhttp.NewServer(&pbhttp.ServerConfig{Listen: cfg.ListenAddr()}, wh, st)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}
	L_info("pagebot ready", "addr", srv.Addr(), "members", st.MemberCount(), "subscribers", st.SubscriberCount(), "ai", ai.Enabled())

	<-ctx.Done()
	SetShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if sched != nil {
		select {
		case <-sched.Stop().Done():
		case <-shutdownCtx.Done():
			L_warn("broadcast: tick still running at shutdown")
		}
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	if err := st.Flush(); err != nil {
		L_error("store: final flush failed", "error", err)
	}
	L_info("pagebot stopped")
	return nil
}

// VersionCmd prints the version
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("pagebot %s\n", version)
	return nil
}

// ConfigCmd prints the effective configuration
type ConfigCmd struct{}

func (c *ConfigCmd) Run(g *Globals) error {
	cfg, err := g.loadUnchecked()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		L_warn("config: invalid", "error", err)
	}
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

// MembersCmd prints store statistics
type MembersCmd struct {
	List bool `help:"Also list subscriber ids." short:"l"`
}

func (c *MembersCmd) Run(g *Globals) error {
	cfg, err := g.loadUnchecked()
	if err != nil {
		return err
	}
	st, err := store.OpenDriver(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer closeStore(st)
	fmt.Printf("store:       %s (%s)\n", cfg.Store.Path, cfg.Store.Driver)
	fmt.Printf("members:     %d\n", st.MemberCount())
	fmt.Printf("subscribers: %d\n", st.SubscriberCount())
	if c.List {
		for _, id := range st.Subscribers() {
			fmt.Printf("  %s\n", id)
		}
	}
	return nil
}

// BroadcastCmd runs one broadcast tick
type BroadcastCmd struct{}

func (c *BroadcastCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	st, err := store.OpenDriver(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer closeStore(st)
	sender := newSender(cfg)
	sched := broadcast.New(broadcast.Config{
		Store:    st,
		Sender:   sender,
		Reporter: reporter.New(sender, cfg.Bot.AdminID, cfg.Bot.ErrorReportURL),
		Location: cfg.Location(),
	})
	if err := sched.Tick(context.Background()); err != nil {
		return err
	}
	fmt.Printf("broadcast sent to %d subscribers\n", st.SubscriberCount())
	return nil
}
