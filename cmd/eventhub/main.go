package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"eventhub/internal/app"
	"eventhub/internal/config"
	"eventhub/internal/gateway"
	appLog "eventhub/internal/log"
	"eventhub/internal/session"
)

const version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: "+err.Error()))
		os.Exit(1)
	}
}

// runtime is everything a subcommand needs, built once per invocation.
type runtime struct {
	cfg    *config.Config
	loc    *time.Location
	client *gateway.Client
	app    *app.App
}

type cli struct {
	v  *viper.Viper
	rt *runtime
}

// overrides maps flag / EVENTHUB_* keys onto config fields.
var overrides = map[string]func(*config.Config, string){
	"listen":       func(c *config.Config, v string) { c.Listen = v },
	"api-base-url": func(c *config.Config, v string) { c.APIBaseURL = v },
	"timezone":     func(c *config.Config, v string) { c.Timezone = v },
	"week-start":   func(c *config.Config, v string) { c.WeekStart = v },
	"session":      func(c *config.Config, v string) { c.SessionPath = v },
	"log-level":    func(c *config.Config, v string) { c.LogLevel = v },
	"ics-url": func(c *config.Config, v string) {
		if c.ICS == nil {
			c.ICS = &config.ICSConfig{}
		}
		c.ICS.URL = v
	},
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("EVENTHUB")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "eventhub",
		Short:         "Browse, filter and join community events",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initialize()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "./eventhub.yaml", "Path to config file")
	flags.String("api-base-url", "", "EventHub backend base URL")
	flags.String("listen", "", "HTTP listen address for serve")
	flags.String("timezone", "", "IANA timezone for bucket boundaries")
	flags.String("week-start", "", "First day of the week (sunday or monday)")
	flags.String("session", "", "Path of the session file")
	flags.String("log-level", "", "Log level (debug, info, error)")
	flags.String("ics-url", "", "Read events from an iCalendar feed instead of the backend")
	_ = c.v.BindPFlags(flags)

	root.AddCommand(
		newListCommand(c),
		newShowCommand(c),
		newMineCommand(c),
		newCreateCommand(c),
		newUpdateCommand(c),
		newDeleteCommand(c),
		newJoinCommand(c),
		newLoginCommand(c),
		newRegisterCommand(c),
		newLogoutCommand(c),
		newWhoamiCommand(c),
		newExportCommand(c),
		newServeCommand(c),
	)
	return root
}

// initialize loads the config file, applies flag and environment overrides
// and wires the app.
func (c *cli) initialize() error {
	configPath := c.v.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		if cfg == nil {
			return fmt.Errorf("load config %q: %w", configPath, err)
		}
		appLog.Error("failed to write default config; continuing with defaults", err, "config_path", configPath)
	}
	for key, apply := range overrides {
		if c.v.IsSet(key) {
			apply(cfg, c.v.GetString(key))
		}
	}
	cfg.Normalize()

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", cfg.Timezone)
	}

	sess, err := session.Open(cfg.SessionPath)
	if err != nil {
		return err
	}

	client, err := gateway.New(gateway.Options{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.RequestTimeout,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
		Location:  loc,
	})
	if err != nil {
		return err
	}

	var src gateway.Source = &gateway.RESTSource{Client: client}
	if cfg.ICS != nil {
		src = &gateway.ICSSource{
			ID:           cfg.ICS.ID,
			URL:          cfg.ICS.URL,
			Client:       client,
			Location:     loc,
			HorizonDays:  cfg.ICS.HorizonDays,
			BackfillDays: cfg.ICS.BackfillDays,
		}
	}

	appLog.Debug("effective config",
		"api_base_url", cfg.APIBaseURL,
		"timezone", loc.String(),
		"week_start", cfg.WeekStart,
		"session_path", cfg.SessionPath,
		"ics", cfg.ICS != nil,
	)

	c.rt = &runtime{
		cfg:    cfg,
		loc:    loc,
		client: client,
		app:    app.New(client, src, sess, app.Options{WeekStart: cfg.Weekday(), Location: loc}),
	}
	return nil
}
