/*
Copyright © 2025 Japonism Festival <dev@japonism.live>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind              string
	broadcastInterval time.Duration
	controllerURL     string
	logFile           string
	mapHeight         float64
	mapWidth          float64
	port              int
	prefix            string
	profile           bool
	tlsCert           string
	tlsKey            string
	verbose           bool
	version           bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.mapWidth <= 0 || c.mapHeight <= 0 {
		return fmt.Errorf("invalid map size (both dimensions must be positive): %.0fx%.0f", c.mapWidth, c.mapHeight)
	}
	if c.broadcastInterval < 0 {
		return fmt.Errorf("invalid broadcast interval (must not be negative): %s", c.broadcastInterval)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FESTIVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "festival-server",
		Short:         "Real-time position sync backend for the festival venue experience.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: FESTIVAL_BIND)")
	fs.DurationVar(&cfg.broadcastInterval, "broadcast-interval", 0, "coalesce snapshot broadcasts on this interval, 0 to broadcast per mutation (env: FESTIVAL_BROADCAST_INTERVAL)")
	fs.StringVar(&cfg.controllerURL, "controller-url", "", "controller page URL encoded into /qr, derived from the request when empty (env: FESTIVAL_CONTROLLER_URL)")
	fs.StringVar(&cfg.logFile, "log-file", "", "write logs to this file with rotation instead of stderr (env: FESTIVAL_LOG_FILE)")
	fs.Float64Var(&cfg.mapHeight, "map-height", 480, "venue map height in positional units (env: FESTIVAL_MAP_HEIGHT)")
	fs.Float64Var(&cfg.mapWidth, "map-width", 960, "venue map width in positional units (env: FESTIVAL_MAP_WIDTH)")
	fs.IntVarP(&cfg.port, "port", "p", 3001, "port to listen on (env: FESTIVAL_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: FESTIVAL_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: FESTIVAL_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: FESTIVAL_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: FESTIVAL_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: FESTIVAL_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: FESTIVAL_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("festival-server v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
