package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bridge       string
	headless     bool
	password     string
	pollInterval time.Duration
	register     bool
	server       string
	timeout      time.Duration
	username     string
	verbose      bool
	version      bool
}

func (c *Config) validate() error {
	u, err := url.Parse(c.server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server url (must be http(s)://host[:port]): %q", c.server)
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("invalid poll interval (must be positive): %s", c.pollInterval)
	}
	if c.timeout < 0 {
		return fmt.Errorf("invalid timeout (must not be negative): %s", c.timeout)
	}
	if (c.username == "") != (c.password == "") {
		return errors.New("both --username and --password must be provided together")
	}
	if c.register && c.username == "" {
		return errors.New("--register requires --username and --password")
	}
	if c.headless && (c.bridge == "" || c.username == "") {
		return errors.New("--headless requires --bridge, --username and --password")
	}
	return nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TICTACGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tictacgrid",
		Short:         "Play generalized tic-tac-toe against other players on a tictacgrid server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return Play(cmd.Context(), cfg)
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Report whether the server is available.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return Check(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(check)

	pfs := cmd.PersistentFlags()
	pfs.StringVarP(&cfg.server, "server", "s", "http://localhost:8000", "game server url (env: TICTACGRID_SERVER)")
	pfs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "timeout for each server request, 0 for none (env: TICTACGRID_TIMEOUT)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TICTACGRID_VERBOSE)")

	fs := cmd.Flags()
	fs.StringVarP(&cfg.bridge, "bridge", "b", "", "address to serve the websocket bridge on, empty to disable (env: TICTACGRID_BRIDGE)")
	fs.BoolVar(&cfg.headless, "headless", false, "run without the console, serving only the bridge (env: TICTACGRID_HEADLESS)")
	fs.StringVarP(&cfg.password, "password", "p", "", "password to log in with on start (env: TICTACGRID_PASSWORD)")
	fs.DurationVar(&cfg.pollInterval, "poll-interval", 2*time.Second, "how often the lobby and the game are refreshed (env: TICTACGRID_POLL_INTERVAL)")
	fs.BoolVar(&cfg.register, "register", false, "create the account instead of logging in (env: TICTACGRID_REGISTER)")
	fs.StringVarP(&cfg.username, "username", "u", "", "username to log in with on start (env: TICTACGRID_USERNAME)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TICTACGRID_VERSION)")

	bindFlags(v, pfs)
	bindFlags(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tictacgrid v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
