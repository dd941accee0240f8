package main

import (
	"crypto/tls"
	"log/slog"

	"github.com/luca-patrignani/greetme/api"
	"github.com/luca-patrignani/greetme/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app carries what every subcommand needs once the configuration is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "greetme",
		Short:         "A greeting ledger that pays a prize to lucky greeters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path of a YAML configuration file")
	flags.String("api", "", "base URL of the greetme API (e.g. http://127.0.0.1:8080)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("key-file", "", "path of the key file used to sign greetings")
	bindFlags(a.v, flags, map[string]string{
		"api.url":   "api",
		"log.level": "log-level",
		"key_file":  "key-file",
	})

	root.AddCommand(
		newServeCmd(a),
		newGreetCmd(a),
		newFeedCmd(a),
		newCountCmd(a),
		newStatusCmd(a),
		newKeygenCmd(a),
		newDiscoverCmd(a),
		newVersionCmd(),
	)
	return root
}

// bindFlags maps configuration keys to flag names. Only flags set on the
// command line override the configuration file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cfg.Log.SlogLevel())
	return nil
}

// newLogger routes slog through the pterm logger.
func newLogger(level slog.Level) *slog.Logger {
	ptermLevel := pterm.LogLevelInfo
	switch {
	case level <= slog.LevelDebug:
		ptermLevel = pterm.LogLevelDebug
	case level >= slog.LevelError:
		ptermLevel = pterm.LogLevelError
	case level >= slog.LevelWarn:
		ptermLevel = pterm.LogLevelWarn
	}
	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(ptermLevel))
	return slog.New(handler)
}

func (a *app) client(opts ...api.ClientOption) (*api.Client, error) {
	base, err := normalizeAPIURL(a.cfg.API.URL)
	if err != nil {
		return nil, err
	}
	if a.cfg.API.Insecure {
		opts = append(opts, api.WithTLSConfig(&tls.Config{InsecureSkipVerify: true})) //nolint:gosec // self-signed server certificates
	}
	return api.NewClient(base, opts...), nil
}
