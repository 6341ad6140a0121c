package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

const (
	envPrefix             = "DIRCLIENT"
	defaultConfigFileName = "config.yaml"
)

// app carries the state shared by every subcommand.
type app struct {
	v         *viper.Viper
	provider  ldapclient.Provider
	registry  *prometheus.Registry
	discovery *ldapclient.SRVDiscovery
}

func newRootCommand(provider ldapclient.Provider) *cobra.Command {
	a := &app{
		v:         viper.New(),
		provider:  provider,
		registry:  prometheus.NewRegistry(),
		discovery: ldapclient.NewSRVDiscovery(nil),
	}

	cmd := &cobra.Command{
		Use:           "dirclient",
		Short:         "Run directory operations against LDAP servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			_, err := loadConfigFile(a.v)
			return err
		},
	}

	flags := cmd.PersistentFlags()
	addConnectionFlags(flags)
	flags.String("config", "", "path to a YAML, TOML or JSON config file")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address while the command runs")
	bindFlags(a.v, flags)

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(
		newSearchCommand(a),
		newParallelSearchCommand(a),
		newCompareCommand(a),
		newDeleteCommand(a),
	)
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})
}

// run builds a connection factory from the resolved configuration and
// passes it to fn. Metrics are served for as long as fn runs.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, factory *ldapclient.ConnectionFactory) error) error {
	ctx := cmd.Context()

	if err := discoverURL(ctx, a.v, a.discovery); err != nil {
		return err
	}
	config, err := buildConnectionConfig(a.v)
	if err != nil {
		return err
	}

	metrics, err := ldapclient.NewMetrics(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if addr := strings.TrimSpace(a.v.GetString("metrics-listen")); addr != "" {
		stop, err := serveMetrics(addr, a.registry)
		if err != nil {
			return err
		}
		defer stop()
	}

	factory, err := ldapclient.NewConnectionFactory(a.provider, config, ldapclient.WithFactoryMetrics(metrics))
	if err != nil {
		return err
	}
	return ldapclient.LogOperation(ctx, ldapclient.SubsystemLDAP, cmd.Name(), map[string]any{
		"ldap_url": config.LDAPURL,
		"strategy": config.Strategy.String(),
	}, func() error {
		return fn(ctx, factory)
	})
}

func serveMetrics(addr string, registry *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.Serve(ln)
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// loadConfigFile reads the config file named by the config setting, or the
// default file under the user config directory when it exists.
func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfgPath = filepath.Join(dir, "dirclient", defaultConfigFileName)
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	info, err := os.Stat(cfgPath)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", cfgPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", cfgPath)
	}

	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", cfgPath, err)
	}
	return cfgPath, nil
}
