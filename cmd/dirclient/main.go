// Command dirclient runs directory operations against LDAP servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
	"github.com/isometry/dirclient/internal/ldap/goldap"
)

// logLevelEnv selects the root log level. Subsystem levels are read from
// DIRCLIENT_LOG_LDAP, DIRCLIENT_LOG_POOL and DIRCLIENT_LOG_KERBEROS.
const logLevelEnv = "DIRCLIENT_LOG"

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	ctx = withSignalCancel(ctx)
	ctx = rootLogger(ctx)
	ctx = ldapclient.NewLoggingContext(ctx)

	cmd := newRootCommand(goldap.NewProvider())
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func rootLogger(ctx context.Context) context.Context {
	level := hclog.LevelFromString(os.Getenv(logLevelEnv))
	if level == hclog.NoLevel {
		level = hclog.Warn
	}
	return tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("dirclient"),
		tfsdklog.WithLevel(level),
	)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
