package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbuf"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "vecbuf",
		Short:         "Buffered write-back log in front of a remote ANN service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "vecbuf.yaml", "path to the index configuration")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newCreateCmd(g),
		newInsertCmd(g),
		newFlushCmd(g),
		newSearchCmd(g),
		newStatsCmd(g),
		newInspectCmd(g),
	)

	return root
}

func (g *globalFlags) logger() (*vecbuf.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", g.logLevel)
	}
	if g.logJSON {
		return vecbuf.NewJSONLogger(level), nil
	}
	return vecbuf.NewTextLogger(level), nil
}

func (g *globalFlags) config() (vecbuf.Config, error) {
	return vecbuf.LoadConfig(g.configPath)
}

// session holds everything a command needs and releases it in close.
type session struct {
	cfg     vecbuf.Config
	logger  *vecbuf.Logger
	backend *backend
	index   *vecbuf.Index
}

// openSession opens the configured stores and the index. create selects
// between vecbuf.Create and vecbuf.Open.
func (g *globalFlags) openSession(ctx context.Context, create bool, opts ...vecbuf.Option) (*session, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, err
	}
	logger, err := g.logger()
	if err != nil {
		return nil, err
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts = append([]vecbuf.Option{vecbuf.WithLogger(logger)}, opts...)

	var ix *vecbuf.Index
	if create {
		ix, err = vecbuf.Create(ctx, cfg, b.pages, b.base, opts...)
	} else {
		ix, err = vecbuf.Open(ctx, cfg, b.pages, b.base, opts...)
	}
	if err != nil {
		b.close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, backend: b, index: ix}, nil
}

func (s *session) close() {
	_ = s.index.Close()
	s.backend.closeBase()
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
