package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/resendgate/internal/config"
	"github.com/roach88/resendgate/internal/gateway"
	"github.com/roach88/resendgate/internal/logging"
)

// session is the configured environment shared by commands that talk to the
// order services.
type session struct {
	cfg *config.Config
	log *logging.Logger
	out *OutputFormatter
}

// openSession loads and validates configuration, then builds the logger.
// When fileLog is set and the configuration allows it, a log file is
// written to the output directory.
func openSession(opts *RootOptions, cmd *cobra.Command, fileLog bool, now time.Time) (*session, error) {
	out := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.Config, cmd.Flags())
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}

	logOpts := logging.Options{
		Level:   cfg.Log.Level,
		Verbose: opts.Verbose,
		Console: cmd.ErrOrStderr(),
		Now:     func() time.Time { return now },
	}
	if fileLog && cfg.Log.File {
		logOpts.Dir = cfg.Paths.OutputDir
	}
	log, err := logging.New(logOpts)
	if err != nil {
		return nil, out.Fail(ExitCommandError, CodeConfig, "failed to set up logging", err)
	}

	return &session{cfg: cfg, log: log, out: out}, nil
}

func (s *session) Close() {
	_ = s.log.Close()
}

// connect returns the gateway the session evaluates against: the fixture
// snapshot when one is configured, otherwise an authenticated HTTP session.
func (s *session) connect(ctx context.Context) (gateway.Gateway, error) {
	if path := s.cfg.Paths.Fixtures; path != "" {
		snap, err := gateway.LoadSnapshot(path)
		if err != nil {
			return nil, s.out.Fail(ExitCommandError, CodeConfig, "failed to load fixtures", err)
		}
		s.log.Info("using fixture snapshot", zap.String("path", path))
		return gateway.NewFixtureGateway(snap), nil
	}

	if err := s.cfg.RequireCredentials(); err != nil {
		return nil, s.out.Fail(ExitCommandError, CodeAuth, "credentials required", err)
	}
	gw, err := gateway.NewHTTPGateway(s.cfg.GatewayOptions(s.log.Logger))
	if err != nil {
		return nil, s.out.Fail(ExitCommandError, CodeConfig, "failed to build HTTP client", err)
	}
	if err := gw.Authenticate(ctx, s.cfg.Auth.User, s.cfg.Auth.Pass); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, s.out.Fail(ExitInterrupted, CodeInterrupted, "interrupted", err)
		}
		return nil, s.out.Fail(ExitFailure, CodeAuth, "authentication failed", err)
	}
	s.log.Info("authenticated", zap.String("user", s.cfg.Auth.User))
	return gw, nil
}
