// Package app wires the benchmark's components together with fx.
package app

import (
	"github.com/fxnlabs/firbench/internal/bench"
	"github.com/fxnlabs/firbench/internal/config"
	"github.com/fxnlabs/firbench/internal/dispatch"
	"github.com/fxnlabs/firbench/internal/gpu"
	"github.com/fxnlabs/firbench/internal/store"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module provides the accelerator session, the scheduler, the run history
// and the runner. It expects *config.Config and *zap.Logger to be supplied.
var Module = fx.Module("firbench",
	fx.Provide(
		NewBackend,
		NewSession,
		NewScheduler,
		NewHistory,
		NewRunner,
	),
)

// New builds an application around Module. Extra options typically populate
// the components a command needs.
func New(cfg *config.Config, log *zap.Logger, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
		Module,
		fx.Options(opts...),
	)
}

func NewBackend(cfg *config.Config, log *zap.Logger) (gpu.Backend, error) {
	return gpu.NewBackend(cfg.Accelerator.Backend, cfg.Accelerator.Emulated, log)
}

// NewSession binds the accelerator and closes the session when the
// application stops.
func NewSession(lc fx.Lifecycle, cfg *config.Config, backend gpu.Backend, log *zap.Logger) (*gpu.Session, error) {
	s, err := gpu.Bind(backend, cfg.BindOptions(), gpu.SourceFor(cfg.Accelerator.KernelPath), log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(s.Close))
	return s, nil
}

func NewScheduler(cfg *config.Config, log *zap.Logger) (*dispatch.Scheduler, error) {
	policy, err := dispatch.ParsePolicy(cfg.Dispatch.Geometry)
	if err != nil {
		return nil, err
	}
	return dispatch.NewScheduler(policy, log), nil
}

// NewHistory opens the run history. It returns a nil Recorder when no
// history path is configured.
func NewHistory(lc fx.Lifecycle, cfg *config.Config) (bench.Recorder, error) {
	if cfg.History.Path == "" {
		return nil, nil
	}
	st, err := store.Open(cfg.History.Path)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(st.Close))
	return st, nil
}

func NewRunner(cfg *config.Config, session *gpu.Session, sched *dispatch.Scheduler, history bench.Recorder, log *zap.Logger) (*bench.Runner, error) {
	opts, err := bench.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return bench.NewRunner(session, sched, opts, history, log), nil
}
