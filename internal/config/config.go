// Package config holds the small set of process-level settings the engine
// exposes: compilation mode, execution mode,
// optimizer task timeout, and metrics-collection flags. None of these
// change observable query semantics, only timing/telemetry, so this
// package is a flat struct populated from flags, not a templated or
// env-layered configuration framework.
package config

import "flag"

// CompilationMode selects how internal/translator turns a physical plan
// into Fragments: OneShot compiles every fragment up front;
// Interleaved compiles fragments lazily, executing earlier ones while later
// ones are still being compiled.
type CompilationMode uint8

const (
	CompileOneShot CompilationMode = iota
	CompileInterleaved
)

func (m CompilationMode) String() string {
	if m == CompileInterleaved {
		return "interleaved"
	}
	return "one_shot"
}

// ExecutionMode names how a compiled Fragment's functions are invoked. JIT
// and Adaptive are accepted as valid mode values, but internal/exec does
// not read this setting and always interprets; the admin config route
// reports it, and no warning is logged for JIT or Adaptive.
type ExecutionMode uint8

const (
	ExecInterpret ExecutionMode = iota
	ExecJIT
	ExecAdaptive
)

func (m ExecutionMode) String() string {
	switch m {
	case ExecJIT:
		return "jit"
	case ExecAdaptive:
		return "adaptive"
	default:
		return "interpret"
	}
}

// Metrics are the telemetry collection flags: per-query counters,
// per-pipeline operating-unit features, and bind/execute command counts.
type Metrics struct {
	Counters                  bool
	PipelineMetrics           bool
	BindExecuteCommandMetrics bool
}

// Config is the full set of process-level settings read at query time.
type Config struct {
	Compilation            CompilationMode
	Execution               ExecutionMode
	OptimizerTaskTimeoutMS  int
	Metrics                 Metrics
	ListenAddr              string
	AdminAddr               string
}

// Default returns the engine's out-of-the-box settings: one-shot
// compilation, interpreted execution, a generous optimizer timeout, and
// counters on but pipeline/command metrics off.
func Default() Config {
	return Config{
		Compilation:            CompileOneShot,
		Execution:              ExecInterpret,
		OptimizerTaskTimeoutMS: 2000,
		Metrics:                Metrics{Counters: true},
		ListenAddr:             ":5432",
		AdminAddr:              ":8080",
	}
}

// RegisterFlags binds fs's flags to cfg's fields, keeping main() thin:
// callers do
// `cfg := config.Default(); cfg.RegisterFlags(flag.CommandLine); flag.Parse()`.
func (cfg *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "postgres wire-protocol listen address")
	fs.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "admin/introspection sideband listen address")
	fs.IntVar(&cfg.OptimizerTaskTimeoutMS, "optimizer-timeout-ms", cfg.OptimizerTaskTimeoutMS, "optimizer task-stack execution timeout in milliseconds")
	fs.BoolVar(&cfg.Metrics.Counters, "metrics-counters", cfg.Metrics.Counters, "collect per-query counters")
	fs.BoolVar(&cfg.Metrics.PipelineMetrics, "metrics-pipeline", cfg.Metrics.PipelineMetrics, "collect per-pipeline operating-unit telemetry")
	fs.BoolVar(&cfg.Metrics.BindExecuteCommandMetrics, "metrics-bind-execute", cfg.Metrics.BindExecuteCommandMetrics, "count Bind/Execute wire commands")
	mode := cfg.Compilation.String()
	fs.StringVar(&mode, "compilation-mode", mode, `"one_shot" or "interleaved"`)
	fs.Lookup("compilation-mode").Value = &compilationModeFlag{cfg: cfg}
}

// compilationModeFlag adapts Config.Compilation to flag.Value so
// -compilation-mode can be set directly without a post-Parse fixup step.
type compilationModeFlag struct {
	cfg *Config
}

func (f *compilationModeFlag) String() string {
	if f == nil || f.cfg == nil {
		return CompileOneShot.String()
	}
	return f.cfg.Compilation.String()
}

func (f *compilationModeFlag) Set(s string) error {
	if s == "interleaved" {
		f.cfg.Compilation = CompileInterleaved
	} else {
		f.cfg.Compilation = CompileOneShot
	}
	return nil
}
