package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fsdiff/internal/buglog"
	"fsdiff/internal/config"
	"fsdiff/internal/corpus"
	"fsdiff/internal/dash"
	"fsdiff/internal/fuzz"
	"fsdiff/internal/harness"
	"fsdiff/internal/mount"
	"fsdiff/internal/mutate"
	"fsdiff/internal/remote"
)

// ramDiskSizeKB is the size of each brd ram disk backing a block target.
const ramDiskSizeKB = 1 << 16

// session is everything a campaign needs standing up before the first
// workload runs: the execution host, the supervised VM when one is
// configured, both targets and the divergence ledger.
type session struct {
	cfg      config.Config
	run      remote.Runner
	vm       *remote.VM
	exec     *harness.Executor
	ledger   *buglog.DB
	reporter *fuzz.Reporter
}

// newSession connects to the execution host and prepares both targets.
// With native set, workloads run directly on this machine, skipping VM
// supervision and SSH entirely.
func newSession(ctx context.Context, cfg config.Config, native bool) (*session, error) {
	s := &session{cfg: cfg}

	var err error
	s.run, s.vm, err = newRunner(ctx, cfg, native)
	if err != nil {
		return nil, err
	}

	hashOpts, err := cfg.HashOptions()
	if err != nil {
		s.Close()
		return nil, err
	}

	// One shared run ID keeps concurrent campaigns against the same
	// host out of each other's work directories.
	runID := uuid.NewString()[:8]
	first, err := buildTarget("first", cfg.First, s.run, hashOpts, runID)
	if err != nil {
		s.Close()
		return nil, err
	}
	second, err := buildTarget("second", cfg.Second, s.run, hashOpts, runID)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.exec = &harness.Executor{First: first, Second: second, Timeout: cfg.Fuzz.Timeout.Duration}

	if needsRAMDisks(cfg) {
		if err := mount.SetupRAMDisks(ctx, s.run, 2, ramDiskSizeKB); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.ledger, err = buglog.Open(cfg.Report.Ledger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.reporter = &fuzz.Reporter{
		Dir:      cfg.Report.Dir,
		FirstFS:  cfg.First.FS,
		SecondFS: cfg.Second.FS,
		Ledger:   s.ledger,
	}
	return s, nil
}

func (s *session) Close() {
	if s.ledger != nil {
		s.ledger.Close()
	}
	if s.run != nil {
		s.run.Close()
	}
	if s.vm != nil {
		if err := s.vm.Stop(); err != nil {
			slog.Warn("stop vm", "error", err)
		}
	}
}

// heartbeat probes the execution host in the background and restores the
// VM snapshot when the host stops answering.
func (s *session) heartbeat(ctx context.Context) {
	m := &remote.Monitor{
		Interval: s.cfg.Fuzz.HeartbeatInterval.Duration,
		Probe:    s.run.Alive,
		OnFailure: func(ctx context.Context, err error) {
			slog.Error("execution host unresponsive", "error", err)
			if s.vm != nil && s.vm.Running() {
				if rerr := s.vm.Reset(ctx); rerr != nil {
					slog.Error("restore vm snapshot", "error", rerr)
				}
			}
		},
	}
	go m.Run(ctx)
}

func newRunner(ctx context.Context, cfg config.Config, native bool) (remote.Runner, *remote.VM, error) {
	if native {
		return remote.NewLocal(), nil, nil
	}

	var vm *remote.VM
	if len(cfg.VM.Launch) > 0 {
		var err error
		vm, err = remote.StartVM(ctx, remote.VMConfig{
			Launch:      cfg.VM.Launch,
			QMPSocket:   cfg.VM.QMPSocket,
			Snapshot:    cfg.VM.Snapshot,
			BootTimeout: cfg.VM.BootTimeout.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.SSH.Addr == "" {
		if vm != nil {
			vm.Stop()
			return nil, nil, errors.New("vm.launch is set but ssh.addr is empty; the guest is unreachable")
		}
		return remote.NewLocal(), nil, nil
	}

	run, err := remote.DialSSH(cfg.SSH.Addr, cfg.SSH.User, remote.SSHOpts{
		KeyFile:  cfg.SSH.KeyFile,
		Password: cfg.SSH.Password,
		Timeout:  cfg.SSH.Timeout.Duration,
	})
	if err != nil {
		if vm != nil {
			vm.Stop()
		}
		return nil, nil, err
	}
	return run, vm, nil
}

func buildTarget(label string, tc config.TargetConfig, run remote.Runner, hashOpts dash.Options, runID string) (*harness.Target, error) {
	fs, err := mount.Lookup(tc.FS)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", label, err)
	}
	return &harness.Target{
		Label:      label,
		FS:         fs,
		Run:        run,
		Device:     tc.Device,
		MountPoint: tc.MountPoint,
		WorkDir:    path.Join(tc.WorkDir, runID),
		AgentBin:   tc.AgentBin,
		KCov:       tc.KCov,
		HashOpts:   hashOpts,
	}, nil
}

func needsRAMDisks(cfg config.Config) bool {
	return strings.HasPrefix(cfg.First.Device, "/dev/ram") ||
		strings.HasPrefix(cfg.Second.Device, "/dev/ram")
}

// newFuzzer assembles the campaign loop from config.
func newFuzzer(cfg config.Config, s *session) (*fuzz.Fuzzer, error) {
	opWeights, err := cfg.OpWeights()
	if err != nil {
		return nil, err
	}
	sched, err := corpus.NewScheduler(cfg.Fuzz.Scheduler, cfg.Fuzz.MConstant)
	if err != nil {
		return nil, err
	}

	pool := corpus.New()
	if cfg.Fuzz.SaveCorpus {
		pool, err = corpus.LoadDir(cfg.Fuzz.CorpusDir)
		if err != nil {
			return nil, err
		}
		if pool.Len() > 0 {
			slog.Info("corpus resumed", "dir", cfg.Fuzz.CorpusDir, "seeds", pool.Len())
		}
	}

	mutator := mutate.New(opWeights, cfg.MutationWeights(), cfg.Fuzz.MaxWorkloadLength, cfg.Fuzz.MaxMutations)
	return &fuzz.Fuzzer{
		Exec:      s.exec,
		Gen:       mutate.NewGenerator(opWeights),
		Mutator:   mutator,
		Corpus:    pool,
		Scheduler: sched,
		Reporter:  s.reporter,
		Reducer:   &fuzz.Reducer{Exec: s.exec, Mutator: mutator},
		Stats:     fuzz.NewStats(),
		Opts: fuzz.Options{
			MaxRuns:          cfg.Fuzz.MaxRuns,
			Seed:             cfg.Fuzz.Seed,
			InitialWorkloads: cfg.Fuzz.InitialWorkloads,
			InitialLength:    cfg.Fuzz.InitialLength,
			SaveCorpus:       cfg.Fuzz.SaveCorpus,
			CorpusDir:        cfg.Fuzz.CorpusDir,
			Reduce:           cfg.Fuzz.Reduce,
			StatsInterval:    cfg.Fuzz.StatsInterval.Duration,
		},
	}, nil
}

// campaignFlags are the overrides every campaign command accepts on top
// of the config file.
type campaignFlags struct {
	native   bool
	firstFS  string
	secondFS string
	maxRuns  int64
	seed     uint64
}

func (f *campaignFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.native, "native", false, "run workloads on this machine instead of the configured host")
	cmd.Flags().StringVarP(&f.firstFS, "first", "f", "", "first filesystem (overrides config)")
	cmd.Flags().StringVarP(&f.secondFS, "second", "s", "", "second filesystem (overrides config)")
	cmd.Flags().Int64Var(&f.maxRuns, "runs", 0, "stop after this many runs (overrides config)")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "RNG seed (overrides config)")
}

func (f *campaignFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	if f.firstFS != "" {
		cfg.First.FS = f.firstFS
	}
	if f.secondFS != "" {
		cfg.Second.FS = f.secondFS
	}
	if cmd.Flags().Changed("runs") {
		cfg.Fuzz.MaxRuns = f.maxRuns
	}
	if cmd.Flags().Changed("seed") {
		cfg.Fuzz.Seed = f.seed
	}
}

func campaign(cmd *cobra.Command, flags *campaignFlags, loop func(ctx context.Context, f *fuzz.Fuzzer) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := newSession(ctx, cfg, flags.native)
	if err != nil {
		return err
	}
	defer s.Close()
	s.heartbeat(ctx)

	f, err := newFuzzer(cfg, s)
	if err != nil {
		return err
	}

	slog.Info("campaign starting",
		"first", cfg.First.FS,
		"second", cfg.Second.FS,
		"seed", cfg.Fuzz.Seed,
		"scheduler", cfg.Fuzz.Scheduler,
	)
	err = loop(ctx, f)
	fmt.Println(f.Stats.Snapshot().String())
	if errors.Is(err, fuzz.ErrRunBudget) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func greyboxCmd() *cobra.Command {
	flags := &campaignFlags{}
	cmd := &cobra.Command{
		Use:   "greybox",
		Short: "Coverage-guided differential fuzzing campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return campaign(cmd, flags, func(ctx context.Context, f *fuzz.Fuzzer) error {
				return f.Greybox(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func blackboxCmd() *cobra.Command {
	flags := &campaignFlags{}
	cmd := &cobra.Command{
		Use:   "blackbox",
		Short: "Unguided differential fuzzing campaign",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return campaign(cmd, flags, func(ctx context.Context, f *fuzz.Fuzzer) error {
				return f.Blackbox(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}
