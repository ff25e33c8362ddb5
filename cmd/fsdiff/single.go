package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fsdiff/internal/fuzz"
	"fsdiff/internal/harness"
	"fsdiff/internal/mutate"
	"fsdiff/internal/workload"
)

func soloSingleCmd() *cobra.Command {
	var (
		native    bool
		fsName    string
		outDir    string
		keepMount bool
	)
	cmd := &cobra.Command{
		Use:   "solo-single <test.json>",
		Short: "Run one saved workload on a single filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w, err := workload.Load(args[0])
			if err != nil {
				return err
			}

			// Pick whichever configured target matches the requested
			// filesystem; default to the first.
			tc := cfg.First
			if fsName != "" && fsName != tc.FS {
				if fsName == cfg.Second.FS {
					tc = cfg.Second
				} else {
					tc.FS = fsName
				}
			}

			ctx := cmd.Context()
			run, vm, err := newRunner(ctx, cfg, native)
			if err != nil {
				return err
			}
			defer run.Close()
			if vm != nil {
				defer vm.Stop()
			}

			hashOpts, err := cfg.HashOptions()
			if err != nil {
				return err
			}
			target, err := buildTarget("first", tc, run, hashOpts, uuid.NewString()[:8])
			if err != nil {
				return err
			}
			target.KeepMount = keepMount

			_, err = fuzz.SoloSingle(ctx, target, w, outDir)
			return err
		},
	}
	cmd.Flags().BoolVar(&native, "native", false, "run on this machine instead of the configured host")
	cmd.Flags().StringVarP(&fsName, "fs", "f", "", "filesystem to run on (default: configured first target)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory receiving trace.csv and state.json")
	cmd.Flags().BoolVar(&keepMount, "keep-mount", false, "leave the filesystem mounted for inspection")
	return cmd
}

func duoSingleCmd() *cobra.Command {
	flags := &campaignFlags{}
	cmd := &cobra.Command{
		Use:   "duo-single <test.json>",
		Short: "Run one saved workload differentially and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			w, err := workload.Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := newSession(ctx, cfg, flags.native)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := fuzz.DuoSingle(ctx, s.exec, s.reporter, w)
			if err != nil {
				return err
			}
			slog.Info("verdict", "kind", out.Verdict.Kind.String())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func reduceCmd() *cobra.Command {
	flags := &campaignFlags{}
	var outFile string
	cmd := &cobra.Command{
		Use:   "reduce <test.json>",
		Short: "Shrink a diverging workload to a minimal reproducer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			w, err := workload.Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := newSession(ctx, cfg, flags.native)
			if err != nil {
				return err
			}
			defer s.Close()
			s.heartbeat(ctx)

			out, err := s.exec.Run(ctx, w)
			if err != nil {
				return fmt.Errorf("initial run: %w", err)
			}
			if out.Verdict.Kind == harness.Agree {
				return fmt.Errorf("workload %s does not diverge; nothing to reduce", w.Name())
			}

			opWeights, err := cfg.OpWeights()
			if err != nil {
				return err
			}
			r := &fuzz.Reducer{
				Exec:    s.exec,
				Mutator: mutate.New(opWeights, cfg.MutationWeights(), cfg.Fuzz.MaxWorkloadLength, cfg.Fuzz.MaxMutations),
			}
			reduced, err := r.Reduce(ctx, w, out.Verdict)
			if err != nil {
				return err
			}
			if err := reduced.Save(outFile); err != nil {
				return err
			}
			fmt.Printf("reduced %d ops to %d, saved to %s\n", w.Len(), reduced.Len(), outFile)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outFile, "out", "o", "reduced.json", "file receiving the reduced workload")
	return cmd
}
