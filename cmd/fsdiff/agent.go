package main

import (
	"github.com/spf13/cobra"

	"fsdiff/internal/agent"
	"fsdiff/internal/dash"
)

// agentCmd is the in-guest half of the fuzzer: the harness invokes this
// same binary on the execution host with flag spellings it controls, so
// these flags change together with the harness dispatch.
func agentCmd() *cobra.Command {
	var opts agent.Options
	var hashSize, hashMode, hashNlink, hashOwner bool
	cmd := &cobra.Command{
		Use:    "agent",
		Short:  "Execute a workload against a mounted filesystem (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			hashOpts := dash.DefaultOptions()
			hashOpts.Size = hashSize
			hashOpts.Mode = hashMode
			hashOpts.Nlink = hashNlink
			hashOpts.Owner = hashOwner
			opts.HashOptions = hashOpts
			return agent.Run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.Root, "root", "", "mounted filesystem under test")
	cmd.Flags().StringVar(&opts.WorkloadPath, "workload", "", "workload file to execute")
	cmd.Flags().StringVar(&opts.OutDir, "out", ".", "directory receiving run artifacts")
	cmd.Flags().BoolVar(&hashSize, "hash-size", false, "include file sizes in the state digest")
	cmd.Flags().BoolVar(&hashMode, "hash-mode", false, "include permission bits in the state digest")
	cmd.Flags().BoolVar(&hashNlink, "hash-nlink", false, "include link counts in the state digest")
	cmd.Flags().BoolVar(&hashOwner, "hash-owner", false, "include uid/gid in the state digest")
	cmd.Flags().BoolVar(&opts.KCov, "kcov", false, "collect kernel coverage around the run")
	cmd.MarkFlagRequired("root")
	cmd.MarkFlagRequired("workload")
	return cmd
}
