// Package config reads the optional campaign configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"fsdiff/internal/dash"
	"fsdiff/internal/workload"
)

// Duration wraps time.Duration so TOML values read as "30s" strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config represents one fuzzing campaign: the loop parameters, the
// workload shape, the two targets and where artifacts land.
type Config struct {
	Fuzz    FuzzConfig    `toml:"fuzz"`
	Weights WeightsConfig `toml:"weights"`
	Hash    HashConfig    `toml:"hash"`
	First   TargetConfig  `toml:"first"`
	Second  TargetConfig  `toml:"second"`
	SSH     SSHConfig     `toml:"ssh"`
	VM      VMConfig      `toml:"vm"`
	Report  ReportConfig  `toml:"report"`
	Log     LogConfig     `toml:"log"`
}

// FuzzConfig holds the campaign loop parameters.
type FuzzConfig struct {
	Seed              uint64   `toml:"seed"`
	MaxRuns           int64    `toml:"max_runs"`
	InitialWorkloads  int      `toml:"initial_workloads"`
	InitialLength     int      `toml:"initial_length"`
	MaxWorkloadLength int      `toml:"max_workload_length"`
	MaxMutations      int      `toml:"max_mutations"`
	Scheduler         string   `toml:"scheduler"`
	MConstant         float64  `toml:"m_constant"`
	SaveCorpus        bool     `toml:"save_corpus"`
	CorpusDir         string   `toml:"corpus_dir"`
	Reduce            bool     `toml:"reduce"`
	Timeout           Duration `toml:"timeout"`
	StatsInterval     Duration `toml:"stats_interval"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// WeightsConfig biases generation and mutation. Operation keys are
// command names (CREATE, MKDIR, ...); absent keys keep their default.
type WeightsConfig struct {
	Operations map[string]uint32 `toml:"operations"`
	Insert     uint32            `toml:"insert"`
	Remove     uint32            `toml:"remove"`
}

// HashConfig selects which metadata enters the state digest.
type HashConfig struct {
	Size  bool     `toml:"size"`
	Mode  bool     `toml:"mode"`
	Nlink bool     `toml:"nlink"`
	Owner bool     `toml:"owner"`
	Skip  []string `toml:"skip"`
}

// TargetConfig describes one side of the differential pair.
type TargetConfig struct {
	FS         string `toml:"fs"`
	Device     string `toml:"device"`
	MountPoint string `toml:"mount_point"`
	WorkDir    string `toml:"work_dir"`
	AgentBin   string `toml:"agent_bin"`
	KCov       bool   `toml:"kcov"`
}

// SSHConfig connects to a remote execution host. An empty addr means
// workloads run on the local machine.
type SSHConfig struct {
	Addr     string   `toml:"addr"`
	User     string   `toml:"user"`
	KeyFile  string   `toml:"key_file"`
	Password string   `toml:"password"`
	Timeout  Duration `toml:"timeout"`
}

// VMConfig supervises a QEMU guest as the execution host. An empty
// launch command disables VM supervision.
type VMConfig struct {
	Launch      []string `toml:"launch"`
	QMPSocket   string   `toml:"qmp_socket"`
	Snapshot    string   `toml:"snapshot"`
	BootTimeout Duration `toml:"boot_timeout"`
}

// ReportConfig places divergence archives and the dedup ledger.
type ReportConfig struct {
	Dir    string `toml:"dir"`
	Ledger string `toml:"ledger"`
}

// LogConfig configures structured logging. An empty file logs to stderr
// only.
type LogConfig struct {
	File       string `toml:"file"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Default returns a runnable configuration: local execution, ext4
// against littlefs on the first two ram disks.
func Default() Config {
	return Config{
		Fuzz: FuzzConfig{
			Seed:              1,
			InitialWorkloads:  20,
			InitialLength:     10,
			MaxWorkloadLength: 30,
			MaxMutations:      3,
			Scheduler:         "FAST",
			MConstant:         8,
			SaveCorpus:        true,
			CorpusDir:         "corpus",
			Reduce:            true,
			Timeout:           Duration{60 * time.Second},
			StatsInterval:     Duration{10 * time.Second},
			HeartbeatInterval: Duration{15 * time.Second},
		},
		Weights: WeightsConfig{Insert: 7, Remove: 3},
		Hash:    HashConfig{Size: true, Mode: true, Skip: []string{`^lost\+found$`}},
		First: TargetConfig{
			FS:         "ext4",
			Device:     "/dev/ram0",
			MountPoint: "/mnt/fsdiff-first",
			WorkDir:    "/tmp/fsdiff/first",
			AgentBin:   "/usr/local/bin/fsdiff",
		},
		Second: TargetConfig{
			FS:         "littlefs",
			Device:     "/dev/ram1",
			MountPoint: "/mnt/fsdiff-second",
			WorkDir:    "/tmp/fsdiff/second",
			AgentBin:   "/usr/local/bin/fsdiff",
		},
		VM: VMConfig{
			Snapshot:    "fsdiff",
			BootTimeout: Duration{2 * time.Minute},
		},
		Report: ReportConfig{
			Dir:    "reports",
			Ledger: "reports/bugs.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Load reads path over the defaults. A missing file (or empty path)
// yields the defaults without error; the config file is always optional.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the campaign cannot run with.
func (c Config) Validate() error {
	if c.Fuzz.MaxWorkloadLength < 1 {
		return errors.New("fuzz.max_workload_length must be positive")
	}
	if c.Fuzz.MaxMutations < 1 {
		return errors.New("fuzz.max_mutations must be positive")
	}
	if c.Fuzz.InitialLength < 1 || c.Fuzz.InitialLength > c.Fuzz.MaxWorkloadLength {
		return errors.New("fuzz.initial_length must be within (0, max_workload_length]")
	}
	if _, err := c.OpWeights(); err != nil {
		return err
	}
	if c.Weights.Insert == 0 && c.Weights.Remove == 0 {
		return errors.New("weights: insert and remove cannot both be zero")
	}
	if _, err := c.HashOptions(); err != nil {
		return err
	}
	if c.First.FS == c.Second.FS {
		return fmt.Errorf("targets: first and second are both %q", c.First.FS)
	}
	return nil
}

// OpWeights converts the operation table, starting from the default
// distribution so absent commands keep their weight.
func (c Config) OpWeights() (workload.Weights, error) {
	w := workload.DefaultWeights()
	for name, weight := range c.Weights.Operations {
		kind, err := workload.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("weights.operations: %w", err)
		}
		w[kind] = weight
	}
	if w.Total() == 0 {
		return nil, errors.New("weights.operations: all weights are zero")
	}
	return w, nil
}

// MutationWeights converts the insert/remove pair.
func (c Config) MutationWeights() workload.MutationWeights {
	return workload.MutationWeights{Insert: c.Weights.Insert, Remove: c.Weights.Remove}
}

// HashOptions compiles the metadata selection and skip patterns.
func (c Config) HashOptions() (dash.Options, error) {
	opts := dash.Options{
		Size:  c.Hash.Size,
		Mode:  c.Hash.Mode,
		Nlink: c.Hash.Nlink,
		Owner: c.Hash.Owner,
	}
	for _, pat := range c.Hash.Skip {
		re, err := regexp.Compile(pat)
		if err != nil {
			return dash.Options{}, fmt.Errorf("hash.skip %q: %w", pat, err)
		}
		opts.Skip = append(opts.Skip, re)
	}
	return opts, nil
}
