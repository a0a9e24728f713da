package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClusterConfig describes the cluster profile and run defaults. It is loaded
// from a YAML file and overridden by CLI flags.
type ClusterConfig struct {
	// Resource bounds
	NumberOfNodes   int `yaml:"number_of_nodes"`    // Minimum nodes requested (default 1)
	MaxNodes        int `yaml:"max_nodes"`          // Hard node ceiling (default 18)
	MaxTasksPerNode int `yaml:"max_tasks_per_node"` // Per-node task ceiling (default 32)

	// Execution
	Executable   string   `yaml:"executable"`     // MPI simulation binary
	LibraryPath  string   `yaml:"library_path"`   // Appended to LD_LIBRARY_PATH in run.sh
	ExcludeNodes []string `yaml:"exclude_nodes"`  // Nodes excluded from scheduling
	InputFile    string   `yaml:"input_file"`     // Simulation input (default main.tcl)

	// Monitoring
	MonitorRAM      bool   `yaml:"monitor_ram"`
	MonitorInterval string `yaml:"monitor_interval"` // e.g. "30s"
	MonitorLogFile  string `yaml:"monitor_log_file"`

	// Polling
	PollInterval    string `yaml:"poll_interval"`     // e.g. "15s"
	PollMaxFailures int    `yaml:"poll_max_failures"` // Transient query failures tolerated
	Timeout         string `yaml:"timeout"`           // Wall-clock budget, "0" = none

	// Archival
	ArchiveDestination string `yaml:"archive_destination"`
	LedgerPath         string `yaml:"ledger_path"`
	FailOnFixer        bool   `yaml:"fail_on_fixer"` // Skip archival when output repair fails
}

// Load reads a cluster config from a YAML file and applies defaults.
func Load(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ClusterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied.
func Default() *ClusterConfig {
	cfg := &ClusterConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with cluster defaults.
func (c *ClusterConfig) ApplyDefaults() {
	if c.NumberOfNodes == 0 {
		c.NumberOfNodes = 1
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = 18
	}
	if c.MaxTasksPerNode == 0 {
		c.MaxTasksPerNode = 32
	}
	if c.Executable == "" {
		c.Executable = "/mnt/nfshare/bin/openseesmp-26062025"
	}
	if c.LibraryPath == "" {
		c.LibraryPath = "/mnt/nfshare/lib"
	}
	if c.InputFile == "" {
		c.InputFile = "main.tcl"
	}
	if c.MonitorInterval == "" {
		c.MonitorInterval = "30s"
	}
	if c.MonitorLogFile == "" {
		c.MonitorLogFile = "memtrack_node.txt"
	}
	if c.PollInterval == "" {
		c.PollInterval = "15s"
	}
	if c.PollMaxFailures == 0 {
		c.PollMaxFailures = 5
	}
	if c.Timeout == "" {
		c.Timeout = "0"
	}
	if c.LedgerPath == "" && c.ArchiveDestination != "" {
		c.LedgerPath = c.ArchiveDestination + "/archive_ledger.log"
	}
}

// Validate checks the bounds for contradictions.
func (c *ClusterConfig) Validate() error {
	if c.NumberOfNodes < 1 {
		return fmt.Errorf("number_of_nodes must be >= 1, got %d", c.NumberOfNodes)
	}
	if c.MaxNodes < c.NumberOfNodes {
		return fmt.Errorf("max_nodes (%d) must be >= number_of_nodes (%d)", c.MaxNodes, c.NumberOfNodes)
	}
	if c.MaxTasksPerNode < 1 {
		return fmt.Errorf("max_tasks_per_node must be >= 1, got %d", c.MaxTasksPerNode)
	}
	if _, err := c.PollIntervalDuration(); err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if _, err := c.MonitorIntervalDuration(); err != nil {
		return fmt.Errorf("invalid monitor_interval: %w", err)
	}
	return nil
}

// PollIntervalDuration returns the parsed poll interval.
func (c *ClusterConfig) PollIntervalDuration() (time.Duration, error) {
	return parseDuration(c.PollInterval, 15*time.Second)
}

// TimeoutDuration returns the parsed wall-clock budget; zero means none.
func (c *ClusterConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(c.Timeout, 0)
}

// MonitorIntervalDuration returns the parsed RAM sampling interval.
func (c *ClusterConfig) MonitorIntervalDuration() (time.Duration, error) {
	return parseDuration(c.MonitorInterval, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
