package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pxpalacios/ladruno/internal/config"
	"github.com/pxpalacios/ladruno/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string
	verbose      bool
	logFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ladruno",
	Short: "Slurm job manager for MPI simulation models",
	Long: `ladruno submits MPI simulation models to a Slurm cluster, sizes the
allocation from the model's partition files, monitors the job until it
finishes, repairs HDF5 output flags, and archives completed models.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ladruno/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "tee structured logs to this file")
}

// initConfig wires viper: explicit --config wins, then $HOME/.ladruno,
// then LADRUNO_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".ladruno"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LADRUNO")
	viper.AutomaticEnv()
	viper.BindEnv("executable", "LADRUNO_EXECUTABLE")
	viper.BindEnv("archive_destination", "LADRUNO_ARCHIVE_DESTINATION")

	// Missing config file is fine; defaults cover everything.
	viper.ReadInConfig()
}

// clusterConfig loads the cluster profile the resolved config file points at,
// overlaid with any viper-bound environment values.
func clusterConfig() (*config.ClusterConfig, error) {
	var cfg *config.ClusterConfig
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if v := viper.GetString("executable"); v != "" {
		cfg.Executable = v
	}
	if v := viper.GetString("archive_destination"); v != "" {
		cfg.ArchiveDestination = v
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the run logger from the global flags.
func newLogger() (*logging.Logger, error) {
	level := logging.INFO
	if verbose {
		level = logging.DEBUG
	}
	if logFile != "" {
		return logging.NewFileLogger(logFile, level, false)
	}
	return logging.New(level, false), nil
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
