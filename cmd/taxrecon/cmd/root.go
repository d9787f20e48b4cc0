package cmd

import (
	"fmt"
	"os"

	"tax-reconciliation-service/cmd/taxrecon/config"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// initErr holds a failure of initConfig, reported once a command runs.
	initErr error

	// settings is resolved before every command runs.
	settings *config.Settings
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taxrecon",
	Short: "Regional tax transaction reconciliation tool",
	Long: `Taxrecon pulls daily transaction data from partner bank APIs, normalizes
it through the mapping catalog and consolidates date ranges into stored
batches.

Examples:
  taxrecon fetch --proccode 180V42 --source BJB01 --date 2025-12-17
  taxrecon consolidate preview --proccode 180V42 --source BJB01 --district 3201 --from 2025-12-01 --to 2025-12-07
  taxrecon consolidate commit --proccode 180V42 --source BJB01 --district 3201 --from 2025-12-01 --to 2025-12-07 --yes
  taxrecon catalog validate --catalog catalog.yaml`,
	Version:           getVersionString(),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before environment binding")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("catalog", "", "catalog file (default catalog.yaml)")
	flags.String("database", "", "SQLite database file (default taxrecon.db)")
	flags.String("base-url", "", "banking API endpoint")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")

	// Bind flags to viper
	viper.BindPFlag("verbose", flags.Lookup("verbose"))
	viper.BindPFlag(config.KeyCatalogPath, flags.Lookup("catalog"))
	viper.BindPFlag(config.KeyDatabasePath, flags.Lookup("database"))
	viper.BindPFlag(config.KeySourceBaseURL, flags.Lookup("base-url"))
	viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
}

// initConfig reads in the dotenv file, the config file and ENV variables.
func initConfig() {
	initErr = nil

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			initErr = errors.ConfigurationError(errors.CodeInvalidConfig, "env-file", envFile, err)
			return
		}
	}

	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(cfgFile)

		if err := v.ReadInConfig(); err != nil {
			initErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("check the config file path and syntax")
			return
		}
	}

	// Read environment variables that match
	config.BindEnv(v)
}

// loadSettings resolves the settings and installs the global logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	if initErr != nil {
		return initErr
	}

	s, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if viper.GetBool("verbose") {
		s.Log.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(&s.Log)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", s.Log, err)
	}
	logger.SetGlobalLogger(log)
	settings = s

	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("config", used).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
