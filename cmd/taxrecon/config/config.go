// Package config turns viper settings into the configurations of the
// service components. Keys are dotted, e.g. "source.base_url", and every
// key can be overridden with a TAXRECON_ prefixed environment variable
// ("TAXRECON_SOURCE_BASE_URL").
package config

import (
	"strings"
	"time"

	"tax-reconciliation-service/internal/consolidation"
	"tax-reconciliation-service/internal/models"
	"tax-reconciliation-service/internal/reporter"
	"tax-reconciliation-service/internal/source"
	"tax-reconciliation-service/pkg/errors"
	"tax-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "TAXRECON"

// Configuration keys
const (
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"
	KeyLogOutput = "log.output"
	KeyLogFile   = "log.file"

	KeySourceBaseURL = "source.base_url"
	KeySourceTimeout = "source.timeout"
	KeySourceRate    = "source.rate_per_second"
	KeySourceBurst   = "source.burst"

	KeyCatalogPath  = "catalog.path"
	KeyDatabasePath = "database.path"

	KeyAmountLabel     = "consolidation.amount_label"
	KeyAmountPath      = "consolidation.amount_path"
	KeyMaxParallelDays = "consolidation.max_parallel_days"
	KeyPreviewTTL      = "consolidation.preview_ttl"
	KeyMaxRangeDays    = "consolidation.max_range_days"
)

// Settings is the resolved configuration of one CLI invocation.
type Settings struct {
	Log           logger.Config
	Source        source.Config
	Consolidation consolidation.Config
	CatalogPath   string
	DatabasePath  string
}

// SetDefaults registers default values for every key on v.
func SetDefaults(v *viper.Viper) {
	logDefaults := logger.DefaultConfig()
	v.SetDefault(KeyLogLevel, string(logDefaults.Level))
	v.SetDefault(KeyLogFormat, string(logDefaults.Format))
	v.SetDefault(KeyLogOutput, string(logDefaults.Output))
	v.SetDefault(KeyLogFile, "")

	src := source.DefaultConfig()
	v.SetDefault(KeySourceBaseURL, "")
	v.SetDefault(KeySourceTimeout, src.Timeout)
	v.SetDefault(KeySourceRate, src.RatePerSecond)
	v.SetDefault(KeySourceBurst, src.Burst)

	v.SetDefault(KeyCatalogPath, "catalog.yaml")
	v.SetDefault(KeyDatabasePath, "taxrecon.db")

	cons := consolidation.DefaultConfig()
	v.SetDefault(KeyAmountLabel, cons.AmountLabel)
	v.SetDefault(KeyAmountPath, cons.AmountPath)
	v.SetDefault(KeyMaxParallelDays, cons.MaxParallelDays)
	v.SetDefault(KeyPreviewTTL, cons.PreviewTTL)
	v.SetDefault(KeyMaxRangeDays, cons.MaxRangeDays)
}

// BindEnv makes every key overridable from the environment.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the settings from v. Source and database settings are only
// validated by the commands that use them.
func Load(v *viper.Viper) (*Settings, error) {
	settings := &Settings{
		Log: logger.Config{
			Level:  logger.Level(strings.ToLower(v.GetString(KeyLogLevel))),
			Format: logger.Format(strings.ToLower(v.GetString(KeyLogFormat))),
			Output: logger.Output(strings.ToLower(v.GetString(KeyLogOutput))),
			File:   v.GetString(KeyLogFile),
		},
		Source: source.Config{
			BaseURL:       strings.TrimSpace(v.GetString(KeySourceBaseURL)),
			Timeout:       v.GetDuration(KeySourceTimeout),
			RatePerSecond: v.GetFloat64(KeySourceRate),
			Burst:         v.GetInt(KeySourceBurst),
		},
		Consolidation: consolidation.Config{
			AmountLabel:     v.GetString(KeyAmountLabel),
			AmountPath:      v.GetString(KeyAmountPath),
			MaxParallelDays: v.GetInt(KeyMaxParallelDays),
			PreviewTTL:      v.GetDuration(KeyPreviewTTL),
			MaxRangeDays:    v.GetInt(KeyMaxRangeDays),
		},
		CatalogPath:  strings.TrimSpace(v.GetString(KeyCatalogPath)),
		DatabasePath: strings.TrimSpace(v.GetString(KeyDatabasePath)),
	}

	if err := settings.Log.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", settings.Log, err)
	}
	if settings.CatalogPath == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, KeyCatalogPath, "", nil)
	}
	return settings, nil
}

// CreateReportConfig creates a report configuration for the specified
// output format
func CreateReportConfig(format, delimiter string, maxRows int) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	config.MaxRows = maxRows

	if delimiter != "" {
		if delimiter == `\t` || delimiter == "tab" {
			delimiter = "\t"
		}
		runes := []rune(delimiter)
		if len(runes) != 1 {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "csv-delimiter", delimiter, nil)
		}
		config.CSVDelimiter = runes[0]
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err)
	}
	return config, nil
}

// ParseDay parses a YYYY-MM-DD command-line date.
func ParseDay(field, value string) (time.Time, error) {
	day, err := models.ParseDay(value)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, field, value, err)
	}
	return day, nil
}
