package consolidation

import (
	"strings"
	"time"

	"tax-reconciliation-service/internal/mapping"
	"tax-reconciliation-service/pkg/errors"
)

// Config holds aggregation settings
type Config struct {
	// AmountLabel is the column whose raw value becomes the item nominal.
	AmountLabel string `json:"amount_label"`

	// AmountPath is read from the raw record when no column carries the
	// amount, e.g. for passthrough payloads.
	AmountPath string `json:"amount_path"`

	// MaxParallelDays bounds concurrent calls to the banking API.
	MaxParallelDays int `json:"max_parallel_days"`

	// PreviewTTL is how long a successful preview authorizes a commit.
	PreviewTTL time.Duration `json:"preview_ttl"`

	// MaxRangeDays rejects ranges spanning more days. Zero disables the check.
	MaxRangeDays int `json:"max_range_days"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		AmountLabel:     "Jumlah",
		AmountPath:      "Wtxamount",
		MaxParallelDays: 4,
		PreviewTTL:      30 * time.Minute,
		MaxRangeDays:    31,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if strings.TrimSpace(c.AmountLabel) == "" && strings.TrimSpace(c.AmountPath) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "consolidation.amount_label", "", nil)
	}
	if c.AmountPath != "" {
		if _, err := mapping.ParsePath(c.AmountPath); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "consolidation.amount_path", c.AmountPath, err)
		}
	}
	if c.MaxParallelDays < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "consolidation.max_parallel_days", c.MaxParallelDays, nil)
	}
	if c.PreviewTTL <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "consolidation.preview_ttl", c.PreviewTTL, nil)
	}
	if c.MaxRangeDays < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "consolidation.max_range_days", c.MaxRangeDays, nil)
	}
	return nil
}
