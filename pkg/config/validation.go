package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Note: log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.Metadata.Type == "badger" {
		path, _ := cfg.Metadata.Badger["db_path"].(string)
		inMemory, _ := cfg.Metadata.Badger["in_memory"].(bool)
		if path == "" && !inMemory {
			return fmt.Errorf("metadata.badger: db_path is required unless in_memory is set")
		}
	}

	if cfg.Metadata.Type == "postgres" {
		if dsn, _ := cfg.Metadata.Postgres["dsn"].(string); dsn == "" {
			return fmt.Errorf("metadata.postgres: dsn is required")
		}
	}

	if cfg.Content.Type == "s3" {
		if bucket, _ := cfg.Content.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("content.s3: bucket is required")
		}
		if region, _ := cfg.Content.S3["region"].(string); region == "" {
			return fmt.Errorf("content.s3: region is required")
		}
	}

	// Sweeping without a blob grace window would reclaim blobs the instant
	// their count hits zero, racing in-flight rewrites.
	if cfg.Engine.SweepInterval > 0 && cfg.Engine.BlobGrace <= 0 {
		return fmt.Errorf("engine: blob_grace must be positive when the sweeper is enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly
// messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
