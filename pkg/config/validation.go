package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate 先做 struct tag 校验，再做跨字段的规则
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	switch cfg.Storage.Type {
	case "disk":
		if cfg.Storage.Path == "" {
			return errors.New("storage.path is required for disk storage")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for s3 storage")
		}
	}

	if cfg.Database.Type == "sqlite" && cfg.Database.Path == "" {
		return errors.New("database.path is required for sqlite")
	}

	if _, err := cfg.Cluster.PeerMap(); err != nil {
		return err
	}
	return nil
}

// formatValidationError 只报告第一个失败的字段
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
