// Configuration checker: verifies the application's config file exists,
// parses, and carries every required key. Remediation writes default values
// back to the file.
package diagnostics

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/archivio/doctor/internal/logging"
)

const (
	fixWriteDefaults  = "write_defaults"
	fixSetMissingKeys = "set_missing_keys"
)

// ConfigCheckerConfig locates the config file and declares its contract.
type ConfigCheckerConfig struct {
	// Path is the config file inspected and, on auto-fix, rewritten.
	Path string

	// RequiredKeys must all be present for the config to pass.
	RequiredKeys []string

	// Defaults supplies the values written when the file or individual
	// keys are missing. Keys absent from Defaults cannot be auto-fixed.
	Defaults map[string]interface{}
}

// ConfigChecker validates the configuration file against required keys.
type ConfigChecker struct {
	BaseChecker
	cfg ConfigCheckerConfig
}

// NewConfigChecker builds the configuration checker.
func NewConfigChecker(cfg ConfigCheckerConfig, log logging.Logger) *ConfigChecker {
	return &ConfigChecker{
		BaseChecker: NewBaseChecker("config_file", "config", true, log),
		cfg:         cfg,
	}
}

// Check verifies presence, parseability and key completeness of the config
// file. A missing file is fixable when defaults exist for every required
// key; missing keys are fixable when defaults exist for each of them.
func (c *ConfigChecker) Check(_ context.Context, _ Options) (*CheckResult, error) {
	details := map[string]interface{}{"path": c.cfg.Path}

	if _, err := os.Stat(c.cfg.Path); os.IsNotExist(err) {
		issue := c.NewIssue(SeverityCritical,
			fmt.Sprintf("configuration file %q does not exist", c.cfg.Path), IssueOptions{
				AutoFixable: c.defaultsCover(c.cfg.RequiredKeys),
				Fix:         NewFix("Write a configuration file with default values", ""),
				Details:     map[string]interface{}{"fix": fixWriteDefaults},
			})
		res := c.ErrorResult("configuration file is missing", nil, details)
		res.Issues = []Issue{issue}
		return res, nil
	} else if err != nil {
		return c.ErrorResult("configuration file is not accessible", err, details), nil
	}

	v := viper.New()
	v.SetConfigFile(c.cfg.Path)
	if err := v.ReadInConfig(); err != nil {
		issue := c.NewIssue(SeverityCritical,
			fmt.Sprintf("configuration file does not parse: %v", err), IssueOptions{
				Recommendations: []string{
					"Restore the configuration file from version control or a backup",
				},
			})
		res := c.ErrorResult("configuration file does not parse", err, details)
		res.Issues = []Issue{issue}
		return res, nil
	}

	var missing []string
	for _, key := range c.cfg.RequiredKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
		}
	}
	details["keys_checked"] = len(c.cfg.RequiredKeys)

	if len(missing) > 0 {
		details["missing_keys"] = missing
		issue := c.NewIssue(SeverityHigh,
			fmt.Sprintf("configuration is missing %d required key(s)", len(missing)), IssueOptions{
				AutoFixable: c.defaultsCover(missing),
				Fix:         NewFix("Add the missing keys with default values", ""),
				Details: map[string]interface{}{
					"fix":  fixSetMissingKeys,
					"keys": missing,
				},
			})
		res := c.ErrorResult("required configuration keys are missing", nil, details)
		res.Issues = []Issue{issue}
		return res, nil
	}

	return c.SuccessResult("configuration is complete", details), nil
}

// AutoFix writes defaults for a missing file or fills in missing keys while
// preserving the values already present.
func (c *ConfigChecker) AutoFix(_ context.Context, issues []Issue, _ Options) ([]FixResult, error) {
	results := make([]FixResult, 0, len(issues))
	for _, issue := range issues {
		marker, _ := issue.Details["fix"].(string)
		switch marker {
		case fixWriteDefaults:
			if err := c.writeDefaults(); err != nil {
				results = append(results, c.NewFixResult(issue.ID, false,
					"writing default configuration failed", FixOutcome{Err: err}))
				continue
			}
			results = append(results, c.NewFixResult(issue.ID, true,
				"default configuration written", FixOutcome{}))
		case fixSetMissingKeys:
			keys := issueKeys(issue)
			if err := c.fillMissingKeys(keys); err != nil {
				results = append(results, c.NewFixResult(issue.ID, false,
					"filling missing keys failed", FixOutcome{Err: err}))
				continue
			}
			results = append(results, c.NewFixResult(issue.ID, true,
				fmt.Sprintf("%d key(s) written with defaults", len(keys)), FixOutcome{}))
		default:
			results = append(results, c.NewFixResult(issue.ID, false,
				"no remediation routine for issue", FixOutcome{}))
		}
	}
	return results, nil
}

func (c *ConfigChecker) writeDefaults() error {
	v := viper.New()
	v.SetConfigFile(c.cfg.Path)
	for key, val := range c.cfg.Defaults {
		v.Set(key, val)
	}
	if err := v.WriteConfigAs(c.cfg.Path); err != nil {
		return err
	}
	c.Log().Info("wrote default configuration", logging.Fields{"path": c.cfg.Path})
	return nil
}

func (c *ConfigChecker) fillMissingKeys(keys []string) error {
	v := viper.New()
	v.SetConfigFile(c.cfg.Path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	wrote := 0
	for _, key := range keys {
		val, ok := c.cfg.Defaults[key]
		if !ok {
			continue
		}
		v.Set(key, val)
		wrote++
	}
	if wrote == 0 {
		return fmt.Errorf("no defaults available for keys %v", keys)
	}
	if err := v.WriteConfigAs(c.cfg.Path); err != nil {
		return err
	}
	c.Log().Info("filled missing configuration keys", logging.Fields{
		"path": c.cfg.Path,
		"keys": wrote,
	})
	return nil
}

// defaultsCover reports whether a default exists for every key.
func (c *ConfigChecker) defaultsCover(keys []string) bool {
	for _, key := range keys {
		if _, ok := c.cfg.Defaults[key]; !ok {
			return false
		}
	}
	return len(keys) > 0
}

func issueKeys(issue Issue) []string {
	switch v := issue.Details["keys"].(type) {
	case []string:
		return v
	case []interface{}:
		keys := make([]string, 0, len(v))
		for _, k := range v {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}
