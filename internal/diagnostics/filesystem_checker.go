// Filesystem checker: required directories, writability, and disk headroom.
package diagnostics

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/archivio/doctor/internal/logging"
)

const fixCreateDir = "create_dir"

// FilesystemCheckerConfig lists the directories the application depends on.
type FilesystemCheckerConfig struct {
	RequiredDirs []string

	// UsagePath is the mount inspected for disk headroom; empty falls
	// back to the first required directory.
	UsagePath string

	// MaxUsedPercent triggers a warning when exceeded. Zero means 90.
	MaxUsedPercent float64
}

// FilesystemChecker verifies directory presence, writability and disk usage.
type FilesystemChecker struct {
	BaseChecker
	cfg FilesystemCheckerConfig
}

// NewFilesystemChecker builds the filesystem checker.
func NewFilesystemChecker(cfg FilesystemCheckerConfig, log logging.Logger) *FilesystemChecker {
	if cfg.MaxUsedPercent <= 0 {
		cfg.MaxUsedPercent = 90
	}
	return &FilesystemChecker{
		BaseChecker: NewBaseChecker("filesystem", "filesystem", true, log),
		cfg:         cfg,
	}
}

// Check aggregates the worst outcome across directory and disk sub-checks.
func (f *FilesystemChecker) Check(ctx context.Context, _ Options) (*CheckResult, error) {
	details := make(map[string]interface{})
	var issues []Issue
	worst := StatusPass

	degrade := func(s Status) {
		if statusRank(s) > statusRank(worst) {
			worst = s
		}
	}

	for _, dir := range f.cfg.RequiredDirs {
		info, err := os.Stat(dir)
		switch {
		case os.IsNotExist(err):
			degrade(StatusError)
			issues = append(issues, f.NewIssue(SeverityHigh,
				fmt.Sprintf("required directory %q is missing", dir), IssueOptions{
					AutoFixable: true,
					Fix:         NewFix(fmt.Sprintf("Create directory %s", dir), "mkdir -p "+dir),
					Details:     map[string]interface{}{"fix": fixCreateDir, "dir": dir},
				}))
			continue
		case err != nil:
			degrade(StatusError)
			issues = append(issues, f.NewIssue(SeverityHigh,
				fmt.Sprintf("directory %q is not accessible: %v", dir, err), IssueOptions{
					Recommendations: []string{"Check filesystem permissions and mount state"},
					Details:         map[string]interface{}{"dir": dir},
				}))
			continue
		case !info.IsDir():
			degrade(StatusError)
			issues = append(issues, f.NewIssue(SeverityHigh,
				fmt.Sprintf("%q exists but is not a directory", dir), IssueOptions{
					Recommendations: []string{"Move the file aside and recreate the directory"},
					Details:         map[string]interface{}{"dir": dir},
				}))
			continue
		}
		if err := probeWritable(dir); err != nil {
			degrade(StatusError)
			issues = append(issues, f.NewIssue(SeverityHigh,
				fmt.Sprintf("directory %q is not writable", dir), IssueOptions{
					Recommendations: []string{
						fmt.Sprintf("Fix ownership or mode of %s so the application can write to it", dir),
					},
					Details: map[string]interface{}{"dir": dir, "error": err.Error()},
				}))
		}
	}
	details["directories_checked"] = len(f.cfg.RequiredDirs)

	usagePath := f.cfg.UsagePath
	if usagePath == "" && len(f.cfg.RequiredDirs) > 0 {
		usagePath = f.cfg.RequiredDirs[0]
	}
	if usagePath != "" {
		if usage, err := disk.UsageWithContext(ctx, usagePath); err == nil {
			details["disk_used_percent"] = usage.UsedPercent
			details["disk_free_bytes"] = usage.Free
			if usage.UsedPercent > f.cfg.MaxUsedPercent {
				degrade(StatusWarning)
				issues = append(issues, f.NewIssue(SeverityMedium,
					fmt.Sprintf("disk is %.1f%% full", usage.UsedPercent), IssueOptions{
						Recommendations: []string{
							"Free disk space or expand the volume before storage operations start failing",
						},
						Details: map[string]interface{}{"used_percent": usage.UsedPercent},
					}))
			}
		}
	}

	res := &CheckResult{
		Name:    f.Name(),
		Status:  worst,
		Message: fmt.Sprintf("filesystem checks completed with %d issue(s)", len(issues)),
		Details: details,
		Issues:  issues,
	}
	if worst == StatusPass {
		res.Message = "filesystem is healthy"
	}
	return res, nil
}

// AutoFix creates missing directories; other filesystem issues need an
// operator.
func (f *FilesystemChecker) AutoFix(_ context.Context, issues []Issue, _ Options) ([]FixResult, error) {
	results := make([]FixResult, 0, len(issues))
	for _, issue := range issues {
		marker, _ := issue.Details["fix"].(string)
		if marker != fixCreateDir {
			results = append(results, f.NewFixResult(issue.ID, false,
				"no remediation routine for issue", FixOutcome{}))
			continue
		}
		dir, _ := issue.Details["dir"].(string)
		if dir == "" {
			results = append(results, f.NewFixResult(issue.ID, false,
				"issue carries no directory path", FixOutcome{}))
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			results = append(results, f.NewFixResult(issue.ID, false,
				"directory creation failed", FixOutcome{Err: err}))
			continue
		}
		f.Log().Info("created missing directory", logging.Fields{"dir": dir})
		results = append(results, f.NewFixResult(issue.ID, true, "directory created", FixOutcome{}))
	}
	return results, nil
}

// probeWritable verifies write access by creating and removing a probe file.
func probeWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".doctor-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}
