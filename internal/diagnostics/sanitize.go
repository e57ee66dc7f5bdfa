// Egress sanitization. Every structure leaving the engine (API responses,
// log lines, CLI output) passes through these pure functions: values under
// sensitive key names become "[REDACTED]", JWT-shaped substrings inside
// strings become "[JWT_TOKEN]", and error stack traces are stripped.
// Sanitization is idempotent and leaves non-sensitive fields untouched.
package diagnostics

import (
	"regexp"
	"strings"
)

const (
	redactedPlaceholder = "[REDACTED]"
	jwtPlaceholder      = "[JWT_TOKEN]"
)

// sensitiveKeys holds normalized key names (lowercase, separators removed)
// whose values are always redacted.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"passphrase":    {},
	"apikey":        {},
	"token":         {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"secret":        {},
	"clientsecret":  {},
	"credential":    {},
	"credentials":   {},
	"authorization": {},
	"auth":          {},
	"privatekey":    {},
	"sessionid":     {},
	"cookie":        {},
}

// jwtPattern matches header.payload.signature base64url triples. JWTs start
// with the base64url encoding of `{"`, which is "eyJ".
var jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	_, ok := sensitiveKeys[normalized]
	return ok
}

func redactString(s string) string {
	return jwtPattern.ReplaceAllString(s, jwtPlaceholder)
}

// RedactSensitiveData recursively walks maps, slices and strings, replacing
// values of sensitive keys with "[REDACTED]" and JWT-shaped substrings with
// "[JWT_TOKEN]". The input is not mutated.
func RedactSensitiveData(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if isSensitiveKey(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = RedactSensitiveData(val)
		}
		return out
	case Options:
		return RedactSensitiveData(map[string]interface{}(v))
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = RedactSensitiveData(val)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = redactString(s)
		}
		return out
	case string:
		return redactString(v)
	default:
		return value
	}
}

func redactDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	return RedactSensitiveData(details).(map[string]interface{})
}

// SanitizeParams redacts caller-supplied check options before they are
// logged or echoed back.
func SanitizeParams(opts Options) Options {
	if opts == nil {
		return nil
	}
	return Options(RedactSensitiveData(map[string]interface{}(opts)).(map[string]interface{}))
}

// SanitizeCheckResult returns a copy of r safe to emit: details and message
// redacted, embedded issues sanitized, and the error stack stripped.
func SanitizeCheckResult(r CheckResult) CheckResult {
	r.Message = redactString(r.Message)
	r.Details = redactDetails(r.Details)
	if r.Error != nil {
		e := *r.Error
		e.Message = redactString(e.Message)
		e.Stack = ""
		r.Error = &e
	}
	if len(r.Issues) > 0 {
		issues := make([]Issue, len(r.Issues))
		for i, issue := range r.Issues {
			issues[i] = SanitizeIssue(issue)
		}
		r.Issues = issues
	}
	return r
}

// SanitizeIssue returns a copy of the issue safe to emit.
func SanitizeIssue(issue Issue) Issue {
	issue.Message = redactString(issue.Message)
	issue.Details = redactDetails(issue.Details)
	if len(issue.Recommendations) > 0 {
		recs := make([]string, len(issue.Recommendations))
		for i, rec := range issue.Recommendations {
			recs[i] = redactString(rec)
		}
		issue.Recommendations = recs
	}
	if issue.Fix != nil {
		fix := *issue.Fix
		fix.Description = redactString(fix.Description)
		fix.Command = redactString(fix.Command)
		issue.Fix = &fix
	}
	return issue
}

// SanitizeComponentResult returns a copy of the component result safe to
// emit.
func SanitizeComponentResult(cr ComponentResult) ComponentResult {
	checks := make([]CheckResult, len(cr.Checks))
	for i, c := range cr.Checks {
		checks[i] = SanitizeCheckResult(c)
	}
	cr.Checks = checks

	issues := make([]Issue, len(cr.Issues))
	for i, issue := range cr.Issues {
		issues[i] = SanitizeIssue(issue)
	}
	cr.Issues = issues
	return cr
}

// SanitizeReport returns a copy of the report safe to emit.
func SanitizeReport(r Report) Report {
	components := make([]ComponentResult, len(r.Components))
	for i, cr := range r.Components {
		components[i] = SanitizeComponentResult(cr)
	}
	r.Components = components

	issues := make([]Issue, len(r.Issues))
	for i, issue := range r.Issues {
		issues[i] = SanitizeIssue(issue)
	}
	r.Issues = issues

	if len(r.Recommendations) > 0 {
		recs := make([]string, len(r.Recommendations))
		for i, rec := range r.Recommendations {
			recs[i] = redactString(rec)
		}
		r.Recommendations = recs
	}
	return r
}
