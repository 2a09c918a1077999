package ldap

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// LogOperation is a helper function to log an operation with timing.
func LogOperation(logger hclog.Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	logger.Debug("starting operation", fieldArgs(fields)...)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		logger.Debug("operation failed", fieldArgs(fields)...)
	} else {
		logger.Debug("operation completed successfully", fieldArgs(fields)...)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(logger hclog.Logger, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["category"] = string(GetErrorCategory(err))
	fields["error"] = err.Error()

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		fields["ldap_result_code"] = ldapErr.ResultCode
		if ldapErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = ldapErr.MatchedDN
		}
		if ldapErr.Err != nil {
			fields["ldap_diagnostic_message"] = ldapErr.Err.Error()
		}
	}

	logger.Error("LDAP operation failed", fieldArgs(fields)...)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(logger hclog.Logger, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_failed", "connection_lost":
		logger.Warn("connection event", fieldArgs(fields)...)
	case "connection_reset_ignored":
		logger.Info("connection event", fieldArgs(fields)...)
	default:
		logger.Trace("connection event", fieldArgs(fields)...)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":      true,
		"passwd":        true,
		"secret":        true,
		"bind_password": true,
		"credential":    true,
		"credentials":   true,
	}

	for k, v := range fields {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"userpassword=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// fieldArgs flattens sanitized fields into sorted hclog key/value pairs.
func fieldArgs(fields map[string]any) []any {
	sanitized := SanitizeFields(fields)
	keys := slices.Sorted(maps.Keys(sanitized))

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, sanitized[k])
	}
	return args
}
