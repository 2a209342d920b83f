package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the operator with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProviderError enhances backend-specific errors with context
func ProviderError(provider string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s provider error during %s", provider, operation),
		Suggestion: getProviderSuggestion(provider, err),
		Err:        err,
	}
}

// getProviderSuggestion returns helpful suggestions based on provider and error
func getProviderSuggestion(provider string, err error) string {
	errStr := err.Error()

	switch provider {
	case "ssm", "secretsmanager", "cloudformation", "appconfig":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials for the operator (IRSA, AWS_PROFILE or static keys)"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return fmt.Sprintf("Check the operator's IAM permissions for %s", provider)
		}
		if strings.Contains(errStr, "ResourceNotFoundException") || strings.Contains(errStr, "ParameterNotFound") {
			return "Verify the name and region configured for the backend"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Increase the cache TTL or reduce the number of RSecrets"
		}

	case "vault", "keyvalue":
		if strings.Contains(errStr, "permission denied") {
			return "Check the Vault token policy grants read on the KV path"
		}
		if strings.Contains(errStr, "missing client token") {
			return "Set VAULT_TOKEN or vault.token in the operator config"
		}

	case "pulumi":
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") {
			return "Set PULUMI_ACCESS_TOKEN or pulumi_token on the RSecret resource"
		}
		if strings.Contains(errStr, "404") {
			return "Verify the stack is given as <org>/<project>/<stack>"
		}

	case "gcp":
		if strings.Contains(errStr, "PermissionDenied") {
			return "Grant roles/secretmanager.secretAccessor to the operator service account"
		}

	case "azure":
		if strings.Contains(errStr, "Forbidden") {
			return "Grant the operator identity 'get' on secrets in the Key Vault access policy"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check network access from the operator pod"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check the backend endpoint in the operator config"
	}

	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for operators
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "json:") {
		return ConfigError{
			Message:    "Invalid JSON format",
			Suggestion: "Validate the document with a JSON linter",
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
