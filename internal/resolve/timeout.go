package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// withBackendTimeout bounds a single backend call
func withBackendTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// isTimeoutError checks if an error is a timeout error and wraps it with helpful context
func isTimeoutError(err error, kind v1beta1.BackendType, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return dserrors.UserError{
			Message:    "Backend operation timed out",
			Details:    fmt.Sprintf("Operation exceeded %s timeout", timeout),
			Suggestion: getTimeoutSuggestion(kind, timeout),
			Err:        err,
		}
	}
	return err
}

// getTimeoutSuggestion provides helpful suggestions for timeout errors
func getTimeoutSuggestion(kind v1beta1.BackendType, timeout time.Duration) string {
	short := timeout < 5*time.Second

	switch kind {
	case v1beta1.BackendSSM, v1beta1.BackendSecretManager, v1beta1.BackendCloudformation, v1beta1.BackendAppConfig:
		if short {
			return "AWS API can be slow. Try increasing timeout_ms to 10000"
		}
		return "Check AWS connectivity and credentials. Verify region is correct"

	case v1beta1.BackendGCPSecretManager:
		if short {
			return "Google Cloud API can be slow. Try increasing timeout_ms to 10000"
		}
		return "Check Google Cloud connectivity and authentication"

	case v1beta1.BackendAzureKeyVault:
		if short {
			return "Azure API can be slow. Try increasing timeout_ms to 10000"
		}
		return "Check Azure connectivity and authentication"

	case v1beta1.BackendVault, v1beta1.BackendKeyValue:
		if short {
			return "Vault API can be slow. Try increasing timeout_ms to 10000"
		}
		return "Check Vault connectivity and authentication. Verify VAULT_ADDR"

	case v1beta1.BackendPulumi:
		if short {
			return "Stack exports can be large. Try increasing timeout_ms to 15000"
		}
		return "Check connectivity to the Pulumi service endpoint"
	}

	if short {
		return "Backend operation timed out. Try increasing timeout_ms in the backend configuration"
	}
	return "Check network connectivity and backend authentication. Consider increasing timeout_ms if the backend is consistently slow"
}

// providerLabel maps a backend kind to the name used in error suggestions
func providerLabel(kind v1beta1.BackendType) string {
	switch kind {
	case v1beta1.BackendSSM:
		return "ssm"
	case v1beta1.BackendSecretManager:
		return "secretsmanager"
	case v1beta1.BackendCloudformation:
		return "cloudformation"
	case v1beta1.BackendAppConfig:
		return "appconfig"
	case v1beta1.BackendVault:
		return "vault"
	case v1beta1.BackendKeyValue:
		return "keyvalue"
	case v1beta1.BackendPulumi:
		return "pulumi"
	case v1beta1.BackendGCPSecretManager:
		return "gcp"
	case v1beta1.BackendAzureKeyVault:
		return "azure"
	default:
		return string(kind)
	}
}
