// Package provider defines the backend contract used by the rsecrets operator.
//
// Every remote system an RSecret can read from (parameter stores, secret
// managers, stack outputs, configuration services, key/value vaults) is exposed
// as a Provider. The operator never talks to a backend SDK directly: the
// resolution engine in internal/resolve turns each declared field into a
// Reference, asks the matching Provider for a SecretValue and shapes the
// result into Secret entries.
//
// # Architecture Overview
//
//	┌─────────────────────────────────────────────────────────────┐
//	│              Reconciler (internal/controller)               │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│         Resolution Engine + Value Cache (internal/resolve)  │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│                Provider Interface (pkg/provider)            │
//	└─────────────────────────┬───────────────────────────────────┘
//	                          │
//	┌─────────────────────────▼───────────────────────────────────┐
//	│           Provider Implementations (internal/providers)     │
//	│   SSM  SecretsManager  CloudFormation  Pulumi  AppConfig    │
//	│   Vault  GCP Secret Manager  Azure Key Vault  Plaintext     │
//	└─────────────────────────────────────────────────────────────┘
//
// # Scalar and Structured Backends
//
// Most backends return one string per lookup (Provider.Resolve). Backends
// whose natural unit is a set of named values, such as stack outputs or a
// Vault KV secret, additionally implement OutputLister so an RSecret field
// without an output key can expand the whole structure into Secret entries.
//
// # Error Handling
//
// Providers should return NotFoundError for missing secrets and AuthError for
// credential failures. The resolution engine logs these per field and skips
// the entry; they never abort a reconciliation.
//
// # Threading and Concurrency
//
// Provider implementations must be safe for concurrent use. Fields of one
// RSecret and several RSecrets are resolved in parallel.
package provider
