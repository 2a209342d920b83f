package v1beta1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// FinalizerName guards an RSecret until its materialized Secret is gone.
	FinalizerName = "rsecrets.secrets.systmms.io/finalizer"

	// AppLabel carries the owning RSecret name on the materialized Secret.
	AppLabel = "app"
	// HashLabel carries the content fingerprint of the materialized Secret.
	HashLabel = "hash_id"
)

// BackendType names the remote system a Resource reads from.
// +kubebuilder:validation:Enum=SSM;SecretManager;Cloudformation;Pulumi;AppConfig;Vault;KeyValue;Plaintext;GCPSecretManager;AzureKeyVault
type BackendType string

const (
	// BackendSSM reads AWS Systems Manager Parameter Store parameters.
	BackendSSM BackendType = "SSM"
	// BackendSecretManager reads AWS Secrets Manager secrets.
	BackendSecretManager BackendType = "SecretManager"
	// BackendCloudformation reads CloudFormation stack outputs.
	BackendCloudformation BackendType = "Cloudformation"
	// BackendPulumi reads Pulumi stack outputs from the Pulumi service.
	BackendPulumi BackendType = "Pulumi"
	// BackendAppConfig reads AWS AppConfig hosted configuration versions.
	BackendAppConfig BackendType = "AppConfig"
	// BackendVault reads the "value" field of a Vault KV v2 secret.
	BackendVault BackendType = "Vault"
	// BackendKeyValue reads every field of a Vault KV v2 secret.
	BackendKeyValue BackendType = "KeyValue"
	// BackendPlaintext uses the declared value verbatim.
	BackendPlaintext BackendType = "Plaintext"
	// BackendGCPSecretManager reads Google Cloud Secret Manager versions.
	BackendGCPSecretManager BackendType = "GCPSecretManager"
	// BackendAzureKeyVault reads Azure Key Vault secrets.
	BackendAzureKeyVault BackendType = "AzureKeyVault"
)

// BackendTypes lists every supported backend in documentation order.
var BackendTypes = []BackendType{
	BackendSSM,
	BackendSecretManager,
	BackendCloudformation,
	BackendPulumi,
	BackendAppConfig,
	BackendVault,
	BackendKeyValue,
	BackendPlaintext,
	BackendGCPSecretManager,
	BackendAzureKeyVault,
}

// SecretData declares one desired entry of the materialized Secret.
type SecretData struct {
	// Value is the lookup identifier. For SSM and the secret managers it is
	// the secret name, for stack outputs the stack name, for AppConfig the
	// application id, for Vault and KeyValue the KV path, and for Plaintext
	// the secret value itself.
	Value string `json:"value"`

	// IsJSONString marks the fetched value as a JSON document.
	// +optional
	IsJSONString bool `json:"is_json_string,omitempty"`

	// RemotePath is the dotted path into a JSON document (array indices are
	// path segments, e.g. phones.0). For stack outputs it names the output,
	// for KeyValue the field of the KV secret.
	// +optional
	RemotePath string `json:"remote_path,omitempty"`

	// Key is the output key in the Secret. When empty, backends that return
	// structured data expand every top-level property into its own key.
	// +optional
	Key string `json:"key,omitempty"`

	// ConfigurationProfileID selects the AppConfig configuration profile.
	// +optional
	ConfigurationProfileID string `json:"configuration_profile_id,omitempty"`

	// VersionNumber selects the AppConfig hosted configuration version.
	// +optional
	VersionNumber int32 `json:"version_number,omitempty"`
}

// Resource is one backend declaration of an RSecret.
type Resource struct {
	Backend BackendType `json:"backend"`

	// +optional
	Data []SecretData `json:"data,omitempty"`

	// PulumiToken overrides PULUMI_ACCESS_TOKEN for the Pulumi backend.
	// +optional
	PulumiToken string `json:"pulumi_token,omitempty"`
}

// RSecretSpec defines the desired state of RSecret
type RSecretSpec struct {
	// Resources are merged in order; on key collisions the earlier entry wins.
	// +optional
	Resources []Resource `json:"resources,omitempty"`

	// +optional
	Description string `json:"description,omitempty"`
}

// RSecretStatus defines the observed state of RSecret
type RSecretStatus struct {
	// +optional
	LastUpdated *metav1.Time `json:"last_updated,omitempty"`

	// ObservedHash is the fingerprint written on the last materialization.
	// +optional
	ObservedHash string `json:"observed_hash,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:resource:shortName=rsec

// RSecret is the Schema for the rsecrets API
type RSecret struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   RSecretSpec   `json:"spec,omitempty"`
	Status RSecretStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// RSecretList contains a list of RSecret
type RSecretList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []RSecret `json:"items"`
}

func init() {
	SchemeBuilder.Register(&RSecret{}, &RSecretList{})
}
