package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/rsecrets/internal/config"
	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// NewBackendsCommand lists the supported backends
func NewBackendsCommand(cfg *config.Config) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "backends [KIND...]",
		Short: "List supported backends",
		Long: `Display the backend kinds an RSecret may use and whether the operator
config has settings for them.

With --check each backend (or only the given kinds) is constructed and asked
to validate its credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}
			registry, _, _ := newResolver(def, cfg.Logger)

			kinds := registry.SupportedTypes()
			if len(args) > 0 {
				kinds = kinds[:0]
				for _, a := range args {
					kind := v1beta1.BackendType(a)
					if !registry.IsSupported(kind) {
						return fmt.Errorf("unknown backend %q", a)
					}
					kinds = append(kinds, kind)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			if check {
				_, _ = fmt.Fprintf(w, "BACKEND\tDESCRIPTION\tCONFIGURED\tSTATUS\n")
			} else {
				_, _ = fmt.Fprintf(w, "BACKEND\tDESCRIPTION\tCONFIGURED\n")
			}

			failed := 0
			for _, kind := range kinds {
				_, configured := def.Backends[kind]
				if !check {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%t\n", kind, getBackendDescription(kind), configured)
					continue
				}
				status := "ok"
				if err := registry.Check(cmd.Context(), kind); err != nil {
					failed++
					status = "error: " + dserrors.SimplifyError(err).Error()
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", kind, getBackendDescription(kind), configured, status)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if failed > 0 {
				return fmt.Errorf("%d backend(s) failed validation", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Construct each backend and validate its credentials")

	return cmd
}

// getBackendDescription returns a description for a backend kind
func getBackendDescription(kind v1beta1.BackendType) string {
	descriptions := map[v1beta1.BackendType]string{
		v1beta1.BackendSSM:              "AWS Systems Manager Parameter Store",
		v1beta1.BackendSecretManager:    "AWS Secrets Manager",
		v1beta1.BackendCloudformation:   "AWS CloudFormation stack outputs",
		v1beta1.BackendAppConfig:        "AWS AppConfig hosted configuration",
		v1beta1.BackendPulumi:           "Pulumi service stack outputs",
		v1beta1.BackendVault:            "HashiCorp Vault KV v2 (value field)",
		v1beta1.BackendKeyValue:         "HashiCorp Vault KV v2 (whole secret)",
		v1beta1.BackendPlaintext:        "Literal values from the manifest",
		v1beta1.BackendGCPSecretManager: "Google Cloud Secret Manager",
		v1beta1.BackendAzureKeyVault:    "Azure Key Vault",
	}

	if desc, exists := descriptions[kind]; exists {
		return desc
	}
	return "No description available"
}
