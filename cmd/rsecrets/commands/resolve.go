package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/rsecrets/internal/config"
	"github.com/systmms/rsecrets/internal/manifest"
	"github.com/systmms/rsecrets/internal/target"
)

type resolveOutput struct {
	Name        string                `json:"name"`
	Namespace   string                `json:"namespace"`
	Fingerprint string                `json:"fingerprint"`
	Failed      int                   `json:"failed"`
	Keys        map[string]resolvedKV `json:"keys"`
}

type resolvedKV struct {
	Size  int    `json:"size"`
	Value string `json:"value,omitempty"`
}

// NewResolveCommand assembles the Secret of a manifest without a cluster
func NewResolveCommand(cfg *config.Config) *cobra.Command {
	var (
		file       string
		showValues bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an RSecret manifest locally",
		Long: `Validate an RSecret manifest, fetch every declared value with the local
credentials and print the resulting keys and fingerprint.

Values are hidden unless --show-values is given.`,
		Example: `  rsecrets resolve -f rsecret.yaml
  cat rsecret.yaml | rsecrets resolve -f - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := manifest.Load(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}

			_, _, resolver := newResolver(def, cfg.Logger)
			assembly := resolver.Assemble(cmd.Context(), rs.Spec.Resources)
			stats := resolver.CacheStats()
			cfg.Logger.Debug("Resolved %d keys (%d failed fields, cache hits=%d misses=%d)",
				len(assembly.Data), assembly.Failed(), stats.Hits, stats.Misses)

			out := resolveOutput{
				Name:        rs.Name,
				Namespace:   rs.Namespace,
				Fingerprint: target.FormatFingerprint(target.Fingerprint(assembly.Data)),
				Failed:      assembly.Failed(),
				Keys:        make(map[string]resolvedKV, len(assembly.Data)),
			}
			for k, v := range assembly.Data {
				kv := resolvedKV{Size: len(v)}
				if showValues {
					kv.Value = string(v)
				}
				out.Keys[k] = kv
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printResolved(cmd, out, showValues)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "RSecret manifest to resolve (- for stdin)")
	cmd.Flags().BoolVar(&showValues, "show-values", false, "Print secret values")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printResolved(cmd *cobra.Command, out resolveOutput, showValues bool) error {
	stdout := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(stdout, "Secret %s/%s (hash_id %s)\n\n", out.Namespace, out.Name, out.Fingerprint)

	keys := make([]string, 0, len(out.Keys))
	for k := range out.Keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	if showValues {
		_, _ = fmt.Fprintf(w, "KEY\tSIZE\tVALUE\n")
	} else {
		_, _ = fmt.Fprintf(w, "KEY\tSIZE\n")
	}
	for _, k := range keys {
		kv := out.Keys[k]
		if showValues {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", k, kv.Size, kv.Value)
		} else {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", k, kv.Size)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if out.Failed > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d field(s) could not be resolved, run with --debug for details\n", out.Failed)
	}
	return nil
}
