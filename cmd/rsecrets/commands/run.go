package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/systmms/rsecrets/internal/config"
	"github.com/systmms/rsecrets/internal/controller"
	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

const leaderElectionID = "rsecrets.secrets.systmms.io"

// NewRunCommand starts the operator
func NewRunCommand(cfg *config.Config) *cobra.Command {
	var (
		metricsAddr string
		probeAddr   string
		namespace   string
		leaderElect bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the RSecret controller",
		Long: `Start the controller manager. It watches RSecret resources, owns the
Secrets it writes and serves /metrics, /state, /healthz and /readyz.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}
			if namespace == "" {
				namespace = def.Operator.Namespace
			}
			logger := cfg.Logger

			restConfig, err := ctrl.GetConfig()
			if err != nil {
				return dserrors.UserError{
					Message:    "No Kubernetes configuration found",
					Suggestion: "Run inside a cluster or set KUBECONFIG",
					Err:        err,
				}
			}

			scheme := controller.NewScheme()
			if err := checkCRD(cmd.Context(), restConfig, client.Options{Scheme: scheme}, namespace); err != nil {
				return err
			}

			state := controller.NewState(time.Now())
			opts := ctrl.Options{
				Scheme: scheme,
				Metrics: metricsserver.Options{
					BindAddress:   metricsAddr,
					ExtraHandlers: map[string]http.Handler{"/state": state},
				},
				HealthProbeBindAddress: probeAddr,
				LeaderElection:         leaderElect,
				LeaderElectionID:       leaderElectionID,
			}
			if namespace != "" {
				opts.Cache = cache.Options{DefaultNamespaces: map[string]cache.Config{namespace: {}}}
			}

			mgr, err := ctrl.NewManager(restConfig, opts)
			if err != nil {
				return fmt.Errorf("unable to create manager: %w", err)
			}

			_, values, resolver := newResolver(def, logger)
			if err := mgr.Add(values); err != nil {
				return fmt.Errorf("unable to add cache purger: %w", err)
			}
			reconciler := controller.NewRSecretReconciler(mgr.GetClient(), resolver,
				controller.WithMetrics(controller.DefaultMetrics()),
				controller.WithState(state),
				controller.WithIntervals(def.Operator.RequeueInterval, def.Operator.ErrorBackoff),
				controller.WithLogger(logger.WithName("controller")),
			)
			if err := reconciler.SetupWithManager(mgr, def.Operator.MaxConcurrentReconciles); err != nil {
				return fmt.Errorf("unable to create controller: %w", err)
			}

			if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
				return fmt.Errorf("unable to set up health check: %w", err)
			}
			if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
				return fmt.Errorf("unable to set up ready check: %w", err)
			}

			logger.Info("Starting manager (namespace=%q, leader election=%t)", namespace, leaderElect)
			return mgr.Start(ctrl.SetupSignalHandler())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to")
	cmd.Flags().StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Only watch RSecrets in this namespace")
	cmd.Flags().BoolVar(&leaderElect, "leader-elect", false, "Enable leader election for the controller manager")

	return cmd
}

// checkCRD fails early with a hint when the RSecret CRD is not installed
func checkCRD(ctx context.Context, restConfig *rest.Config, opts client.Options, namespace string) error {
	c, err := client.New(restConfig, opts)
	if err != nil {
		return fmt.Errorf("unable to create client: %w", err)
	}
	return ensureCRD(ctx, c, namespace)
}

func ensureCRD(ctx context.Context, c client.Reader, namespace string) error {
	listOpts := []client.ListOption{client.Limit(1)}
	if namespace != "" {
		listOpts = append(listOpts, client.InNamespace(namespace))
	}
	if err := c.List(ctx, &v1beta1.RSecretList{}, listOpts...); err != nil {
		return dserrors.UserError{
			Message:    "RSecret CRD is not queryable",
			Details:    err.Error(),
			Suggestion: "Install the CRD (kubectl apply -f config/crd) and check RBAC",
			Err:        err,
		}
	}
	return nil
}
