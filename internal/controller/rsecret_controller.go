package controller

import (
	"context"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"

	"github.com/systmms/rsecrets/internal/config"
	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/internal/resolve"
	"github.com/systmms/rsecrets/internal/target"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// Assembler builds the content of a Secret from backend declarations.
// *resolve.Resolver satisfies it.
type Assembler interface {
	Assemble(ctx context.Context, resources []v1beta1.Resource) *resolve.Assembly
}

// RSecretReconciler reconciles an RSecret object
type RSecretReconciler struct {
	client.Client

	assembler    Assembler
	materializer *target.Materializer
	finalizers   *FinalizerManager
	metrics      *Metrics
	state        *State
	clock        clock.Clock
	locks        *kmutex.Kmutex
	logger       *logging.Logger

	requeueInterval time.Duration
	errorBackoff    time.Duration
}

// ReconcilerOption configures an RSecretReconciler
type ReconcilerOption func(*RSecretReconciler)

// WithMaterializer replaces the Secret writer
func WithMaterializer(m *target.Materializer) ReconcilerOption {
	return func(r *RSecretReconciler) { r.materializer = m }
}

// WithMetrics sets the collectors updated by the reconciler
func WithMetrics(m *Metrics) ReconcilerOption {
	return func(r *RSecretReconciler) { r.metrics = m }
}

// WithState sets the state served on /state
func WithState(s *State) ReconcilerOption {
	return func(r *RSecretReconciler) { r.state = s }
}

// WithClock sets the time source
func WithClock(c clock.Clock) ReconcilerOption {
	return func(r *RSecretReconciler) { r.clock = c }
}

// WithLogger sets the reconciler logger
func WithLogger(l *logging.Logger) ReconcilerOption {
	return func(r *RSecretReconciler) { r.logger = l }
}

// WithIntervals overrides the steady-state requeue and the error backoff
func WithIntervals(requeue, backoff time.Duration) ReconcilerOption {
	return func(r *RSecretReconciler) {
		if requeue > 0 {
			r.requeueInterval = requeue
		}
		if backoff > 0 {
			r.errorBackoff = backoff
		}
	}
}

// NewRSecretReconciler wires a reconciler around c
func NewRSecretReconciler(c client.Client, assembler Assembler, opts ...ReconcilerOption) *RSecretReconciler {
	r := &RSecretReconciler{
		Client:          c,
		assembler:       assembler,
		finalizers:      NewFinalizerManager(c),
		clock:           clock.WallClock,
		locks:           kmutex.New(),
		logger:          logging.New(false).WithName("controller"),
		requeueInterval: config.DefaultRequeueInterval,
		errorBackoff:    config.DefaultErrorBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.materializer == nil {
		r.materializer = target.New(c, target.WithLogger(r.logger))
	}
	if r.state == nil {
		r.state = NewState(r.clock.Now())
	}
	return r
}

//+kubebuilder:rbac:groups=secrets.systmms.io,resources=rsecrets,verbs=get;list;watch;update;patch
//+kubebuilder:rbac:groups=secrets.systmms.io,resources=rsecrets/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=secrets.systmms.io,resources=rsecrets/finalizers,verbs=update
//+kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch;create;update;patch;delete

// Reconcile moves the Secret of one RSecret towards its declared content.
// Failures are counted and retried after the error backoff instead of
// through the workqueue's rate limiter.
func (r *RSecretReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	start := r.clock.Now()
	r.metrics.RecordEvent(start)
	r.state.Touch(start)
	defer func() { r.metrics.ObserveDuration(r.clock.Now().Sub(start)) }()

	lockKey := req.NamespacedName.String()
	r.locks.Lock(lockKey)
	defer r.locks.Unlock(lockKey)

	log := r.logger.WithValues("rsecret", lockKey)

	rs := &v1beta1.RSecret{}
	if err := r.Get(ctx, req.NamespacedName, rs); err != nil {
		if apierrors.IsNotFound(err) {
			log.Debug("RSecret is gone, nothing to do")
			return ctrl.Result{}, nil
		}
		return r.fail(log, ActionUpdate, err)
	}

	action := ActionFor(rs)
	var (
		result ctrl.Result
		err    error
	)
	switch action {
	case ActionDelete:
		result, err = r.reconcileDelete(ctx, rs, log)
	case ActionCreate:
		result, err = r.reconcileCreate(ctx, rs, log)
	default:
		result, err = r.reconcileUpdate(ctx, rs, log)
	}
	if err != nil {
		return r.fail(log, action, err)
	}
	return result, nil
}

func (r *RSecretReconciler) reconcileCreate(ctx context.Context, rs *v1beta1.RSecret, log *logging.Logger) (ctrl.Result, error) {
	log.Info("Creating secret for rsecret %s in namespace %s", rs.Name, rs.Namespace)
	if _, err := r.finalizers.Guard(ctx, rs); err != nil {
		return ctrl.Result{}, err
	}
	if err := r.materialize(ctx, rs, log); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: r.requeueInterval}, nil
}

func (r *RSecretReconciler) reconcileUpdate(ctx context.Context, rs *v1beta1.RSecret, log *logging.Logger) (ctrl.Result, error) {
	current, err := r.materializer.Current(ctx, key(rs))
	if err != nil {
		return ctrl.Result{}, err
	}
	if current == nil {
		log.Info("Secret for rsecret %s is missing, recreating", rs.Name)
		return r.reconcileCreate(ctx, rs, log)
	}
	// Another controller's finalizer also classifies as Update.
	if _, err := r.finalizers.Guard(ctx, rs); err != nil {
		return ctrl.Result{}, err
	}
	if err := r.materialize(ctx, rs, log); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{RequeueAfter: r.requeueInterval}, nil
}

func (r *RSecretReconciler) reconcileDelete(ctx context.Context, rs *v1beta1.RSecret, log *logging.Logger) (ctrl.Result, error) {
	log.Info("Deleting secret for rsecret %s in namespace %s", rs.Name, rs.Namespace)
	if err := r.materializer.Remove(ctx, key(rs)); err != nil {
		return ctrl.Result{}, err
	}
	if _, err := r.finalizers.Release(ctx, rs); err != nil {
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

// materialize assembles the declared data and writes it. Assembly waits for
// every field before anything is fingerprinted.
func (r *RSecretReconciler) materialize(ctx context.Context, rs *v1beta1.RSecret, log *logging.Logger) error {
	assembly := r.assembler.Assemble(ctx, rs.Spec.Resources)
	if failed := assembly.Failed(); failed > 0 {
		log.Warn("%d of %d fields could not be resolved", failed, len(assembly.Fields))
	}

	res, err := r.materializer.Ensure(ctx, rs, assembly.Data)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case target.Created:
		r.metrics.RecordCreate()
	case target.Updated:
		r.metrics.RecordUpdate()
	default:
		log.Info("No changes to rsecret %s in namespace %s", rs.Name, rs.Namespace)
		return nil
	}
	r.recordStatus(ctx, rs, res.Fingerprint, log)
	return nil
}

// recordStatus is best effort; the state machine never reads it back
func (r *RSecretReconciler) recordStatus(ctx context.Context, rs *v1beta1.RSecret, hash string, log *logging.Logger) {
	base := rs.DeepCopy()
	now := metav1.NewTime(r.clock.Now())
	rs.Status.LastUpdated = &now
	rs.Status.ObservedHash = hash
	if err := r.Status().Patch(ctx, rs, client.MergeFrom(base)); err != nil {
		log.Warn("Failed to record status: %v", err)
	}
}

func (r *RSecretReconciler) fail(log *logging.Logger, action Action, err error) (ctrl.Result, error) {
	r.metrics.RecordFailure()
	log.Error("Reconcile (%s) failed, retrying in %s: %v", action, r.errorBackoff, err)
	return ctrl.Result{RequeueAfter: r.errorBackoff}, nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *RSecretReconciler) SetupWithManager(mgr ctrl.Manager, maxConcurrentReconciles int) error {
	if maxConcurrentReconciles <= 0 {
		maxConcurrentReconciles = config.DefaultMaxConcurrentReconciles
	}
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1beta1.RSecret{}).
		Owns(&corev1.Secret{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: maxConcurrentReconciles}).
		Complete(r)
}

func key(rs *v1beta1.RSecret) types.NamespacedName {
	return types.NamespacedName{Namespace: rs.Namespace, Name: rs.Name}
}
