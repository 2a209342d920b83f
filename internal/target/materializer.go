package target

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/systmms/rsecrets/internal/logging"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// Outcome reports what Ensure did to the Secret
type Outcome int

const (
	// Unchanged means the stored fingerprint already matched
	Unchanged Outcome = iota
	// Created means a new Secret was written
	Created
	// Updated means the existing Secret was patched
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Result describes one Ensure call
type Result struct {
	Outcome     Outcome
	Fingerprint string
}

// Materializer writes resolved data into the Secret that mirrors an RSecret
type Materializer struct {
	client      client.Client
	fingerprint FingerprintFunc
	logger      *logging.Logger
}

// Option configures a Materializer
type Option func(*Materializer)

// WithFingerprint replaces the content hash
func WithFingerprint(f FingerprintFunc) Option {
	return func(m *Materializer) {
		if f != nil {
			m.fingerprint = f
		}
	}
}

// WithLogger sets the materializer logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Materializer) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Materializer on top of a controller-runtime client
func New(c client.Client, opts ...Option) *Materializer {
	m := &Materializer{
		client:      c,
		fingerprint: Fingerprint,
		logger:      logging.New(false).WithName("target"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the Secret mirroring key, or nil when there is none
func (m *Materializer) Current(ctx context.Context, key types.NamespacedName) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	if err := m.client.Get(ctx, key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get secret %s: %w", key, err)
	}
	return secret, nil
}

// Ensure makes the Secret of owner hold exactly data. A missing Secret is
// created; an existing one is patched only when its fingerprint label differs.
func (m *Materializer) Ensure(ctx context.Context, owner *v1beta1.RSecret, data map[string][]byte) (Result, error) {
	key := types.NamespacedName{Namespace: owner.Namespace, Name: owner.Name}
	hash := FormatFingerprint(m.fingerprint(data))
	log := m.logger.WithValues("secret", key.String())

	existing, err := m.Current(ctx, key)
	if err != nil {
		return Result{}, err
	}

	if existing == nil {
		secret := m.desired(owner, data, hash)
		err := m.client.Create(ctx, secret)
		switch {
		case err == nil:
			log.Info("Created secret with %d keys", len(data))
			return Result{Outcome: Created, Fingerprint: hash}, nil
		case apierrors.IsAlreadyExists(err):
			log.Debug("Secret appeared concurrently, patching instead")
			if existing, err = m.Current(ctx, key); err != nil {
				return Result{}, err
			}
			if existing == nil {
				return Result{}, fmt.Errorf("secret %s vanished after create conflict", key)
			}
		default:
			return Result{}, fmt.Errorf("failed to create secret %s: %w", key, err)
		}
	}

	if prev, ok := PreviousFingerprint(existing); ok && prev == hash {
		log.Debug("No changes")
		return Result{Outcome: Unchanged, Fingerprint: hash}, nil
	}

	base := existing.DeepCopy()
	if existing.Labels == nil {
		existing.Labels = make(map[string]string)
	}
	existing.Labels[v1beta1.AppLabel] = owner.Name
	existing.Labels[v1beta1.HashLabel] = hash
	existing.Data = data
	existing.StringData = nil

	if err := m.client.Patch(ctx, existing, client.MergeFrom(base)); err != nil {
		return Result{}, fmt.Errorf("failed to patch secret %s: %w", key, err)
	}
	log.Info("Updated secret with %d keys", len(data))
	return Result{Outcome: Updated, Fingerprint: hash}, nil
}

// Remove deletes the Secret mirroring key. A missing Secret is not an error.
func (m *Materializer) Remove(ctx context.Context, key types.NamespacedName) error {
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: key.Namespace, Name: key.Name}}
	if err := m.client.Delete(ctx, secret); client.IgnoreNotFound(err) != nil {
		return fmt.Errorf("failed to delete secret %s: %w", key, err)
	}
	return nil
}

func (m *Materializer) desired(owner *v1beta1.RSecret, data map[string][]byte, hash string) *corev1.Secret {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      owner.Name,
			Namespace: owner.Namespace,
			Labels: map[string]string{
				v1beta1.AppLabel:  owner.Name,
				v1beta1.HashLabel: hash,
			},
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}
	// The owner reference lets the controller see Secret events; the finalizer
	// still performs the deletion.
	if err := controllerutil.SetControllerReference(owner, secret, m.client.Scheme()); err != nil {
		m.logger.Warn("Could not set owner reference on %s/%s: %v", owner.Namespace, owner.Name, err)
	}
	return secret
}
