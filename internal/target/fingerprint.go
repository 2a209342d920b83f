// Package target materializes resolved secret data as Kubernetes Secrets and
// detects when that data changed.
package target

import (
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	corev1 "k8s.io/api/core/v1"

	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

// FingerprintFunc hashes the content of a Secret
type FingerprintFunc func(data map[string][]byte) uint64

// Fingerprint returns an order-independent hash of data. Keys are visited in
// sorted order and every key and value is length-prefixed, so moving bytes
// between a key and its value changes the result.
func Fingerprint(data map[string][]byte) uint64 {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	var size [8]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint64(size[:], uint64(len(k)))
		_, _ = d.Write(size[:])
		_, _ = d.WriteString(k)

		v := data[k]
		binary.LittleEndian.PutUint64(size[:], uint64(len(v)))
		_, _ = d.Write(size[:])
		_, _ = d.Write(v)
	}
	return d.Sum64()
}

// FormatFingerprint renders a fingerprint the way it is stored in the hash label
func FormatFingerprint(h uint64) string {
	return strconv.FormatUint(h, 10)
}

// PreviousFingerprint returns the fingerprint recorded on secret. A Secret
// without the label has no previous value.
func PreviousFingerprint(secret *corev1.Secret) (string, bool) {
	if secret == nil {
		return "", false
	}
	v, ok := secret.Labels[v1beta1.HashLabel]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
