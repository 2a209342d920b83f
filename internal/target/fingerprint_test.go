package target_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/systmms/rsecrets/internal/target"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

func TestFingerprintIgnoresInsertionOrder(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		keys := rng.Perm(20)
		a := make(map[string][]byte)
		b := make(map[string][]byte)
		for _, k := range keys {
			a[fmt.Sprintf("k%d", k)] = []byte(fmt.Sprintf("v%d", k*7))
		}
		for i := len(keys) - 1; i >= 0; i-- {
			k := keys[i]
			b[fmt.Sprintf("k%d", k)] = []byte(fmt.Sprintf("v%d", k*7))
		}
		assert.Equal(t, target.Fingerprint(a), target.Fingerprint(b))
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	t.Parallel()

	base := map[string][]byte{"user": []byte("admin"), "password": []byte("s3cret"), "host": []byte("db")}
	h := target.Fingerprint(base)

	variants := map[string]map[string][]byte{
		"changed value": {"user": []byte("admin"), "password": []byte("s3cret!"), "host": []byte("db")},
		"renamed key":   {"user": []byte("admin"), "passwd": []byte("s3cret"), "host": []byte("db")},
		"added entry":   {"user": []byte("admin"), "password": []byte("s3cret"), "host": []byte("db"), "port": []byte("5432")},
		"removed entry": {"user": []byte("admin"), "password": []byte("s3cret")},
		"shifted bytes": {"user": []byte("admin"), "password": []byte("s3cret"), "hos": []byte("tdb")},
		"empty":         {},
	}
	for name, m := range variants {
		name, m := name, m
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.NotEqual(t, h, target.Fingerprint(m))
		})
	}
}

func TestFingerprintRandomizedDifferential(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	seen := make(map[uint64]string)
	for i := 0; i < 2000; i++ {
		m := map[string][]byte{
			"a": []byte(fmt.Sprintf("%d", rng.Int63())),
			"b": []byte(fmt.Sprintf("%d", i)),
		}
		h := target.Fingerprint(m)
		id := string(m["a"]) + "/" + string(m["b"])
		if prev, dup := seen[h]; dup {
			t.Fatalf("fingerprint collision between %s and %s", prev, id)
		}
		seen[h] = id
	}
}

func TestFormatFingerprint(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "42", target.FormatFingerprint(42))
	assert.Equal(t, "18446744073709551615", target.FormatFingerprint(^uint64(0)))
}

func TestPreviousFingerprint(t *testing.T) {
	t.Parallel()

	prev, ok := target.PreviousFingerprint(&corev1.Secret{})
	assert.False(t, ok)
	assert.Empty(t, prev)

	prev, ok = target.PreviousFingerprint(&corev1.Secret{ObjectMeta: metav1.ObjectMeta{
		Labels: map[string]string{v1beta1.HashLabel: "42"},
	}})
	assert.True(t, ok)
	assert.Equal(t, "42", prev)

	_, ok = target.PreviousFingerprint(nil)
	assert.False(t, ok)
}
