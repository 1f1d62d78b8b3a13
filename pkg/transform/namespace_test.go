package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceHasherDisabledWithoutSecret(t *testing.T) {
	h := NewNamespaceHasher("")
	assert.Equal(t, "abc", h.Apply(context.Background(), "abc", "ns"))
}

func TestNamespaceHasherDisabledWithoutNamespace(t *testing.T) {
	h := NewNamespaceHasher("secret")
	assert.Equal(t, "abc", h.Apply(context.Background(), "abc", ""))
}

func TestNamespaceHasherDeterministic(t *testing.T) {
	h := NewNamespaceHasher("secret")
	a := h.Apply(context.Background(), "abc", "ns")
	b := h.Apply(context.Background(), "abc", "ns")
	assert.Equal(t, a, b)
	assert.NotEqual(t, "abc", a)
}

func TestNamespaceHasherDiffersByNamespace(t *testing.T) {
	h := NewNamespaceHasher("secret")
	a := h.Apply(context.Background(), "abc", "ns1")
	b := h.Apply(context.Background(), "abc", "ns2")
	assert.NotEqual(t, a, b)
}
