package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateIssuer_Deterministic(t *testing.T) {
	issuer, err := NewCertificateIssuer("key-a")
	require.NoError(t, err)

	first, err := issuer.Issue("tx-1")
	require.NoError(t, err)
	second, err := issuer.Issue("tx-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	other, err := issuer.Issue("tx-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestCertificateIssuer_KeyedBySecret(t *testing.T) {
	a, err := NewCertificateIssuer("key-a")
	require.NoError(t, err)
	b, err := NewCertificateIssuer("key-b")
	require.NoError(t, err)

	ha, err := a.Issue("tx-1")
	require.NoError(t, err)
	hb, err := b.Issue("tx-1")
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestCertificateIssuer_LongSecret(t *testing.T) {
	issuer, err := NewCertificateIssuer(strings.Repeat("k", 200))
	require.NoError(t, err)

	h, err := issuer.Issue("tx-1")
	require.NoError(t, err)
	assert.Len(t, h, 64)
}

func TestCertificateIssuer_Errors(t *testing.T) {
	_, err := NewCertificateIssuer("")
	require.Error(t, err)

	issuer, err := NewCertificateIssuer("key")
	require.NoError(t, err)
	_, err = issuer.Issue("")
	assert.Error(t, err)
}
