package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEndpointURLRejectsUnsafeTargets(t *testing.T) {
	cases := []struct {
		name string
		url  string
	}{
		{"loopback literal", "https://127.0.0.1/hook"},
		{"private literal", "https://10.0.0.5/hook"},
		{"link local", "http://169.254.169.254/latest/meta-data"},
		{"unspecified", "http://0.0.0.0/hook"},
		{"localhost name", "https://localhost/hook"},
		{"cloud metadata name", "http://metadata.google.internal/v1"},
		{"bad scheme", "ftp://hooks.example.com/guardian"},
		{"no host", "https:///hook"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateEndpointURL(tc.url))
		})
	}
}

func TestValidateEndpointURLAllowsPublicIPLiteral(t *testing.T) {
	require.NoError(t, ValidateEndpointURL("https://93.184.216.34/guardian-hook"))
}
