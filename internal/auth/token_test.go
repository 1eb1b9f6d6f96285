package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	full, hash, err := GenerateToken()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(full, TokenPrefix))
	require.Equal(t, HashToken(full), hash)
	require.Len(t, hash, 64, "sha256 hex digest")

	// Tokens are unique.
	full2, _, err := GenerateToken()
	require.NoError(t, err)
	require.NotEqual(t, full, full2)
}

func TestVerifyToken(t *testing.T) {
	full, hash, err := GenerateToken()
	require.NoError(t, err)

	require.True(t, VerifyToken(full, hash))
	require.False(t, VerifyToken("bb_wrong", hash))
	require.False(t, VerifyToken(full, HashToken("other")))
}

func TestParseAuthHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"bearer", "Bearer bb_abc123", "bb_abc123", false},
		{"bearer with spaces", "Bearer   bb_abc123  ", "bb_abc123", false},
		{"bare token", "bb_abc123", "bb_abc123", false},
		{"empty", "", "", true},
		{"empty bearer", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthHeader(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMaskToken(t *testing.T) {
	require.Equal(t, "***", MaskToken("short"))
	require.Equal(t, "***", MaskToken("bb_123456789"))

	masked := MaskToken("bb_abcdefghijklmnopqrstuvwxyz")
	require.Equal(t, "bb_abcde...wxyz", masked)
	require.NotContains(t, masked, "fghijklmnop")
}
