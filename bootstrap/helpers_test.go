package bootstrap

import (
	"errors"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestGenerateSecurePassword(t *testing.T) {
	for _, n := range []int{0, 8, 16, 48} {
		secret, err := GenerateSecurePassword(n)
		require.NoError(t, err)
		want := n
		if want < minSecretLength {
			want = minSecretLength
		}
		assert.Len(t, secret, want)
	}

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		s, err := GenerateSecurePassword(24)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup)
		seen[s] = struct{}{}
	}
}

func TestClassifyConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", timeoutErr{}, "timed out"},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, "Connection refused by Redis"},
		{"unknown host", errors.New("dial tcp: lookup redis.internal: no such host"), "Cannot resolve hostname"},
		{"bad password", errors.New("WRONGPASS invalid username-password pair"), "Authentication failed"},
		{"other", errors.New("protocol error"), "protocol error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyConnectionError(tt.err, "redis.internal:6379")
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestClassifySQLiteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"permission", errors.New("open /data/heritage.db: permission denied"), "Permission denied"},
		{"locked", errors.New("database is locked (5) (SQLITE_BUSY)"), "locked by another process"},
		{"disk full", errors.New("SQLITE_FULL: database or disk is full"), "Disk full"},
		{"corrupt", errors.New("database disk image is malformed"), "corrupted"},
		{"missing dir", errors.New("unable to open: no such file or directory"), "path does not exist"},
		{"read only", errors.New("attempt to write: read-only file system"), "read-only file system"},
		{"other", errors.New("boom"), "/data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifySQLiteError(tt.err, "/data/heritage.db")
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}
