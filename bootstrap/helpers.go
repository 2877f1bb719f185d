package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"syscall"
)

const minSecretLength = 16

// GenerateSecurePassword returns a random URL-safe string of at least 16 characters.
func GenerateSecurePassword(length int) (string, error) {
	if length < minSecretLength {
		length = minSecretLength
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf)[:length], nil
}

// remedy maps error text fragments to an operator-facing explanation
type remedy struct {
	fragments []string
	explain   func(target, dir string) string
}

func (r remedy) matches(msg string) bool {
	for _, f := range r.fragments {
		if containsIgnoreCase(msg, f) {
			return true
		}
	}
	return false
}

var redisRemedies = []remedy{
	{[]string{"no such host", "lookup"}, func(addr, _ string) string {
		return fmt.Sprintf("Cannot resolve hostname in Redis address %s.\n"+
			"  Remediation:\n"+
			"  - Check cache.redis.addr in profiles.yaml\n"+
			"  - Use an IP address (127.0.0.1) if DNS is unavailable", addr)
	}},
	{[]string{"NOAUTH", "WRONGPASS", "password"}, func(addr, _ string) string {
		return fmt.Sprintf("Authentication failed for Redis at %s.\n"+
			"  Remediation:\n"+
			"  - Set HERITAGE_REDIS_PASSWORD or the redis_password secret", addr)
	}},
}

var sqliteRemedies = []remedy{
	{[]string{"permission denied", "access denied"}, func(path, dir string) string {
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check ownership of %s and %s", path, path, dir)
	}},
	{[]string{"database is locked", "SQLITE_BUSY"}, func(path, _ string) string {
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Stop any other heritage process using this file", path)
	}},
	{[]string{"disk full", "no space", "SQLITE_FULL"}, func(path, dir string) string {
		return fmt.Sprintf("Disk full, cannot write SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Free space on the volume holding %s", path, dir)
	}},
	{[]string{"corrupt", "malformed", "SQLITE_CORRUPT"}, func(path, _ string) string {
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Run PRAGMA integrity_check against a copy of %s\n"+
			"  - Restore from backup", path, path)
	}},
	{[]string{"no such file or directory", "cannot find the path"}, func(path, dir string) string {
		return fmt.Sprintf("Cannot create SQLite database, path does not exist: %s.\n"+
			"  Remediation:\n"+
			"  - Create %s or point database.url elsewhere", path, dir)
	}},
	{[]string{"read-only"}, func(path, _ string) string {
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the database to a writable location via database.url", path)
	}},
}

// ClassifyConnectionError explains a failed cache connection to the operator.
func ClassifyConnectionError(err error, addr string) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to Redis at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Check that Redis is running and reachable from this host", addr)
	}
	if refused(err) {
		return fmt.Sprintf("Connection refused by Redis at %s.\n"+
			"  Remediation:\n"+
			"  - Start Redis, or switch the profile to cache.type: simple", addr)
	}

	msg := err.Error()
	for _, r := range redisRemedies {
		if r.matches(msg) {
			return r.explain(addr, "")
		}
	}
	return fmt.Sprintf("Failed to connect to Redis at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure Redis is running, or switch the profile to cache.type: simple", addr, err)
}

func refused(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) || opErr.Op != "dial" || opErr.Err == nil {
		return false
	}
	if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return true
	}
	msg := opErr.Err.Error()
	return containsIgnoreCase(msg, "connection refused") || containsIgnoreCase(msg, "actively refused")
}

// ClassifySQLiteError explains a failed database open to the operator.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	absPath, _ := filepath.Abs(dbPath)
	dir := filepath.Dir(absPath)

	msg := err.Error()
	for _, r := range sqliteRemedies {
		if r.matches(msg) {
			return r.explain(absPath, dir)
		}
	}
	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable", absPath, err, dir)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
