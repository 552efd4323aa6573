// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll(%s) error: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
}

// ReadFile reads content from a file.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error: %v", path, err)
	}
	return string(data)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Ints returns present values for xs.
func Ints(xs ...int64) []sql.NullInt64 {
	out := make([]sql.NullInt64, len(xs))
	for i, x := range xs {
		out[i] = sql.NullInt64{Int64: x, Valid: true}
	}
	return out
}

// Seq returns the present values 1..n.
func Seq(n int) []sql.NullInt64 {
	out := make([]sql.NullInt64, n)
	for i := range out {
		out[i] = sql.NullInt64{Int64: int64(i + 1), Valid: true}
	}
	return out
}

// Nulls returns n absent values.
func Nulls(n int) []sql.NullInt64 {
	return make([]sql.NullInt64, n)
}
