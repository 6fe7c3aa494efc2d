package dynres

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunAllParsesNumericOutput(t *testing.T) {
	r := New(2*time.Second, nil)
	results := r.RunAll(context.Background(), []Script{{ResName: "foo", Command: "echo 42"}})
	require.Len(t, results, 1)
	require.False(t, results[0].Failed)
	require.True(t, results[0].IsNumeric)
	require.Equal(t, 42.0, results[0].Numeric)
}

func TestRunAllKeepsNonNumericOutputAsString(t *testing.T) {
	r := New(2*time.Second, nil)
	results := r.RunAll(context.Background(), []Script{{ResName: "site", Command: "echo cluster-a"}})
	require.Len(t, results, 1)
	require.False(t, results[0].Failed)
	require.False(t, results[0].IsNumeric)
	require.Equal(t, "cluster-a", results[0].Str)
}

func TestRunAllFailsOnTimeout(t *testing.T) {
	r := New(200*time.Millisecond, nil)
	start := time.Now()
	results := r.RunAll(context.Background(), []Script{{ResName: "slow", Command: "sleep 60"}})
	require.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, results, 1)
	require.True(t, results[0].Failed)
	require.Contains(t, results[0].FailReason, "timed out")
}

func TestRunAllFailsOnNonZeroExit(t *testing.T) {
	r := New(2*time.Second, nil)
	results := r.RunAll(context.Background(), []Script{{ResName: "bad", Command: "exit 1"}})
	require.Len(t, results, 1)
	require.True(t, results[0].Failed)
}

func TestRunAllOneFailureDoesNotStopTheRest(t *testing.T) {
	r := New(2*time.Second, nil)
	results := r.RunAll(context.Background(), []Script{
		{ResName: "bad", Command: "exit 1"},
		{ResName: "good", Command: "echo 7"},
	})
	require.Len(t, results, 2)
	require.True(t, results[0].Failed)
	require.False(t, results[1].Failed)
	require.Equal(t, 7.0, results[1].Numeric)
}

func TestAuditPermissionsRejectsWorldWritableScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 1\n"), 0777))
	require.NoError(t, os.Chmod(path, 0777)) // WriteFile's mode is masked by the umask

	r := New(2*time.Second, nil)
	results := r.RunAll(context.Background(), []Script{{ResName: "foo", Command: "echo 1", Path: path}})
	require.Len(t, results, 1)
	require.True(t, results[0].Failed)
	require.Contains(t, results[0].FailReason, "writable")
}

func TestAuditPermissionsAllowsPrivateScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 1\n"), 0700))

	r := New(2*time.Second, nil)
	results := r.RunAll(context.Background(), []Script{{ResName: "foo", Command: "echo 1", Path: path}})
	require.Len(t, results, 1)
	require.False(t, results[0].Failed)
}
