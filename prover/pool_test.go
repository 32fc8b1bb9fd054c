package prover

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestResolveWorkerCountDefaultsToCoresOverSixteen exercises the original
// sizing rule: an unset --workers_num defaults to cores/16, floored at 1.
func TestResolveWorkerCountDefaultsToCoresOverSixteen(t *testing.T) {
	got := ResolveWorkerCount(0)
	want := runtime.NumCPU() / 16
	if want < 1 {
		want = 1
	}
	require.Equal(t, want, got)
}

func TestResolveWorkerCountCapsAtCores(t *testing.T) {
	got := ResolveWorkerCount(runtime.NumCPU() * 100)
	require.Equal(t, runtime.NumCPU(), got)
}

func TestResolveWorkerCountHonorsExplicitValueWithinCores(t *testing.T) {
	if runtime.NumCPU() < 2 {
		t.Skip("needs at least 2 cores to exercise an in-range explicit value")
	}
	got := ResolveWorkerCount(1)
	require.Equal(t, 1, got)
}
