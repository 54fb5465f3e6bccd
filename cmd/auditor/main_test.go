package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditengine/siteauditor/internal/config"
	"github.com/auditengine/siteauditor/internal/types"
)

func TestCheckInvariantsPassesOnConsistentSummary(t *testing.T) {
	s := types.Summary{Tested: 4, Passed: 2, Failed: 1, Crashed: 1, Skipped: 0, AverageScore: 82.5}
	violations := checkInvariants(s, 4)
	assert.Empty(t, violations)
}

func TestCheckInvariantsCatchesCountMismatch(t *testing.T) {
	s := types.Summary{Tested: 4, Passed: 2, Failed: 1, Crashed: 0, Skipped: 0, AverageScore: 50}
	violations := checkInvariants(s, 4)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "do not sum to tested")
}

func TestCheckInvariantsCatchesPageCountMismatch(t *testing.T) {
	s := types.Summary{Tested: 4, Passed: 4, AverageScore: 90}
	violations := checkInvariants(s, 3)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "page result count")
}

func TestCheckInvariantsCatchesOutOfBoundsScore(t *testing.T) {
	s := types.Summary{Tested: 1, Passed: 1, AverageScore: 150}
	violations := checkInvariants(s, 1)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "out of [0,100] bounds")
}

func TestApplyFlagOverridesOnlyTouchesChangedFlags(t *testing.T) {
	rootCmd.SetArgs([]string{"https://example.com/sitemap.xml", "--concurrency", "7"})
	require.NoError(t, rootCmd.ParseFlags([]string{"--concurrency", "7"}))

	cfg := &config.Config{Concurrency: 2, MaxPages: 0, OutputDir: "./audit-report"}
	applyFlagOverrides(cfg, rootCmd)

	assert.Equal(t, 7, cfg.Concurrency)
	assert.Equal(t, 0, cfg.MaxPages)
	assert.Equal(t, "./audit-report", cfg.OutputDir)
}
