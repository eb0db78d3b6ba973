package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/freemedia/storefront/internal/platform/config"
)

const exampleScenario = "../../scenarios/back-to-listing.yaml"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load(context.Background(), config.WithoutSystemEnv(), config.WithEnvFile(""))
	require.NoError(t, err)
	return cfg
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExampleScenarioPasses(t *testing.T) {
	sc, err := LoadScenario(exampleScenario)
	require.NoError(t, err)
	require.Len(t, sc.Steps, 4)

	report, err := runWithConfig(context.Background(), sc, testConfig(t), "", true, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.True(t, report.Restored)
	assert.Equal(t, "listing", report.Page)
	assert.Len(t, report.Session, 26)

	var out bytes.Buffer
	report.WriteTrace(&out)
	assert.Contains(t, out.String(), "pop /browse/video?sort=popular")
	assert.Contains(t, out.String(), "PASS")
}

func TestScenarioReportsFailedExpectations(t *testing.T) {
	path := writeScenario(t, `
name: wrong expectations
start: /browse/audio
catalog:
  size: 40
steps:
  - wait: 50ms
expect:
  location: /browse/video
  restored: true
`)
	sc, err := LoadScenario(path)
	require.NoError(t, err)

	report, err := runWithConfig(context.Background(), sc, testConfig(t), "", true, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, report.Failures, 2)
	assert.Contains(t, report.Failures[0], "location = /browse/audio")
	assert.Contains(t, report.Failures[1], "restored = false")
}

func TestLegacyScenarioIsCanonicalized(t *testing.T) {
	path := writeScenario(t, `
name: legacy deep link
start: /media/1
catalog:
  size: 12
steps:
  - download: true
expect:
  location: /browse/video/1
  page: detail
`)
	sc, err := LoadScenario(path)
	require.NoError(t, err)

	report, err := runWithConfig(context.Background(), sc, testConfig(t), "fixed-session", true, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, "fixed-session", report.Session)
	assert.Equal(t, 1, report.ListRequests(), "only the related-items query lists")
}

func TestLoadScenarioRejectsAmbiguousSteps(t *testing.T) {
	path := writeScenario(t, `
steps:
  - back: true
    forward: true
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1 has 2 actions")

	sc, err := LoadScenario(writeScenario(t, "steps: []\n"))
	require.NoError(t, err)
	assert.Equal(t, "/browse", sc.Start)
}

func TestRunCommandReportsStepErrors(t *testing.T) {
	path := writeScenario(t, `
start: /browse
catalog:
  size: 8
steps:
  - back: true
`)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"run", path, "--env-file", "", "--log-level", "error"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no history entry to go back to")
}
