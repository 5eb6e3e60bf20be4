package shell

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamHATIT/fabrica/config"
	"github.com/SamHATIT/fabrica/errors"
)

func newTestDeployer(t *testing.T, deployCmd, testCmd string) (*Deployer, string) {
	t.Helper()
	dir := t.TempDir()
	return New(config.DeployConfig{
		Command:     deployCmd,
		TestCommand: testCmd,
		WorkingDir:  dir,
	}, nil), dir
}

func TestDeployWritesFilesAndRunsCommand(t *testing.T) {
	d, dir := newTestDeployer(t, "sh -c 'ls force-app > deployed.txt'", "")

	result, err := d.Deploy(context.Background(), map[string]string{
		"force-app/classes/Billing.cls": "public class Billing {}",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"force-app/classes/Billing.cls"}, result.DeployedComponents)

	content, err := os.ReadFile(filepath.Join(dir, "force-app/classes/Billing.cls"))
	require.NoError(t, err)
	assert.Equal(t, "public class Billing {}", string(content))

	// The command ran in the working directory.
	marker, err := os.ReadFile(filepath.Join(dir, "deployed.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "classes")
}

func TestDeployFailureIncludesOutput(t *testing.T) {
	d, _ := newTestDeployer(t, "sh -c 'echo INVALID_CROSS_REFERENCE_KEY; exit 1'", "")

	_, err := d.Deploy(context.Background(), map[string]string{"a.cls": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CROSS_REFERENCE_KEY")
}

func TestDeployRejectsEscapingPaths(t *testing.T) {
	d, _ := newTestDeployer(t, "true", "")

	_, err := d.Deploy(context.Background(), map[string]string{"../escape": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the working directory")
}

func TestDeployTimeout(t *testing.T) {
	d, _ := newTestDeployer(t, "sleep 5", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := d.Deploy(ctx, map[string]string{"a.cls": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunTestsParsesCounts(t *testing.T) {
	d, _ := newTestDeployer(t, "", "sh -c 'echo \"Passing: 12\"; echo \"Failing: 2\"; exit 1'")

	result, err := d.RunTests(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Passing)
	assert.Equal(t, 2, result.Failing)
	assert.Contains(t, result.Output, "Passing: 12")
}

func TestRunTestsGreenRunAcrossLines(t *testing.T) {
	d, _ := newTestDeployer(t, "", "sh -c 'echo \"Passing: 12\"; echo \"Failing: 0\"'")

	result, err := d.RunTests(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Passing)
	// The passing count on the previous line must not be read as the
	// failing count.
	assert.Equal(t, 0, result.Failing)
}

func TestParseTestOutputLabelsStayOnTheirLine(t *testing.T) {
	result := parseTestOutput("Passing: 12\nFailing: 0\n")
	assert.Equal(t, 12, result.Passing)
	assert.Equal(t, 0, result.Failing)

	result = parseTestOutput("  8 passing\n  3 failing\n")
	assert.Equal(t, 8, result.Passing)
	assert.Equal(t, 3, result.Failing)
}

func TestRunTestsMochaStyleCounts(t *testing.T) {
	d, _ := newTestDeployer(t, "", "sh -c 'echo \"  7 passing\"'")

	result, err := d.RunTests(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Passing)
	assert.Equal(t, 0, result.Failing)
}

func TestRunTestsNarrowsToNamedTests(t *testing.T) {
	d, dir := newTestDeployer(t, "", "sh -c 'echo \"$0 $@\" > args.txt; echo \"1 passing\"'")

	_, err := d.RunTests(context.Background(), []string{"BillingTest", "InvoiceTest"})
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "BillingTest InvoiceTest")
}

func TestRunTestsInfrastructureFailure(t *testing.T) {
	d, _ := newTestDeployer(t, "", "sh -c 'echo no org configured >&2; exit 1'")

	_, err := d.RunTests(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test run failed")
}

func TestUnconfiguredCommands(t *testing.T) {
	d := New(config.DeployConfig{}, nil)

	_, err := d.Deploy(context.Background(), map[string]string{"a": "b"})
	require.Error(t, err)

	_, err = d.RunTests(context.Background(), nil)
	require.Error(t, err)
}
