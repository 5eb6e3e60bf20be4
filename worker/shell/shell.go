// Package shell implements the deployment worker adapter by shelling out
// to a configured deploy CLI (sf, sfdx, or anything with a similar
// contract). Every invocation is bounded by the caller's context.
package shell

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/SamHATIT/fabrica/config"
	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/worker"
)

// Deployer runs the configured deploy and test commands against a working
// directory. Deploys are upserts: re-deploying the same file map after a
// partial failure updates components instead of duplicating them, which
// is what the underlying metadata CLIs guarantee.
type Deployer struct {
	deployCommand string
	testCommand   string
	workingDir    string
	logger        *zap.SugaredLogger
}

// New creates a deployer from the deploy configuration.
func New(cfg config.DeployConfig, logger *zap.SugaredLogger) *Deployer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Deployer{
		deployCommand: cfg.Command,
		testCommand:   cfg.TestCommand,
		workingDir:    cfg.WorkingDir,
		logger:        logger,
	}
}

// Deploy writes the file map under the working directory and runs the
// deploy command.
func (d *Deployer) Deploy(ctx context.Context, files map[string]string) (*worker.DeployResult, error) {
	if d.deployCommand == "" {
		return nil, errors.New("deploy command not configured")
	}

	components := make([]string, 0, len(files))
	for path, content := range files {
		if strings.Contains(path, "..") || filepath.IsAbs(path) {
			return nil, errors.Newf("refusing to write outside the working directory: %s", path)
		}
		full := filepath.Join(d.workingDir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for %s", path)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, errors.Wrapf(err, "failed to write %s", path)
		}
		components = append(components, path)
	}

	output, err := d.run(ctx, d.deployCommand)
	if err != nil {
		return nil, errors.Wrapf(err, "deploy failed: %s", tail(output, 500))
	}

	d.logger.Infow("Deploy succeeded", "components", len(components))
	return &worker.DeployResult{DeployedComponents: components}, nil
}

// RunTests runs the configured test command, optionally narrowed to the
// named tests, and parses pass/fail counts from its output.
func (d *Deployer) RunTests(ctx context.Context, names []string) (*worker.TestResult, error) {
	if d.testCommand == "" {
		return nil, errors.New("test command not configured")
	}

	command := d.testCommand
	if len(names) > 0 {
		command = command + " " + shellquote.Join(names...)
	}

	output, runErr := d.run(ctx, command)
	result := parseTestOutput(output)
	result.Output = tail(output, 2000)

	// A non-zero exit with parsed failures is a test result, not an
	// infrastructure error.
	if runErr != nil && result.Failing == 0 && result.Passing == 0 {
		return nil, errors.Wrapf(runErr, "test run failed: %s", tail(output, 500))
	}

	d.logger.Infow("Test run finished",
		"passing", result.Passing,
		"failing", result.Failing,
	)
	return result, nil
}

// run splits the command like a shell would and executes it in the
// working directory under the caller's context.
func (d *Deployer) run(ctx context.Context, command string) (string, error) {
	args, err := shellquote.Split(command)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse command %q", command)
	}
	if len(args) == 0 {
		return "", errors.New("empty command")
	}

	d.logger.Debugw("Running command", "command", args[0], "args", args[1:])
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = d.workingDir

	output, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return string(output), errors.Wrap(errors.ErrTimeout, "command timed out")
	}
	if ctx.Err() != nil {
		return string(output), errors.Wrap(ctx.Err(), "command cancelled")
	}
	return string(output), err
}

// Whitespace is restricted to the same line: counts and their labels
// never span lines, and letting them match across a newline would pair
// one line's count with the next line's label.
var (
	passingRe = regexp.MustCompile(`(?i)(?:passing|passed)[": \t]+(\d+)|(\d+)[ \t]+(?:passing|passed)`)
	failingRe = regexp.MustCompile(`(?i)(?:failing|failed)[": \t]+(\d+)|(\d+)[ \t]+(?:failing|failed)`)
)

// parseTestOutput extracts pass/fail counts from CLI output. Handles both
// "Passing: 12" (sf json/human) and "12 passing" (mocha-style) forms.
func parseTestOutput(output string) *worker.TestResult {
	return &worker.TestResult{
		Passing: firstCount(passingRe, output),
		Failing: firstCount(failingRe, output),
	}
}

func firstCount(re *regexp.Regexp, output string) int {
	m := re.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g != "" {
			n, _ := strconv.Atoi(g)
			return n
		}
	}
	return 0
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
