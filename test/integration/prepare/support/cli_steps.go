package support

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/ocrprep/cmd/ocrprep/cmd"
)

// RegisterCLISteps registers steps that drive the ocrprep command in process.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run ocrprep with "([^"]*)" and config "([^"]*)"$`, testCtx.iRunOcrprepWithConfig)
	sc.Step(`^I run ocrprep with "([^"]*)"$`, testCtx.iRunOcrprep)
	sc.Step(`^the command succeeds$`, testCtx.theCommandSucceeds)
	sc.Step(`^the command fails$`, testCtx.theCommandFails)
	sc.Step(`^the output contains "([^"]*)"$`, testCtx.theOutputContains)
	sc.Step(`^the file "([^"]*)" contains "([^"]*)"$`, testCtx.theFileContains)
}

func (testCtx *TestContext) run(args []string) error {
	root := cmd.NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	testCtx.LastError = root.Execute()
	testCtx.LastOutput = out.String()
	return nil
}

// expand replaces {tmp} with the scenario's temp directory.
func (testCtx *TestContext) expand(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}

func (testCtx *TestContext) iRunOcrprep(args string) error {
	return testCtx.run(strings.Fields(testCtx.expand(args)))
}

func (testCtx *TestContext) iRunOcrprepWithConfig(args, cfgName string) error {
	fields := strings.Fields(testCtx.expand(args))
	fields = append(fields, "--model-config", testCtx.configPath(cfgName))
	fields = append(fields, testCtx.Images...)
	return testCtx.run(fields)
}

func (testCtx *TestContext) theCommandSucceeds() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command failed: %w", testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theCommandFails() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected the command to fail")
	}
	return nil
}

func (testCtx *TestContext) theOutputContains(s string) error {
	if !strings.Contains(testCtx.LastOutput, s) {
		return fmt.Errorf("output does not contain %q:\n%s", s, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theFileContains(name, s string) error {
	data, err := os.ReadFile(filepath.Join(testCtx.TempDir, name))
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), s) {
		return fmt.Errorf("%s does not contain %q", name, s)
	}
	return nil
}
