package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/dontdude/javabox/internal/domain"
)

// TestOutputDelimiter precedes the JSON report printed by the test runner.
const TestOutputDelimiter = "_!*^&_test-output"

type testReportJSON struct {
	TotalTests  *int   `json:"totalNumberOfTests"`
	TestsPassed *int   `json:"numberOfTestsPassed"`
	TestsOutput string `json:"testsOutput"`
}

// ParseTestOutput splits runner stdout at the first delimiter.
// Output without a delimiter is returned unchanged with a nil report. A
// missing or malformed report after the delimiter yields the output before
// it and a nil report.
func ParseTestOutput(stdout string) (string, *domain.TestReport) {
	before, after, found := strings.Cut(stdout, TestOutputDelimiter)
	if !found {
		return stdout, nil
	}

	var raw testReportJSON
	if err := json.NewDecoder(strings.NewReader(after)).Decode(&raw); err != nil {
		return before, nil
	}
	if raw.TotalTests == nil || raw.TestsPassed == nil {
		return before, nil
	}

	return before, &domain.TestReport{
		TotalTests:  *raw.TotalTests,
		TestsPassed: *raw.TestsPassed,
		TestsOutput: raw.TestsOutput,
	}
}
