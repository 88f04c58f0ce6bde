package pipeline

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/dontdude/javabox/internal/domain"
)

func TestParseTestOutput(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantOutput string
		wantReport *domain.TestReport
	}{
		{
			name:       "plain output",
			stdout:     "Hello world!\n",
			wantOutput: "Hello world!\n",
		},
		{
			name:       "report only",
			stdout:     TestOutputDelimiter + "\n" + `{"totalNumberOfTests":1,"numberOfTestsPassed":1,"testsOutput":""}` + "\n",
			wantOutput: "",
			wantReport: &domain.TestReport{TotalTests: 1, TestsPassed: 1},
		},
		{
			name:       "output before report",
			stdout:     "printing\n" + TestOutputDelimiter + "\n" + `{"totalNumberOfTests":3,"numberOfTestsPassed":2,"testsOutput":"a failed\n"}`,
			wantOutput: "printing\n",
			wantReport: &domain.TestReport{TotalTests: 3, TestsPassed: 2, TestsOutput: "a failed\n"},
		},
		{
			name:       "splits at first delimiter",
			stdout:     "x" + TestOutputDelimiter + `{"totalNumberOfTests":2,"numberOfTestsPassed":0,"testsOutput":"` + TestOutputDelimiter + `"}`,
			wantOutput: "x",
			wantReport: &domain.TestReport{TotalTests: 2, TestsOutput: TestOutputDelimiter},
		},
		{
			name:       "malformed json",
			stdout:     "before\n" + TestOutputDelimiter + "\n{not json",
			wantOutput: "before\n",
		},
		{
			name:       "missing counters",
			stdout:     "before\n" + TestOutputDelimiter + "\n{}",
			wantOutput: "before\n",
		},
		{
			name:       "delimiter without report",
			stdout:     "before\n" + TestOutputDelimiter,
			wantOutput: "before\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, report := ParseTestOutput(tt.stdout)
			if output != tt.wantOutput {
				t.Errorf("output = %q, want %q", output, tt.wantOutput)
			}
			switch {
			case tt.wantReport == nil && report != nil:
				t.Errorf("report = %+v, want nil", *report)
			case tt.wantReport != nil && report == nil:
				t.Errorf("report = nil, want %+v", *tt.wantReport)
			case tt.wantReport != nil && *report != *tt.wantReport:
				t.Errorf("report = %+v, want %+v", *report, *tt.wantReport)
			}
		})
	}
}

func TestParsePlainOutputIsIdempotent(t *testing.T) {
	for _, in := range []string{"", "Hello", "line 1\nline 2\n", "{\"totalNumberOfTests\":1}"} {
		once, r1 := ParseTestOutput(in)
		twice, r2 := ParseTestOutput(once)
		if once != in || twice != in || r1 != nil || r2 != nil {
			t.Errorf("ParseTestOutput(%q) not idempotent: %q, %q", in, once, twice)
		}
	}
}

func TestCommands(t *testing.T) {
	c := Commands{JavaFlags: []string{"-Djava.security.manager"}}

	plain := domain.Request{Mode: domain.PlainRun, EntryPoint: "Main.java", SourceFiles: []domain.File{{Name: "Main.java"}, {Name: "Util.java"}}}
	if got, want := c.Compile(plain), []string{"javac", "-cp", "src", "src/Main.java"}; !slices.Equal(got, want) {
		t.Errorf("Compile(plain) = %v, want %v", got, want)
	}
	if got, want := c.Run(plain), []string{"java", "-Djava.security.manager", "-cp", "src", "Main"}; !slices.Equal(got, want) {
		t.Errorf("Run(plain) = %v, want %v", got, want)
	}

	junit := domain.Request{
		Mode:        domain.JUnitRun,
		SourceFiles: []domain.File{{Name: "Calc.java"}},
		TestFiles:   []domain.File{{Name: "CalcTest.java"}, {Name: "MoreTest.java"}},
	}
	wantCompile := []string{"javac", "-cp", "src:lib/*", "-d", "src", "src/Calc.java", "src/CalcTest.java", "src/MoreTest.java"}
	if got := c.Compile(junit); !slices.Equal(got, wantCompile) {
		t.Errorf("Compile(junit) = %v, want %v", got, wantCompile)
	}
	wantRun := []string{"java", "-Djava.security.manager", "-cp", "src:lib:lib/*", "TestRunner", "CalcTest", "MoreTest"}
	if got := c.Run(junit); !slices.Equal(got, wantRun) {
		t.Errorf("Run(junit) = %v, want %v", got, wantRun)
	}

	// Flags must not leak between calls through a shared backing array.
	_ = c.Run(junit)
	if got := c.Run(plain); got[len(got)-1] != "Main" || len(got) != 5 {
		t.Errorf("Run(plain) after Run(junit) = %v", got)
	}
}

func TestSupportLibs(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{"junit-4.12.jar": "j", "hamcrest-core-1.3.jar": "h", "README.md": "skip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	libs, err := LoadSupportLibs(dir)
	if err != nil {
		t.Fatalf("LoadSupportLibs() error = %v", err)
	}
	if len(libs) != 2 {
		t.Fatalf("LoadSupportLibs() = %d files, want 2 jars", len(libs))
	}

	seed := JUnitSeed(libs)
	if seed.Dir != "lib" || len(seed.Files) != 3 {
		t.Errorf("seed = %s with %d files, want lib with 3", seed.Dir, len(seed.Files))
	}
	runner := seed.Files[2]
	if runner.Name != "TestRunner.java" || !strings.Contains(runner.Data, TestOutputDelimiter) {
		t.Errorf("seed runner = %q, want embedded TestRunner.java printing the delimiter", runner.Name)
	}

	if _, err := LoadSupportLibs(t.TempDir()); err == nil {
		t.Error("LoadSupportLibs(empty dir) error = nil")
	}
}
