package pipeline

import (
	"path"

	"github.com/dontdude/javabox/internal/domain"
)

// Directories relative to the sandbox work dir.
const (
	SourceDir  = "src"
	SupportDir = "lib"
)

// TestRunnerClass is the entry point of the in-sandbox JUnit runner.
const TestRunnerClass = "TestRunner"

// Commands builds the compile and run command lines of a request.
type Commands struct {
	// JavaFlags are passed to every java invocation before the class path.
	JavaFlags []string
}

// Compile returns the javac invocation for req.
func (c Commands) Compile(req domain.Request) []string {
	if req.Mode == domain.JUnitRun {
		cmd := []string{"javac", "-cp", SourceDir + ":" + SupportDir + "/*", "-d", SourceDir}
		for _, f := range req.Payload() {
			cmd = append(cmd, path.Join(SourceDir, f.Name))
		}
		return cmd
	}
	return []string{"javac", "-cp", SourceDir, path.Join(SourceDir, domain.ClassFileName(req.EntryPoint))}
}

// Run returns the java invocation for req.
func (c Commands) Run(req domain.Request) []string {
	cmd := append([]string{"java"}, c.JavaFlags...)
	if req.Mode == domain.JUnitRun {
		cmd = append(cmd, "-cp", SourceDir+":"+SupportDir+":"+SupportDir+"/*", TestRunnerClass)
		return append(cmd, req.TestClasses()...)
	}
	return append(cmd, "-cp", SourceDir, req.EntryClass())
}
