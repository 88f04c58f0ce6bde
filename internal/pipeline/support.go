package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dontdude/javabox/internal/domain"
	"github.com/dontdude/javabox/internal/sandbox"
)

//go:embed TestRunner.java
var testRunnerSource string

// LoadSupportLibs reads every jar in dir. JUnit sandboxes need junit and hamcrest at least.
func LoadSupportLibs(dir string) ([]domain.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading support libraries: %w", err)
	}

	var libs []domain.File
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jar") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		libs = append(libs, domain.File{Name: e.Name(), Data: string(data)})
	}
	if len(libs) == 0 {
		return nil, fmt.Errorf("no jar files in %s", dir)
	}
	return libs, nil
}

// JUnitSeed prepares a JUnit sandbox: the support jars and the compiled test runner in lib/.
func JUnitSeed(libs []domain.File) sandbox.Seed {
	files := append([]domain.File(nil), libs...)
	files = append(files, domain.File{Name: TestRunnerClass + ".java", Data: testRunnerSource})

	return sandbox.Seed{
		Dir:   SupportDir,
		Files: files,
		Commands: [][]string{
			{"javac", "-cp", SupportDir + "/*", "-d", SupportDir, SupportDir + "/" + TestRunnerClass + ".java"},
		},
	}
}
