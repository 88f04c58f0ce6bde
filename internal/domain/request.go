package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how a submission is compiled and run.
type Mode int

const (
	// PlainRun compiles and runs a single entry class.
	PlainRun Mode = iota
	// JUnitRun compiles sources and tests together and runs them through the test runner.
	JUnitRun
)

func (m Mode) String() string {
	switch m {
	case PlainRun:
		return "plain"
	case JUnitRun:
		return "junit"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// File is one named source file of a submission.
type File struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

// Request is one unit of work accepted by the judge.
// It is immutable once created.
type Request struct {
	ID              string        `json:"id"`
	ClientID        string        `json:"clientId"`
	Mode            Mode          `json:"mode"`
	EntryPoint      string        `json:"entryPoint,omitempty"`
	SourceFiles     []File        `json:"sourceFiles"`
	TestFiles       []File        `json:"testFiles,omitempty"`
	CompileTimeout  time.Duration `json:"compileTimeout"`
	ExecuteTimeout  time.Duration `json:"executeTimeout"`
	MaxOutputLength int           `json:"maxOutputLength"`
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid request")

// ValidationError lists the structural problems found in a Request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validate checks the structural invariants of a request. It never touches the network.
func (r Request) Validate() error {
	var problems []string

	if r.CompileTimeout <= 0 {
		problems = append(problems, "compileTimeoutMs must be positive")
	}
	if r.ExecuteTimeout <= 0 {
		problems = append(problems, "executionTimeoutMs must be positive")
	}
	if r.MaxOutputLength < 0 {
		problems = append(problems, "charactersMaxLength must not be negative")
	}

	switch r.Mode {
	case PlainRun:
		if r.EntryPoint == "" {
			problems = append(problems, "main is required")
		}
		if len(r.SourceFiles) == 0 {
			problems = append(problems, "files must not be empty")
		} else if r.EntryPoint != "" && !r.hasFile(ClassFileName(r.EntryPoint)) {
			problems = append(problems, fmt.Sprintf("main %q is not among the submitted files", r.EntryPoint))
		}
	case JUnitRun:
		if len(r.TestFiles) == 0 {
			problems = append(problems, "tests must not be empty")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown mode %d", int(r.Mode)))
	}

	seen := make(map[string]bool)
	for _, f := range r.Payload() {
		switch {
		case f.Name == "":
			problems = append(problems, "file name must not be empty")
		case strings.ContainsAny(f.Name, `/\`) || f.Name == "." || f.Name == "..":
			problems = append(problems, fmt.Sprintf("file name %q must be a plain file name", f.Name))
		case seen[f.Name]:
			problems = append(problems, fmt.Sprintf("duplicate file name %q", f.Name))
		}
		seen[f.Name] = true
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (r Request) hasFile(name string) bool {
	for _, f := range r.SourceFiles {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Payload returns the files injected into the sandbox: sources first, then tests.
func (r Request) Payload() []File {
	files := make([]File, 0, len(r.SourceFiles)+len(r.TestFiles))
	files = append(files, r.SourceFiles...)
	return append(files, r.TestFiles...)
}

// EntryClass is the class name of the PlainRun entry point.
func (r Request) EntryClass() string {
	return ClassName(r.EntryPoint)
}

// TestClasses returns the class names derived from the test file names, in order.
func (r Request) TestClasses() []string {
	classes := make([]string, 0, len(r.TestFiles))
	for _, f := range r.TestFiles {
		classes = append(classes, ClassName(f.Name))
	}
	return classes
}

// ClassName strips a trailing ".java" from a file or class name.
func ClassName(name string) string {
	return strings.TrimSuffix(name, ".java")
}

// ClassFileName appends ".java" to a class name unless already present.
func ClassFileName(name string) string {
	return ClassName(name) + ".java"
}
