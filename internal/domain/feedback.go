package domain

// TestReport carries the JUnit statistics embedded in the runner output.
type TestReport struct {
	TotalTests  int    `json:"totalNumberOfTests"`
	TestsPassed int    `json:"numberOfTestsPassed"`
	TestsOutput string `json:"testsOutput"`
}

// Feedback is the final result for one request. It is encoded as the wire response.
// The test fields are present only when a JUnit run stage completed.
type Feedback struct {
	RequestID    string `json:"-"`
	ClientID     string `json:"clientId"`
	Passed       bool   `json:"passed"`
	Output       string `json:"output"`
	ErrorMessage string `json:"errorMessage"`
	TimedOut     bool   `json:"timeOut"`

	*TestReport
}

// Failed builds a minimal failing Feedback for req.
func Failed(req Request, message string) Feedback {
	return Feedback{
		RequestID:    req.ID,
		ClientID:     req.ClientID,
		ErrorMessage: message,
	}
}

// CommandOutcome is the result of one command run inside a sandbox.
// TimedOut and ExitSucceeded are never both true.
type CommandOutcome struct {
	ExitSucceeded bool
	TimedOut      bool
	Stdout        []byte
	Stderr        []byte
}

// Succeeded reports whether the command exited with status 0 before its deadline.
func (o CommandOutcome) Succeeded() bool {
	return o.ExitSucceeded && !o.TimedOut
}
