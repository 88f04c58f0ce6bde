package domain

import "time"

// Submission is the source payload of a wire request.
// A non-nil Tests slice (even an empty one) marks a JUnit submission.
type Submission struct {
	Main  string `json:"main,omitempty"`
	Files []File `json:"files"`
	Tests []File `json:"tests,omitempty"`
}

// WireRequest is the request shape sent by clients.
type WireRequest struct {
	ClientID            string     `json:"clientId"`
	Submission          Submission `json:"submission"`
	CompileTimeoutMs    int64      `json:"compileTimeoutMs"`
	ExecutionTimeoutMs  int64      `json:"executionTimeoutMs"`
	CharactersMaxLength int        `json:"charactersMaxLength"`
}

// Request converts the wire shape into a Request. The ID is assigned later by the admission queue.
func (w WireRequest) Request() Request {
	req := Request{
		ClientID:        w.ClientID,
		Mode:            PlainRun,
		EntryPoint:      w.Submission.Main,
		SourceFiles:     w.Submission.Files,
		CompileTimeout:  time.Duration(w.CompileTimeoutMs) * time.Millisecond,
		ExecuteTimeout:  time.Duration(w.ExecutionTimeoutMs) * time.Millisecond,
		MaxOutputLength: w.CharactersMaxLength,
	}
	if w.Submission.Tests != nil {
		req.Mode = JUnitRun
		req.TestFiles = w.Submission.Tests
	}
	return req
}
