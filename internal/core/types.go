package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScriptKind discriminates the variants of a Script.
type ScriptKind int

const (
	// KindFunction runs an ad hoc piece of JavaScript; the completion value
	// of the last expression becomes the result.
	KindFunction ScriptKind = iota

	// KindPage renders a registered page by logical name. The page's
	// default export is called with the props and must return markup.
	KindPage

	// KindCall invokes a function precompiled into every worker at startup
	// (Config.Functions) by name.
	KindCall
)

func (k ScriptKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindPage:
		return "page"
	case KindCall:
		return "call"
	default:
		return "unknown"
	}
}

// Script is one unit of requested work: ad hoc code, a page render, or a
// call to a precompiled function. Exactly one variant is active per job.
type Script struct {
	Kind ScriptKind

	// Code is the JavaScript source for KindFunction.
	Code string

	// Name is the page name for KindPage or the function name for KindCall.
	Name string

	// Args is the JSON-encoded arguments value injected as globalThis.args,
	// or nil for none.
	Args json.RawMessage
}

// ExecutionResult is what a completed job returns to the caller.
type ExecutionResult struct {
	// Output is the script's result: a JSON-compatible value for function
	// and call scripts, or the rendered markup string for page renders.
	Output any

	// ConsoleOutput holds the console lines captured during the job,
	// in call order. Empty when the script logged nothing.
	ConsoleOutput []string

	// Duration is the wall time spent executing the job on its worker.
	Duration time.Duration
}

// Markup returns the output as a markup string. The second return is false
// when the job did not produce a string result.
func (r *ExecutionResult) Markup() (string, bool) {
	s, ok := r.Output.(string)
	return s, ok
}

// Job pairs a script with the channel its result is delivered on. A job is
// owned by exactly one worker at a time and its result is delivered to
// exactly one waiting caller.
type Job struct {
	ID          uuid.UUID
	Script      Script
	SubmittedAt time.Time

	// Respond is buffered with capacity 1 so the worker never blocks on
	// delivery, even when the caller has abandoned the wait.
	Respond chan JobResponse
}

// JobResponse carries either a result or an error back to the caller.
type JobResponse struct {
	Result *ExecutionResult
	Err    error
}

// NewJob builds a job for the given script.
func NewJob(script Script) *Job {
	return &Job{
		ID:          uuid.New(),
		Script:      script,
		SubmittedAt: time.Now(),
		Respond:     make(chan JobResponse, 1),
	}
}
