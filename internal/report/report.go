// Package report turns the outcome of a run into exactly one CI signal.
package report

import (
	"fmt"
	"strings"
)

// UnexpectedError is reported for errors that carry no message.
const UnexpectedError = "An unexpected error occurred"

// StatusOutput is the step output set on success.
const StatusOutput = "status"

// Sink receives the outcome.  actions.Host implements it.
type Sink interface {
	SetOutput(name, value string) error
	SetFailed(msg string)
}

// Outcome reports err to sink: status=success when err is nil, a
// failure with err's message otherwise.  If the success output cannot
// be written the run is reported as failed instead.  It returns the
// error that was reported, or nil.
func Outcome(sink Sink, err error) error {
	if err == nil {
		outErr := sink.SetOutput(StatusOutput, "success")
		if outErr == nil {
			return nil
		}
		err = fmt.Errorf("setting %s output: %w", StatusOutput, outErr)
	}

	msg := err.Error()
	if strings.TrimSpace(msg) == "" {
		msg = UnexpectedError
	}
	sink.SetFailed(msg)
	return err
}
