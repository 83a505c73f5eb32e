package domain

import "time"

type SubmissionResult string

const (
	ResultPending      SubmissionResult = "Pending"
	ResultAccepted     SubmissionResult = "Accepted"
	ResultTimeLimit    SubmissionResult = "TimeLimitExceeded"
	ResultMemoryLimit  SubmissionResult = "MemoryLimitExceeded"
	ResultWrongAnswer  SubmissionResult = "WrongAnswer"
	ResultCompileError SubmissionResult = "CompileError"
	ResultRuntimeError SubmissionResult = "RuntimeError"
	ResultUnknown      SubmissionResult = "Unknown"
)

// SubmissionRecord is a single attempt at the active problem. While staged
// in the session state's pending slot its Result is Unknown; once appended
// to the submission log it is immutable.
type SubmissionRecord struct {
	Time      time.Time        `json:"time"`
	AuthorID  string           `json:"author_id"`
	Language  Language         `json:"language"`
	Code      string           `json:"code"`
	ProblemID string           `json:"problem_id"`
	Result    SubmissionResult `json:"result"`
}

// Same reports whether two records describe the same logical attempt.
// The pending slot holds at most one record at a time, so author plus
// submission time identifies it.
func (r SubmissionRecord) Same(o SubmissionRecord) bool {
	return r.AuthorID == o.AuthorID && r.Time.Equal(o.Time)
}
