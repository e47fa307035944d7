// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
)

// Judge identifies an external judge website hosting problem statements.
type Judge string

// Supported judges, listed in enumeration order.
const (
	JudgeAtCoder    Judge = "atcoder"
	JudgeCodeforces Judge = "codeforces"
	JudgeLOJ        Judge = "loj"
	JudgeLuogu      Judge = "luogu"
	JudgeAcCoding   Judge = "accoding"
)

// AllJudges returns every supported judge in the fixed enumeration order.
func AllJudges() []Judge {
	return []Judge{JudgeAtCoder, JudgeCodeforces, JudgeLOJ, JudgeLuogu, JudgeAcCoding}
}

// ParseJudge converts a configuration string into a Judge.
func ParseJudge(raw string) (Judge, error) {
	for _, j := range AllJudges() {
		if string(j) == raw {
			return j, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJudge, raw)
}

// Task identifies one crawl job. It is comparable and used directly as the
// dedup key; an empty ContestID means the problem has no contest.
type Task struct {
	Judge     Judge
	ProblemID string
	ContestID string
}

// String renders the task for log messages.
func (t Task) String() string {
	if t.ContestID == "" {
		return fmt.Sprintf("%s/%s", t.Judge, t.ProblemID)
	}
	return fmt.Sprintf("%s/%s/%s", t.Judge, t.ContestID, t.ProblemID)
}

// Record is one completed task persisted in the ledger.
type Record struct {
	Task        Task
	ImagePath   string
	Description string
}

type recordJSON struct {
	Judge       Judge   `json:"judge"`
	ContestID   *string `json:"contest_id"`
	ProblemID   string  `json:"problem_id"`
	ImagePath   string  `json:"image_path"`
	Description string  `json:"description"`
	// LegacyJudge is accepted on read for ledgers written before the field rename.
	LegacyJudge Judge `json:"oj,omitempty"`
}

// MarshalJSON writes the ledger line representation of the record.
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Judge:       r.Task.Judge,
		ProblemID:   r.Task.ProblemID,
		ImagePath:   r.ImagePath,
		Description: r.Description,
	}
	if r.Task.ContestID != "" {
		contest := r.Task.ContestID
		out.ContestID = &contest
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// UnmarshalJSON parses a ledger line.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	judge := in.Judge
	if judge == "" {
		judge = in.LegacyJudge
	}
	if judge == "" {
		return fmt.Errorf("record is missing judge")
	}
	if in.ProblemID == "" {
		return fmt.Errorf("record is missing problem_id")
	}
	r.Task = Task{Judge: judge, ProblemID: in.ProblemID}
	if in.ContestID != nil {
		r.Task.ContestID = *in.ContestID
	}
	r.ImagePath = in.ImagePath
	r.Description = in.Description
	return nil
}

// TaskKind tags the variant carried by a TaskMessage.
type TaskKind int

// Task channel variants.
const (
	TaskKindTask TaskKind = iota
	TaskKindTerminate
)

// TaskMessage travels on the task channel from the producer to workers.
type TaskMessage struct {
	Kind TaskKind
	Task Task
}

// NewTaskMessage wraps a task for the task channel.
func NewTaskMessage(t Task) TaskMessage {
	return TaskMessage{Kind: TaskKindTask, Task: t}
}

// TerminateMessage returns the "no more tasks" sentinel.
func TerminateMessage() TaskMessage {
	return TaskMessage{Kind: TaskKindTerminate}
}

// ReportKind tags the variant carried by a ReportMessage.
type ReportKind int

// Report channel variants.
const (
	ReportKindProgress ReportKind = iota
	ReportKindCompleted
	ReportKindWorkerDone
)

// ReportMessage travels on the report channel to the aggregator.
type ReportMessage struct {
	Kind     ReportKind
	Delta    int
	Record   Record
	WorkerID int
}

// ProgressMessage announces that delta more tasks were enqueued.
func ProgressMessage(delta int) ReportMessage {
	return ReportMessage{Kind: ReportKindProgress, Delta: delta}
}

// CompletedMessage carries one finished record.
func CompletedMessage(rec Record) ReportMessage {
	return ReportMessage{Kind: ReportKindCompleted, Record: rec}
}

// WorkerDoneMessage is the worker-finished sentinel.
func WorkerDoneMessage(workerID int) ReportMessage {
	return ReportMessage{Kind: ReportKindWorkerDone, WorkerID: workerID}
}

// Listing is one entry of a judge's problem list.
type Listing struct {
	ProblemID string
	ContestID string
}

// Statement is the raw output of an extractor.
type Statement struct {
	// Image holds an encoded screenshot (PNG or JPEG).
	Image []byte
	// Markup is the statement converted to markdown before normalization.
	Markup string
}
