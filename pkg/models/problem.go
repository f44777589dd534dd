// Package models contains domain models for zetacoach.
package models

import "strings"

// OperationType classifies a problem by its operator glyph.
type OperationType string

const (
	OpAddition       OperationType = "addition"
	OpSubtraction    OperationType = "subtraction"
	OpMultiplication OperationType = "multiplication"
	OpDivision       OperationType = "division"
	OpUnknown        OperationType = "unknown"
)

// AllOperationTypes lists every operation type in reporting order.
var AllOperationTypes = []OperationType{
	OpAddition,
	OpSubtraction,
	OpMultiplication,
	OpDivision,
	OpUnknown,
}

// Answer sentinels.
const (
	// AnswerUnknown is recorded when no input value was captured for a problem.
	AnswerUnknown = "unknown"
	// AnswerUltraFast marks a placeholder inferred from the score counter.
	AnswerUltraFast = "ultra-fast"
	// PlaceholderQuestion is the question label of an inferred record.
	PlaceholderQuestion = "[ultra-fast problem]"
)

// operatorGlyphs is checked in priority order; the first group with a hit wins.
var operatorGlyphs = []struct {
	op     OperationType
	glyphs []string
}{
	{OpAddition, []string{"+"}},
	{OpSubtraction, []string{"-", "−", "–"}},
	{OpMultiplication, []string{"×", "*"}},
	{OpDivision, []string{"÷", "/"}},
}

// ClassifyOperation derives the operation type from a problem's text.
func ClassifyOperation(question string) OperationType {
	for _, group := range operatorGlyphs {
		for _, g := range group.glyphs {
			if strings.Contains(question, g) {
				return group.op
			}
		}
	}
	return OpUnknown
}

// ProblemRecord is one solved (or inferred) problem of a game.
// Records are appended once and never mutated afterwards.
type ProblemRecord struct {
	Question      string        `json:"question"`
	Answer        string        `json:"answer"`
	LatencyMs     int64         `json:"latencyMs"`
	OperationType OperationType `json:"operationType"`
}

// NewProblemRecord builds a record for an observed problem.
// An empty answer is replaced with AnswerUnknown.
func NewProblemRecord(question, answer string, latencyMs int64) ProblemRecord {
	if answer == "" {
		answer = AnswerUnknown
	}
	if latencyMs < 0 {
		latencyMs = 0
	}
	return ProblemRecord{
		Question:      question,
		Answer:        answer,
		LatencyMs:     latencyMs,
		OperationType: ClassifyOperation(question),
	}
}

// NewPlaceholderRecord builds a synthetic record for a problem that was
// solved too fast for its text to be observed.
func NewPlaceholderRecord() ProblemRecord {
	return ProblemRecord{
		Question:      PlaceholderQuestion,
		Answer:        AnswerUltraFast,
		LatencyMs:     0,
		OperationType: OpUnknown,
	}
}

// IsPlaceholder reports whether the record was inferred rather than observed.
func (p ProblemRecord) IsPlaceholder() bool {
	return p.Answer == AnswerUltraFast && p.Question == PlaceholderQuestion
}

// CountPlaceholders returns the number of inferred records in problems.
func CountPlaceholders(problems []ProblemRecord) int {
	n := 0
	for _, p := range problems {
		if p.IsPlaceholder() {
			n++
		}
	}
	return n
}
