// Package models contains domain models for zetacoach.
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyOperation(t *testing.T) {
	tests := []struct {
		question string
		expected OperationType
	}{
		{"12 + 7 =", OpAddition},
		{"45 ÷ 9 =", OpDivision},
		{"45 / 9 =", OpDivision},
		{"6 × 7 =", OpMultiplication},
		{"6 * 7 =", OpMultiplication},
		{"20 - 3 =", OpSubtraction},
		{"20 – 3 =", OpSubtraction},
		{"20 − 3 =", OpSubtraction},
		{"what is this", OpUnknown},
		{"", OpUnknown},
		// Priority order: + is checked before the other glyphs.
		{"3 + 4 × 2 =", OpAddition},
	}

	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyOperation(tt.question))
		})
	}
}

func TestNewProblemRecord(t *testing.T) {
	rec := NewProblemRecord("12 + 7 =", "19", 850)
	assert.Equal(t, "12 + 7 =", rec.Question)
	assert.Equal(t, "19", rec.Answer)
	assert.Equal(t, int64(850), rec.LatencyMs)
	assert.Equal(t, OpAddition, rec.OperationType)
	assert.False(t, rec.IsPlaceholder())

	empty := NewProblemRecord("8 ÷ 2 =", "", -5)
	assert.Equal(t, AnswerUnknown, empty.Answer)
	assert.Equal(t, int64(0), empty.LatencyMs)
}

func TestNewPlaceholderRecord(t *testing.T) {
	rec := NewPlaceholderRecord()
	assert.Equal(t, AnswerUltraFast, rec.Answer)
	assert.Equal(t, int64(0), rec.LatencyMs)
	assert.Equal(t, OpUnknown, rec.OperationType)
	assert.True(t, rec.IsPlaceholder())

	problems := []ProblemRecord{rec, NewProblemRecord("1 + 1 =", "2", 300), rec}
	assert.Equal(t, 2, CountPlaceholders(problems))
}
