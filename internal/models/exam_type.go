package models

import (
	"strings"

	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

// ExamType is the closed set of assessment categories a raw score belongs to.
type ExamType string

const (
	ExamTypeMidTerm ExamType = "期中考试"
	ExamTypeFinal   ExamType = "期末考试"
	ExamTypeRegular ExamType = "平时成绩"
	ExamTypeMock    ExamType = "模拟考试"
)

// ExamTypes lists every accepted exam type in display order.
var ExamTypes = []ExamType{ExamTypeMidTerm, ExamTypeFinal, ExamTypeRegular, ExamTypeMock}

// ParseExamType validates raw against the closed set.
func ParseExamType(raw string) (ExamType, error) {
	t := ExamType(strings.TrimSpace(raw))
	if t.Valid() {
		return t, nil
	}
	return "", appErrors.Clone(appErrors.ErrUnknownExamType, "考试类型必须是：期中考试、期末考试、平时成绩、模拟考试")
}

// Valid reports whether t is one of the declared exam types.
func (t ExamType) Valid() bool {
	switch t {
	case ExamTypeMidTerm, ExamTypeFinal, ExamTypeRegular, ExamTypeMock:
		return true
	}
	return false
}

// FallbackWeight is the hard-coded weight used when no weight rule is configured at
// all. Mock exams carry no fallback weight.
func (t ExamType) FallbackWeight() (float64, bool) {
	switch t {
	case ExamTypeFinal:
		return 0.6, true
	case ExamTypeMidTerm:
		return 0.3, true
	case ExamTypeRegular:
		return 0.1, true
	case ExamTypeMock:
		return 0, false
	}
	return 0, false
}

// DefaultGlobalWeights are seeded as global rules on an empty weight store.
func DefaultGlobalWeights() map[ExamType]float64 {
	out := make(map[ExamType]float64, 3)
	for _, t := range ExamTypes {
		if w, ok := t.FallbackWeight(); ok {
			out[t] = w
		}
	}
	return out
}
