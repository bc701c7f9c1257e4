package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

func TestParseExamType(t *testing.T) {
	et, err := ParseExamType(" 期末考试 ")
	require.NoError(t, err)
	assert.Equal(t, ExamTypeFinal, et)

	_, err = ParseExamType("补考")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnknownExamType))
}

func TestFallbackWeights(t *testing.T) {
	assert.Equal(t, map[ExamType]float64{
		ExamTypeFinal:   0.6,
		ExamTypeMidTerm: 0.3,
		ExamTypeRegular: 0.1,
	}, DefaultGlobalWeights())

	_, ok := ExamTypeMock.FallbackWeight()
	assert.False(t, ok)
}

func TestClampMarkAndCredit(t *testing.T) {
	assert.Equal(t, 100.0, ClampMark(120))
	assert.Equal(t, 0.0, ClampMark(-3))
	assert.Equal(t, 55.5, ClampMark(55.5))

	zero := 0
	credit, ok := Course{Credit: &zero}.EffectiveCredit()
	assert.Equal(t, 1, credit)
	assert.False(t, ok)

	three := 3
	credit, ok = Course{Credit: &three}.EffectiveCredit()
	assert.Equal(t, 3, credit)
	assert.True(t, ok)
}
