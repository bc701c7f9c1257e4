package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
	"github.com/noah-isme/course-score-api/pkg/export"
)

var transcriptHeaders = []string{"课程号", "课程名", "学分", "考试类型", "分数", "排名"}

type transcriptLine struct {
	course models.Course
	score  models.Score
}

// ExportStudentTranscript renders every raw score of a student, one row per course
// and exam type, followed by the plain average, the credit-weighted final score,
// the total credits and the pass rate. The final score is refreshed before rendering.
func (s *RankingExportService) ExportStudentTranscript(ctx context.Context, studentID, format string) (*RankingFile, error) {
	renderer, ok := s.registry.Lookup(format)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, notFoundOrInternal(err, "学生不存在", "failed to load student")
	}

	scores, err := s.scores.ListByStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student scores")
	}
	weighted, err := s.finals.CalculateStudentFinalScore(ctx, student.ID)
	if err != nil {
		return nil, err
	}

	courses := make(map[string]*models.Course)
	lines := make([]transcriptLine, 0, len(scores))
	for _, sc := range scores {
		course, seen := courses[sc.CourseID]
		if !seen {
			course, err = s.courses.FindByID(ctx, sc.CourseID)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					return nil, appErrors.Internal(err, "failed to load course")
				}
				s.logger.Warn("transcript course missing, skipped", zap.String("student_id", student.ID), zap.String("course_id", sc.CourseID))
				course = nil
			}
			courses[sc.CourseID] = course
		}
		if course == nil {
			continue
		}
		lines = append(lines, transcriptLine{course: *course, score: sc})
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].course.Num != lines[j].course.Num {
			return lines[i].course.Num < lines[j].course.Num
		}
		return examTypeOrder(lines[i].score.ExamType) < examTypeOrder(lines[j].score.ExamType)
	})

	data := export.Dataset{
		Title:   fmt.Sprintf("%s 个人成绩单（%s %s）", student.Name, student.Num, student.ClassName),
		Headers: transcriptHeaders,
		Rows:    make([]map[string]string, 0, len(lines)),
	}
	marks := make([]float64, 0, len(lines))
	credited := make(map[string]struct{})
	totalCredit := 0
	for _, line := range lines {
		credit, _ := line.course.EffectiveCredit()
		rank := "-"
		if line.score.Rank != nil {
			rank = strconv.Itoa(*line.score.Rank)
		}
		data.Rows = append(data.Rows, map[string]string{
			"课程号":  line.course.Num,
			"课程名":  line.course.Name,
			"学分":   strconv.Itoa(credit),
			"考试类型": string(line.score.ExamType),
			"分数":   strconv.Itoa(line.score.Mark),
			"排名":   rank,
		})
		marks = append(marks, float64(line.score.Mark))
		if _, ok := credited[line.course.ID]; !ok {
			credited[line.course.ID] = struct{}{}
			totalCredit += credit
		}
	}
	if len(marks) > 0 {
		stats := models.SummarizeMarks(marks)
		data.Summary = []export.SummaryLine{
			{Label: "平均分", Value: formatMark(stats.AverageScore)},
			{Label: "加权平均分", Value: formatMark(weighted)},
			{Label: "总学分", Value: strconv.Itoa(totalCredit)},
			{Label: "及格率", Value: formatRate(stats.PassRate)},
		}
	}

	body, err := renderer.Render(data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render transcript")
	}
	s.logger.Info("transcript exported",
		zap.String("student_id", student.ID), zap.String("format", renderer.Extension()), zap.Int("rows", len(lines)))
	return &RankingFile{
		Name:        fmt.Sprintf("transcript_%s.%s", student.Num, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func examTypeOrder(t models.ExamType) int {
	for i, known := range models.ExamTypes {
		if known == t {
			return i
		}
	}
	return len(models.ExamTypes)
}
