package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
	"github.com/noah-isme/course-score-api/pkg/export"
)

type exportScoreReader interface {
	ListRankedByScope(ctx context.Context, courseID string, examType models.ExamType) ([]models.RankedScore, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Score, error)
}

// RankingFile is a rendered ranking sheet or transcript.
type RankingFile struct {
	Name        string
	ContentType string
	Body        []byte
}

// RankingExportService renders course exam rankings and student transcripts as
// downloadable sheets.
type RankingExportService struct {
	scores   exportScoreReader
	courses  courseReader
	students studentReader
	rankings rankingCalculator
	finals   finalScoreCalculator
	registry *export.Registry
	logger   *zap.Logger
}

// NewRankingExportService constructs RankingExportService.
func NewRankingExportService(scores exportScoreReader, courses courseReader, students studentReader, rankings rankingCalculator, finals finalScoreCalculator, registry *export.Registry, logger *zap.Logger) *RankingExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = export.NewRegistry("")
	}
	return &RankingExportService{
		scores:   scores,
		courses:  courses,
		students: students,
		rankings: rankings,
		finals:   finals,
		registry: registry,
		logger:   logger,
	}
}

var rankingSheetHeaders = []string{"排名", "学号", "姓名", "分数"}

// ExportCourseRanking renders (courseID, examType) in the requested format followed
// by the average, highest, lowest and pass rate of the marks. Rows without a
// persisted rank trigger a ranking recompute first.
func (s *RankingExportService) ExportCourseRanking(ctx context.Context, courseID, examType, format string) (*RankingFile, error) {
	parsed, err := models.ParseExamType(examType)
	if err != nil {
		return nil, err
	}
	renderer, ok := s.registry.Lookup(format)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, notFoundOrInternal(err, "课程不存在", "failed to load course")
	}

	rows, err := s.scores.ListRankedByScope(ctx, course.ID, parsed)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load ranked scores")
	}
	if missingRank(rows) {
		if _, err := s.rankings.CalculateRanking(ctx, course.ID, parsed); err != nil {
			return nil, err
		}
		if rows, err = s.scores.ListRankedByScope(ctx, course.ID, parsed); err != nil {
			return nil, appErrors.Internal(err, "failed to load ranked scores")
		}
	}

	data := export.Dataset{
		Title:   fmt.Sprintf("%s %s 成绩排名", course.Name, parsed),
		Headers: rankingSheetHeaders,
		Rows:    make([]map[string]string, 0, len(rows)),
	}
	marks := make([]float64, 0, len(rows))
	for _, row := range rows {
		rank := ""
		if row.Rank != nil {
			rank = strconv.Itoa(*row.Rank)
		}
		data.Rows = append(data.Rows, map[string]string{
			"排名": rank,
			"学号": row.StudentNum,
			"姓名": row.StudentName,
			"分数": strconv.Itoa(row.Mark),
		})
		marks = append(marks, float64(row.Mark))
	}
	if len(marks) > 0 {
		stats := models.SummarizeMarks(marks)
		data.Summary = []export.SummaryLine{
			{Label: "平均分", Value: formatMark(stats.AverageScore)},
			{Label: "最高分", Value: formatMark(stats.HighestScore)},
			{Label: "最低分", Value: formatMark(stats.LowestScore)},
			{Label: "及格率", Value: formatRate(stats.PassRate)},
		}
	}

	body, err := renderer.Render(data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render ranking sheet")
	}
	s.logger.Info("ranking exported",
		zap.String("course_id", course.ID), zap.String("exam_type", string(parsed)), zap.String("format", renderer.Extension()), zap.Int("rows", len(rows)))
	return &RankingFile{
		Name:        fmt.Sprintf("ranking_%s_%s.%s", course.Num, parsed, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func missingRank(rows []models.RankedScore) bool {
	for _, row := range rows {
		if row.Rank == nil {
			return true
		}
	}
	return false
}

func formatMark(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatRate(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}
