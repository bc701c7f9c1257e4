package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/repository"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

// Import row failure messages.
const (
	importMsgIncomplete   = "数据不完整"
	importMsgNoStudent    = "学生不存在"
	importMsgNoCourse     = "课程不存在"
	importMsgDuplicate    = "成绩已存在"
	importMsgMarkRange    = "分数必须在0-100之间"
	importMsgExamType     = "考试类型无效"
	importMsgUnexpected   = "处理异常"
	importMsgInterrupted  = "导入已中断"
	importMsgSuccess      = "导入成功"
	workbookHeaderMessage = "Excel表头格式不正确，应为：学号、姓名、课程号、课程名、分数"
)

var workbookHeaders = []string{"学号", "姓名", "课程号", "课程名", "分数"}

const workbookExamTypeHeader = "考试类型"

type importGroupKey struct {
	courseNum string
	examType  models.ExamType
}

type pendingImportRow struct {
	idx      int
	row      dto.ScoreImportRow
	examType models.ExamType
	mark     int
}

// BulkImport validates and stores every row independently and reports the outcome per
// row. Rows sharing a (course, exam type) scope are written sequentially while
// distinct scopes run in parallel. Each touched ranking, course final and student
// final is recomputed once. When ctx ends mid-import the rows already stored are kept,
// their derived values are still recomputed, and the partial summary is returned
// together with the error.
func (s *ScoreService) BulkImport(ctx context.Context, rows []dto.ScoreImportRow, defaultExamType string) (*dto.ScoreImportSummary, error) {
	if len(rows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "导入数据为空")
	}
	if len(rows) > s.cfg.MaxImportRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("数据行数超过上限 %d 行", s.cfg.MaxImportRows))
	}
	fallbackType := models.ExamTypeFinal
	if strings.TrimSpace(defaultExamType) != "" {
		parsed, err := models.ParseExamType(defaultExamType)
		if err != nil {
			return nil, err
		}
		fallbackType = parsed
	}

	results := make([]dto.ScoreImportResult, len(rows))
	groups := make(map[importGroupKey][]pendingImportRow)
	var order []importGroupKey
	for i, row := range rows {
		rowNum := row.Row
		if rowNum == 0 {
			rowNum = i + 1
		}
		results[i] = dto.ScoreImportResult{Row: rowNum}

		if isIncompleteRow(row) {
			results[i].Message = importMsgIncomplete
			continue
		}
		if !models.ValidMark(*row.Mark) {
			results[i].Message = importMsgMarkRange
			continue
		}
		examType := fallbackType
		if strings.TrimSpace(row.ExamType) != "" {
			parsed, err := models.ParseExamType(row.ExamType)
			if err != nil {
				results[i].Message = importMsgExamType
				continue
			}
			examType = parsed
		}

		key := importGroupKey{courseNum: strings.TrimSpace(row.CourseNum), examType: examType}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], pendingImportRow{idx: i, row: row, examType: examType, mark: int(math.Round(*row.Mark))})
	}

	var mu sync.Mutex
	plan := newRecomputePlan()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ImportWorkers)
	for _, key := range order {
		key := key
		items := groups[key]
		g.Go(func() error {
			return s.importGroup(gctx, key, items, results, plan, &mu)
		})
	}
	waitErr := g.Wait()
	if waitErr != nil {
		for i := range results {
			if results[i].Message == "" {
				results[i].Message = importMsgInterrupted
			}
		}
	}

	// stored rows must not be left without their finals, even after cancellation
	s.recomputeFinals(context.WithoutCancel(ctx), plan.sorted())

	summary := &dto.ScoreImportSummary{TotalCount: len(results), Results: results}
	for _, res := range results {
		s.metrics.RecordImportRow(res.Success)
		if res.Success {
			summary.SuccessCount++
		}
	}
	summary.ErrorCount = summary.TotalCount - summary.SuccessCount
	summary.Message = fmt.Sprintf("导入完成！总计：%d，成功：%d，失败：%d", summary.TotalCount, summary.SuccessCount, summary.ErrorCount)
	if waitErr != nil {
		s.logger.Warn("score import interrupted",
			zap.Int("total", summary.TotalCount), zap.Int("succeeded", summary.SuccessCount), zap.Error(waitErr))
		return summary, appErrors.Internal(waitErr, "score import interrupted")
	}
	s.logger.Info("score import finished",
		zap.Int("total", summary.TotalCount), zap.Int("succeeded", summary.SuccessCount), zap.Int("failed", summary.ErrorCount), zap.Int("scopes", len(order)))
	return summary, nil
}

func (s *ScoreService) importGroup(ctx context.Context, key importGroupKey, items []pendingImportRow, results []dto.ScoreImportResult, plan *recomputePlan, mu *sync.Mutex) error {
	course, courseErr := s.courses.FindByNum(ctx, key.courseNum)
	if courseErr != nil && !errors.Is(courseErr, sql.ErrNoRows) {
		s.logger.Error("import course lookup failed", zap.String("course_num", key.courseNum), zap.Error(courseErr))
	}

	seen := make(map[string]struct{}, len(items))
	imported := 0
	var interrupted error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}
		res := &results[item.idx]

		student, err := s.students.FindByNum(ctx, strings.TrimSpace(item.row.StudentNum))
		if err != nil {
			res.Message = importMsgNoStudent
			if !errors.Is(err, sql.ErrNoRows) {
				res.Message = importMsgUnexpected
				s.logger.Error("import student lookup failed", zap.Int("row", res.Row), zap.Error(err))
			}
			continue
		}
		if student.Name != strings.TrimSpace(item.row.StudentName) {
			res.Message = importMsgNoStudent
			continue
		}
		if courseErr != nil {
			res.Message = importMsgNoCourse
			if !errors.Is(courseErr, sql.ErrNoRows) {
				res.Message = importMsgUnexpected
			}
			continue
		}
		if course.Name != strings.TrimSpace(item.row.CourseName) {
			res.Message = importMsgNoCourse
			continue
		}

		if _, dup := seen[student.ID]; dup {
			res.Message = importMsgDuplicate
			continue
		}
		exists, err := s.scores.Exists(ctx, student.ID, course.ID, item.examType, "")
		if err != nil {
			res.Message = importMsgUnexpected
			s.logger.Error("import duplicate check failed", zap.Int("row", res.Row), zap.Error(err))
			continue
		}
		if exists {
			res.Message = importMsgDuplicate
			continue
		}

		score := &models.Score{StudentID: student.ID, CourseID: course.ID, ExamType: item.examType, Mark: item.mark}
		if err := s.scores.Create(ctx, score); err != nil {
			res.Message = importMsgUnexpected
			if errors.Is(err, repository.ErrDuplicateKey) {
				res.Message = importMsgDuplicate
			} else {
				s.logger.Error("import score insert failed", zap.Int("row", res.Row), zap.Error(err))
			}
			continue
		}

		seen[student.ID] = struct{}{}
		res.Success = true
		res.Message = importMsgSuccess
		res.ScoreID = score.ID
		res.CourseID = course.ID
		imported++

		mu.Lock()
		plan.addFinals(student.ID, course.ID)
		mu.Unlock()
	}

	if imported > 0 {
		s.recomputeRanking(context.WithoutCancel(ctx), models.ScoreScope{CourseID: course.ID, ExamType: key.examType})
	}
	return interrupted
}

func isIncompleteRow(row dto.ScoreImportRow) bool {
	return strings.TrimSpace(row.StudentNum) == "" ||
		strings.TrimSpace(row.StudentName) == "" ||
		strings.TrimSpace(row.CourseNum) == "" ||
		strings.TrimSpace(row.CourseName) == "" ||
		row.Mark == nil
}

// ImportXLSX parses the first sheet of an .xlsx workbook and imports its rows.
// examType applies to rows without their own exam type column.
func (s *ScoreService) ImportXLSX(ctx context.Context, r io.Reader, examType string) (*dto.ScoreImportSummary, error) {
	rows, err := ParseScoreWorkbook(r)
	if err != nil {
		return nil, err
	}
	return s.BulkImport(ctx, rows, examType)
}

// ParseScoreWorkbook reads score rows from the first sheet. The header must start with
// 学号 姓名 课程号 课程名 分数 and may carry an optional 考试类型 column.
func ParseScoreWorkbook(r io.Reader) ([]dto.ScoreImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "无法解析Excel文件")
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	sheetRows, err := f.GetRows(sheet)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "读取工作表失败")
	}
	if len(sheetRows) == 0 || !validWorkbookHeader(sheetRows[0]) {
		return nil, appErrors.Clone(appErrors.ErrValidation, workbookHeaderMessage)
	}
	withExamType := len(sheetRows[0]) > len(workbookHeaders) &&
		strings.TrimSpace(sheetRows[0][len(workbookHeaders)]) == workbookExamTypeHeader

	var out []dto.ScoreImportRow
	for i := 1; i < len(sheetRows); i++ {
		cells := sheetRows[i]
		cell := func(idx int) string {
			if idx < len(cells) {
				return strings.TrimSpace(cells[idx])
			}
			return ""
		}
		if strings.TrimSpace(strings.Join(cells, "")) == "" {
			continue
		}

		item := dto.ScoreImportRow{
			Row:         i + 1,
			StudentNum:  cell(0),
			StudentName: cell(1),
			CourseNum:   cell(2),
			CourseName:  cell(3),
		}
		if raw := cell(4); raw != "" {
			if mark, err := strconv.ParseFloat(raw, 64); err == nil {
				item.Mark = &mark
			}
		}
		if withExamType {
			item.ExamType = cell(5)
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Excel文件无数据行")
	}
	return out, nil
}

func validWorkbookHeader(header []string) bool {
	if len(header) < len(workbookHeaders) {
		return false
	}
	for i, want := range workbookHeaders {
		if strings.TrimSpace(header[i]) != want {
			return false
		}
	}
	return true
}
