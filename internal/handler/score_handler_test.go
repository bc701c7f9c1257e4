package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-score-api/internal/dto"
	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

type scoreServiceMock struct {
	lastFilter   models.ScoreFilter
	lastReq      dto.ScoreRequest
	lastRows     []dto.ScoreImportRow
	lastExamType string
	uploaded     []byte
	createErr    error
	deleteErr    error
	summary      *dto.ScoreImportSummary
	importErr    error
}

func (m *scoreServiceMock) List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Score{{ID: "sc-1", Mark: 90}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *scoreServiceMock) Get(ctx context.Context, id string) (*models.Score, error) {
	if id != "sc-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "成绩不存在")
	}
	return &models.Score{ID: id, Mark: 90}, nil
}

func (m *scoreServiceMock) Create(ctx context.Context, req dto.ScoreRequest) (*models.Score, error) {
	m.lastReq = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Score{ID: "sc-2", StudentID: req.StudentID, Mark: *req.Mark}, nil
}

func (m *scoreServiceMock) Update(ctx context.Context, id string, req dto.ScoreRequest) (*models.Score, error) {
	m.lastReq = req
	return &models.Score{ID: id, Mark: *req.Mark}, nil
}

func (m *scoreServiceMock) Delete(ctx context.Context, id string) error {
	return m.deleteErr
}

func (m *scoreServiceMock) BulkImport(ctx context.Context, rows []dto.ScoreImportRow, examType string) (*dto.ScoreImportSummary, error) {
	m.lastRows = rows
	m.lastExamType = examType
	return m.summary, m.importErr
}

func (m *scoreServiceMock) ImportXLSX(ctx context.Context, r io.Reader, examType string) (*dto.ScoreImportSummary, error) {
	m.uploaded, _ = io.ReadAll(r)
	m.lastExamType = examType
	return m.summary, nil
}

func newTestContext(method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

type envelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestScoreHandlerList(t *testing.T) {
	svc := &scoreServiceMock{}
	h := NewScoreHandler(svc)
	c, w := newTestContext(http.MethodGet, "/scores?course_id=c1&exam_type=%E6%9C%9F%E6%9C%AB%E8%80%83%E8%AF%95&page=2&page_size=5", nil)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ScoreFilter{CourseID: "c1", ExamType: models.ExamTypeFinal, Page: 2, PageSize: 5}, svc.lastFilter)
	env := decode(t, w)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalCount)
}

func TestScoreHandlerGetNotFound(t *testing.T) {
	h := NewScoreHandler(&scoreServiceMock{})
	c, w := newTestContext(http.MethodGet, "/scores/x", nil)
	c.Params = gin.Params{{Key: "id", Value: "x"}}

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "成绩不存在", decode(t, w).Error.Message)
}

func TestScoreHandlerCreate(t *testing.T) {
	svc := &scoreServiceMock{}
	h := NewScoreHandler(svc)
	body := []byte(`{"student_id":"s1","course_id":"c1","exam_type":"期末考试","mark":88}`)
	c, w := newTestContext(http.MethodPost, "/scores", body)

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 88, *svc.lastReq.Mark)

	svc.createErr = appErrors.Clone(appErrors.ErrDuplicate, "成绩已存在")
	c, w = newTestContext(http.MethodPost, "/scores", body)
	h.Create(c)
	assert.Equal(t, http.StatusConflict, w.Code)

	c, w = newTestContext(http.MethodPost, "/scores", []byte(`{"mark":"high"}`))
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScoreHandlerUpdateAndDelete(t *testing.T) {
	svc := &scoreServiceMock{}
	h := NewScoreHandler(svc)

	c, w := newTestContext(http.MethodPut, "/scores/sc-1", []byte(`{"student_id":"s1","course_id":"c1","exam_type":"期中考试","mark":70}`))
	c.Params = gin.Params{{Key: "id", Value: "sc-1"}}
	h.Update(c)
	require.Equal(t, http.StatusOK, w.Code)

	c, _ = newTestContext(http.MethodDelete, "/scores/sc-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sc-1"}}
	h.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())

	svc.deleteErr = appErrors.Clone(appErrors.ErrNotFound, "成绩不存在")
	c, w = newTestContext(http.MethodDelete, "/scores/sc-9", nil)
	h.Delete(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScoreHandlerImportJSON(t *testing.T) {
	svc := &scoreServiceMock{summary: &dto.ScoreImportSummary{TotalCount: 1, SuccessCount: 1}}
	h := NewScoreHandler(svc)
	body := []byte(`{"exam_type":"期中考试","rows":[{"row":2,"student_num":"2021001","student_name":"张三","course_num":"CS101","course_name":"数据结构","mark":91.5}]}`)
	c, w := newTestContext(http.MethodPost, "/scores/import", body)

	h.Import(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.lastRows, 1)
	assert.InDelta(t, 91.5, *svc.lastRows[0].Mark, 1e-9)
	assert.Equal(t, "期中考试", svc.lastExamType)
}

func TestScoreHandlerImportReturnsPartialSummaryOnInterrupt(t *testing.T) {
	partial := &dto.ScoreImportSummary{TotalCount: 2, SuccessCount: 1, ErrorCount: 1, Results: []dto.ScoreImportResult{
		{Row: 1, Success: true, Message: "导入成功"},
		{Row: 2, Message: "导入已中断"},
	}}
	svc := &scoreServiceMock{summary: partial, importErr: appErrors.Internal(context.Canceled, "score import interrupted")}
	h := NewScoreHandler(svc)
	body := []byte(`{"rows":[{"student_num":"2021001","student_name":"张三","course_num":"CS101","course_name":"数据结构","mark":80}]}`)
	c, w := newTestContext(http.MethodPost, "/scores/import", body)

	h.Import(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	var got dto.ScoreImportSummary
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 1, got.SuccessCount)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "导入已中断", got.Results[1].Message)

	svc.summary = nil
	c, w = newTestContext(http.MethodPost, "/scores/import", body)
	h.Import(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, decode(t, w).Data)
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	c, w := newTestContext(http.MethodPost, "/scores/import/xlsx", nil)
	c.Request = httptest.NewRequest(http.MethodPost, "/scores/import/xlsx", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())
	return c, w
}

func TestScoreHandlerImportXLSX(t *testing.T) {
	svc := &scoreServiceMock{summary: &dto.ScoreImportSummary{TotalCount: 2}}
	h := NewScoreHandler(svc)

	c, w := multipartUpload(t, "scores.xlsx", []byte("workbook"), map[string]string{"exam_type": "平时成绩"})
	h.ImportXLSX(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte("workbook"), svc.uploaded)
	assert.Equal(t, "平时成绩", svc.lastExamType)

	c, w = multipartUpload(t, "scores.csv", []byte("a,b"), nil)
	h.ImportXLSX(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPost, "/scores/import/xlsx", nil)
	h.ImportXLSX(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "请上传Excel文件", decode(t, w).Error.Message)
}
