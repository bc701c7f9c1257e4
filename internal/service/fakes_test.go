package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/repository"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type memScores struct {
	mu         sync.Mutex
	clock      *fakeClock
	seq        int
	rows       map[string]models.Score
	rankWrites int
}

func newMemScores(clock *fakeClock) *memScores {
	return &memScores{clock: clock, rows: make(map[string]models.Score)}
}

func (m *memScores) sortedLocked(match func(models.Score) bool) []models.Score {
	var out []models.Score
	for _, sc := range m.rows {
		if match(sc) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memScores) List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sortedLocked(func(sc models.Score) bool {
		return (filter.StudentID == "" || sc.StudentID == filter.StudentID) &&
			(filter.CourseID == "" || sc.CourseID == filter.CourseID) &&
			(filter.ExamType == "" || sc.ExamType == filter.ExamType)
	})
	start := (filter.Page - 1) * filter.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *memScores) FindByID(ctx context.Context, id string) (*models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &sc, nil
}

func (m *memScores) Exists(ctx context.Context, studentID, courseID string, examType models.ExamType, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked(studentID, courseID, examType, excludeID), nil
}

func (m *memScores) existsLocked(studentID, courseID string, examType models.ExamType, excludeID string) bool {
	for id, sc := range m.rows {
		if id != excludeID && sc.StudentID == studentID && sc.CourseID == courseID && sc.ExamType == examType {
			return true
		}
	}
	return false
}

func (m *memScores) Create(ctx context.Context, score *models.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsLocked(score.StudentID, score.CourseID, score.ExamType, "") {
		return repository.ErrDuplicateKey
	}
	m.seq++
	score.ID = fmt.Sprintf("sc-%03d", m.seq)
	score.CreatedAt = m.clock.tick()
	score.UpdatedAt = score.CreatedAt
	m.rows[score.ID] = *score
	return nil
}

func (m *memScores) Update(ctx context.Context, score *models.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[score.ID]; !ok {
		return sql.ErrNoRows
	}
	if m.existsLocked(score.StudentID, score.CourseID, score.ExamType, score.ID) {
		return repository.ErrDuplicateKey
	}
	score.UpdatedAt = m.clock.tick()
	m.rows[score.ID] = *score
	return nil
}

// setMark changes a mark behind the services' back.
func (m *memScores) setMark(id string, mark int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := m.rows[id]
	sc.Mark = mark
	sc.UpdatedAt = m.clock.tick()
	m.rows[id] = sc
}

func (m *memScores) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

func (m *memScores) ListByStudent(ctx context.Context, studentID string) ([]models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(func(sc models.Score) bool { return sc.StudentID == studentID }), nil
}

func (m *memScores) ListByStudentAndCourse(ctx context.Context, studentID, courseID string) ([]models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked(func(sc models.Score) bool { return sc.StudentID == studentID && sc.CourseID == courseID }), nil
}

func (m *memScores) ListByCourseAndExamType(ctx context.Context, courseID string, examType models.ExamType) ([]models.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedLocked(func(sc models.Score) bool { return sc.CourseID == courseID && sc.ExamType == examType })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Mark != out[j].Mark {
			return out[i].Mark > out[j].Mark
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

func (m *memScores) DistinctCourseExamTypes(ctx context.Context) ([]models.ScoreScope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[models.ScoreScope]struct{}{}
	var out []models.ScoreScope
	for _, sc := range m.sortedLocked(func(models.Score) bool { return true }) {
		scope := models.ScoreScope{CourseID: sc.CourseID, ExamType: sc.ExamType}
		if _, ok := seen[scope]; !ok {
			seen[scope] = struct{}{}
			out = append(out, scope)
		}
	}
	return out, nil
}

func (m *memScores) LatestUpdateByCourse(ctx context.Context, studentID string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time)
	for _, sc := range m.rows {
		if sc.StudentID != studentID {
			continue
		}
		if sc.UpdatedAt.After(out[sc.CourseID]) {
			out[sc.CourseID] = sc.UpdatedAt
		}
	}
	return out, nil
}

func (m *memScores) UpdateRanks(ctx context.Context, ranks []models.ScoreRank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range ranks {
		sc, ok := m.rows[r.ScoreID]
		if !ok {
			continue
		}
		rank := r.Rank
		sc.Rank = &rank
		m.rows[r.ScoreID] = sc
		m.rankWrites++
	}
	return nil
}

func (m *memScores) ListRankedByScope(ctx context.Context, courseID string, examType models.ExamType) ([]models.RankedScore, error) {
	scores, _ := m.ListByCourseAndExamType(ctx, courseID, examType)
	out := make([]models.RankedScore, len(scores))
	for i, sc := range scores {
		out[i] = models.RankedScore{Score: sc, StudentNum: "N-" + sc.StudentID, StudentName: "Name-" + sc.StudentID}
	}
	return out, nil
}

func (m *memScores) rankOf(id string) *int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Rank
}

func (m *memScores) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memStudents struct {
	byID map[string]models.Student
}

func newMemStudents(students ...models.Student) *memStudents {
	m := &memStudents{byID: make(map[string]models.Student)}
	for _, st := range students {
		m.byID[st.ID] = st
	}
	return m
}

func (m *memStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	st, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

func (m *memStudents) FindByNum(ctx context.Context, num string) (*models.Student, error) {
	for _, st := range m.byID {
		if st.Num == num {
			st := st
			return &st, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStudents) ListAll(ctx context.Context) ([]models.Student, error) {
	out := make([]models.Student, 0, len(m.byID))
	for _, st := range m.byID {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memCourses struct {
	byID map[string]models.Course
}

func newMemCourses(courses ...models.Course) *memCourses {
	m := &memCourses{byID: make(map[string]models.Course)}
	for _, c := range courses {
		m.byID[c.ID] = c
	}
	return m
}

func (m *memCourses) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (m *memCourses) FindByNum(ctx context.Context, num string) (*models.Course, error) {
	for _, c := range m.byID {
		if c.Num == num {
			c := c
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

type memFinals struct {
	mu         sync.Mutex
	clock      *fakeClock
	students   *memStudents
	course     map[[2]string]models.CourseFinalScore
	student    map[string]models.StudentFinalScore
	courseRuns int
	classReads int
}

func newMemFinals(clock *fakeClock, students *memStudents) *memFinals {
	return &memFinals{
		clock:    clock,
		students: students,
		course:   make(map[[2]string]models.CourseFinalScore),
		student:  make(map[string]models.StudentFinalScore),
	}
}

func (m *memFinals) UpsertCourse(ctx context.Context, final *models.CourseFinalScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	final.CalculatedAt = m.clock.tick()
	final.Stale = false
	m.course[[2]string{final.StudentID, final.CourseID}] = *final
	m.courseRuns++
	return nil
}

func (m *memFinals) DeleteCourse(ctx context.Context, studentID, courseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.course, [2]string{studentID, courseID})
	return nil
}

func (m *memFinals) MarkCourseStale(ctx context.Context, courseID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, final := range m.course {
		if final.Stale || (courseID != "" && key[1] != courseID) {
			continue
		}
		final.Stale = true
		m.course[key] = final
		n++
	}
	return n, nil
}

func (m *memFinals) ListCourseByStudent(ctx context.Context, studentID string) (map[string]models.CourseFinalScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.CourseFinalScore)
	for key, final := range m.course {
		if key[0] == studentID {
			out[key[1]] = final
		}
	}
	return out, nil
}

func (m *memFinals) UpsertStudent(ctx context.Context, final *models.StudentFinalScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	final.CalculatedAt = m.clock.tick()
	m.student[final.StudentID] = *final
	return nil
}

func (m *memFinals) ListStudentByClass(ctx context.Context, className string) ([]models.RankingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classReads++
	var out []models.RankingEntry
	for id, final := range m.student {
		st := m.students.byID[id]
		if st.ClassName != className {
			continue
		}
		out = append(out, models.RankingEntry{StudentID: id, StudentNum: st.Num, StudentName: st.Name, Value: final.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *memFinals) courseValue(studentID, courseID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	final, ok := m.course[[2]string{studentID, courseID}]
	return final.Value, ok
}

func (m *memFinals) studentValue(studentID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	final, ok := m.student[studentID]
	return final.Value, ok
}

type memWeights struct {
	seq  int
	rows map[string]models.ExamWeight
}

func newMemWeights() *memWeights {
	return &memWeights{rows: make(map[string]models.ExamWeight)}
}

func (m *memWeights) sorted() []models.ExamWeight {
	out := make([]models.ExamWeight, 0, len(m.rows))
	for _, w := range m.rows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memWeights) List(ctx context.Context, filter models.ExamWeightFilter) ([]models.ExamWeight, error) {
	var out []models.ExamWeight
	for _, w := range m.sorted() {
		if filter.GlobalOnly && !w.IsGlobal() {
			continue
		}
		if filter.CourseID != "" && (w.IsGlobal() || *w.CourseID != filter.CourseID) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *memWeights) ListEffective(ctx context.Context, courseID string) ([]models.ExamWeight, error) {
	var out []models.ExamWeight
	for _, w := range m.sorted() {
		if w.IsGlobal() || *w.CourseID == courseID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWeights) FindByID(ctx context.Context, id string) (*models.ExamWeight, error) {
	w, ok := m.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &w, nil
}

func (m *memWeights) ExistsForKey(ctx context.Context, courseID *string, examType models.ExamType, excludeID string) (bool, error) {
	for id, w := range m.rows {
		if id == excludeID || w.ExamType != examType {
			continue
		}
		if courseID == nil && w.IsGlobal() {
			return true, nil
		}
		if courseID != nil && !w.IsGlobal() && *w.CourseID == *courseID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memWeights) CountGlobal(ctx context.Context) (int, error) {
	n := 0
	for _, w := range m.rows {
		if w.IsGlobal() {
			n++
		}
	}
	return n, nil
}

func (m *memWeights) CountAll(ctx context.Context) (int, error) {
	return len(m.rows), nil
}

func (m *memWeights) Create(ctx context.Context, weight *models.ExamWeight) error {
	m.seq++
	weight.ID = fmt.Sprintf("w-%02d", m.seq)
	m.rows[weight.ID] = *weight
	return nil
}

func (m *memWeights) Update(ctx context.Context, weight *models.ExamWeight) error {
	if _, ok := m.rows[weight.ID]; !ok {
		return sql.ErrNoRows
	}
	m.rows[weight.ID] = *weight
	return nil
}

func (m *memWeights) Delete(ctx context.Context, id string) error {
	if _, ok := m.rows[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (m *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = raw
	return nil
}

func (m *memCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

func (m *memCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

type countingRanker struct {
	inner rankingCalculator
	mu    sync.Mutex
	calls map[models.ScoreScope]int
}

func (c *countingRanker) CalculateRanking(ctx context.Context, courseID string, examType models.ExamType) (map[string]int, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[models.ScoreScope]int)
	}
	c.calls[models.ScoreScope{CourseID: courseID, ExamType: examType}]++
	c.mu.Unlock()
	return c.inner.CalculateRanking(ctx, courseID, examType)
}

func (c *countingRanker) callsFor(courseID string, examType models.ExamType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[models.ScoreScope{CourseID: courseID, ExamType: examType}]
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// gradingFixture wires the grading services over in-memory stores.
type gradingFixture struct {
	clock    *fakeClock
	scores   *memScores
	students *memStudents
	courses  *memCourses
	finals   *memFinals
	weights  *memWeights
	cache    *memCache

	weightSvc  *ExamWeightService
	rankingSvc *RankingService
	finalSvc   *FinalScoreService
	scoreSvc   *ScoreService
	ranker     *countingRanker
	metrics    *MetricsService
}

func newGradingFixture(seedWeights bool) *gradingFixture {
	clock := newFakeClock()
	students := newMemStudents(
		models.Student{ID: "s1", Num: "2021001", Name: "张三", ClassName: "一班"},
		models.Student{ID: "s2", Num: "2021002", Name: "李四", ClassName: "一班"},
		models.Student{ID: "s3", Num: "2021003", Name: "王五", ClassName: "二班"},
	)
	courses := newMemCourses(
		models.Course{ID: "c1", Num: "CS101", Name: "数据结构", Credit: intPtr(3)},
		models.Course{ID: "c2", Num: "MA101", Name: "高等数学"},
	)
	f := &gradingFixture{
		clock:    clock,
		scores:   newMemScores(clock),
		students: students,
		courses:  courses,
		finals:   newMemFinals(clock, students),
		weights:  newMemWeights(),
		cache:    newMemCache(),
		metrics:  NewMetricsService(),
	}

	cache := NewCacheService(f.cache, f.metrics, time.Minute, nil, true)
	f.weightSvc = NewExamWeightService(f.weights, courses, f.finals, cache, time.Minute, nil, nil)
	if seedWeights {
		_, _ = f.weightSvc.SeedDefaults(context.Background())
	}
	f.rankingSvc = NewRankingService(f.scores, f.finals, cache, time.Minute, f.metrics, nil)
	f.finalSvc = NewFinalScoreService(f.scores, f.finals, courses, students, f.weightSvc, f.rankingSvc, f.metrics, nil)
	f.ranker = &countingRanker{inner: f.rankingSvc}
	f.scoreSvc = NewScoreService(f.scores, students, courses, f.ranker, f.finalSvc, ScoreServiceConfig{ImportWorkers: 3, MaxImportRows: 10}, nil, f.metrics, nil)
	return f
}
