package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/service"
	"github.com/noah-isme/course-score-api/pkg/config"
)

func TestRouterGuardsRoutes(t *testing.T) {
	verifier := service.NewTokenVerifier("secret")
	cfg := &config.Config{Env: config.EnvDevelopment, APIPrefix: "/api/v1", JWT: config.JWTConfig{Secret: "secret", Enabled: true}}
	router := newRouter(cfg, zap.NewNop(), routeDeps{verifier: verifier, metrics: service.NewMetricsService()})

	studentToken, err := verifier.Sign(&models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)
	teacherToken, err := verifier.Sign(&models.JWTClaims{UserID: "t-1", Role: models.RoleTeacher})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "health is public", method: http.MethodGet, path: "/health", want: http.StatusOK},
		{name: "metrics is public", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "api requires token", method: http.MethodGet, path: "/api/v1/scores", want: http.StatusUnauthorized},
		{name: "transcript export requires token", method: http.MethodGet, path: "/api/v1/students/s1/transcript/export", want: http.StatusUnauthorized},
		{name: "students cannot write scores", method: http.MethodPost, path: "/api/v1/scores", token: studentToken, want: http.StatusForbidden},
		{name: "teachers cannot change weights", method: http.MethodPost, path: "/api/v1/exam-weights", token: teacherToken, want: http.StatusForbidden},
		{name: "students cannot recalculate", method: http.MethodPost, path: "/api/v1/final-scores/all", token: studentToken, want: http.StatusForbidden},
		{name: "students cannot poll jobs", method: http.MethodGet, path: "/api/v1/jobs/x", token: studentToken, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
