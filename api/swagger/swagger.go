package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Score API",
        "description": "Raw scores, weighted final scores and rankings",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Scores",
            "description": "Raw score records and imports"
        },
        {
            "name": "ExamWeights",
            "description": "Exam weight rules"
        },
        {
            "name": "FinalScores",
            "description": "Course and student final scores"
        },
        {
            "name": "Rankings",
            "description": "Exam and class rankings"
        }
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Liveness check",
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {
                        "description": "Ready"
                    },
                    "503": {
                        "description": "Database unreachable"
                    }
                }
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "produces": [
                    "text/plain"
                ],
                "responses": {
                    "200": {
                        "description": "OK"
                    }
                }
            }
        },
        "/api/v1/scores": {
            "get": {
                "tags": [
                    "Scores"
                ],
                "summary": "List raw scores",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "student_id",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": ""
                    },
                    {
                        "name": "course_id",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": ""
                    },
                    {
                        "name": "exam_type",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": ""
                    },
                    {
                        "name": "page",
                        "in": "query",
                        "required": false,
                        "type": "integer",
                        "description": ""
                    },
                    {
                        "name": "page_size",
                        "in": "query",
                        "required": false,
                        "type": "integer",
                        "description": ""
                    }
                ]
            },
            "post": {
                "tags": [
                    "Scores"
                ],
                "summary": "Create raw score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "成绩已存在",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ScoreRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/scores/{id}": {
            "get": {
                "tags": [
                    "Scores"
                ],
                "summary": "Get raw score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "成绩不存在",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "ID"
                    }
                ]
            },
            "put": {
                "tags": [
                    "Scores"
                ],
                "summary": "Replace raw score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ScoreRequest"
                        }
                    }
                ]
            },
            "delete": {
                "tags": [
                    "Scores"
                ],
                "summary": "Delete raw score",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "ID"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Deleted"
                    }
                }
            }
        },
        "/api/v1/scores/import": {
            "post": {
                "tags": [
                    "Scores"
                ],
                "summary": "Bulk import scores",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ScoreImportRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/scores/import/xlsx": {
            "post": {
                "tags": [
                    "Scores"
                ],
                "summary": "Import scores from an Excel workbook",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "file",
                        "in": "formData",
                        "required": true,
                        "type": "file"
                    },
                    {
                        "name": "exam_type",
                        "in": "formData",
                        "required": false,
                        "type": "string"
                    }
                ],
                "consumes": [
                    "multipart/form-data"
                ]
            }
        },
        "/api/v1/exam-weights": {
            "get": {
                "tags": [
                    "ExamWeights"
                ],
                "summary": "List exam weight rules",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "course_id",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": ""
                    },
                    {
                        "name": "global",
                        "in": "query",
                        "required": false,
                        "type": "boolean",
                        "description": ""
                    }
                ]
            },
            "post": {
                "tags": [
                    "ExamWeights"
                ],
                "summary": "Create exam weight rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "201": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ExamWeightRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/exam-weights/{id}": {
            "put": {
                "tags": [
                    "ExamWeights"
                ],
                "summary": "Update exam weight rule",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ExamWeightRequest"
                        }
                    }
                ]
            },
            "delete": {
                "tags": [
                    "ExamWeights"
                ],
                "summary": "Delete exam weight rule",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "ID"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "Deleted"
                    }
                }
            }
        },
        "/api/v1/courses/{id}/weights": {
            "get": {
                "tags": [
                    "ExamWeights"
                ],
                "summary": "Effective weights of a course",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Course ID"
                    }
                ]
            }
        },
        "/api/v1/final-scores/course": {
            "post": {
                "tags": [
                    "FinalScores"
                ],
                "summary": "Calculate course final score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CourseFinalScoreRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/final-scores/student": {
            "post": {
                "tags": [
                    "FinalScores"
                ],
                "summary": "Calculate student final score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/StudentFinalScoreRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/final-scores/all": {
            "post": {
                "tags": [
                    "FinalScores"
                ],
                "summary": "Recalculate every student final score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "202": {
                        "description": "Queued",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "async",
                        "in": "query",
                        "required": false,
                        "type": "boolean",
                        "description": "Queue the work in the background"
                    }
                ]
            }
        },
        "/api/v1/jobs/{id}": {
            "get": {
                "tags": [
                    "FinalScores"
                ],
                "summary": "Background job status",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "404": {
                        "description": "job not found",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Job ID"
                    }
                ]
            }
        },
        "/api/v1/rankings/course": {
            "post": {
                "tags": [
                    "Rankings"
                ],
                "summary": "Rank a course exam",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CourseRankingRequest"
                        }
                    }
                ]
            }
        },
        "/api/v1/rankings/recalculate": {
            "post": {
                "tags": [
                    "Rankings"
                ],
                "summary": "Re-rank every exam scope",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                }
            }
        },
        "/api/v1/rankings/class/{className}": {
            "get": {
                "tags": [
                    "Rankings"
                ],
                "summary": "Class ranking by student final score",
                "produces": [
                    "application/json"
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "parameters": [
                    {
                        "name": "className",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Class name"
                    }
                ]
            }
        },
        "/api/v1/rankings/course/{courseId}/export": {
            "get": {
                "tags": [
                    "Rankings"
                ],
                "summary": "Download a course exam ranking sheet",
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Course ID"
                    },
                    {
                        "name": "exam_type",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": ""
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": "csv or pdf"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Ranking sheet",
                        "schema": {
                            "type": "file"
                        }
                    }
                }
            }
        },
        "/api/v1/students/{id}/transcript/export": {
            "get": {
                "tags": [
                    "Rankings"
                ],
                "summary": "Download a student transcript",
                "description": "Raw scores per course and exam type with average, credit-weighted average, total credits and pass rate.",
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string",
                        "description": "Student ID"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "required": false,
                        "type": "string",
                        "description": "csv or pdf"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Transcript",
                        "schema": {
                            "type": "file"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "ScoreRequest": {
            "type": "object",
            "required": [
                "student_id",
                "course_id",
                "exam_type",
                "mark"
            ],
            "properties": {
                "student_id": {
                    "type": "string"
                },
                "course_id": {
                    "type": "string"
                },
                "exam_type": {
                    "type": "string",
                    "enum": [
                        "期中考试",
                        "期末考试",
                        "平时成绩",
                        "模拟考试"
                    ]
                },
                "mark": {
                    "type": "integer",
                    "minimum": 0,
                    "maximum": 100
                }
            }
        },
        "ScoreImportRow": {
            "type": "object",
            "properties": {
                "row": {
                    "type": "integer"
                },
                "student_num": {
                    "type": "string"
                },
                "student_name": {
                    "type": "string"
                },
                "course_num": {
                    "type": "string"
                },
                "course_name": {
                    "type": "string"
                },
                "mark": {
                    "type": "number"
                },
                "exam_type": {
                    "type": "string"
                }
            }
        },
        "ScoreImportRequest": {
            "type": "object",
            "properties": {
                "exam_type": {
                    "type": "string"
                },
                "rows": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/ScoreImportRow"
                    }
                }
            }
        },
        "ExamWeightRequest": {
            "type": "object",
            "required": [
                "exam_type",
                "weight"
            ],
            "properties": {
                "course_id": {
                    "type": "string"
                },
                "exam_type": {
                    "type": "string"
                },
                "weight": {
                    "type": "number",
                    "minimum": 0,
                    "maximum": 1
                },
                "description": {
                    "type": "string"
                }
            }
        },
        "CourseFinalScoreRequest": {
            "type": "object",
            "properties": {
                "student_id": {
                    "type": "string"
                },
                "course_id": {
                    "type": "string"
                }
            }
        },
        "StudentFinalScoreRequest": {
            "type": "object",
            "properties": {
                "student_id": {
                    "type": "string"
                }
            }
        },
        "CourseRankingRequest": {
            "type": "object",
            "properties": {
                "course_id": {
                    "type": "string"
                },
                "exam_type": {
                    "type": "string"
                }
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {
                    "type": "integer"
                },
                "page_size": {
                    "type": "integer"
                },
                "total_count": {
                    "type": "integer"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "pagination": {
                    "$ref": "#/definitions/Pagination"
                },
                "meta": {
                    "type": "object"
                }
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
