package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Ranking",
		Headers: []string{"rank", "student_num", "mark"},
		Rows: []map[string]string{
			{"rank": "1", "student_num": "S001", "mark": "95"},
			{"rank": "1", "student_num": "S002", "mark": "95"},
		},
	}
}

func TestCSVRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "\ufeffrank,student_num,mark\n1,S001,95\n1,S002,95\n", string(out))
}

func TestPDFRender(t *testing.T) {
	out, err := NewPDFExporter("").Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter("").Render(Dataset{})
	assert.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry("")
	r, ok := reg.Lookup(" PDF ")
	require.True(t, ok)
	assert.Equal(t, "application/pdf", r.ContentType())
	_, ok = reg.Lookup("xlsx")
	assert.False(t, ok)
}

func TestPDFRenderSpansPages(t *testing.T) {
	data := sampleDataset()
	data.Rows = nil
	for i := 0; i < 120; i++ {
		data.Rows = append(data.Rows, map[string]string{"rank": "1", "student_num": "S", "mark": "60"})
	}
	out, err := NewPDFExporter("").Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderWritesSummaryBelowTable(t *testing.T) {
	data := sampleDataset()
	data.Summary = []SummaryLine{{Label: "平均分", Value: "95.0"}, {Label: "及格率", Value: "100.0%"}}

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "\ufeffrank,student_num,mark\n1,S001,95\n1,S002,95\n\n平均分,95.0\n及格率,100.0%\n", string(out))

	pdf, err := NewPDFExporter("").Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
}
