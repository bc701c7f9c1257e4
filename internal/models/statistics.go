package models

// PassMark is the lowest mark that counts as passed.
const PassMark = 60

// ScoreStatistics summarises a set of marks.
type ScoreStatistics struct {
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
	HighestScore float64 `json:"highest_score"`
	LowestScore  float64 `json:"lowest_score"`
	PassRate     float64 `json:"pass_rate"` // 0.0 - 1.0
	PassedCount  int     `json:"passed_count"`
	FailedCount  int     `json:"failed_count"`
}

// SummarizeMarks computes count, average, extremes and pass rate of marks. An empty
// input yields the zero value.
func SummarizeMarks(marks []float64) ScoreStatistics {
	var stats ScoreStatistics
	if len(marks) == 0 {
		return stats
	}
	stats.Count = len(marks)
	stats.HighestScore = marks[0]
	stats.LowestScore = marks[0]
	var sum float64
	for _, m := range marks {
		sum += m
		if m > stats.HighestScore {
			stats.HighestScore = m
		}
		if m < stats.LowestScore {
			stats.LowestScore = m
		}
		if m >= PassMark {
			stats.PassedCount++
		}
	}
	stats.FailedCount = stats.Count - stats.PassedCount
	stats.AverageScore = sum / float64(stats.Count)
	stats.PassRate = float64(stats.PassedCount) / float64(stats.Count)
	return stats
}
