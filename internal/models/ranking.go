package models

// ScoredEntity is any identifiable value that takes part in a ranking.
type ScoredEntity struct {
	ID    string
	Score float64
}

// RankingEntry is one row of a ranking view.
type RankingEntry struct {
	StudentID   string  `db:"student_id" json:"student_id"`
	StudentNum  string  `db:"student_num" json:"student_num"`
	StudentName string  `db:"student_name" json:"student_name"`
	Value       float64 `db:"value" json:"value"`
	Rank        int     `db:"rank" json:"rank"`
}

// RankedScore joins a raw score with the student it belongs to.
type RankedScore struct {
	Score
	StudentNum  string `db:"student_num"`
	StudentName string `db:"student_name"`
}
