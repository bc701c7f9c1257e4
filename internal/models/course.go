package models

import "time"

// Course is owned by the course catalogue and read here for credits.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Num       string    `db:"num" json:"num"`
	Name      string    `db:"name" json:"name"`
	Credit    *int      `db:"credit" json:"credit,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveCredit returns the course credit or 1 when missing or non-positive.
// The second result is false when the fallback was applied.
func (c Course) EffectiveCredit() (int, bool) {
	if c.Credit == nil || *c.Credit <= 0 {
		return 1, false
	}
	return *c.Credit, true
}
