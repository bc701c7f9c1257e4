package models

import "time"

// Student is owned by the roster and read here for lookups and class membership.
type Student struct {
	ID        string    `db:"id" json:"id"`
	Num       string    `db:"num" json:"num"`
	Name      string    `db:"name" json:"name"`
	ClassName string    `db:"class_name" json:"class_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
