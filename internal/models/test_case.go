package models

import "time"

// TestCase is a sequence of free-text steps plus the expected final outcome.
// The runner treats it as read-only input.
type TestCase struct {
	ID             string    `json:"id"`
	ProjectRef     string    `json:"project_ref" badgerhold:"index" validate:"required"`
	Title          string    `json:"title" validate:"required"`
	Description    string    `json:"description"`
	Steps          []string  `json:"steps" validate:"dive,required"`
	ExpectedResult string    `json:"expected_result"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
