package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique run ID with the "run_" prefix
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewTestCaseID generates a unique test case ID with the "tc_" prefix
func NewTestCaseID() string {
	return "tc_" + uuid.New().String()
}

// StableTestCaseID derives a test case ID from its project and title, so that
// reloading the same suite file updates cases instead of duplicating them
func StableTestCaseID(projectRef, title string) string {
	return "tc_" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("labnex:"+projectRef+"/"+title)).String()
}
