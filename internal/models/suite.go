package models

import (
	"fmt"
	"strings"
)

// Suite is the on-disk format of a group of test cases (TOML or YAML)
type Suite struct {
	ProjectRef  string      `toml:"project_ref" yaml:"project_ref"`
	Name        string      `toml:"name" yaml:"name"`
	Concurrency int         `toml:"concurrency" yaml:"concurrency"`
	TestCases   []SuiteCase `toml:"test_cases" yaml:"test_cases"`
}

// SuiteCase is one test case entry of a suite file
type SuiteCase struct {
	ID             string   `toml:"id" yaml:"id"`
	Title          string   `toml:"title" yaml:"title"`
	Description    string   `toml:"description" yaml:"description"`
	Steps          []string `toml:"steps" yaml:"steps"`
	ExpectedResult string   `toml:"expected_result" yaml:"expected_result"`
}

// Validate checks the fields needed to turn the suite into test cases
func (s *Suite) Validate() error {
	if strings.TrimSpace(s.ProjectRef) == "" {
		return fmt.Errorf("suite project_ref is required")
	}
	if len(s.TestCases) == 0 {
		return fmt.Errorf("suite %s has no test cases", s.ProjectRef)
	}
	for i, tc := range s.TestCases {
		if strings.TrimSpace(tc.Title) == "" {
			return fmt.Errorf("test case %d of suite %s has no title", i+1, s.ProjectRef)
		}
	}
	return nil
}
