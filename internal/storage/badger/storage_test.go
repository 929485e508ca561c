package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()
	m, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTestCaseStorage_CRUD(t *testing.T) {
	ctx := context.Background()
	store := newTestManager(t).TestCaseStorage()

	tc := &models.TestCase{
		ProjectRef: "shop",
		Title:      "Login",
		Steps:      []string{"navigate to example.com", "click login"},
	}
	require.NoError(t, store.SaveTestCase(ctx, tc))
	require.NotEmpty(t, tc.ID)
	assert.False(t, tc.CreatedAt.IsZero())

	got, err := store.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, tc.Steps, got.Steps)
	assert.Equal(t, "shop", got.ProjectRef)

	count, err := store.CountTestCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.DeleteTestCase(ctx, tc.ID))
	_, err = store.GetTestCase(ctx, tc.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.ErrorIs(t, store.DeleteTestCase(ctx, tc.ID), interfaces.ErrNotFound)
}

func TestTestCaseStorage_RejectsInvalid(t *testing.T) {
	store := newTestManager(t).TestCaseStorage()

	err := store.SaveTestCase(context.Background(), &models.TestCase{Title: "no project"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidTestCase)

	err = store.SaveTestCase(context.Background(), &models.TestCase{ProjectRef: "p", Title: "t", Steps: []string{""}})
	assert.Error(t, err)
}

func TestTestCaseStorage_ListAndLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestManager(t).TestCaseStorage()

	base := time.Now().Add(-time.Hour)
	for i, entry := range []struct{ id, project string }{
		{"tc_a", "shop"}, {"tc_b", "blog"}, {"tc_c", "shop"},
	} {
		require.NoError(t, store.SaveTestCase(ctx, &models.TestCase{
			ID:         entry.id,
			ProjectRef: entry.project,
			Title:      entry.id,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	shop, err := store.ListTestCases(ctx, &interfaces.ListOptions{ProjectRef: "shop"})
	require.NoError(t, err)
	require.Len(t, shop, 2)
	assert.Equal(t, "tc_a", shop[0].ID)
	assert.Equal(t, "tc_c", shop[1].ID)

	page, err := store.ListTestCases(ctx, &interfaces.ListOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "tc_b", page[0].ID)

	loaded, err := store.LoadTestCases(ctx, []string{"tc_c", "tc_a"})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "tc_c", loaded[0].ID)
	assert.Equal(t, "tc_a", loaded[1].ID)

	_, err = store.LoadTestCases(ctx, []string{"tc_a", "tc_missing"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRunStorage_RoundTripsAggregate(t *testing.T) {
	ctx := context.Background()
	store := newTestManager(t).RunStorage()

	run := models.NewRun("run_1", "shop", []string{"tc_a", "tc_b"}, models.RunConfig{Concurrency: 2})
	run.MarkRunning(time.Now())
	run.RecordResult("tc_a", models.CaseResult{
		TestCaseID: "tc_a",
		Status:     models.CaseStatusFail,
		Error:      "TargetNotFound: no element",
		ErrorKind:  models.ErrorKindTargetNotFound,
		Logs:       []string{"[10:00:00.000] Step 1"},
	})
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Equal(t, run.Results, got.Results)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.CaseResults["tc_b"].Pending)
	require.NotNil(t, got.CaseResults["tc_a"].Result)
	assert.Equal(t, models.ErrorKindTargetNotFound, got.CaseResults["tc_a"].Result.ErrorKind)

	_, err = store.GetRun(ctx, "run_missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestRunStorage_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestManager(t).RunStorage()

	older := models.NewRun("run_old", "shop", []string{"a"}, models.RunConfig{Concurrency: 1})
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := models.NewRun("run_new", "shop", []string{"a"}, models.RunConfig{Concurrency: 1})
	newer.MarkRunning(time.Now())
	other := models.NewRun("run_blog", "blog", []string{"a"}, models.RunConfig{Concurrency: 1})
	for _, r := range []*models.Run{older, newer, other} {
		require.NoError(t, store.SaveRun(ctx, r))
	}

	shop, err := store.ListRuns(ctx, &interfaces.ListOptions{ProjectRef: "shop"})
	require.NoError(t, err)
	require.Len(t, shop, 2)
	assert.Equal(t, "run_new", shop[0].ID)

	running, err := store.ListRuns(ctx, &interfaces.ListOptions{Status: "running"})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "run_new", running[0].ID)

	all, err := store.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.DeleteRun(ctx, "run_blog"))
	all, err = store.ListRuns(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestInMemoryManager(t *testing.T) {
	m, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.TestCaseStorage().SaveTestCase(context.Background(), &models.TestCase{ProjectRef: "p", Title: "t"}))
	count, err := m.TestCaseStorage().CountTestCases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

const tomlSuite = `
project_ref = "shop"
name = "Shop smoke"

[[test_cases]]
title = "Home loads"
steps = ["navigate to example.com"]
expected_result = "Example Domain"

[[test_cases]]
id = "tc_search"
title = "Search"
steps = ["navigate to example.com", "type shoes into search field", "click 'Search'"]
`

const yamlSuite = `
project_ref: blog
test_cases:
  - title: Post opens
    steps:
      - navigate to blog.example.com
      - click the first post
    expected_result: Comments
`

func TestLoadSuitesFromFiles(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "shop.toml"), []byte(tomlSuite), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blog.yaml"), []byte(yamlSuite), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("project_ref = "), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644))

	require.NoError(t, m.LoadSuitesFromFiles(ctx, dir))

	count, err := m.TestCaseStorage().CountTestCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	search, err := m.TestCaseStorage().GetTestCase(ctx, "tc_search")
	require.NoError(t, err)
	assert.Len(t, search.Steps, 3)

	home, err := m.TestCaseStorage().GetTestCase(ctx, common.StableTestCaseID("shop", "Home loads"))
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", home.ExpectedResult)

	blog, err := m.TestCaseStorage().ListTestCases(ctx, &interfaces.ListOptions{ProjectRef: "blog"})
	require.NoError(t, err)
	require.Len(t, blog, 1)
	assert.Equal(t, "Comments", blog[0].ExpectedResult)

	// reloading updates in place
	require.NoError(t, m.LoadSuitesFromFiles(ctx, dir))
	count, err = m.TestCaseStorage().CountTestCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.NoError(t, m.LoadSuitesFromFiles(ctx, filepath.Join(dir, "missing")))
}

func TestParseSuiteFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ParseSuiteFile(filepath.Join(dir, "nope.toml"))
	assert.Error(t, err)

	path := filepath.Join(dir, "suite.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
	_, err = ParseSuiteFile(path)
	assert.ErrorIs(t, err, ErrUnsupportedSuiteFormat)

	path = filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("project_ref: x\n"), 0644))
	_, err = ParseSuiteFile(path)
	assert.ErrorContains(t, err, "no test cases")
}

func TestDecodeSuite(t *testing.T) {
	suite, err := DecodeSuite([]byte("project_ref = \"shop\"\n[[test_cases]]\ntitle = \"t\"\nsteps = [\"go to example.com\"]\n"), "TOML")
	require.NoError(t, err)
	assert.Equal(t, "shop", suite.ProjectRef)
	require.Len(t, suite.TestCases, 1)

	_, err = DecodeSuite([]byte("project_ref: [unclosed"), ".yml")
	assert.ErrorContains(t, err, "failed to parse suite")
}
