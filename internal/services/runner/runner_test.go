package runner

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/interfaces"
	"github.com/ternarybob/labnex/internal/models"
	"github.com/ternarybob/labnex/internal/services/browser/browsertest"
	"github.com/ternarybob/labnex/internal/services/executor"
)

func newTestRunner(provider interfaces.SessionProvider, screenshotDir string) *CaseRunner {
	exec := executor.NewExecutor(executor.Options{
		InteractionWait: 10 * time.Millisecond,
		AssertionWait:   10 * time.Millisecond,
	}, nil, arbor.NewLogger())
	return NewCaseRunner(provider, exec, nil, screenshotDir, arbor.NewLogger())
}

func loginCase() *models.TestCase {
	return &models.TestCase{
		ID:    "tc_login",
		Title: "Login works",
		Steps: []string{
			"navigate to example.com/login",
			"type testuser into #email",
			"click #submit",
		},
		ExpectedResult: "Welcome",
	}
}

func TestRun_Pass(t *testing.T) {
	provider := browsertest.NewProvider(func() *browsertest.Session {
		s := browsertest.NewSession("#email", "#submit")
		s.OnAction = func(s *browsertest.Session, action, selector, value string) {
			if action == "Click" {
				s.Visible = "Welcome, testuser"
			}
		}
		return s
	})

	result, err := newTestRunner(provider, "").Run(context.Background(), loginCase(), Options{RunID: "run_1"})
	require.NoError(t, err)

	assert.Equal(t, models.CaseStatusPass, result.Status)
	assert.Equal(t, "tc_login", result.TestCaseID)
	assert.Empty(t, result.Error)
	assert.Empty(t, result.Screenshot)
	assert.NotEmpty(t, result.Logs)
	for _, line := range result.Logs {
		assert.True(t, strings.HasPrefix(line, "["), "log line is timestamped: %q", line)
	}
	assert.Equal(t, int64(1), provider.Acquired())
	assert.Equal(t, int64(1), provider.Released())
}

func TestRun_ExpectedResultMissing(t *testing.T) {
	// steps never fail but the expected text is absent from the final page
	provider := browsertest.NewProvider(func() *browsertest.Session {
		s := browsertest.NewSession("#email", "#submit")
		s.Visible = "Invalid credentials"
		return s
	})

	result, err := newTestRunner(provider, "").Run(context.Background(), loginCase(), Options{})
	require.NoError(t, err)

	assert.Equal(t, models.CaseStatusFail, result.Status)
	assert.Equal(t, models.ErrorKindAssertionFailed, result.ErrorKind)
	assert.True(t, strings.HasPrefix(result.Error, "AssertionFailed"))
	assert.Equal(t, models.ValidationStep, result.FailedStep)
	require.NotEmpty(t, result.Screenshot)

	png, decodeErr := base64.StdEncoding.DecodeString(result.Screenshot)
	require.NoError(t, decodeErr)
	assert.Equal(t, []byte("\x89PNG fake"), png)
	assert.Equal(t, int64(1), provider.Released())
}

func TestRun_FailFast(t *testing.T) {
	provider := browsertest.NewProvider(func() *browsertest.Session {
		return browsertest.NewSession("#a", "#c")
	})
	tc := &models.TestCase{
		ID:    "tc_ff",
		Title: "fail fast",
		Steps: []string{"click #a", "click #b", "click #c"},
	}

	result, err := newTestRunner(provider, "").Run(context.Background(), tc, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.CaseStatusFail, result.Status)
	assert.Equal(t, 1, result.FailedStep)
	assert.Equal(t, models.ErrorKindTargetNotFound, result.ErrorKind)
	assert.Contains(t, result.Message, "click #b")

	session := provider.Sessions()[0]
	assert.Equal(t, []string{"Click:#a"}, session.CallsWithPrefix("Click:"))
	assert.NotContains(t, session.Calls(), "WaitPresent:#c")
}

func TestRun_ScreenshotFailureIsNotFatal(t *testing.T) {
	provider := browsertest.NewProvider(func() *browsertest.Session {
		s := browsertest.NewSession()
		s.ScreenshotErr = errors.New("target closed")
		return s
	})
	tc := &models.TestCase{ID: "tc_x", Title: "x", Steps: []string{"click #missing"}}

	result, err := newTestRunner(provider, "").Run(context.Background(), tc, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFail, result.Status)
	assert.Empty(t, result.Screenshot)
	assert.True(t, containsLine(result.Logs, "Screenshot capture failed"))
}

func TestRun_ScreenshotSavedToDir(t *testing.T) {
	dir := t.TempDir()
	provider := browsertest.NewProvider(func() *browsertest.Session { return browsertest.NewSession() })
	tc := &models.TestCase{ID: "tc_shot", Title: "x", Steps: []string{"click #missing"}}

	result, err := newTestRunner(provider, dir).Run(context.Background(), tc, Options{RunID: "run_9"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Screenshot)

	files, globErr := filepath.Glob(filepath.Join(dir, "run_9_tc_shot_*.png"))
	require.NoError(t, globErr)
	require.Len(t, files, 1)
	data, readErr := os.ReadFile(files[0])
	require.NoError(t, readErr)
	assert.Equal(t, []byte("\x89PNG fake"), data)
}

func TestRun_CancelledBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := browsertest.NewProvider(func() *browsertest.Session {
		s := browsertest.NewSession("#a", "#b")
		s.OnAction = func(*browsertest.Session, string, string, string) { cancel() }
		return s
	})
	tc := &models.TestCase{ID: "tc_c", Title: "c", Steps: []string{"click #a", "click #b"}}

	result, err := newTestRunner(provider, "").Run(ctx, tc, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFail, result.Status)
	assert.Equal(t, models.ErrorKindCancelled, result.ErrorKind)
	assert.Equal(t, 1, result.FailedStep)
	assert.Empty(t, result.Screenshot)
	assert.Equal(t, int64(1), provider.Released())
}

func TestRun_ProvisionErrorIsReturned(t *testing.T) {
	provider := browsertest.NewProvider(nil)
	provider.AcquireErr = errors.New("chrome not found")

	_, err := newTestRunner(provider, "").Run(context.Background(), loginCase(), Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrBrowserUnavailable))
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	provider := browsertest.NewProvider(func() *browsertest.Session {
		s := browsertest.NewSession("#a")
		s.OnAction = func(*browsertest.Session, string, string, string) { panic("boom") }
		return s
	})
	tc := &models.TestCase{ID: "tc_p", Title: "p", Steps: []string{"click #a"}}

	result, err := newTestRunner(provider, "").Run(context.Background(), tc, Options{})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFail, result.Status)
	assert.Equal(t, models.ErrorKindBrowserError, result.ErrorKind)
	assert.Equal(t, "tc_p", result.TestCaseID)
	assert.Equal(t, int64(1), provider.Released(), "session released on panic")
}

func TestRun_NonBrowserCaseUsesSimulation(t *testing.T) {
	provider := browsertest.NewProvider(nil)
	tc := &models.TestCase{ID: "tc_sim", Title: "report", Steps: []string{"verify the totals add up", "wait 1 second"}}

	first, err := newTestRunner(provider, "").Run(context.Background(), tc, Options{})
	require.NoError(t, err)
	second, err := newTestRunner(provider, "").Run(context.Background(), tc, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.CaseStatusPass, first.Status)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Message, second.Message)
	assert.Equal(t, int64(0), provider.Acquired(), "no browser session for simulated cases")
}

func TestSimulationStrategy_NoSteps(t *testing.T) {
	result := SimulationStrategy{}.Run(context.Background(), &models.TestCase{ID: "tc_empty", Title: "empty"}, Options{})
	assert.Equal(t, models.CaseStatusFail, result.Status)
	assert.Equal(t, models.ErrorKindAssertionFailed, result.ErrorKind)
	assert.NotEmpty(t, result.Error)
	assert.NotEmpty(t, result.Logs)
}

func TestNeedsBrowser(t *testing.T) {
	assert.True(t, NeedsBrowser(loginCase()))
	assert.False(t, NeedsBrowser(&models.TestCase{Steps: []string{"check the invoice", "Login"}}))
	assert.False(t, NeedsBrowser(&models.TestCase{}))
}

func containsLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
