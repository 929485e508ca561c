package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
)

// Pool owns a fixed set of Chrome processes and hands out one fresh tab per case.
// Processes are started lazily on the first Acquire so the service can run
// without Chrome until a browser case is actually executed.
type Pool struct {
	config common.BrowserConfig
	logger arbor.ILogger

	mu               sync.Mutex
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	currentIndex     int
	initialized      bool

	activeTabs atomic.Int64
	totalTabs  atomic.Int64
}

// NewPool creates a browser pool; no process is started until Init or Acquire
func NewPool(config common.BrowserConfig, logger arbor.ILogger) *Pool {
	return &Pool{
		config: config,
		logger: logger,
	}
}

// Init starts the configured number of browser processes.
// It succeeds if at least one process passes its startup test.
func (p *Pool) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initLocked()
}

func (p *Pool) initLocked() error {
	if p.initialized {
		return nil
	}

	size := p.config.PoolSize
	if size <= 0 {
		return fmt.Errorf("%w: pool_size must be greater than 0, got: %d", interfaces.ErrBrowserUnavailable, size)
	}
	if size > 20 {
		p.logger.Warn().
			Int("pool_size", size).
			Msg("Large browser pool size detected - this may consume significant memory")
	}

	p.browsers = make([]context.Context, 0, size)
	p.browserCancels = make([]context.CancelFunc, 0, size)
	p.allocatorCancels = make([]context.CancelFunc, 0, size)
	p.currentIndex = 0

	p.logger.Info().
		Int("pool_size", size).
		Bool("headless", p.config.Headless).
		Msg("Starting browser pool")

	var lastErr error
	for i := 0; i < size; i++ {
		if err := p.startBrowser(i); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to start browser process")
		}
	}

	if len(p.browsers) == 0 {
		p.cleanupInstances()
		return fmt.Errorf("%w: no browser process could be started: %v", interfaces.ErrBrowserUnavailable, lastErr)
	}
	if len(p.browsers) < size {
		p.logger.Warn().
			Int("requested", size).
			Int("started", len(p.browsers)).
			Msg("Started fewer browser processes than requested")
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_started", len(p.browsers)).
		Msg("Browser pool ready")
	return nil
}

// startBrowser launches one Chrome process and checks it responds
func (p *Pool) startBrowser(index int) error {
	startTime := time.Now()

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.config.Headless),
		chromedp.Flag("disable-gpu", p.config.DisableGPU),
		chromedp.Flag("no-sandbox", p.config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.WindowSize(p.config.WindowWidth, p.config.WindowHeight),
	)
	if p.config.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(p.config.UserAgent))
	}

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	startupTimeout := p.config.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	var title string
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank"), chromedp.Title(&title)); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser process started")
	return nil
}

// Acquire opens a new tab on the next browser (round-robin) and wraps it in a Session.
// The returned release closes the tab and must be called exactly once.
func (p *Pool) Acquire(ctx context.Context) (interfaces.BrowserSession, func(), error) {
	p.mu.Lock()
	if err := p.initLocked(); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)
	browserCtx := p.browsers[index]
	p.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)

	openCtx, openCancel := context.WithTimeout(tabCtx, p.startupTimeout())
	stop := context.AfterFunc(ctx, openCancel)
	err := chromedp.Run(openCtx, chromedp.EmulateViewport(int64(p.config.WindowWidth), int64(p.config.WindowHeight)))
	stop()
	openCancel()
	if err != nil {
		tabCancel()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: failed to open tab: %v", interfaces.ErrBrowserUnavailable, err)
	}

	p.activeTabs.Add(1)
	p.totalTabs.Add(1)
	p.logger.Debug().
		Int("browser_index", index).
		Int64("active_tabs", p.activeTabs.Load()).
		Msg("Browser tab opened")

	var once sync.Once
	release := func() {
		once.Do(func() {
			tabCancel()
			p.activeTabs.Add(-1)
			p.logger.Debug().
				Int("browser_index", index).
				Msg("Browser tab closed")
		})
	}

	return newSession(tabCtx), release, nil
}

func (p *Pool) startupTimeout() time.Duration {
	if p.config.StartupTimeout > 0 {
		return p.config.StartupTimeout
	}
	return 30 * time.Second
}

// Shutdown closes every tab and browser process
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		p.logger.Debug().Msg("Browser pool already shut down or never started")
		return nil
	}

	startTime := time.Now()
	browserCount := len(p.browsers)

	done := make(chan struct{})
	go func() {
		p.cleanupInstances()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().
			Int("browser_count", browserCount).
			Msg("Browser pool shutdown timed out")
	}

	p.initialized = false
	p.logger.Info().
		Int("browsers_shutdown", browserCount).
		Dur("shutdown_time", time.Since(startTime)).
		Msg("Browser pool shut down")
	return nil
}

// cleanupInstances cancels all browser and allocator contexts (mutex held)
func (p *Pool) cleanupInstances() {
	for _, cancel := range p.browserCancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
}

// Stats returns pool counters for the health endpoint
func (p *Pool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return map[string]interface{}{
		"pool_size":   p.config.PoolSize,
		"browsers":    len(p.browsers),
		"initialized": p.initialized,
		"active_tabs": p.activeTabs.Load(),
		"total_tabs":  p.totalTabs.Load(),
	}
}

// IsInitialized returns whether the browser processes are running
func (p *Pool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}
