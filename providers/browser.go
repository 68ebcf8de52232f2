package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"property-collector/utils"
)

// ErrNoPageData is returned when a rendered page carries no embedded state.
var ErrNoPageData = errors.New("page has no embedded data")

// PageRenderer loads a URL in a browser and returns the page's embedded
// __NEXT_DATA__ JSON document.
type PageRenderer interface {
	RenderNextData(ctx context.Context, pageURL string) (string, error)
}

// ChromeRenderer renders pages with a shared headless Chrome allocator.
type ChromeRenderer struct {
	logger   *utils.Logger
	settle   time.Duration
	timeout  time.Duration
	execPath string

	once        sync.Once
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

// NewChromeRenderer uses execPath, or locates a browser binary when it is
// empty. The browser itself starts on first use.
func NewChromeRenderer(execPath string, logger *utils.Logger) *ChromeRenderer {
	bin := execPath
	if bin == "" {
		bin = findChromeBinary()
	}
	logger.Info("[browser] Using browser binary", "path", bin)
	return &ChromeRenderer{
		logger:   logger,
		settle:   3 * time.Second,
		timeout:  90 * time.Second,
		execPath: bin,
	}
}

func (r *ChromeRenderer) start() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if r.execPath != "" {
		opts = append(opts, chromedp.ExecPath(r.execPath))
	}
	r.allocCtx, r.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
}

// RenderNextData navigates to pageURL in a fresh tab.
func (r *ChromeRenderer) RenderNextData(ctx context.Context, pageURL string) (string, error) {
	r.once.Do(r.start)

	tabCtx, cancelTab := chromedp.NewContext(r.allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	// the tab must also die when the caller gives up
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()

	var data string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(r.settle),
		chromedp.Evaluate(`(function() {
			var el = document.getElementById('__NEXT_DATA__');
			return el ? el.textContent : '';
		})()`, &data),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	if data == "" {
		return "", ErrNoPageData
	}
	return data, nil
}

// Close shuts the browser down.
func (r *ChromeRenderer) Close() {
	if r.cancelAlloc != nil {
		r.cancelAlloc()
	}
}

func findChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
