package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/browzerlabs/browzer-engine/internal/config"
)

// flag is a single Chrome command-line switch, name without the leading dashes.
type flag struct {
	name  string
	value interface{}
}

// allocatorFlags computes the Chrome switches for a browser configuration.
func allocatorFlags(cfg config.BrowserConfig) []flag {
	flags := []flag{
		{"no-sandbox", true},
		{"disable-gpu", true},
		{"disable-dev-shm-usage", true},
		{"enable-automation", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
	}
	if cfg.Headless {
		flags = append(flags, flag{"headless", true}, flag{"hide-scrollbars", true}, flag{"mute-audio", true})
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			flags = append(flags, flag{key, value})
		} else {
			flags = append(flags, flag{arg, true})
		}
	}
	return flags
}

// DefaultAllocatorOptions converts the browser configuration into chromedp
// exec allocator options.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := allocatorFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags)+3)
	for _, f := range flags {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	return opts
}
