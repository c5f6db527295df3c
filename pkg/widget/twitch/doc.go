// Package twitch implements widget.Endpoint with the Twitch embed runtime
// running in Chromium through Playwright.
//
// # Architecture
//
//  1. LoadScript installs and starts Playwright, launches one Chromium and
//     downloads the embed runtime.
//  2. NewPlayer opens a browser context and page per player. The page is
//     served from a routed http://<host>/players/<container> URL so the
//     widget sees the configured parent origin, then the runtime is
//     injected and the widget constructed in it.
//  3. Widget events and the page's online/offline events are forwarded
//     through an exposed binding and delivered to subscribers in order.
//  4. Destroy tears the widget down and closes its page and context.
//
// # Example Usage
//
//	ep := twitch.New(twitch.DefaultOptions(), logger)
//	defer ep.Close()
//
//	c, err := playback.New(playback.DefaultOptions(), ep, logger, nil)
package twitch
