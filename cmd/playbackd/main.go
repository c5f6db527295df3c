// Package main provides playbackd, a daemon that keeps embedded stream
// players alive inside a headless browser and exposes them over HTTP.
package main

func main() {
	Execute()
}
