// Package main is the entry point for vidgate, an authenticated
// rate-limited gateway in front of a video extraction service.
package main

func main() {
	Execute()
}
