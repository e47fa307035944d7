// Package progress draws the live completed/total indicator for a crawl. The
// total keeps growing while listings are still being enumerated. On a
// terminal it renders a go-pretty progress bar on stderr; elsewhere it falls
// back to periodic log lines.
package progress
