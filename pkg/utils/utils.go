// Package utils holds small formatting helpers shared by RFT's cmd/
// binaries. File hashing (SHA3-512) lives in internal/app's file send and
// receive state instead; this package no longer duplicates it.
package utils

import "fmt"

// HumanBytes returns a human-readable representation of a byte count.
func HumanBytes(n int64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
		TB
	)

	f := float64(n)
	switch {
	case f >= TB:
		return fmt.Sprintf("%.2fTB", f/TB)
	case f >= GB:
		return fmt.Sprintf("%.2fGB", f/GB)
	case f >= MB:
		return fmt.Sprintf("%.2fMB", f/MB)
	case f >= KB:
		return fmt.Sprintf("%.2fKB", f/KB)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
