// Package timefmt provides time formatting helpers for forecast source APIs.
// No other package in this module imports it.
package timefmt

import "time"

// FormatENTSOE formats a time.Time to the ENTSO-E API format YYYYMMDDHHmm.
func FormatENTSOE(t time.Time) string {
	return t.UTC().Format("200601021504")
}
