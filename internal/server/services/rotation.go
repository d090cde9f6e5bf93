package services

import "time"

// ShouldRotate reports whether now has entered the renewal window that ends
// at expiresAt. Exact equality with the window start does not rotate.
func ShouldRotate(expiresAt, now time.Time, renewalWindow time.Duration) bool {
	return now.After(expiresAt.Add(-renewalWindow))
}
