// Package util provides utility functions for the Amparo application.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these IDs are identifiers, not secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateCaregiverID generates a unique caregiver ID with "c_" prefix.
func GenerateCaregiverID() string {
	return GenerateRandomID("c_", 32)
}

// GenerateDependentID generates a unique dependent ID with "d_" prefix.
func GenerateDependentID() string {
	return GenerateRandomID("d_", 32)
}
