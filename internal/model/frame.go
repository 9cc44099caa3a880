// Package model defines the data structures shared by the server, the client
// and the playback engine.
package model

import (
	"regexp"
	"strings"
)

// SlotCount is the fixed number of slots every user owns (0..9).
const SlotCount = 10

var (
	framePattern = regexp.MustCompile(`(?i)^(\d+)\.(png|jpg|jpeg)$`)
	slotPattern  = regexp.MustCompile(`^[0-9]$`)
)

// Frame is one entry of a slot listing as returned by
// GET /api/expressions/{slot}.
type Frame struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// FrameName is a file name that satisfies the frame contract
// "<digits>.<png|jpg|jpeg>".
type FrameName struct {
	Key string // the digit prefix, as written
	Ext string // lowercased extension without the dot
}

// ParseFrameName checks name against the frame contract. The match is
// case-insensitive on the extension and anchored on both ends.
func ParseFrameName(name string) (FrameName, bool) {
	m := framePattern.FindStringSubmatch(name)
	if m == nil {
		return FrameName{}, false
	}
	return FrameName{Key: m[1], Ext: strings.ToLower(m[2])}, true
}

// Normalized is the name a frame is stored under: "<key>.<lowercase ext>".
func (f FrameName) Normalized() string {
	return f.Key + "." + f.Ext
}

// CompareKeys orders two digit strings by numeric value without parsing them
// into a fixed-width integer, so arbitrarily long keys still sort correctly.
// Keys with equal value ("7" and "007") compare equal.
func CompareKeys(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// ParseSlot accepts exactly one ASCII digit.
func ParseSlot(s string) (int, bool) {
	if !slotPattern.MatchString(s) {
		return 0, false
	}
	return int(s[0] - '0'), true
}

// ValidSlot reports whether n is within 0..SlotCount-1.
func ValidSlot(n int) bool {
	return n >= 0 && n < SlotCount
}
