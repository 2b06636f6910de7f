package serialmux

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotSentence = errors.New("not an NMEA sentence")
	ErrBadChecksum = errors.New("NMEA checksum mismatch")
)

// Sentence types the capture pipeline consumes.
const (
	SentenceGGA     = "GGA"
	SentenceRMC     = "RMC"
	SentenceUnknown = "unknown"
)

// Checksum returns the NMEA XOR checksum of a sentence body (the text between
// '$' and '*') as two upper-case hex digits.
func Checksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("%02X", sum)
}

// VerifySentence checks that line is framed as "$body*hh" (or "!body*hh")
// and that hh matches the body. Receivers emit partial lines when the port
// is opened mid-sentence; those fail here.
func VerifySentence(line string) error {
	if len(line) < 2 || (line[0] != '$' && line[0] != '!') {
		return ErrNotSentence
	}
	body, sum, ok := strings.Cut(line[1:], "*")
	if !ok || len(sum) != 2 || body == "" {
		return ErrNotSentence
	}
	if want := Checksum(body); !strings.EqualFold(sum, want) {
		return fmt.Errorf("%w: got %s, want %s", ErrBadChecksum, sum, want)
	}
	return nil
}

// FormatSentence wraps a body as a complete NMEA sentence with checksum.
func FormatSentence(body string) string {
	return "$" + body + "*" + Checksum(body)
}

// DefaultInitCommands select GGA and RMC output at 1 Hz on MediaTek-based
// receivers. Other chipsets ignore unknown proprietary sentences.
func DefaultInitCommands() []string {
	return []string{
		FormatSentence("PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0"),
		FormatSentence("PMTK220,1000"),
	}
}

// ClassifySentence returns the talker-independent sentence type of a line:
// "$GPGGA,..." and "$GNGGA,..." both classify as SentenceGGA.
func ClassifySentence(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") && !strings.HasPrefix(line, "!") {
		return SentenceUnknown
	}
	head, _, _ := strings.Cut(line[1:], ",")
	if len(head) < 5 || strings.HasPrefix(head, "P") {
		return SentenceUnknown
	}
	switch head[2:] {
	case SentenceGGA:
		return SentenceGGA
	case SentenceRMC:
		return SentenceRMC
	}
	return SentenceUnknown
}
