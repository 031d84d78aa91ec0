// Package cachekey derives the deterministic identifier under which
// synthesized audio is stored in the audio cache.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Provider enumerates the closed set of upstream TTS providers. The set
// is closed (a sum type, not an open registry) because
// only Chatterbox carries the extra key fields and the cache key must
// mirror that shape exactly.
type Provider string

const (
	ProviderVibeVoice  Provider = "vibevoice"
	ProviderPiper      Provider = "piper"
	ProviderChatterbox Provider = "chatterbox"
)

// Valid reports whether p is one of the closed provider set.
func (p Provider) Valid() bool {
	switch p {
	case ProviderVibeVoice, ProviderPiper, ProviderChatterbox:
		return true
	}
	return false
}

// SampleRate returns the fixed sample rate for the provider.
func (p Provider) SampleRate() int {
	if p == ProviderPiper {
		return 22050
	}
	return 24000
}

// Key is the value type (equality by value) identifying one cached
// synthesis result. Two callers asking for the "same" audio in different
// words never collide; two callers asking for literally the same text,
// voice, provider and settings always do.
type Key struct {
	TextHash string
	VoiceID  string
	Provider Provider
	Speed    float64

	// Chatterbox-only fields. Forced to zero/unset for every other
	// provider regardless of what the caller passed in; see New.
	Exaggeration    float64
	HasExaggeration bool
	CfgWeight       float64
	HasCfgWeight    bool
	Language        string
}

// New builds a Key, normalizing and rounding inputs so that two
// semantically identical requests always produce the same hash. Rounding
// happens here, in the constructor, never left to the caller.
func New(text, voiceID string, provider Provider, speed float64, exaggeration, cfgWeight float64, hasExaggeration, hasCfgWeight bool, language string) Key {
	k := Key{
		TextHash: hashNormalizedText(text),
		VoiceID:  voiceID,
		Provider: provider,
		Speed:    round2(speed),
	}

	// Non-chatterbox providers must drop chatterbox-only fields from the
	// key regardless of caller input, otherwise different callers would
	// miss a shared cache entry.
	if provider == ProviderChatterbox {
		if hasExaggeration {
			k.Exaggeration = round2(exaggeration)
			k.HasExaggeration = true
		}
		if hasCfgWeight {
			k.CfgWeight = round2(cfgWeight)
			k.HasCfgWeight = true
		}
		k.Language = language
	}

	return k
}

// Hash returns the first 16 hex characters of SHA-256 over the key's
// canonical string form. This is the cache's filename identifier.
func (k Key) Hash() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%.2f", k.TextHash, k.VoiceID, k.Provider, k.Speed)
	if k.HasExaggeration {
		fmt.Fprintf(&b, "|%.2f", k.Exaggeration)
	}
	if k.HasCfgWeight {
		fmt.Fprintf(&b, "|%.2f", k.CfgWeight)
	}
	if k.Language != "" {
		fmt.Fprintf(&b, "|%s", k.Language)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// hashNormalizedText returns the first 16 hex chars of SHA-256 of the
// normalized text: stripped, NFC-normalized, whitespace runs collapsed,
// case preserved.
func hashNormalizedText(text string) string {
	norm := normalizeText(text)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:16]
}

// normalizeText strips leading/trailing whitespace and collapses internal
// whitespace runs to a single space. Case is preserved: "Hello" and
// "hello" are different cache entries.
func normalizeText(text string) string {
	nfc := norm.NFC.String(strings.TrimSpace(text))
	fields := strings.FieldsFunc(nfc, unicode.IsSpace)
	return strings.Join(fields, " ")
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
