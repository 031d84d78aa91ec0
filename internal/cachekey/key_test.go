package cachekey

import "testing"

func TestNewDeterministic(t *testing.T) {
	k1 := New("Hello, world.", "nova", ProviderVibeVoice, 1.0, 0, 0, false, false, "")
	k2 := New("Hello, world.", "nova", ProviderVibeVoice, 1.0, 0, 0, false, false, "")
	if k1.Hash() != k2.Hash() {
		t.Fatalf("expected identical hashes, got %s != %s", k1.Hash(), k2.Hash())
	}
	if len(k1.Hash()) != 16 {
		t.Fatalf("expected 16 hex chars, got %d", len(k1.Hash()))
	}
}

func TestProviderChangesHash(t *testing.T) {
	k1 := New("Hello, world.", "nova", ProviderVibeVoice, 1.0, 0, 0, false, false, "")
	k2 := New("Hello, world.", "nova", ProviderPiper, 1.0, 0, 0, false, false, "")
	if k1.Hash() == k2.Hash() {
		t.Fatal("expected different hashes across providers")
	}
}

func TestNonChatterboxFieldsDropped(t *testing.T) {
	withExtra := New("text", "v", ProviderVibeVoice, 1.0, 0.5, 0.5, true, true, "en")
	withoutExtra := New("text", "v", ProviderVibeVoice, 1.0, 0, 0, false, false, "")
	if withExtra.Hash() != withoutExtra.Hash() {
		t.Fatal("non-chatterbox providers must ignore chatterbox-only fields")
	}
}

func TestChatterboxFieldsAffectHash(t *testing.T) {
	a := New("text", "v", ProviderChatterbox, 1.0, 0.5, 0.5, true, true, "en")
	b := New("text", "v", ProviderChatterbox, 1.0, 0.6, 0.5, true, true, "en")
	if a.Hash() == b.Hash() {
		t.Fatal("expected exaggeration to affect chatterbox hash")
	}
}

func TestTextNormalizationCaseSensitive(t *testing.T) {
	a := New("Hello   World", "v", ProviderPiper, 1.0, 0, 0, false, false, "")
	b := New("Hello World", "v", ProviderPiper, 1.0, 0, 0, false, false, "")
	if a.Hash() != b.Hash() {
		t.Fatal("expected collapsed whitespace to normalize identically")
	}
	c := New("hello world", "v", ProviderPiper, 1.0, 0, 0, false, false, "")
	if a.Hash() == c.Hash() {
		t.Fatal("expected case to be preserved (different hash)")
	}
}

func TestSpeedRounding(t *testing.T) {
	a := New("t", "v", ProviderPiper, 1.001, 0, 0, false, false, "")
	b := New("t", "v", ProviderPiper, 1.004, 0, 0, false, false, "")
	if a.Hash() != b.Hash() {
		t.Fatal("expected speed to round to 2 decimals before hashing")
	}
}

func TestSampleRate(t *testing.T) {
	if ProviderPiper.SampleRate() != 22050 {
		t.Fatal("piper sample rate should be 22050")
	}
	if ProviderVibeVoice.SampleRate() != 24000 {
		t.Fatal("vibevoice sample rate should be 24000")
	}
	if ProviderChatterbox.SampleRate() != 24000 {
		t.Fatal("chatterbox sample rate should be 24000")
	}
}
