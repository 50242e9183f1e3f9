// Package tts turns script text into audio files under the media root.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrSynthesis = errors.New("tts: synthesis failed")

// Synthesizer renders text for a locale and returns the artifact path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, locale string) (string, error)
}

// Voice is one engine voice. Name is matched by SelectVoice.
type Voice struct {
	ID   string
	Name string
}

// Engine is a concrete speech backend.
type Engine interface {
	Voices(ctx context.Context) ([]Voice, error)
	// Render writes audio for text spoken by voice to path.
	Render(ctx context.Context, text string, voice Voice, path string) error
	Extension() string
}

// Service is the Synthesizer used by the worker. It is safe for concurrent use.
type Service struct {
	engine Engine
	root   string

	mu     sync.Mutex
	voices []Voice
}

func NewService(engine Engine, mediaRoot string) *Service {
	return &Service{engine: engine, root: mediaRoot}
}

func (s *Service) Synthesize(ctx context.Context, text, locale string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty text", ErrSynthesis)
	}
	name := FileName(locale, text, s.engine.Extension())
	path := filepath.Join(s.root, name)

	// Same locale and text always render the same audio.
	if fi, err := os.Stat(path); err == nil && fi.Size() > 0 {
		return path, nil
	}

	voices, err := s.loadVoices(ctx)
	if err != nil {
		return "", err
	}
	voice := SelectVoice(voices, locale)

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("%w: media root: %v", ErrSynthesis, err)
	}
	tmp, err := os.CreateTemp(s.root, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: temp file: %v", ErrSynthesis, err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.engine.Render(ctx, text, voice, tmpPath); err != nil {
		return "", fmt.Errorf("%w: render with voice %q: %v", ErrSynthesis, voice.Name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("%w: publish artifact: %v", ErrSynthesis, err)
	}
	return path, nil
}

func (s *Service) loadVoices(ctx context.Context) ([]Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.voices) > 0 {
		return s.voices, nil
	}
	voices, err := s.engine.Voices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list voices: %v", ErrSynthesis, err)
	}
	if len(voices) == 0 {
		return nil, fmt.Errorf("%w: engine has no voices", ErrSynthesis)
	}
	s.voices = voices
	return voices, nil
}

// SelectVoice picks the first voice unless an English voice matches the locale.
// Every English voice is considered in order for "us", "uk" and "britain" locales,
// so the last matching voice wins.
func SelectVoice(voices []Voice, locale string) Voice {
	if len(voices) == 0 {
		return Voice{}
	}
	loc := strings.ToLower(locale)
	selected := voices[0]
	for _, v := range voices {
		name := strings.ToLower(v.Name)
		if !strings.Contains(name, "english") {
			continue
		}
		if strings.Contains(loc, "us") || strings.Contains(loc, "uk") || strings.Contains(loc, "britain") {
			selected = v
		}
	}
	return selected
}

// FileName is response_<locale>_<hash>.<ext>, hash covering both locale and text.
func FileName(locale, text, ext string) string {
	sum := sha256.Sum256([]byte(locale + "\x00" + text))
	return fmt.Sprintf("response_%s_%s.%s", sanitizeLocale(locale), hex.EncodeToString(sum[:8]), ext)
}

func sanitizeLocale(locale string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(locale) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
