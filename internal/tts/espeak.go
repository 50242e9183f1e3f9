package tts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-audio/wav"
)

// Espeak drives the espeak-ng command line synthesizer.
type Espeak struct {
	Bin string

	// command builds the process; tests swap it out.
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewEspeak(bin string) *Espeak {
	if bin == "" {
		bin = "espeak-ng"
	}
	return &Espeak{Bin: bin, command: exec.CommandContext}
}

func (e *Espeak) Extension() string { return "wav" }

func (e *Espeak) Voices(ctx context.Context) ([]Voice, error) {
	var out bytes.Buffer
	cmd := e.command(ctx, e.Bin, "--voices")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s --voices: %w", e.Bin, err)
	}
	return parseEspeakVoices(&out), nil
}

// parseEspeakVoices reads the `--voices` table:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-us           --/M      English_(America)  gmw/en-US            (en 10)
func parseEspeakVoices(r *bytes.Buffer) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(r)
	header := true
	for sc.Scan() {
		if header {
			header = false
			continue
		}
		f := strings.Fields(sc.Text())
		if len(f) < 5 {
			continue
		}
		voices = append(voices, Voice{ID: f[4], Name: strings.ReplaceAll(f[3], "_", " ")})
	}
	return voices
}

func (e *Espeak) Render(ctx context.Context, text string, voice Voice, path string) error {
	args := []string{"-w", path, "--stdin"}
	if voice.ID != "" {
		args = append([]string{"-v", voice.ID}, args...)
	}
	var stderr bytes.Buffer
	cmd := e.command(ctx, e.Bin, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", e.Bin, err, strings.TrimSpace(stderr.String()))
	}
	return checkWAV(path)
}

// checkWAV rejects empty or truncated output; espeak exits 0 on some voice errors.
func checkWAV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if !wav.NewDecoder(f).IsValidFile() {
		return fmt.Errorf("%s is not a valid wav file", path)
	}
	return nil
}
