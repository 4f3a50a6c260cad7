package tts

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
)

// baseWordsPerMinute is the normal speaking rate of the local engines.
const baseWordsPerMinute = 175

// Command speaks through a local text to speech program such as espeak-ng or
// macOS say.
type Command struct {
	Path string
}

// Say implements LocalVoice. It returns once the program exits.
func (c Command) Say(ctx context.Context, text string, v Voice) error {
	cmd := exec.CommandContext(ctx, c.Path, commandArgs(c.Path, text, v)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("local voice %s: %w: %s", filepath.Base(c.Path), err, out)
	}
	return nil
}

func commandArgs(path, text string, v Voice) []string {
	speed := v.Speed
	if speed <= 0 {
		speed = 1
	}
	wpm := strconv.Itoa(int(math.Round(baseWordsPerMinute * speed)))

	switch filepath.Base(path) {
	case "espeak", "espeak-ng":
		args := []string{"-s", wpm}
		if v.Name != "" {
			args = append(args, "-v", v.Name)
		}
		return append(args, text)
	case "say":
		return []string{"-r", wpm, text}
	default:
		return []string{text}
	}
}
