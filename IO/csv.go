package IO

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Transcript is one output row.
type Transcript struct {
	Audio string // file id, see FileID
	Text  string
}

// WriteTranscripts writes rows as CSV with an audio,transcript header,
// sorted by audio id.
func WriteTranscripts(w io.Writer, rows []Transcript) error {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Transcript) int {
		return strings.Compare(a.Audio, b.Audio)
	})
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"audio", "transcript"}); err != nil {
		return err
	}
	for _, r := range sorted {
		if err := cw.Write([]string{r.Audio, r.Text}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTranscriptsFile writes the CSV to path, creating parent directories.
func WriteTranscriptsFile(path string, rows []Transcript) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return WriteTranscripts(f, rows)
}

// Record is one labeled utterance from a manifest.
type Record struct {
	Audio string // path, relative paths resolved against the manifest dir
	Text  string
}

// ReadManifest reads a CSV with an audio,text header.
func ReadManifest(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	audioCol, textCol := slices.Index(header, "audio"), slices.Index(header, "text")
	if audioCol < 0 || textCol < 0 {
		return nil, fmt.Errorf("manifest %s: header must contain audio and text, got %v", path, header)
	}

	base := filepath.Dir(path)
	var out []Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}
		audio := row[audioCol]
		if !filepath.IsAbs(audio) {
			audio = filepath.Join(base, audio)
		}
		out = append(out, Record{Audio: audio, Text: row[textCol]})
	}
	return out, nil
}
