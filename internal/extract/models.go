package extract

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"tunegrab/internal/entity"
	"tunegrab/internal/subtitle"
	"tunegrab/pkg/calc"
	"tunegrab/pkg/shellquote"

	"github.com/lrstanley/go-ytdlp"
)

var (
	maxJSONSize = 10 * 1024 * 1024 // 10 MiB scanner buffer
	bufSize     = 4096             // 4 KiB buffer size
)

// secretFlags never reach the logs with their values.
var secretFlags = []string{"--proxy", "--cookies"}

// Result wraps ytdlp.Result for custom logging.
type Result struct {
	*ytdlp.Result
}

// LogValue implements the slog.LogValuer interface for custom logging of Result.
func (r Result) LogValue() slog.Value {
	if r.Result == nil {
		return slog.GroupValue(slog.String("error", "nil result"))
	}

	var outputLogs strings.Builder
	for _, line := range r.OutputLogs {
		fmt.Fprintf(&outputLogs, "%v\n", line)
	}

	return slog.GroupValue(
		slog.String("command", shellquote.JoinMasked(r.Executable, r.Args, secretFlags...)),
		slog.Int("stdout_bytes", len(r.Stdout)),
		slog.String("stderr", r.Stderr),
		slog.String("output_logs", outputLogs.String()),
	)
}

// ProgressUpdate wraps ytdlp.ProgressUpdate for custom logging.
type ProgressUpdate struct {
	*ytdlp.ProgressUpdate
}

// LogValue implements the slog.LogValuer interface for custom logging of ProgressUpdate.
func (p ProgressUpdate) LogValue() slog.Value {
	if p.ProgressUpdate == nil {
		return slog.GroupValue(slog.String("error", "nil progress update"))
	}

	return slog.GroupValue(
		slog.String("filename", p.Filename),
		slog.String("status", fmt.Sprintf("%v", p.Status)),
		slog.Int("downloaded_bytes", p.DownloadedBytes),
		slog.Int("total_bytes", p.TotalBytes),
		slog.Int("fragment_index", p.FragmentIndex),
		slog.Int("fragment_count", p.FragmentCount),
		slog.Int("progress", calc.Progress(p.DownloadedBytes, p.TotalBytes)),
		slog.String("eta", calc.ETA(p.DownloadedBytes, p.TotalBytes, p.Started).String()),
	)
}

// ProbeJSON is the subset of the engine's --print-json output the orchestrator reads.
type ProbeJSON struct {
	ID                string                `json:"id"`
	Title             string                `json:"title"`
	Fulltitle         string                `json:"fulltitle"`
	Language          string                `json:"language"`
	Duration          float64               `json:"duration"`
	Subtitles         map[string][]SubTrack `json:"subtitles"`
	AutomaticCaptions map[string][]SubTrack `json:"automatic_captions"`
	Formats           []FormatJSON          `json:"formats"`
}

// SubTrack is one rendition of a subtitle track.
type SubTrack struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// FormatJSON is one entry of the engine's format list.
type FormatJSON struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Protocol       string  `json:"protocol"`
	Acodec         string  `json:"acodec"`
	Vcodec         string  `json:"vcodec"`
	Abr            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	FormatNote     string  `json:"format_note"`
}

// AudioOnly reports whether the format carries no video.
func (f FormatJSON) AudioOnly() bool {
	return f.Vcodec == "none" && f.Acodec != "" && f.Acodec != "none"
}

// Size returns the exact size when known, the approximation otherwise.
func (f FormatJSON) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}

	return f.FilesizeApprox
}

// Metadata converts the probe output to the orchestrator's view of a video.
func (p ProbeJSON) Metadata() *entity.VideoMetadata {
	title := p.Title
	if title == "" {
		title = p.Fulltitle
	}

	manual := sortedKeys(p.Subtitles, "live_chat")
	auto := sortedKeys(p.AutomaticCaptions)

	_, hasOrigAuto := subtitle.OriginalAutoTrack(p.Language, auto)

	return &entity.VideoMetadata{
		ID:                       p.ID,
		Title:                    title,
		OriginalLanguage:         p.Language,
		ManualLanguages:          manual,
		AutoLanguages:            auto,
		HasManualSubtitles:       len(manual) > 0,
		HasOriginalAutoSubtitles: hasOrigAuto,
	}
}

// ParseProbe returns the first JSON object found in the engine's stdout.
// Non-JSON lines (warnings, progress) are skipped.
func ParseProbe(stdout string) (*ProbeJSON, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, bufSize), maxJSONSize)
	scanner.Split(splitLinesAny)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var probe ProbeJSON
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}

		return &probe, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan stdout: %w", err)
	}

	return nil, fmt.Errorf("no JSON object in %d bytes of stdout", len(stdout))
}

// splitLinesAny is a bufio.SplitFunc that treats \n, \r\n and a lone \r as line ends.
// The engine redraws progress lines with \r.
func splitLinesAny(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}

				return i + 1, data[:i], nil
			}

			if !atEOF {
				// need one more byte to tell \r from \r\n
				return 0, nil, nil
			}
		}

		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

func sortedKeys(m map[string][]SubTrack, skip ...string) []string {
	keys := make([]string, 0, len(m))

	for k, tracks := range m {
		if len(tracks) == 0 || slices.Contains(skip, k) {
			continue
		}

		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}
