// Package video detects YouTube and Bilibili links in chat messages and
// fetches them as 720p H.264 MP4 files through yt-dlp. Each fetch is a
// stateless one-shot with its own temp directory.
package video

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/jkaninda/mioo/internal/observability"
)

// Sites for detected links.
const (
	SiteYouTube  = "youtube"
	SiteBilibili = "bilibili"
)

var (
	youtubeRe = regexp.MustCompile(
		`(https?://)?(www\.)?` +
			`(youtube\.com/|youtu\.be/|youtube-nocookie\.com/)` +
			`(?:watch\?v=|embed/|v/|shorts/|live/)?` +
			`([a-zA-Z0-9_-]{11})`)

	bilibiliRe = regexp.MustCompile(
		`(https?://)?(?:www\.|m\.)?` +
			`(bilibili\.com/|b23\.tv/)` +
			`(?:video/|watch\?bvid=)?` +
			`([A-Za-z0-9_-]{6,12})` +
			`(?:[/?#][^\s]*)?`)
)

// DetectLink reports the first supported video URL in a message, if any.
func DetectLink(text string) (url, site string, ok bool) {
	if m := youtubeRe.FindString(text); m != "" {
		return m, SiteYouTube, true
	}
	if m := bilibiliRe.FindString(text); m != "" {
		return m, SiteBilibili, true
	}
	return "", "", false
}

// downloadFormat selects the best 720p H.264 stream plus best audio.
const downloadFormat = "bestvideo[height<=720][vcodec^=avc]+bestaudio/best[height<=720][vcodec^=avc]"

// Fetcher downloads videos through the yt-dlp binary.
type Fetcher struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFetcher creates a Fetcher. metrics may be nil.
func NewFetcher(binary string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		binary:  binary,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Title probes the video title without downloading. The result is sanitized
// into a safe filename fragment.
func (f *Fetcher) Title(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary, "--quiet", "--no-warnings", "--print", "title", url)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("probing video title: %w: %s", err, stderr.String())
	}

	title := SanitizeTitle(out.String())
	if title == "" {
		title = "video"
	}
	return title, nil
}

// Fetch downloads the video as a 720p H.264 MP4 to outPath, re-encoding
// audio to 128k AAC.
func (f *Fetcher) Fetch(ctx context.Context, url, site, outPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.binary,
		"--format", downloadFormat,
		"--merge-output-format", "mp4",
		"--postprocessor-args", "ffmpeg:-c:v copy -c:a aac -b:a 128k",
		"--output", outPath,
		url,
	)
	cmd.Stderr = &stderr
	err := cmd.Run()
	f.metrics.RecordVideoFetch(site, err == nil)
	if err != nil {
		return fmt.Errorf("downloading video: %w: %s", err, stderr.String())
	}

	f.logger.InfoContext(ctx, "video downloaded",
		slog.String("site", site),
		slog.String("output", outPath),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// SanitizeTitle keeps letters, digits, and spaces, then joins words with
// underscores so the title can be used in a filename.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '\t':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}
