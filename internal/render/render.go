// Package render turns Markdown into shareable JPEG images: Markdown to HTML
// through goldmark, HTML to PNG through a headless browser, PNG to JPEG
// through stdlib image re-encoding. Every job is a stateless one-shot.
package render

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jkaninda/mioo/internal/observability"
)

// jpegQuality matches the aggressive compression the images ship with;
// screenshots are text-heavy and survive it well.
const jpegQuality = 40

// Renderer produces JPEG images from Markdown input.
type Renderer struct {
	chromium string
	timeout  time.Duration
	theme    string
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewRenderer creates a renderer using the given headless browser binary.
// metrics may be nil.
func NewRenderer(chromium string, timeout time.Duration, defaultTheme string, logger *slog.Logger, metrics *observability.Metrics) *Renderer {
	if defaultTheme == "" {
		defaultTheme = ThemeCuteAnime
	}
	return &Renderer{
		chromium: chromium,
		timeout:  timeout,
		theme:    defaultTheme,
		logger:   logger,
		metrics:  metrics,
	}
}

// RenderMarkdown renders a Markdown document to a JPEG at outPath.
func (r *Renderer) RenderMarkdown(ctx context.Context, md, theme, outPath string) error {
	if theme == "" {
		theme = r.theme
	}

	err := r.render(ctx, md, theme, outPath)
	r.metrics.RecordRenderJob("markdown", err == nil)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "markdown rendered",
		slog.String("theme", theme),
		slog.String("output", outPath),
	)
	return nil
}

func (r *Renderer) render(ctx context.Context, md, theme, outPath string) error {
	body, err := ToHTML(md)
	if err != nil {
		return err
	}
	page := Document(body, theme, time.Now())

	workDir, err := os.MkdirTemp("", "mioo-render-*")
	if err != nil {
		return fmt.Errorf("creating render workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	htmlPath := filepath.Join(workDir, "page.html")
	if err := os.WriteFile(htmlPath, []byte(page), 0o600); err != nil {
		return fmt.Errorf("writing page: %w", err)
	}

	pngPath := filepath.Join(workDir, "page.png")
	if err := r.screenshot(ctx, htmlPath, pngPath); err != nil {
		return err
	}

	return reencodeJPEG(pngPath, outPath)
}

// screenshot drives the headless browser to capture the page as a PNG.
func (r *Renderer) screenshot(ctx context.Context, htmlPath, pngPath string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// width + body padding on both sides.
	windowWidth := contentWidth + 80

	cmd := exec.CommandContext(ctx, r.chromium,
		"--headless",
		"--disable-gpu",
		"--no-sandbox",
		"--hide-scrollbars",
		"--force-device-scale-factor=2",
		fmt.Sprintf("--window-size=%d,1080", windowWidth),
		"--screenshot="+pngPath,
		"file://"+htmlPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("browser screenshot failed: %w: %s", err, out)
	}
	if _, err := os.Stat(pngPath); err != nil {
		return fmt.Errorf("browser produced no screenshot: %w", err)
	}
	return nil
}

// reencodeJPEG converts the browser's PNG output to a compressed JPEG.
func reencodeJPEG(pngPath, outPath string) error {
	in, err := os.Open(pngPath)
	if err != nil {
		return fmt.Errorf("opening screenshot: %w", err)
	}
	defer in.Close()

	img, err := png.Decode(in)
	if err != nil {
		return fmt.Errorf("decoding screenshot: %w", err)
	}

	return writeJPEG(img, outPath)
}

func writeJPEG(img image.Image, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating output image: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return fmt.Errorf("encoding jpeg: %w", err)
	}
	return out.Close()
}
