package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Theme names for the rendered page.
const (
	ThemeCuteAnime  = "cute_anime"
	ThemeFormalCode = "formal_code"
)

// contentWidth is the width of the content column in pixels.
const contentWidth = 550

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
)

// ToHTML converts Markdown to an HTML fragment with table and fenced code
// support.
func ToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// Document wraps an HTML fragment in a full themed page ready for
// screenshotting. Unknown themes fall back to the formal theme.
func Document(htmlBody, theme string, now time.Time) string {
	themeCSS := formalCodeCSS
	if theme == ThemeCuteAnime {
		themeCSS = cuteAnimeCSS
	}

	return fmt.Sprintf(pageTemplate, baseCSS, themeCSS, htmlBody, now.Format("2006-01-02"))
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        %s
        %s
    </style>
</head>
<body>
    <div class="container">
        %s
        <div class="footer">
            Telegram: @MioooooooooBot, Made by Mio &bull; %s
        </div>
    </div>
</body>
</html>
`

var baseCSS = fmt.Sprintf(`
    @import url('https://fonts.googleapis.com/css2?family=Noto+Emoji:wght@300..700&family=Noto+Sans+SC:wght@100..900&family=Noto+Sans+TC:wght@100..900&family=Open+Sans:ital,wght@0,300..800;1,300..800&display=swap');
    body { font-family: "Noto Sans TC", "Noto Sans SC", "Noto Emoji", sans-serif; padding: 40px; background-color: #f9f9f9; }
    .container { max-width: %dpx; margin: 0 auto; background-color: white; border-radius: 10px; box-shadow: 0 4px 8px rgba(0,0,0,0.1); padding: 30px; }
    .footer { text-align: right; font-size: 12px; color: #888; margin-top: 20px; }
    table { border-collapse: collapse; width: 100%%; }
    th, td { border: 1px solid #ddd; padding: 8px; }
    th { background-color: #f2f2f2; }
    pre { background-color: #f5f5f5; padding: 15px; border-radius: 5px; white-space: pre-wrap; word-wrap: break-word; }
    code { font-family: 'Courier New', Courier, monospace; }
    blockquote { border-left: 4px solid #ccc; padding-left: 15px; color: #666; }
`, contentWidth)

const cuteAnimeCSS = `
    body { background-color: #ffefff; }
    .container { background-color: #ffffff; border: 2px dashed #ffc0cb; }
    h1, h2, h3 { color: #e85c90; }
    pre { background-color: #fff0f5; border: 1px solid #ffc0cb; }
`

const formalCodeCSS = `
    body { background-color: #f0f2f5; }
    .container { border: 1px solid #e0e0e0; }
    h1, h2, h3 { color: #333; border-bottom: 1px solid #eee; padding-bottom: 5px; }
    code, pre { font-family: 'Fira Code', monospace, "Apple Color Emoji", "Segoe UI Emoji", "Segoe UI Symbol", "Noto Color Emoji"; }
    pre { background-color: #2d2d2d; color: #f8f8f2; border-radius: 5px; }
`
