package cmd

import (
	"embed"
	"strings"
)

//go:embed web/viewer.html web/styles.css web/script.js
var webAssets embed.FS

// viewerHTML is the viewer page with its stylesheet and script inlined
var viewerHTML = inlineViewerHTML()

func inlineViewerHTML() string {
	html, err := webAssets.ReadFile("web/viewer.html")
	if err != nil {
		return fallbackHTML
	}
	css, err := webAssets.ReadFile("web/styles.css")
	if err != nil {
		return fallbackHTML
	}
	js, err := webAssets.ReadFile("web/script.js")
	if err != nil {
		return fallbackHTML
	}

	page := strings.Replace(string(html), `    <link rel="stylesheet" href="styles.css">`,
		"    <style>\n"+string(css)+"\n    </style>", 1)
	page = strings.Replace(page, `    <script src="script.js"></script>`,
		"    <script>\n"+string(js)+"\n    </script>", 1)
	return page
}

const fallbackHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>EPİAŞ Extractor - Viewer</title></head>
<body>
    <h1>Viewer unavailable</h1>
    <p>The embedded web assets could not be loaded.</p>
</body>
</html>`
