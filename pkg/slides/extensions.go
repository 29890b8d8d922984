package slides

import (
	"path/filepath"
	"strings"
)

// allowedExtensions are the whole-slide-image formats the viewer serves.
var allowedExtensions = map[string]bool{
	"svs":     true,
	"tif":     true,
	"tiff":    true,
	"vms":     true,
	"vmu":     true,
	"ndpi":    true,
	"scn":     true,
	"mrxs":    true,
	"svslide": true,
	"bif":     true,
}

// contentTypes maps slide extensions to the Content-Type served by the
// range proxy. Unknown extensions fall back to application/octet-stream.
var contentTypes = map[string]string{
	"svs":  "image/tiff",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// viewableExtensions are formats a browser-side streaming TIFF reader can
// render directly without server-side conversion.
var viewableExtensions = map[string]bool{
	"svs":  true,
	"tif":  true,
	"tiff": true,
}

// ext returns the lowercase extension of a filename without the dot. A
// dotfile like ".svs" has no stem and therefore no extension.
func ext(filename string) string {
	e := filepath.Ext(filename)
	if e == filename {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(e), ".")
}

// AllowedFile reports whether the filename has a recognized slide extension.
func AllowedFile(filename string) bool {
	return allowedExtensions[ext(filename)]
}

// ViewableFile reports whether a browser-side streaming reader can render
// the file directly.
func ViewableFile(filename string) bool {
	return viewableExtensions[ext(filename)]
}

// ContentTypeFor returns the Content-Type for a slide filename.
func ContentTypeFor(filename string) string {
	if ct, ok := contentTypes[ext(filename)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// stem returns the filename without its extension, the slide's logical name.
func stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
