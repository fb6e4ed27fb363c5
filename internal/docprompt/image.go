package docprompt

import "strings"

// defaultRenderMediaType is the media type of rendered PDF pages.
const defaultRenderMediaType = "image/png"

// asDataURL wraps raw base64 image data into an inline data URI. Input that
// is already a data URI passes through unchanged.
func asDataURL(base64Data string) string {
	if strings.HasPrefix(base64Data, "data:") {
		return base64Data
	}
	return "data:" + defaultRenderMediaType + ";base64," + base64Data
}

// IsDataURL reports whether url is an inline data URI rather than a remote
// reference.
func IsDataURL(url string) bool {
	return strings.HasPrefix(url, "data:")
}
