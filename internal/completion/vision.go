package completion

import "strings"

// visionFailureIndicators are substrings of upstream error text that point
// at the image or document content being unusable, as opposed to a generic
// API failure. The upstream API returns no structured error codes for these,
// so string matching is the only classification available. Keep the matching
// behind IsVisionFailure so it can be replaced wholesale if structured codes
// appear.
var visionFailureIndicators = []string{
	"invalid image",
	"invalid url",
	"unable to fetch",
	"could not fetch",
	"image url",
	"unsupported image",
	"image processing",
	"failed to load",
	"fetch image",
	"image format",
}

// IsVisionFailure reports whether the error message text indicates the
// image/document content was unusable by a vision-capable model.
func IsVisionFailure(message string) bool {
	lower := strings.ToLower(message)
	for _, indicator := range visionFailureIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
