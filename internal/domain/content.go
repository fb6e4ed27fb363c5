package domain

import "encoding/json"

// ContentType represents the type of content in a message part.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImageURL ContentType = "image_url"
)

// ContentPart is a single part of message content. Order within a message
// is meaningful: instruction text precedes the image it refers to.
type ContentPart struct {
	Type ContentType `json:"type"`

	// For text content
	Text string `json:"text,omitempty"`

	// For image_url content. The URL may be a remote http(s) URL or an
	// inline base64 data URI.
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is a URL reference to an image.
type ImageURL struct {
	URL string `json:"url"`
}

// MessageContent is either a simple string or an ordered list of
// ContentParts. Plain text messages marshal as a bare JSON string for
// compatibility with the completion API.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// IsSimpleText returns true if the content is just plain text.
func (mc *MessageContent) IsSimpleText() bool {
	return len(mc.Parts) == 0
}

// String returns the text content, concatenating all text parts if multipart.
func (mc *MessageContent) String() string {
	if mc.IsSimpleText() {
		return mc.Text
	}
	var result string
	for _, part := range mc.Parts {
		if part.Type == ContentTypeText {
			result += part.Text
		}
	}
	return result
}

// MarshalJSON implements json.Marshaler.
func (mc MessageContent) MarshalJSON() ([]byte, error) {
	if mc.IsSimpleText() {
		return json.Marshal(mc.Text)
	}
	return json.Marshal(mc.Parts)
}

// UnmarshalJSON implements json.Unmarshaler.
func (mc *MessageContent) UnmarshalJSON(data []byte) error {
	// Try string first
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		mc.Text = str
		mc.Parts = nil
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	mc.Parts = parts
	mc.Text = ""
	return nil
}

// NewTextContent creates simple text content.
func NewTextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// NewMultipartContent creates multipart content from parts.
func NewMultipartContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentTypeText, Text: text}
}

// ImageURLPart creates an image content part from a URL or data URI.
func ImageURLPart(url string) ContentPart {
	return ContentPart{
		Type:     ContentTypeImageURL,
		ImageURL: &ImageURL{URL: url},
	}
}
