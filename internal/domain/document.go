package domain

// MimeTypePDF identifies PDF documents, which carry their image content as
// a pre-rendered base64 page instead of a fetchable file URL.
const MimeTypePDF = "application/pdf"

// DocumentMetadata is caller-supplied bookkeeping metadata already attached
// to a document, passed to the model for verification.
type DocumentMetadata struct {
	Vendor string   `json:"vendor,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Notes  string   `json:"notes,omitempty"`
}

// DocumentAnalysisParams describes one document analysis invocation.
// Constructed once per analysis from caller-supplied document data and
// never mutated; the vision fallback rebuilds it via WithoutImage.
type DocumentAnalysisParams struct {
	DocumentID       string            `json:"document_id"`
	DocumentName     string            `json:"document_name"`
	FileURL          string            `json:"file_url"`
	MimeType         string            `json:"mime_type"`
	Metadata         *DocumentMetadata `json:"metadata,omitempty"`
	PDFImageBase64   string            `json:"pdf_image_base64,omitempty"`
	PDFExtractedText string            `json:"pdf_extracted_text,omitempty"`

	// TextOnly suppresses all image content, including the FileURL of
	// non-PDF documents. Set by WithoutImage for the vision fallback path.
	TextOnly bool `json:"-"`
}

// IsPDF reports whether the document is a PDF.
func (p DocumentAnalysisParams) IsPDF() bool {
	return p.MimeType == MimeTypePDF
}

// HasImage reports whether image content is available for the document.
// Non-PDF documents always count as having image content via FileURL.
func (p DocumentAnalysisParams) HasImage() bool {
	if p.TextOnly {
		return false
	}
	if p.IsPDF() {
		return p.PDFImageBase64 != ""
	}
	return true
}

// HasTextLayer reports whether extracted text is available.
func (p DocumentAnalysisParams) HasTextLayer() bool {
	return p.PDFExtractedText != ""
}

// HasAnyContent reports whether either image or text content is available.
func (p DocumentAnalysisParams) HasAnyContent() bool {
	return p.HasImage() || p.HasTextLayer()
}

// WithoutImage returns a copy with the rendered image discarded, used for
// the text-only retry after a vision failure.
func (p DocumentAnalysisParams) WithoutImage() DocumentAnalysisParams {
	p.PDFImageBase64 = ""
	p.TextOnly = true
	return p
}
