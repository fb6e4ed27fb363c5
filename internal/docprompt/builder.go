// Package docprompt deterministically builds the extraction prompt and the
// multi-part message sequence for document analysis. Identical params always
// yield byte-identical output; there is no randomness or clock dependency.
package docprompt

import (
	"fmt"
	"strings"

	"github.com/expensio/assistant/internal/domain"
)

const systemPrompt = "You are an expert bookkeeping assistant for small businesses. " +
	"You analyze invoices, receipts and other business documents, extract structured " +
	"data from them, and give concise, practical accounting guidance."

const instructionBlock = `Analyze this business document and report the following, where present:
- Amounts: total, subtotal and tax
- Dates: invoice date, due date
- Vendor or issuer name
- Invoice or reference number
- Payment terms
- Line items
- A suggested bookkeeping category
- Whether the expense looks tax-deductible, with brief reasoning
- Any anomalies or inconsistencies worth flagging
`

// Prompt composes the natural-language instruction prompt for the document.
// Sections are included only when the derived content booleans apply, in a
// fixed order.
func Prompt(p domain.DocumentAnalysisParams) string {
	var b strings.Builder

	if p.HasTextLayer() {
		fmt.Fprintf(&b, "The following text was extracted from %q:\n\n%s\n\n", p.DocumentName, p.PDFExtractedText)
	}

	if p.IsPDF() && p.HasImage() {
		b.WriteString("The PDF is also provided as a rendered image of its first page.\n\n")
	}

	if !p.HasAnyContent() {
		b.WriteString("Neither text nor image content could be extracted from this document. " +
			"Base the analysis on the metadata listed below only.\n\n")
	}

	b.WriteString(instructionBlock)

	if p.HasImage() {
		b.WriteString("\nRely only on content visible in the provided document. Do not invent values that are not present.\n")
	}

	writeMetadata(&b, p.Metadata)

	return b.String()
}

func writeMetadata(b *strings.Builder, md *domain.DocumentMetadata) {
	if md == nil {
		return
	}

	var lines []string
	if md.Vendor != "" {
		lines = append(lines, "- Vendor: "+md.Vendor)
	}
	if md.Amount != nil {
		lines = append(lines, fmt.Sprintf("- Amount: %.2f", *md.Amount))
	}
	if len(md.Tags) > 0 {
		lines = append(lines, "- Tags: "+strings.Join(md.Tags, ", "))
	}
	if md.Notes != "" {
		lines = append(lines, "- Notes: "+md.Notes)
	}
	if len(lines) == 0 {
		return
	}

	b.WriteString("\nExisting metadata on file, to verify or correct:\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
}

// Messages builds the full message sequence for the completion client: a
// fixed system message, then one user message whose content starts with the
// prompt text and ends with an image part if and only if image content is
// available.
func Messages(p domain.DocumentAnalysisParams) []domain.Message {
	parts := []domain.ContentPart{domain.TextPart(Prompt(p))}

	if p.HasImage() {
		parts = append(parts, domain.ImageURLPart(imageURL(p)))
	}

	return []domain.Message{
		domain.TextMessage(domain.RoleSystem, systemPrompt),
		{Role: domain.RoleUser, Content: domain.NewMultipartContent(parts...)},
	}
}

// imageURL picks the image reference for the document: PDFs use the rendered
// page, everything else uses the stored file URL directly.
func imageURL(p domain.DocumentAnalysisParams) string {
	if p.IsPDF() {
		return asDataURL(p.PDFImageBase64)
	}
	return p.FileURL
}
