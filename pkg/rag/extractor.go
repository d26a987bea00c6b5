package rag

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// ExtractorConfig holds configuration for the text extractor.
type ExtractorConfig struct {
	// ScannedCharsPerPage is the heuristic threshold: a PDF whose text
	// layer yields fewer than pageCount*ScannedCharsPerPage characters
	// is treated as scanned and routed through OCR.
	ScannedCharsPerPage int `json:"scanned_chars_per_page"`
}

func getDefaultExtractorConfig() *ExtractorConfig {
	return &ExtractorConfig{ScannedCharsPerPage: 100}
}

// TextExtractor converts raw uploaded bytes into normalized text by
// MIME type: PDF (text layer with OCR fallback), DOCX, plain text,
// Markdown and CSV (tabularized to a Markdown table).
type TextExtractor struct {
	config *ExtractorConfig
	ocr    *OCRChain
	logger *slog.Logger
}

// NewTextExtractor creates a text extractor. ocr may be nil, in which
// case scanned PDFs fall back to whatever the text layer produced.
func NewTextExtractor(config *ExtractorConfig, ocr *OCRChain) *TextExtractor {
	if config == nil {
		config = getDefaultExtractorConfig()
	}
	if config.ScannedCharsPerPage <= 0 {
		config.ScannedCharsPerPage = 100
	}
	return &TextExtractor{
		config: config,
		ocr:    ocr,
		logger: slog.Default().With("component", "text-extractor"),
	}
}

// Extract converts data into normalized text. It returns
// ErrUnsupportedType for MIME types outside the supported set and an
// ExtractionError for corrupt or unreadable input.
func (te *TextExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*ExtractionResult, error) {
	switch normalizeMimeType(mimeType) {
	case "application/pdf":
		return te.extractPDF(ctx, data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/msword":
		return te.extractDOCX(data)
	case "text/plain", "text/markdown", "text/x-markdown":
		return te.extractPlainText(data)
	case "text/csv", "application/csv":
		return te.extractCSV(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}
}

func normalizeMimeType(mimeType string) string {
	// Drop parameters such as "; charset=utf-8".
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func (te *TextExtractor) extractPDF(ctx context.Context, data []byte) (result *ExtractionResult, err error) {
	// The pdf package reports malformed input via panics.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &ExtractionError{Stage: "pdf-parse", Err: fmt.Errorf("%v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Stage: "pdf-open", Err: err}
	}

	pageCount := reader.NumPage()
	var textBuilder strings.Builder
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			te.logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	direct := strings.TrimSpace(textBuilder.String())
	if len(direct) >= pageCount*te.config.ScannedCharsPerPage {
		return &ExtractionResult{Text: direct, PageCount: pageCount}, nil
	}

	// Mostly scanned: the text layer is too thin to be the real content.
	te.logger.Info("PDF looks scanned, switching to OCR",
		"pages", pageCount, "text_layer_chars", len(direct))

	if te.ocr == nil {
		if direct == "" {
			return nil, &ExtractionError{Stage: "pdf-ocr",
				Err: fmt.Errorf("scanned document and no OCR engine configured")}
		}
		te.logger.Warn("no OCR engine configured, keeping thin text layer")
		return &ExtractionResult{Text: direct, PageCount: pageCount, IsScanned: true}, nil
	}

	ocrText, engine, err := te.ocr.Run(ctx, data, pageCount)
	if err != nil {
		return nil, &ExtractionError{Stage: "pdf-ocr", Err: err}
	}
	return &ExtractionResult{
		Text:      ocrText,
		PageCount: pageCount,
		IsScanned: true,
		OCREngine: engine,
	}, nil
}

var docxTagPattern = regexp.MustCompile(`<[^>]+>`)

func (te *TextExtractor) extractDOCX(data []byte) (*ExtractionResult, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &ExtractionError{Stage: "docx-open", Err: err}
	}
	defer doc.Close()

	// The library exposes the raw document XML; paragraphs become
	// newlines and the remaining markup is stripped.
	content := doc.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	content = docxTagPattern.ReplaceAllString(content, "")
	content = html.UnescapeString(content)

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return &ExtractionResult{Text: strings.Join(lines, "\n")}, nil
}

func (te *TextExtractor) extractPlainText(data []byte) (*ExtractionResult, error) {
	text := string(data)

	// Normalize to blank-line-delimited paragraphs.
	var paragraphs []string
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if trimmed := strings.TrimSpace(block); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return &ExtractionResult{Text: strings.Join(paragraphs, "\n\n")}, nil
}

func (te *TextExtractor) extractCSV(data []byte) (*ExtractionResult, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil || len(records) == 0 || len(records[0]) == 0 {
		// Unparseable or headerless CSV falls back to the raw text.
		if err != nil {
			te.logger.Warn("CSV parse failed, returning raw text", "error", err)
		}
		return &ExtractionResult{Text: string(data)}, nil
	}

	var b strings.Builder
	writeMarkdownRow(&b, records[0])
	separator := make([]string, len(records[0]))
	for i := range separator {
		separator[i] = "---"
	}
	writeMarkdownRow(&b, separator)
	for _, row := range records[1:] {
		writeMarkdownRow(&b, row)
	}
	return &ExtractionResult{Text: b.String()}, nil
}

func writeMarkdownRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, cell := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(cell, "|", `\|`))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}
