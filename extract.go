package lecturequiz

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MinUsefulPDFChars is the length below which a PDF capability's output is
// treated as insufficient and the next capability is tried
const MinUsefulPDFChars = 100

// ExtractionCapability is a best-effort reader that turns document bytes into
// raw text for one format family
type ExtractionCapability interface {
	Name() string
	Extract(ctx context.Context, data []byte) (string, error)
}

// Extractor dispatches a document to the capabilities for its extension and
// returns normalized text. It never returns an error: an empty string means
// nothing usable could be read.
type Extractor struct {
	PDF         []ExtractionCapability
	Slides      []ExtractionCapability
	MinPDFChars int

	logger  *Logger
	metrics *Metrics
}

// NewExtractor builds the default capability chains. remoteParserURL is
// optional; when set, the remote parser runs between the PDF reader and the
// stream scanner.
func NewExtractor(remoteParserURL string, logger *Logger, metrics *Metrics) *Extractor {
	pdfChain := []ExtractionCapability{PDFReaderCapability{}}
	if remoteParserURL != "" {
		pdfChain = append(pdfChain, NewRemoteParserCapability(remoteParserURL))
	}
	pdfChain = append(pdfChain, StreamScanCapability{})

	return &Extractor{
		PDF:         pdfChain,
		Slides:      []ExtractionCapability{SlideDeckCapability{}},
		MinPDFChars: MinUsefulPDFChars,
		logger:      logger,
		metrics:     metrics,
	}
}

// WithObservers sets the logger and metrics used for capability outcomes
func (e *Extractor) WithObservers(logger *Logger, metrics *Metrics) *Extractor {
	e.logger = logger
	e.metrics = metrics
	return e
}

// NormalizeExtension lowercases ext and ensures a leading dot
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Extract returns the normalized text of data, or "" when no capability
// produced any text or the extension is unsupported
func (e *Extractor) Extract(ctx context.Context, data []byte, ext string) string {
	logger := e.logger.orNop()
	if len(data) == 0 {
		return ""
	}

	switch NormalizeExtension(ext) {
	case ".pdf":
		return e.extractPDF(ctx, data)
	case ".ppt", ".pptx":
		for _, c := range e.Slides {
			if text := e.run(ctx, c, data); text != "" {
				return text
			}
		}
		return ""
	default:
		logger.Debug("unsupported document extension", "extension", ext)
		return ""
	}
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) string {
	minChars := e.MinPDFChars
	if minChars <= 0 {
		minChars = MinUsefulPDFChars
	}

	best := ""
	for _, c := range e.PDF {
		text := e.run(ctx, c, data)
		if utf8.RuneCountInString(text) >= minChars {
			return text
		}
		if utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
			best = text
		}
		if text != "" {
			e.logger.orNop().Debug("pdf capability output below threshold, trying next",
				"capability", c.Name(), "chars", utf8.RuneCountInString(text))
		}
	}
	return best
}

// run invokes one capability, treating errors and panics as "no text"
func (e *Extractor) run(ctx context.Context, c ExtractionCapability, data []byte) (text string) {
	logger := e.logger.orNop()
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("extraction capability panicked", "capability", c.Name(), "panic", fmt.Sprint(r))
			e.metrics.observeExtraction(c.Name(), "panic")
			text = ""
		}
	}()

	raw, err := c.Extract(ctx, data)
	if err != nil {
		logger.Warn("extraction capability failed", "capability", c.Name(), "error", err)
		e.metrics.observeExtraction(c.Name(), "error")
		return ""
	}

	text = NormalizeText(raw)
	if text == "" {
		e.metrics.observeExtraction(c.Name(), "empty")
		return ""
	}
	e.metrics.observeExtraction(c.Name(), "ok")
	return text
}
