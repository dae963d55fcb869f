// Package ingest turns uploaded files into conversational context. Every
// outcome — parsed table, indexing acknowledgment, unsupported type, or
// parser failure — degrades to a string under the "File: {name}"
// provenance header, so a bad upload never aborts the request.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"datachat-agent/internal/rag"
	"datachat-agent/internal/utils"
)

// Content is the ingestion result for one uploaded file.
type Content struct {
	SourceName string
	Text       string
}

// Ingestor classifies uploads and dispatches to the matching parser.
// PDFs are routed into the retrieval index instead of being returned
// inline.
type Ingestor struct {
	index  rag.Searcher
	logger utils.ExtendedLogger
}

// New creates an ingestor feeding the given retrieval index.
func New(index rag.Searcher, logger utils.ExtendedLogger) *Ingestor {
	return &Ingestor{index: index, logger: logger}
}

// Ingest converts an uploaded byte blob into a text blob. It never
// returns an error: parser failures are folded into the text after the
// provenance header.
func (ing *Ingestor) Ingest(ctx context.Context, data []byte, filename string) Content {
	header := fmt.Sprintf("File: %s\n", filename)

	body, err := ing.dispatch(ctx, data, filename)
	if err != nil {
		ing.logger.Warnf("[INGEST] %s: %v", filename, err)
		body = fmt.Sprintf("Error processing file: %v", err)
	}

	return Content{SourceName: filename, Text: header + body}
}

// dispatch sniffs the content type and prefers the filename extension
// for statistical formats that sniffing alone cannot distinguish.
func (ing *Ingestor) dispatch(ctx context.Context, data []byte, filename string) (string, error) {
	kind := mimetype.Detect(data)
	lower := strings.ToLower(filename)

	switch {
	case kind.Is("text/csv"):
		return renderCSV(data)

	case kind.Is("application/pdf"):
		if err := ing.index.AddPDF(ctx, data); err != nil {
			return "", err
		}
		ing.logger.Infof("[INGEST] indexed PDF %s (%d bytes)", filename, len(data))
		return fmt.Sprintf("PDF '%s' has been successfully indexed. You can now ask questions about it.", filename), nil

	case strings.HasSuffix(lower, ".sav"):
		return renderSPSS(data)

	case strings.HasSuffix(lower, ".rdata"), strings.HasSuffix(lower, ".rds"):
		return renderRData(data, strings.HasSuffix(lower, ".rds"))

	default:
		return "Unsupported file type.", nil
	}
}
