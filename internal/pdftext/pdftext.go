// Package pdftext implements the PDF text extractor: PDF bytes to an
// ordered page sequence plus a cleaned full-text string. Extraction
// goes through pdfcpu's content-extraction API via a temp file, since
// pdfcpu has no direct text-extraction call; cleaning strips running
// banners and page numbers, dehyphenates line-wrapped words, and
// normalizes Unicode.
package pdftext

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/text/unicode/norm"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
)

// Page is one page of extracted text with basic counts.
type Page struct {
	PageNumber int
	Text       string
	CharCount  int
	WordCount  int
}

// Document is the full extraction result for one PDF.
type Document struct {
	Pages     []Page
	FullText  string
	IsScanned bool
}

// scannedMeanCharThreshold is the mean-chars-per-page floor below
// which a document is flagged as likely scanned/image-only.
const scannedMeanCharThreshold = 100

var (
	arxivBannerPattern  = regexp.MustCompile(`(?i)^arXiv:\S+\s*(\[\S+\])?\s*\d*.*$`)
	pageNumberPattern   = regexp.MustCompile(`^\s*\d{1,4}\s*$`)
	proceedingsPattern  = regexp.MustCompile(`(?i)^(proceedings of|in:\s|published as a conference paper)`)
	dehyphenatePattern  = regexp.MustCompile(`(\p{Ll})-\n(\p{Ll})`)
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(` {2,}`)
)

// Extract parses PDF bytes into a Document. pdfcpu has no direct
// text-extraction API, so the bytes are written to a scratch temp
// file, run through content extraction into a scratch directory, and
// the per-page content files are read back and reassembled in page
// order.
func Extract(data []byte) (*Document, error) {
	workDir, err := os.MkdirTemp("", "pdftext-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, "in.pdf")
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write scratch pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(srcPath)
	if err != nil {
		return nil, agkerrors.Validationf("malformed pdf: %v", err)
	}
	pageCount := pdfCtx.PageCount

	outDir := filepath.Join(workDir, "pages")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pages dir: %w", err)
	}

	pageTexts := make(map[int]string, pageCount)
	if err := api.ExtractContentFile(srcPath, outDir, nil, model.NewDefaultConfiguration()); err == nil {
		files, _ := os.ReadDir(outDir)
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			var pageNum int
			if _, scanErr := fmt.Sscanf(f.Name(), "Content_page_%d", &pageNum); scanErr != nil {
				continue
			}
			content, readErr := os.ReadFile(filepath.Join(outDir, f.Name()))
			if readErr == nil {
				pageTexts[pageNum] = string(content)
			}
		}
	}

	pages := make([]Page, 0, pageCount)
	var rawPages []string
	for i := 1; i <= pageCount; i++ {
		text := pageTexts[i]
		rawPages = append(rawPages, text)
		pages = append(pages, Page{
			PageNumber: i,
			Text:       text,
			CharCount:  len(text),
			WordCount:  len(strings.Fields(text)),
		})
	}

	isScanned := false
	if len(pages) > 0 {
		total := 0
		for _, p := range pages {
			total += p.CharCount
		}
		if total/len(pages) < scannedMeanCharThreshold {
			isScanned = true
		}
	}

	fullText := clean(strings.Join(rawPages, "\n"))

	return &Document{Pages: pages, FullText: fullText, IsScanned: isScanned}, nil
}

// clean applies a three-stage pipeline: strip banners/proceedings/
// page-number lines, dehyphenate, and normalize whitespace and
// Unicode form.
func clean(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if arxivBannerPattern.MatchString(trimmed) ||
			proceedingsPattern.MatchString(trimmed) ||
			pageNumberPattern.MatchString(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	joined := strings.Join(kept, "\n")

	joined = dehyphenatePattern.ReplaceAllString(joined, "$1$2")
	joined = norm.NFC.String(joined)
	joined = multiSpacePattern.ReplaceAllString(joined, " ")
	joined = multiNewlinePattern.ReplaceAllString(joined, "\n\n")

	return strings.TrimSpace(joined)
}
