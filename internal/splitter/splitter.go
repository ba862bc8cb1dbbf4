package splitter

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/gen2brain/go-fitz"

	"github.com/prompt-general/askslide/pkg/models"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
)

// Page is one rendered page of a paginated document, or a standalone image.
// Text is best-effort extraction and may be empty.
type Page struct {
	Number int
	PNG    []byte
	Width  int
	Height int
	Text   string
}

// Window is one overlapping text window of a flat-text document
type Window struct {
	Index int
	Text  string
}

// Result holds the split output of one file. Exactly one of Pages or Windows
// is populated depending on the source type.
type Result struct {
	Source   models.SourceType
	Pages    []Page
	Windows  []Window
	Metadata map[string]any
}

var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".py":   true,
	".js":   true,
	".go":   true,
	".html": true,
	".css":  true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
}

// Splitter converts raw file bytes into pages or text windows
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	pageDPI      float64
}

// New creates a Splitter with the given windowing parameters. Overlap must be
// in [0, size).
func New(chunkSize, chunkOverlap int, pageDPI float64) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, models.NewConsistencyError("chunk size %d must be positive", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, models.NewConsistencyError("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	if pageDPI <= 0 {
		pageDPI = 150
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap, pageDPI: pageDPI}, nil
}

// Split converts raw bytes into pages (paginated and raster formats) or text
// windows (flat text), keyed off the declared filename's extension.
func (s *Splitter) Split(data []byte, filename string) (*Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case ext == ".pdf":
		return s.splitPDF(data, filename)
	case ext == ".docx" || ext == ".doc":
		return s.splitDocx(data, filename)
	case imageExtensions[ext]:
		return s.splitImage(data, filename)
	case textExtensions[ext]:
		return s.splitTextFile(data, ext)
	default:
		return nil, models.NewInputError(fmt.Sprintf("unsupported file extension %q", ext), nil)
	}
}

// SplitText windows text with the splitter's size and overlap. Windows start
// at offsets 0, W-O, 2(W-O), ...; the final window truncates at the end of
// the text and windowing stops once the end is reached. Empty text yields
// zero windows.
func (s *Splitter) SplitText(text string) []Window {
	return SplitText(text, s.chunkSize, s.chunkOverlap)
}

// SplitText windows text with explicit size and overlap parameters
func SplitText(text string, size, overlap int) []Window {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := size - overlap
	var windows []Window
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		windows = append(windows, Window{Index: len(windows), Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return windows
}

func (s *Splitter) splitTextFile(data []byte, ext string) (*Result, error) {
	text := string(data)
	return &Result{
		Source:  models.SourceTypeText,
		Windows: s.SplitText(text),
		Metadata: map[string]any{
			"type":      "text",
			"extension": ext,
			"length":    len([]rune(text)),
		},
	}, nil
}

// splitImage normalizes any supported raster format to PNG so the stored
// page blob always matches its key and content type.
func (s *Splitter) splitImage(data []byte, filename string) (*Result, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewInputError(fmt.Sprintf("undecodable image %q", filename), err)
	}

	encoded := data
	if format != "png" {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode %q as png: %w", filename, err)
		}
		encoded = buf.Bytes()
	}

	bounds := img.Bounds()
	return &Result{
		Source: models.SourceTypeImage,
		Pages: []Page{{
			Number: 1,
			PNG:    encoded,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		}},
		Metadata: map[string]any{
			"type":   "image",
			"format": format,
			"width":  bounds.Dx(),
			"height": bounds.Dy(),
		},
	}, nil
}

// splitDocx extracts paragraph text from a Word document and windows it like
// flat text. Extraction failures degrade to an empty document so the upload
// still produces a retrievable record, matching the PDF text path.
func (s *Splitter) splitDocx(data []byte, filename string) (*Result, error) {
	text, meta := extractDocxText(data, filename)
	return &Result{
		Source:   models.SourceTypeText,
		Windows:  s.SplitText(text),
		Metadata: meta,
	}, nil
}

func extractDocxText(data []byte, filename string) (string, map[string]any) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Printf("Text extraction failed for %s: %v", filename, err)
		return "", map[string]any{"type": "docx", "error": err.Error()}
	}

	var parts []string
	paragraphs := 0
	for _, it := range doc.Document.Body.Items {
		switch v := it.(type) {
		case *docx.Paragraph:
			paragraphs++
			parts = append(parts, v.String())
		case *docx.Table:
			parts = append(parts, v.String())
		}
	}

	return strings.Join(parts, "\n"), map[string]any{
		"type":       "docx",
		"paragraphs": paragraphs,
	}
}

// splitPDF renders every page to a PNG. Each page becomes exactly one chunk;
// there is no sub-page text splitting. Text extraction failures degrade to an
// empty string so non-text pages remain embeddable.
func (s *Splitter) splitPDF(data []byte, filename string) (*Result, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, models.NewInputError(fmt.Sprintf("unreadable pdf %q", filename), err)
	}
	defer doc.Close()

	total := doc.NumPage()
	pages := make([]Page, 0, total)
	for i := 0; i < total; i++ {
		img, err := doc.ImageDPI(i, s.pageDPI)
		if err != nil {
			return nil, models.NewInputError(fmt.Sprintf("failed to render page %d of %q", i+1, filename), err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}

		text, err := doc.Text(i)
		if err != nil {
			log.Printf("Text extraction failed for page %d of %s: %v", i+1, filename, err)
			text = ""
		}

		bounds := img.Bounds()
		pages = append(pages, Page{
			Number: i + 1,
			PNG:    buf.Bytes(),
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
			Text:   text,
		})
	}

	meta := map[string]any{
		"type":  "pdf",
		"pages": total,
	}
	for k, v := range doc.Metadata() {
		if v != "" {
			meta[strings.ToLower(k)] = v
		}
	}

	return &Result{Source: models.SourceTypePDF, Pages: pages, Metadata: meta}, nil
}
