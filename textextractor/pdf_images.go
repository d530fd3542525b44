package textextractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"rag-ingest/chunking"
)

// imageFormats maps the stream filters whose payload is already a
// standalone image file to the stored format.
var imageFormats = map[string]string{
	"DCTDecode": "jpeg",
	"JPXDecode": "jpx",
}

var (
	objHeader     = regexp.MustCompile(`\d+\s+\d+\s+obj\b`)
	imageSubtype  = regexp.MustCompile(`/Subtype\s*/Image\b`)
	filterEntry   = regexp.MustCompile(`/Filter\s*(\[[^\]]*\]|/[A-Za-z0-9]+)`)
	filterName    = regexp.MustCompile(`/([A-Za-z0-9]+)`)
	widthEntry    = regexp.MustCompile(`/Width\s+(\d+)\b`)
	heightEntry   = regexp.MustCompile(`/Height\s+(\d+)\b`)
	directLength  = regexp.MustCompile(`/Length\s+(\d+)(\s+\d+\s+R)?`)
	jpegMagic     = []byte{0xFF, 0xD8}
	jp2Magic      = []byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P'}
	jpxCodestream = []byte{0xFF, 0x4F, 0xFF, 0x51}
)

// rawImage is an image stream found in the file body
type rawImage struct {
	width  int64
	height int64
	filter string
	data   []byte
	used   bool
}

// PDFImageExtractor writes embedded JPEG and JPEG 2000 images to the
// session image directory. Pages are walked with the PDF reader; image
// bytes are taken straight from the file because the reader does not
// pass encoded image streams through.
type PDFImageExtractor struct {
	tempRoot string
	logger   zerolog.Logger
}

// NewPDFImageExtractor creates an image extractor rooted at tempRoot
func NewPDFImageExtractor(tempRoot string, logger zerolog.Logger) *PDFImageExtractor {
	return &PDFImageExtractor{
		tempRoot: tempRoot,
		logger:   logger.With().Str("extractor", "pdf_images").Logger(),
	}
}

// ImagesDir returns {tempRoot}/{session}/images
func (e *PDFImageExtractor) ImagesDir(sessionID uuid.UUID) string {
	return filepath.Join(e.tempRoot, sessionID.String(), "images")
}

// ExtractImages returns one asset per image placement with a supported
// encoding. Images that cannot be read are skipped.
func (e *PDFImageExtractor) ExtractImages(ctx context.Context, path string, sessionID, documentID uuid.UUID) ([]chunking.ImageAsset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	raw := scanImageStreams(data)
	if len(raw) == 0 {
		return []chunking.ImageAsset{}, nil
	}

	imagesDir := e.ImagesDir(sessionID)
	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}

	assets := make([]chunking.ImageAsset, 0)
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		placements, err := pageImages(reader.Page(pageNum))
		if err != nil {
			e.logger.Warn().Err(err).Int("page", pageNum).Msg("Skipping images of unreadable page")
			continue
		}

		for _, p := range placements {
			img := matchRawImage(raw, p)
			if img == nil {
				e.logger.Debug().Int("page", pageNum).Str("filter", p.filter).Msg("No image stream matched placement")
				continue
			}

			format := imageFormats[img.filter]
			imageID := uuid.NewString()
			imagePath := filepath.Join(imagesDir, imageID+"."+format)
			if err := os.WriteFile(imagePath, img.data, 0o644); err != nil {
				e.logger.Warn().Err(err).Int("page", pageNum).Msg("Failed to write image")
				continue
			}

			assets = append(assets, chunking.ImageAsset{
				ImageID:    imageID,
				SessionID:  sessionID,
				DocumentID: documentID,
				Page:       pageNum,
				ImagePath:  imagePath,
				Format:     format,
			})
		}
	}

	return assets, nil
}

// pageImages lists the image XObjects a page references directly
func pageImages(page pdf.Page) (placements []rawImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed page resources: %v", r)
		}
	}()

	if page.V.IsNull() {
		return nil, nil
	}
	xobjects := page.Resources().Key("XObject")
	for _, name := range xobjects.Keys() {
		x := xobjects.Key(name)
		if x.Key("Subtype").Name() != "Image" {
			continue
		}
		filter := lastFilter(x.Key("Filter"))
		if _, ok := imageFormats[filter]; !ok {
			continue
		}
		placements = append(placements, rawImage{
			width:  x.Key("Width").Int64(),
			height: x.Key("Height").Int64(),
			filter: filter,
		})
	}
	return placements, nil
}

func lastFilter(v pdf.Value) string {
	switch v.Kind() {
	case pdf.Name:
		return v.Name()
	case pdf.Array:
		if v.Len() > 0 {
			return v.Index(v.Len() - 1).Name()
		}
	}
	return ""
}

// matchRawImage prefers an unused stream so identical images on
// different pages keep their own bytes; a stream reused across pages
// matches again once every candidate is taken.
func matchRawImage(raw []*rawImage, p rawImage) *rawImage {
	var reuse *rawImage
	for _, img := range raw {
		if img.width != p.width || img.height != p.height || img.filter != p.filter {
			continue
		}
		if !img.used {
			img.used = true
			return img
		}
		if reuse == nil {
			reuse = img
		}
	}
	return reuse
}

// scanImageStreams walks the top-level objects of the file and returns the
// image streams whose payload is a standalone image.
func scanImageStreams(data []byte) []*rawImage {
	var images []*rawImage
	pos := 0
	for pos < len(data) {
		loc := objHeader.FindIndex(data[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[1]
		pos = start

		endObj := bytes.Index(data[start:], []byte("endobj"))
		streamAt := bytes.Index(data[start:], []byte("stream"))
		if streamAt < 0 || (endObj >= 0 && streamAt > endObj) {
			continue
		}

		dict := data[start : start+streamAt]
		body := start + streamAt + len("stream")
		if bytes.HasPrefix(data[body:], []byte("\r\n")) {
			body += 2
		} else if bytes.HasPrefix(data[body:], []byte("\n")) {
			body++
		}

		end := streamEnd(data, dict, body)
		if end < 0 {
			break
		}
		pos = end

		if !imageSubtype.Match(dict) {
			continue
		}
		img := parseImageDict(dict)
		if img == nil {
			continue
		}
		img.data = data[body:end]
		if validImagePayload(img.filter, img.data) {
			images = append(images, img)
		}
	}
	return images
}

func streamEnd(data, dict []byte, body int) int {
	if m := directLength.FindSubmatch(dict); m != nil && len(m[2]) == 0 {
		if n, err := strconv.Atoi(string(m[1])); err == nil && body+n <= len(data) {
			return body + n
		}
	}
	idx := bytes.Index(data[body:], []byte("endstream"))
	if idx < 0 {
		return -1
	}
	end := body + idx
	if end > body && data[end-1] == '\n' {
		end--
	}
	if end > body && data[end-1] == '\r' {
		end--
	}
	return end
}

func parseImageDict(dict []byte) *rawImage {
	f := filterEntry.FindSubmatch(dict)
	if f == nil {
		return nil
	}
	names := filterName.FindAllSubmatch(f[1], -1)
	if len(names) == 0 {
		return nil
	}
	filter := string(names[len(names)-1][1])
	if _, ok := imageFormats[filter]; !ok {
		return nil
	}

	img := &rawImage{filter: filter}
	if m := widthEntry.FindSubmatch(dict); m != nil {
		img.width, _ = strconv.ParseInt(string(m[1]), 10, 64)
	}
	if m := heightEntry.FindSubmatch(dict); m != nil {
		img.height, _ = strconv.ParseInt(string(m[1]), 10, 64)
	}
	return img
}

func validImagePayload(filter string, data []byte) bool {
	switch filter {
	case "DCTDecode":
		return bytes.HasPrefix(data, jpegMagic)
	case "JPXDecode":
		return bytes.HasPrefix(data, jp2Magic) || bytes.HasPrefix(data, jpxCodestream)
	}
	return false
}
