package lecturequiz

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	presentationMLNS = "http://schemas.openxmlformats.org/presentationml/2006/main"
	drawingMLNS      = "http://schemas.openxmlformats.org/drawingml/2006/main"
)

var slidePartName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// SlideDeckCapability reads the text of every shape on every slide of an
// OpenXML presentation, in slide order. Legacy binary decks are not zip
// archives and fail.
type SlideDeckCapability struct{}

func (SlideDeckCapability) Name() string { return "slide_deck" }

type slidePart struct {
	index int
	file  *zip.File
}

func (SlideDeckCapability) Extract(ctx context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open slide deck: %w", err)
	}

	var slides []slidePart
	for _, f := range zr.File {
		m := slidePartName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slidePart{index: n, file: f})
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("zip does not contain any slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].index < slides[j].index })

	var out []string
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rc, err := s.file.Open()
		if err != nil {
			return "", fmt.Errorf("open %s: %w", s.file.Name, err)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("read %s: %w", s.file.Name, err)
		}
		out = append(out, shapeTexts(b)...)
	}
	return strings.Join(out, "\n"), nil
}

// shapeTexts returns the text of each shape in a slide part. Paragraphs of a
// shape are joined with newlines.
func shapeTexts(slideXML []byte) []string {
	dec := xml.NewDecoder(bytes.NewReader(slideXML))

	var shapes []string
	var paragraphs []string
	var para strings.Builder
	shapeDepth := 0
	inParagraph := false
	inText := false

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == presentationMLNS && t.Name.Local == "sp":
				shapeDepth++
			case shapeDepth > 0 && t.Name.Space == drawingMLNS && t.Name.Local == "p":
				inParagraph = true
				para.Reset()
			case inParagraph && t.Name.Space == drawingMLNS && t.Name.Local == "t":
				inText = true
			case inParagraph && t.Name.Space == drawingMLNS && t.Name.Local == "br":
				para.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch {
			case t.Name.Space == drawingMLNS && t.Name.Local == "t":
				inText = false
			case inParagraph && t.Name.Space == drawingMLNS && t.Name.Local == "p":
				inParagraph = false
				paragraphs = append(paragraphs, para.String())
			case t.Name.Space == presentationMLNS && t.Name.Local == "sp":
				shapeDepth--
				if shapeDepth == 0 {
					text := strings.TrimSpace(strings.Join(paragraphs, "\n"))
					if text != "" {
						shapes = append(shapes, text)
					}
					paragraphs = paragraphs[:0]
				}
			}
		}
	}
	return shapes
}
