package lecturequiz

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// PDFReaderCapability reads text page by page with a structured PDF reader.
// When direct extraction is near empty it falls back to row-based extraction.
type PDFReaderCapability struct{}

func (PDFReaderCapability) Name() string { return "pdf_reader" }

func (PDFReaderCapability) Extract(ctx context.Context, data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}

	fonts := make(map[string]*pdf.Font)
	var plain, rows strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		for _, name := range p.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := p.Font(name)
				fonts[name] = &f
			}
		}

		fmt.Fprintf(&plain, "\n--- Page %d ---\n", i)
		if text, err := p.GetPlainText(fonts); err == nil {
			plain.WriteString(text)
		}

		fmt.Fprintf(&rows, "\n--- Page %d ---\n", i)
		rows.WriteString(pageRowText(p))
	}

	direct := plain.String()
	if visibleChars(direct) >= MinUsefulPDFChars {
		return direct, nil
	}
	blocks := rows.String()
	if visibleChars(blocks) > visibleChars(direct) {
		return blocks, nil
	}
	return direct, nil
}

// pageRowText joins the text runs of each visual row on a page
func pageRowText(p pdf.Page) string {
	rows, err := p.GetTextByRow()
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, row := range rows {
		for _, word := range row.Content {
			b.WriteString(word.S)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// visibleChars counts characters that are not whitespace and not page markers
func visibleChars(s string) int {
	return utf8.RuneCountInString(strings.Join(strings.Fields(NormalizeText(s)), ""))
}

// RemoteParserCapability posts the document to an external parsing service
type RemoteParserCapability struct {
	serviceURL string
	client     *http.Client
}

// NewRemoteParserCapability creates a capability calling serviceURL/parse
func NewRemoteParserCapability(serviceURL string) *RemoteParserCapability {
	return &RemoteParserCapability{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// parseResponse is the parsing service response format
type parseResponse struct {
	Text    string `json:"text"`
	Pages   int    `json:"pages"`
	Library string `json:"library,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p *RemoteParserCapability) Name() string { return "remote_parser" }

func (p *RemoteParserCapability) Extract(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serviceURL+"/parse", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling parser service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("parser service returned status %d", resp.StatusCode)
	}

	var result parseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("parse error: %s", result.Error)
	}
	return result.Text, nil
}

// StreamScanCapability is a low-fidelity reader over raw PDF content streams.
// It inflates Flate-encoded streams and collects string operands of the text
// showing operators.
type StreamScanCapability struct{}

func (StreamScanCapability) Name() string { return "stream_scan" }

func (StreamScanCapability) Extract(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		return "", fmt.Errorf("not a pdf document")
	}

	var out strings.Builder
	rest := data
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		start := bytes.Index(rest, []byte("stream"))
		if start < 0 {
			break
		}
		body := rest[start+len("stream"):]
		body = bytes.TrimPrefix(body, []byte("\r"))
		body = bytes.TrimPrefix(body, []byte("\n"))
		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			break
		}
		content := inflateStream(body[:end])
		if bytes.Contains(content, []byte("BT")) {
			out.WriteString(scanTextOperators(content))
			out.WriteString("\n")
		}
		rest = body[end+len("endstream"):]
	}

	text := out.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text operators found")
	}
	return text, nil
}

// inflateStream returns the zlib-decoded stream, or the raw bytes when the
// stream is not Flate-encoded
func inflateStream(raw []byte) []byte {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw
	}
	defer zr.Close()
	decoded, err := io.ReadAll(io.LimitReader(zr, 16<<20))
	if err != nil && len(decoded) == 0 {
		return raw
	}
	return decoded
}

// scanTextOperators walks a content stream and emits the string operands of
// Tj, TJ, ' and " operators. Line operators become newlines.
func scanTextOperators(content []byte) string {
	var out strings.Builder
	var pending []string
	inArray := false

	flush := func() {
		for _, s := range pending {
			out.WriteString(s)
		}
		pending = pending[:0]
	}

	i := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == '(':
			s, next := readLiteralString(content, i)
			pending = append(pending, s)
			i = next
			continue
		case c == '[':
			inArray = true
		case c == ']':
			inArray = false
		case c == '<':
			// dictionaries and hex strings carry no readable text here
			if end := bytes.IndexByte(content[i:], '>'); end >= 0 {
				i += end + 1
				continue
			}
		case c == '%':
			if end := bytes.IndexByte(content[i:], '\n'); end >= 0 {
				i += end + 1
				continue
			}
			return out.String()
		case inArray && (c == '-' || (c >= '0' && c <= '9')):
			j := i + 1
			for j < len(content) && (content[j] == '.' || (content[j] >= '0' && content[j] <= '9')) {
				j++
			}
			// large negative kerning inside TJ reads as a word gap
			if c == '-' && j-i > 3 {
				pending = append(pending, " ")
			}
			i = j
			continue
		case isOperatorByte(c):
			j := i
			for j < len(content) && isOperatorByte(content[j]) {
				j++
			}
			switch string(content[i:j]) {
			case "Tj", "TJ":
				flush()
			case "'", "\"":
				out.WriteString("\n")
				flush()
			case "T*", "ET":
				out.WriteString("\n")
				pending = pending[:0]
			case "Td", "TD", "Tm":
				out.WriteString(" ")
			default:
				pending = pending[:0]
			}
			i = j
			continue
		}
		i++
	}
	return out.String()
}

func isOperatorByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '*' || c == '\'' || c == '"'
}

// readLiteralString decodes a parenthesised PDF string starting at start and
// returns it with the index just past the closing parenthesis
func readLiteralString(content []byte, start int) (string, int) {
	var b strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		c := content[i]
		switch c {
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return printableOnly(b.String()), i + 1
			}
			b.WriteByte(c)
		case '\\':
			i++
			if i >= len(content) {
				break
			}
			switch e := content[i]; e {
			case 'n', 'r':
				b.WriteByte(' ')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := 0
					k := 0
					for k < 3 && i < len(content) && content[i] >= '0' && content[i] <= '7' {
						v = v*8 + int(content[i]-'0')
						i++
						k++
					}
					i--
					b.WriteByte(byte(v))
				} else {
					b.WriteByte(e)
				}
			}
		default:
			b.WriteByte(c)
		}
		i++
	}
	return printableOnly(b.String()), i
}

func printableOnly(s string) string {
	if utf8.ValidString(s) {
		return strings.Map(func(r rune) rune {
			if unicode.IsPrint(r) || r == '\t' {
				return r
			}
			return -1
		}, s)
	}
	// Latin-1 bytes
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		r := rune(s[i])
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
