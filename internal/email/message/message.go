// Package message parses raw RFC 5322 messages into a part tree and exposes
// the preferred body and a flat sequence of the remaining leaf parts.
package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Part is one node of a parsed MIME tree. Body holds the transfer-decoded
// content; text parts are converted to UTF-8.
type Part struct {
	ContentType string
	Params      map[string]string
	Disposition string
	Filename    string
	Body        []byte
	Children    []*Part
	parent      *Part
}

// IsMultipart reports whether the part is a container of other parts.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// IsAttachment reports whether the part was explicitly marked as an attachment.
func (p *Part) IsAttachment() bool {
	return p.Disposition == "attachment"
}

// Message is a parsed inbound mail.
type Message struct {
	Subject   string
	From      string
	MessageID string
	Date      time.Time
	Root      *Part
	Raw       []byte
}

// Parse builds the part tree of raw. Unknown charsets are tolerated and left undecoded.
func Parse(raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("message: read: %w", err)
	}

	header := gomail.Header{Header: entity.Header}
	msg := &Message{Raw: raw}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	if id, err := header.MessageID(); err == nil {
		msg.MessageID = id
	}
	if date, err := header.Date(); err == nil {
		msg.Date = date
	}

	root, err := readPart(entity, nil)
	if err != nil {
		return nil, err
	}
	msg.Root = root
	return msg, nil
}

func readPart(entity *gomessage.Entity, parent *Part) (*Part, error) {
	p := &Part{parent: parent}

	mediaType, params, err := entity.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType, params = "text/plain", map[string]string{}
	}
	p.ContentType = strings.ToLower(mediaType)
	p.Params = params

	if disp, _, err := entity.Header.ContentDisposition(); err == nil {
		p.Disposition = strings.ToLower(disp)
	}
	name, _ := (&gomail.AttachmentHeader{Header: entity.Header}).Filename()
	p.Filename = decodeWords(strings.TrimSpace(name))

	if mr := entity.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
				return nil, fmt.Errorf("message: next part: %w", err)
			}
			cp, err := readPart(child, p)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, cp)
		}
		return p, nil
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return nil, fmt.Errorf("message: read %s body: %w", p.ContentType, err)
	}
	p.Body = body
	return p, nil
}

var wordDecoder = &mime.WordDecoder{CharsetReader: htmlcharset.NewReaderLabel}

func decodeWords(s string) string {
	if !strings.Contains(s, "=?") {
		return s
	}
	if decoded, err := wordDecoder.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}

// Body returns the preferred inline body part: HTML first, then plain text.
// It returns nil when the message has neither.
func (m *Message) Body() *Part {
	if m == nil || m.Root == nil {
		return nil
	}
	for _, want := range []string{"text/html", "text/plain"} {
		if p := findInline(m.Root, want); p != nil {
			return p
		}
	}
	return nil
}

func findInline(p *Part, mediaType string) *Part {
	if p.IsMultipart() {
		for _, c := range p.Children {
			if found := findInline(c, mediaType); found != nil {
				return found
			}
		}
		return nil
	}
	if p.ContentType == mediaType && !p.IsAttachment() {
		return p
	}
	return nil
}

// Leaves yields every non-multipart part in document order, skipping the
// body part and the alternatives it was chosen from.
func (m *Message) Leaves() iter.Seq[*Part] {
	return func(yield func(*Part) bool) {
		if m == nil || m.Root == nil {
			return
		}
		skip := map[*Part]bool{}
		if body := m.Body(); body != nil {
			skip[body] = true
			// The other renderings of the nearest alternative group are not content.
			for branch, up := body, body.parent; up != nil; branch, up = up, up.parent {
				if up.ContentType != "multipart/alternative" {
					continue
				}
				for _, c := range up.Children {
					if c != branch {
						skip[c] = true
					}
				}
				break
			}
		}
		walk(m.Root, skip, yield)
	}
}

func walk(p *Part, skip map[*Part]bool, yield func(*Part) bool) bool {
	if skip[p] {
		return true
	}
	if p.IsMultipart() {
		for _, c := range p.Children {
			if !walk(c, skip, yield) {
				return false
			}
		}
		return true
	}
	return yield(p)
}
