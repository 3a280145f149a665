package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/email/message"
	"github.com/pkmhub/pkmhub/internal/markup"
	"github.com/pkmhub/pkmhub/internal/notes"
)

const (
	thumbnailName     = "thumb.png"
	unknownAttachment = "unknown_file_name"
)

// Assembler writes message bodies and attachments into a destination note.
type Assembler struct {
	dest      notes.Destination
	extractor TextExtractor
	thumbs    Thumbnailer
	logger    *log.Logger
}

// AssemblerOption customizes an Assembler.
type AssemblerOption func(*Assembler)

// WithThumbnailer enables PDF preview images.
func WithThumbnailer(t Thumbnailer) AssemblerOption {
	return func(a *Assembler) { a.thumbs = t }
}

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(logger *log.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = logger }
}

// NewAssembler builds an assembler writing into dest.
func NewAssembler(dest notes.Destination, extractor TextExtractor, opts ...AssemblerOption) *Assembler {
	a := &Assembler{dest: dest, extractor: extractor}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Destination returns the note destination.
func (a *Assembler) Destination() notes.Destination { return a.dest }

// MessageBody returns the preferred body of msg in the form the destination
// accepts, and whether it is HTML.
func (a *Assembler) MessageBody(msg *message.Message) (string, bool, error) {
	part := msg.Body()
	if part == nil {
		return "", false, nil
	}
	body := string(part.Body)
	if part.ContentType != "text/html" {
		return body, false, nil
	}
	if a.dest.AcceptsHTML() {
		return body, true, nil
	}
	md, err := markup.HTMLToMarkdown(body)
	if err != nil {
		return "", false, fmt.Errorf("convert body: %w", err)
	}
	return md, false, nil
}

// AddMessageParts folds every attachment leaf of msg into note, in order.
// The first failure stops the fold.
func (a *Assembler) AddMessageParts(ctx context.Context, note notes.Ref, msg *message.Message) error {
	for part := range msg.Leaves() {
		name := part.Filename
		if name == "" {
			name = unknownAttachment
		}
		if err := a.AddAttachment(ctx, note, name, part.ContentType, part.Body); err != nil {
			return err
		}
	}
	return nil
}

// AddAttachment classifies one file and applies its effect on the note: text
// is appended, PDFs and images are uploaded, linked and followed by their
// extracted text, anything else is uploaded and linked.
func (a *Assembler) AddAttachment(ctx context.Context, note notes.Ref, filename, mimeType string, data []byte) error {
	kind := attachment.Classify(filename, mimeType)
	logf(a.logger, "adding %s attachment %s", kind, filename)

	switch kind {
	case attachment.Text:
		return a.appendText(ctx, note, string(data))
	case attachment.HTML:
		md, err := markup.HTMLToMarkdown(string(data))
		if err != nil {
			return fmt.Errorf("convert %s: %w", filename, err)
		}
		return a.appendText(ctx, note, md)
	case attachment.PDF:
		return a.addPDF(ctx, note, filename, data)
	case attachment.Image:
		return a.addImage(ctx, note, filename, mimeType, data)
	default:
		res, err := a.upload(ctx, note, filename, mimeType, data)
		if err != nil {
			return err
		}
		return a.appendText(ctx, note, a.dest.ResourceLink(res, kind, nil))
	}
}

func (a *Assembler) addPDF(ctx context.Context, note notes.Ref, filename string, data []byte) error {
	var thumb *notes.Resource
	if p, ok := a.dest.(notes.Previewer); ok && a.thumbs != nil && p.ShowsPreviews() {
		png, err := a.thumbs.PDFThumbnail(data)
		if err != nil {
			logf(a.logger, "no thumbnail for %s: %v", filename, err)
		} else {
			res, err := a.upload(ctx, note, thumbnailName, "image/png", png)
			if err != nil {
				return err
			}
			thumb = &res
		}
	}

	res, err := a.upload(ctx, note, filename, "application/pdf", data)
	if err != nil {
		return err
	}
	text, err := a.extractor.PDFText(ctx, data)
	if err != nil {
		return fmt.Errorf("extract text from %s: %w", filename, err)
	}
	return a.appendText(ctx, note, withText(a.dest.ResourceLink(res, attachment.PDF, thumb), text))
}

func (a *Assembler) addImage(ctx context.Context, note notes.Ref, filename, mimeType string, data []byte) error {
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = attachment.TypeByFilename(filename)
	}
	res, err := a.upload(ctx, note, filename, mimeType, data)
	if err != nil {
		return err
	}
	text, err := a.extractor.ImageText(ctx, filename, data)
	if err != nil {
		return fmt.Errorf("extract text from %s: %w", filename, err)
	}
	return a.appendText(ctx, note, withText(a.dest.ResourceLink(res, attachment.Image, nil), text))
}

func (a *Assembler) upload(ctx context.Context, note notes.Ref, filename, mimeType string, data []byte) (notes.Resource, error) {
	if mimeType == "" {
		mimeType = attachment.TypeByFilename(filename)
	}
	res, err := a.dest.UploadResource(ctx, note, filename, mimeType, data)
	if err != nil {
		return notes.Resource{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	return res, nil
}

func (a *Assembler) appendText(ctx context.Context, note notes.Ref, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := a.dest.AppendToNote(ctx, note, text); err != nil {
		return fmt.Errorf("append to %q: %w", note.Title, err)
	}
	return nil
}

// withText places extracted text below a resource link; blank text adds
// nothing.
func withText(link, text string) string {
	if strings.TrimSpace(text) == "" {
		return link
	}
	return link + "\n\n" + text
}
