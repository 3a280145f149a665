package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/email/outbound"
	"github.com/pkmhub/pkmhub/internal/joplin"
)

// OCRTag appends extracted text for every PDF and image resource of the
// notes carrying Tag, then removes the tag from the note.
type OCRTag struct {
	Tag       string
	Store     NoteStore
	Extractor TextExtractor
	Logger    *log.Logger
}

func (j *OCRTag) Name() string { return JobOCRTag }

func (j *OCRTag) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	if j.Tag == "" {
		return report, nil
	}
	tag, err := j.Store.TagByName(ctx, j.Tag)
	if err != nil {
		return report, fmt.Errorf("lookup tag %s: %w", j.Tag, err)
	}
	if tag == nil {
		logf(j.Logger, "unable to find the tag %s", j.Tag)
		return report, nil
	}
	list, err := j.Store.ListNotes(ctx, joplin.TagContainer{Tag: *tag})
	if err != nil {
		return report, fmt.Errorf("list notes tagged %s: %w", j.Tag, err)
	}

	for _, note := range list {
		if err := j.ocrNote(ctx, tag, note); err != nil {
			err = fmt.Errorf("note %q: %w", note.Title, err)
			logf(j.Logger, "error: %v", err)
			report.add(note.Title, "", err)
			continue
		}
		report.add(note.Title, "ocr", nil)
	}
	return report, nil
}

func (j *OCRTag) ocrNote(ctx context.Context, tag *joplin.Tag, note joplin.Note) error {
	resources, err := j.Store.NoteResources(ctx, note.ID)
	if err != nil {
		return err
	}
	for _, res := range resources {
		kind := attachment.Classify(res.Name(), res.Mime)
		if kind != attachment.PDF && kind != attachment.Image {
			continue
		}
		data, err := j.Store.ResourceFile(ctx, res.ID)
		if err != nil {
			return fmt.Errorf("download %s: %w", res.Name(), err)
		}
		var text string
		if kind == attachment.PDF {
			text, err = j.Extractor.PDFText(ctx, data)
		} else {
			text, err = j.Extractor.ImageText(ctx, res.Name(), data)
		}
		if err != nil {
			return fmt.Errorf("extract text from %s: %w", res.Name(), err)
		}
		if err := joplin.AppendToNote(ctx, j.Store, note.ID, text); err != nil {
			return err
		}
	}
	logf(j.Logger, "removing tag %s from %q", tag.Title, note.Title)
	return j.Store.RemoveTagFromNote(ctx, tag.ID, note.ID)
}

// NoteToMail mails the notes carrying Tag to an address. The Kindle job sends
// only the resources; the Trello job also sends the note body.
type NoteToMail struct {
	JobName     string
	Tag         string
	To          []string
	IncludeBody bool
	Store       NoteStore
	Tracker     NoteTracker
	Sender      MailSender
	Logger      *log.Logger
}

func (j *NoteToMail) Name() string { return j.JobName }

func (j *NoteToMail) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	if j.Tracker == nil {
		return report, fmt.Errorf("%s: no processed-marker tracker", j.Name())
	}
	tag, err := j.Store.TagByName(ctx, j.Tag)
	if err != nil {
		return report, fmt.Errorf("lookup tag %s: %w", j.Tag, err)
	}
	if tag == nil {
		logf(j.Logger, "unable to find the tag %s", j.Tag)
		return report, nil
	}
	list, err := j.Store.ListNotes(ctx, joplin.TagContainer{Tag: *tag})
	if err != nil {
		return report, fmt.Errorf("list notes tagged %s: %w", j.Tag, err)
	}

	for _, note := range list {
		done, err := j.Tracker.IsProcessed(ctx, note)
		if err == nil && done {
			report.add(note.Title, "skipped", nil)
			continue
		}
		if err == nil {
			err = j.send(ctx, note)
		}
		if err == nil {
			err = j.Tracker.MarkProcessed(ctx, note)
		}
		if err != nil {
			err = fmt.Errorf("note %q: %w", note.Title, err)
			logf(j.Logger, "error: %v", err)
			report.add(note.Title, "", err)
			continue
		}
		report.add(note.Title, "sent", nil)
	}
	return report, nil
}

func (j *NoteToMail) send(ctx context.Context, note joplin.Note) error {
	msg := &outbound.Message{To: j.To, Subject: note.Title}
	if j.IncludeBody {
		msg.Text = note.Body
	}
	resources, err := j.Store.NoteResources(ctx, note.ID)
	if err != nil {
		return err
	}
	for _, res := range resources {
		data, err := j.Store.ResourceFile(ctx, res.ID)
		if err != nil {
			return fmt.Errorf("download %s: %w", res.Name(), err)
		}
		msg.Attachments = append(msg.Attachments, outbound.Attachment{
			Filename:    res.Name(),
			ContentType: res.Mime,
			Content:     data,
		})
	}
	logf(j.Logger, "sending %q to %v", note.Title, j.To)
	return j.Sender.Send(msg)
}
