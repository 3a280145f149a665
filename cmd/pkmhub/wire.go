package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkmhub/pkmhub/internal/config"
	"github.com/pkmhub/pkmhub/internal/email/inbound/connector"
	"github.com/pkmhub/pkmhub/internal/email/outbound"
	"github.com/pkmhub/pkmhub/internal/extract"
	"github.com/pkmhub/pkmhub/internal/joplin"
	"github.com/pkmhub/pkmhub/internal/notes"
	"github.com/pkmhub/pkmhub/internal/obsidian"
	"github.com/pkmhub/pkmhub/internal/pipeline"
	"github.com/pkmhub/pkmhub/internal/routing"
	"github.com/pkmhub/pkmhub/internal/runner"
	"github.com/pkmhub/pkmhub/internal/todoist"
	"github.com/pkmhub/pkmhub/internal/tracker"
)

// hub is everything a run needs, built from one configuration.
type hub struct {
	registry *runner.JobRegistry
	sender   *outbound.Sender
}

type loggerFactory func(prefix string) *log.Logger

func stdLoggers(w io.Writer) loggerFactory {
	return func(prefix string) *log.Logger {
		return log.New(w, prefix, log.LstdFlags)
	}
}

// buildHub wires the clients and registers every enabled job.
func buildHub(cfg *config.Config, newLogger loggerFactory) (*hub, error) {
	if newLogger == nil {
		newLogger = stdLoggers(os.Stdout)
	}
	h := &hub{registry: runner.NewJobRegistry()}

	h.sender = outbound.NewSender(outbound.Config{
		Host:     cfg.Mail.SMTP.Host,
		Port:     cfg.Mail.SMTP.Port,
		Username: cfg.Mail.SMTP.Username,
		Password: cfg.Mail.SMTP.Password,
		From:     cfg.Mail.SMTP.From,
		UseTLS:   cfg.Mail.SMTP.TLS,
	}, outbound.WithLogger(newLogger("[SMTP] ")))

	joplinClient := joplin.NewClient(joplin.Config{
		BaseURL: cfg.Joplin.URL,
		Token:   cfg.Joplin.Token,
		Timeout: cfg.Joplin.Timeout,
	})
	dest := destination(cfg, joplinClient, newLogger)

	extractor := extract.NewExtractor(
		extract.WithBinaries(extract.Binaries{
			PDFToText: cfg.Extract.PDFToText,
			PDFImages: cfg.Extract.PDFImages,
			Tesseract: cfg.Extract.Tesseract,
		}),
		extract.WithLanguage(cfg.Extract.Language),
		extract.WithTempDir(cfg.Extract.TempDir),
		extract.WithLogger(newLogger("[EXTRACT] ")),
	)
	assemblerOpts := []pipeline.AssemblerOption{pipeline.WithAssemblerLogger(newLogger("[NOTE] "))}
	if cfg.Extract.Thumbnails {
		assemblerOpts = append(assemblerOpts, pipeline.WithThumbnailer(extract.NewThumbnailer(cfg.Extract.ThumbnailWidth, cfg.Extract.ThumbnailHeight)))
	}
	assembler := pipeline.NewAssembler(dest, extractor, assemblerOpts...)
	parser := routing.NewParser(cfg.Joplin.DefaultTitlePrefix)
	mailLogger := newLogger("[MAIL] ")
	fetchers := connector.DefaultFactory(mailLogger)

	if cfg.Enabled(pipeline.JobMailForward) {
		job := &pipeline.MailForward{Fetchers: fetchers, Sender: h.sender, Logger: mailLogger}
		for _, rule := range cfg.Mail.Forward {
			acc, _ := cfg.Account(rule.Account)
			job.Rules = append(job.Rules, pipeline.ForwardRule{Account: mailAccount(cfg, acc, rule.Mailbox), To: rule.To})
		}
		h.registry.Register(job)
	}

	if cfg.Enabled(pipeline.JobMailToNote) {
		job := &pipeline.MailToNote{Fetchers: fetchers, Parser: parser, Assembler: assembler, Logger: mailLogger}
		for _, acc := range cfg.Mail.Accounts {
			job.Accounts = append(job.Accounts, mailAccount(cfg, acc, cfg.Joplin.Mailbox))
		}
		if cfg.Evernote.Enabled && cfg.Evernote.Email != "" {
			job.Sender = h.sender
			job.ForwardTo = []string{cfg.Evernote.Email}
		}
		h.registry.Register(job)
	}

	if cfg.Enabled(pipeline.JobFileToNote) {
		h.registry.Register(&pipeline.FileToNote{
			Directory:  cfg.Joplin.Directory,
			ArchiveDir: cfg.Joplin.FileArchive,
			Ignore:     cfg.Joplin.FileIgnore,
			Parser:     parser,
			Assembler:  assembler,
			Logger:     newLogger("[FILE] "),
		})
	}

	if cfg.Enabled(pipeline.JobOCRTag) {
		h.registry.Register(&pipeline.OCRTag{Tag: cfg.Joplin.OCRTag, Store: joplinClient, Extractor: extractor, Logger: newLogger("[OCR] ")})
	}

	var noteTracker pipeline.NoteTracker
	if cfg.Enabled(pipeline.JobNoteToKindle) || cfg.Enabled(pipeline.JobNoteToTrello) || cfg.Enabled(pipeline.JobNoteToTask) {
		t, err := tracker.NewNoteTracker(joplinClient, cfg.Joplin.Tracker(), newLogger("[TRACKER] "))
		if err != nil {
			return nil, err
		}
		noteTracker = t
	}

	if cfg.Enabled(pipeline.JobNoteToKindle) {
		h.registry.Register(&pipeline.NoteToMail{
			JobName: pipeline.JobNoteToKindle,
			Tag:     cfg.Kindle.Tag,
			To:      []string{cfg.Kindle.Email},
			Store:   joplinClient,
			Tracker: noteTracker,
			Sender:  h.sender,
			Logger:  newLogger("[KINDLE] "),
		})
	}
	if cfg.Enabled(pipeline.JobNoteToTrello) {
		h.registry.Register(&pipeline.NoteToMail{
			JobName:     pipeline.JobNoteToTrello,
			Tag:         cfg.Trello.Tag,
			To:          []string{cfg.Trello.Email},
			IncludeBody: true,
			Store:       joplinClient,
			Tracker:     noteTracker,
			Sender:      h.sender,
			Logger:      newLogger("[TRELLO] "),
		})
	}

	if cfg.Enabled(pipeline.JobNoteToTask) || cfg.Enabled(pipeline.JobTaskToNote) {
		loc, err := todoist.LoadLocation(cfg.Todoist.Timezone)
		if err != nil {
			return nil, err
		}
		tasks := todoist.NewClient(todoist.Config{
			Token:     cfg.Todoist.Token,
			BaseURL:   cfg.Todoist.BaseURL,
			UploadURL: cfg.Todoist.UploadURL,
			Timeout:   cfg.Todoist.Timeout,
		})
		todoLogger := newLogger("[TODOIST] ")

		if cfg.Enabled(pipeline.JobNoteToTask) {
			h.registry.Register(&pipeline.NoteToTask{
				SourceTag:      cfg.Todoist.SourceTag,
				SourceNotebook: cfg.Todoist.SourceNotebook,
				ReservedTags:   cfg.ReservedTags(),
				Location:       loc,
				Store:          joplinClient,
				Tasks:          tasks,
				Tracker:        noteTracker,
				Logger:         todoLogger,
			})
		}
		if cfg.Enabled(pipeline.JobTaskToNote) {
			h.registry.Register(&pipeline.TaskToNote{
				Label:    cfg.Todoist.ExportLabel,
				Location: loc,
				Tasks:    tasks,
				Tracker:  tracker.NewTaskTracker(tasks, cfg.Todoist.ProcessedLabel),
				Dest:     dest,
				Logger:   todoLogger,
			})
		}
	}

	return h, nil
}

func destination(cfg *config.Config, client *joplin.Client, newLogger loggerFactory) notes.Destination {
	if cfg.Joplin.Destination == "obsidian" {
		return obsidian.NewVault(cfg.Obsidian.VaultPath, obsidian.Options{
			DefaultFolder:    cfg.Obsidian.DefaultFolder,
			AutoCreateFolder: cfg.Obsidian.AutoCreateFolder,
			Logger:           newLogger("[OBSIDIAN] "),
		})
	}
	return joplin.NewDestination(client, joplin.DestinationOptions{
		DefaultNotebook:    cfg.Joplin.DefaultNotebook,
		AutoCreateNotebook: cfg.Joplin.AutoCreateNotebook,
		Logger:             newLogger("[JOPLIN] "),
	})
}

func mailAccount(cfg *config.Config, acc config.AccountConfig, mailbox string) connector.Account {
	return connector.Account{
		Name:          fmt.Sprintf("%s/%s", acc.Name, mailbox),
		Type:          acc.Type,
		Host:          acc.Host,
		Port:          acc.Port,
		Username:      acc.Username,
		Password:      acc.Password,
		Mailbox:       mailbox,
		Archive:       cfg.Mail.Archive,
		ArchiveFolder: cfg.Mail.ArchiveFolder,
	}
}
