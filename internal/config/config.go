// Package config loads the hub configuration from YAML with environment
// overrides, validates it, and reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/pkmhub/pkmhub/internal/pipeline"
	"github.com/pkmhub/pkmhub/internal/todoist"
	"github.com/pkmhub/pkmhub/internal/tracker"
)

// EnvPrefix prefixes environment overrides: PKMHUB_JOPLIN_TOKEN sets joplin.token.
const EnvPrefix = "PKMHUB"

var (
	cfg *Config
	vp  *viper.Viper
	mu  sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Mail     MailConfig     `mapstructure:"mail"`
	Joplin   JoplinConfig   `mapstructure:"joplin"`
	Obsidian ObsidianConfig `mapstructure:"obsidian"`
	Todoist  TodoistConfig  `mapstructure:"todoist"`
	Kindle   ForwardConfig  `mapstructure:"kindle"`
	Trello   ForwardConfig  `mapstructure:"trello"`
	Evernote EvernoteConfig `mapstructure:"evernote"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Lock     LockConfig     `mapstructure:"lock"`
	// Jobs restricts the run to the named jobs; empty runs every configured job.
	Jobs []string `mapstructure:"jobs"`
}

type MailConfig struct {
	SMTP          SMTPConfig          `mapstructure:"smtp"`
	Accounts      []AccountConfig     `mapstructure:"accounts"`
	Archive       bool                `mapstructure:"archive"`
	ArchiveFolder string              `mapstructure:"archive_folder"`
	Forward       []ForwardRuleConfig `mapstructure:"forward"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      bool   `mapstructure:"tls"`
}

type AccountConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ForwardRuleConfig relays one mailbox of an account to an address.
type ForwardRuleConfig struct {
	Account string   `mapstructure:"account"`
	Mailbox string   `mapstructure:"mailbox"`
	To      []string `mapstructure:"to"`
}

type JoplinConfig struct {
	URL                string        `mapstructure:"url"`
	Token              string        `mapstructure:"token"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Mailbox            string        `mapstructure:"mailbox"`
	DefaultNotebook    string        `mapstructure:"default_notebook"`
	DefaultTitlePrefix string        `mapstructure:"default_title_prefix"`
	AutoCreateNotebook bool          `mapstructure:"auto_create_notebook"`
	ProcessedTag       string        `mapstructure:"processed_tag"`
	DeleteProcessed    bool          `mapstructure:"delete_processed"`
	ArchiveNotebook    string        `mapstructure:"archive_notebook"`
	Directory          string        `mapstructure:"directory"`
	FileArchive        string        `mapstructure:"file_archive"`
	OCRTag             string        `mapstructure:"ocr_tag"`
	// FileIgnore lists doublestar patterns, relative to Directory, that the
	// file import leaves alone.
	FileIgnore []string `mapstructure:"file_ignore"`
	// Destination receives mail and file imports: joplin or obsidian.
	Destination string `mapstructure:"destination"`
}

type ObsidianConfig struct {
	VaultPath        string `mapstructure:"vault_path"`
	DefaultFolder    string `mapstructure:"default_folder"`
	AutoCreateFolder bool   `mapstructure:"auto_create_folder"`
}

type TodoistConfig struct {
	Token          string        `mapstructure:"token"`
	BaseURL        string        `mapstructure:"base_url"`
	UploadURL      string        `mapstructure:"upload_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Timezone       string        `mapstructure:"timezone"`
	SourceTag      string        `mapstructure:"source_tag"`
	SourceNotebook string        `mapstructure:"source_notebook"`
	ExportLabel    string        `mapstructure:"export_label"`
	ProcessedLabel string        `mapstructure:"processed_label"`
}

// ForwardConfig mails the notes carrying Tag to Email.
type ForwardConfig struct {
	Email string `mapstructure:"email"`
	Tag   string `mapstructure:"tag"`
}

type EvernoteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Email   string `mapstructure:"email"`
}

type ExtractConfig struct {
	PDFToText       string `mapstructure:"pdftotext"`
	PDFImages       string `mapstructure:"pdfimages"`
	Tesseract       string `mapstructure:"tesseract"`
	Language        string `mapstructure:"language"`
	TempDir         string `mapstructure:"temp_dir"`
	Thumbnails      bool   `mapstructure:"thumbnails"`
	ThumbnailWidth  int    `mapstructure:"thumbnail_width"`
	ThumbnailHeight int    `mapstructure:"thumbnail_height"`
}

type NotifyConfig struct {
	Email []string `mapstructure:"email"`
}

type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// LockConfig enables the Redis run lock when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Key           string        `mapstructure:"key"`
	TTL           time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mail.smtp.host", "")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.username", "")
	v.SetDefault("mail.smtp.password", "")
	v.SetDefault("mail.smtp.from", "")
	v.SetDefault("mail.smtp.tls", false)
	v.SetDefault("mail.archive", true)
	v.SetDefault("mail.archive_folder", "")

	v.SetDefault("joplin.url", "http://localhost:41184")
	v.SetDefault("joplin.token", "")
	v.SetDefault("joplin.timeout", 30*time.Second)
	v.SetDefault("joplin.mailbox", "INBOX")
	v.SetDefault("joplin.default_notebook", "@Inbox")
	v.SetDefault("joplin.default_title_prefix", "Untitled")
	v.SetDefault("joplin.auto_create_notebook", false)
	v.SetDefault("joplin.processed_tag", "")
	v.SetDefault("joplin.delete_processed", false)
	v.SetDefault("joplin.archive_notebook", "")
	v.SetDefault("joplin.directory", "")
	v.SetDefault("joplin.file_archive", "")
	v.SetDefault("joplin.file_ignore", []string{})
	v.SetDefault("joplin.ocr_tag", "")
	v.SetDefault("joplin.destination", "joplin")

	v.SetDefault("obsidian.vault_path", "")
	v.SetDefault("obsidian.default_folder", "Inbox")
	v.SetDefault("obsidian.auto_create_folder", false)

	v.SetDefault("todoist.token", "")
	v.SetDefault("todoist.base_url", todoist.DefaultBaseURL)
	v.SetDefault("todoist.upload_url", todoist.DefaultUploadURL)
	v.SetDefault("todoist.timeout", 30*time.Second)
	v.SetDefault("todoist.timezone", todoist.DefaultTimezone)
	v.SetDefault("todoist.source_tag", "")
	v.SetDefault("todoist.source_notebook", "")
	v.SetDefault("todoist.export_label", "")
	v.SetDefault("todoist.processed_label", "")

	v.SetDefault("kindle.email", "")
	v.SetDefault("kindle.tag", "")
	v.SetDefault("trello.email", "")
	v.SetDefault("trello.tag", "")
	v.SetDefault("evernote.enabled", false)
	v.SetDefault("evernote.email", "")

	v.SetDefault("extract.pdftotext", "pdftotext")
	v.SetDefault("extract.pdfimages", "pdfimages")
	v.SetDefault("extract.tesseract", "tesseract")
	v.SetDefault("extract.language", "eng")
	v.SetDefault("extract.temp_dir", "")
	v.SetDefault("extract.thumbnails", true)
	v.SetDefault("extract.thumbnail_width", 400)
	v.SetDefault("extract.thumbnail_height", 400)

	v.SetDefault("notify.email", []string{})
	v.SetDefault("schedule.cron", "0 */15 * * * *")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.key", "pkmhub:lock:run")
	v.SetDefault("lock.ttl", 30*time.Minute)
	v.SetDefault("jobs", []string{})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, validates the result and makes it the current configuration.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	loaded, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	cfg, vp = loaded, v
	return loaded, nil
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Watch reloads the file loaded by Load whenever it changes. An invalid
// edit is logged and the previous configuration stays current.
func Watch(logger *log.Logger, onChange func(*Config)) {
	mu.RLock()
	v := vp
	mu.RUnlock()
	if v == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logf(logger, "Config file changed: %s", e.Name)
		newCfg, err := decode(v)
		if err != nil {
			logf(logger, "Failed to reload config: %v", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()
		logf(logger, "Configuration reloaded successfully")
		if onChange != nil {
			onChange(newCfg)
		}
	})
	v.WatchConfig()
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Validate reports every missing setting the enabled jobs depend on.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	for _, name := range c.Jobs {
		require(slices.Contains(pipeline.JobOrder, name), "jobs: unknown job %q", name)
	}

	usesJoplin := c.Joplin.Destination == "joplin" && (c.Enabled(pipeline.JobMailToNote) || c.Enabled(pipeline.JobFileToNote))
	for _, name := range []string{pipeline.JobOCRTag, pipeline.JobNoteToKindle, pipeline.JobNoteToTask, pipeline.JobNoteToTrello, pipeline.JobTaskToNote} {
		usesJoplin = usesJoplin || c.Enabled(name)
	}
	if usesJoplin {
		require(c.Joplin.URL != "", "joplin.url is required")
		require(c.Joplin.Token != "", "joplin.token is required")
	}

	switch c.Joplin.Destination {
	case "joplin":
	case "obsidian":
		require(c.Obsidian.VaultPath != "", "obsidian.vault_path is required when joplin.destination is obsidian")
	default:
		errs = append(errs, fmt.Errorf("joplin.destination must be joplin or obsidian, got %q", c.Joplin.Destination))
	}

	for _, pattern := range c.Joplin.FileIgnore {
		require(doublestar.ValidatePattern(pattern), "joplin.file_ignore: invalid pattern %q", pattern)
	}
	if c.Lock.RedisAddr != "" {
		require(c.Lock.TTL > 0, "lock.ttl must be positive")
	}

	if c.NeedsSMTP() {
		require(c.Mail.SMTP.Host != "", "mail.smtp.host is required to send mail")
		require(c.Mail.SMTP.From != "", "mail.smtp.from is required to send mail")
	}

	names := map[string]bool{}
	for i, acc := range c.Mail.Accounts {
		require(acc.Name != "", "mail.accounts[%d].name is required", i)
		require(acc.Host != "", "mail.accounts[%d].host is required", i)
		require(acc.Username != "" && acc.Password != "", "mail.accounts[%d] needs username and password", i)
		names[acc.Name] = true
	}
	for i, rule := range c.Mail.Forward {
		require(names[rule.Account], "mail.forward[%d].account %q is not a configured account", i, rule.Account)
		require(len(rule.To) > 0, "mail.forward[%d].to is required", i)
	}

	if c.Enabled(pipeline.JobNoteToKindle) || c.Enabled(pipeline.JobNoteToTrello) || c.Enabled(pipeline.JobNoteToTask) {
		if _, err := tracker.FromConfig(c.Joplin.Tracker()); err != nil {
			errs = append(errs, fmt.Errorf("joplin: processed_tag, delete_processed or archive_notebook must be set: %w", err))
		}
	}
	if c.Enabled(pipeline.JobNoteToTask) || c.Enabled(pipeline.JobTaskToNote) {
		if _, err := todoist.LoadLocation(c.Todoist.Timezone); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Enabled reports whether job has what it needs to run and is not excluded
// by the jobs list.
func (c *Config) Enabled(job string) bool {
	if len(c.Jobs) > 0 && !slices.Contains(c.Jobs, job) {
		return false
	}
	switch job {
	case pipeline.JobMailForward:
		return len(c.Mail.Forward) > 0
	case pipeline.JobMailToNote:
		return len(c.Mail.Accounts) > 0 && c.Joplin.Mailbox != ""
	case pipeline.JobFileToNote:
		return c.Joplin.Directory != ""
	case pipeline.JobOCRTag:
		return c.Joplin.OCRTag != ""
	case pipeline.JobNoteToKindle:
		return c.Kindle.Email != "" && c.Kindle.Tag != ""
	case pipeline.JobNoteToTask:
		return c.Todoist.Token != "" && (c.Todoist.SourceTag != "" || c.Todoist.SourceNotebook != "")
	case pipeline.JobNoteToTrello:
		return c.Trello.Email != "" && c.Trello.Tag != ""
	case pipeline.JobTaskToNote:
		return c.Todoist.Token != "" && c.Todoist.ExportLabel != ""
	}
	return false
}

// NeedsSMTP reports whether any enabled feature sends mail.
func (c *Config) NeedsSMTP() bool {
	return c.Enabled(pipeline.JobMailForward) ||
		c.Enabled(pipeline.JobNoteToKindle) ||
		c.Enabled(pipeline.JobNoteToTrello) ||
		(c.Evernote.Enabled && c.Evernote.Email != "") ||
		len(c.Notify.Email) > 0
}

// Account returns the mail account called name.
func (c *Config) Account(name string) (AccountConfig, bool) {
	for _, acc := range c.Mail.Accounts {
		if acc.Name == name {
			return acc, true
		}
	}
	return AccountConfig{}, false
}

// Tracker returns the processed-marker settings of the note jobs.
func (j JoplinConfig) Tracker() tracker.Config {
	return tracker.Config{
		Delete:          j.DeleteProcessed,
		ProcessedTag:    j.ProcessedTag,
		ArchiveNotebook: j.ArchiveNotebook,
	}
}

// ReservedTags are the configured tags that must never become task labels.
func (c *Config) ReservedTags() []string {
	var tags []string
	for _, t := range []string{c.Todoist.SourceTag, c.Joplin.ProcessedTag, c.Joplin.OCRTag, c.Kindle.Tag, c.Trello.Tag} {
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
