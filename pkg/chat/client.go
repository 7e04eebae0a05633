// Package chat reads channel history and downloads attachments from the Slack
// Web API.
package chat

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// DefaultPageSize is the number of messages requested per history page.
const DefaultPageSize = 200

// PDFFileType is the Slack filetype of PDF attachments.
const PDFFileType = "pdf"

// File is an attachment of a channel message.
type File struct {
	ID          string
	Name        string
	FileType    string
	DownloadURL string
}

// IsPDF reports whether Slack classified the file as a PDF.
func (f File) IsPDF() bool {
	return strings.EqualFold(f.FileType, PDFFileType)
}

// Message is a channel message with its attachments.
type Message struct {
	// Timestamp is the raw Slack "ts" value, which doubles as the message ID.
	Timestamp string
	PostedAt  time.Time
	Files     []File
}

// Client is the subset of the Slack Web API the ingest uses.
type Client interface {
	// History returns the channel messages posted at or after oldest,
	// following pagination. A zero oldest reads the whole history.
	History(ctx context.Context, channelID string, oldest time.Time) ([]Message, error)
	// Download fetches the file at url, authenticating with token as a
	// bearer credential.
	Download(ctx context.Context, url, token string) ([]byte, error)
}

// Options configure the Slack client.
type Options struct {
	// APIURL overrides the Web API base URL. Empty uses slack.APIURL.
	APIURL     string
	PageSize   int
	HTTPClient *http.Client
}

type client struct {
	api      *slack.Client
	options  []slack.Option
	pageSize int
}

// NewClient creates a Slack client authenticated with the bot token.
func NewClient(botToken string, opts Options) Client {
	var options []slack.Option
	if opts.APIURL != "" {
		apiURL := opts.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		options = append(options, slack.OptionAPIURL(apiURL))
	}
	if opts.HTTPClient != nil {
		options = append(options, slack.OptionHTTPClient(opts.HTTPClient))
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	return &client{
		api:      slack.New(botToken, options...),
		options:  options,
		pageSize: pageSize,
	}
}

func (c *client) History(ctx context.Context, channelID string, oldest time.Time) ([]Message, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel ID is required: %w", errors.ErrInvalidArgument)
	}

	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Inclusive: true,
		Limit:     c.pageSize,
	}
	if !oldest.IsZero() {
		params.Oldest = FormatTimestamp(oldest)
	}

	var messages []Message
	for {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, historyError(channelID, err)
		}

		for _, m := range resp.Messages {
			msg, err := toMessage(m)
			if err != nil {
				return nil, err
			}
			// Slack compares oldest with a precision the watermark may
			// exceed, so the bound is enforced here as well.
			if !oldest.IsZero() && msg.PostedAt.Before(oldest) {
				continue
			}
			messages = append(messages, msg)
		}

		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			return messages, nil
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}
}

// notFoundCodes are the Slack error codes of channels the bot can't see.
var notFoundCodes = map[string]bool{
	"channel_not_found": true,
	"not_found":         true,
}

// historyError classifies a conversations.history failure. Unknown channels
// are errors.ErrNotFound; anything else is errors.ErrUnavailable.
func historyError(channelID string, err error) error {
	var slackErr slack.SlackErrorResponse
	if stderrors.As(err, &slackErr) && notFoundCodes[slackErr.Err] {
		return fmt.Errorf("reading history of %s: %v: %w", channelID, err, errors.ErrNotFound)
	}
	return fmt.Errorf("reading history of %s: %v: %w", channelID, err, errors.ErrUnavailable)
}

func (c *client) Download(ctx context.Context, url, token string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("download URL is required: %w", errors.ErrInvalidArgument)
	}

	api := c.api
	if token != "" {
		api = slack.New(token, c.options...)
	}

	var buf bytes.Buffer
	if err := api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, fmt.Errorf("Network error downloading %s: %v: %w", url, err, errors.ErrUnavailable)
	}
	return buf.Bytes(), nil
}

func toMessage(m slack.Message) (Message, error) {
	postedAt, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return Message{}, err
	}

	files := make([]File, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, File{
			ID:          f.ID,
			Name:        f.Name,
			FileType:    f.Filetype,
			DownloadURL: f.URLPrivateDownload,
		})
	}

	return Message{
		Timestamp: m.Timestamp,
		PostedAt:  postedAt,
		Files:     files,
	}, nil
}

// ParseTimestamp converts a Slack "ts" ("<unix seconds>.<micros>") into a
// time.
func ParseTimestamp(ts string) (time.Time, error) {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing Slack timestamp %q: %w", ts, err)
	}

	var micros int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		if micros, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("parsing Slack timestamp %q: %w", ts, err)
		}
	}
	return time.Unix(s, micros*int64(time.Microsecond)).UTC(), nil
}

// FormatTimestamp renders t in the Slack "ts" format, truncated to
// microseconds.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
