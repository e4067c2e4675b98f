package caed

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// ErrMissingField is returned when a successful response lacks a field the
// client depends on (the login token, nomeArquivo).
var ErrMissingField = errors.New("missing field in response")

// AuthenticationError is a non-success response from the login endpoint,
// Body is the response body as received.
type AuthenticationError struct {
	Status int
	Body   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (status %d): %s", e.Status, summarizeBody(e.Body))
}

// SubmissionError is a non-success response from the export request
// endpoint. Message is the server's reported error or the raw body.
type SubmissionError struct {
	Status  int
	Message string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("export request rejected (status %d): %s", e.Status, summarizeBody(e.Message))
}

// HistoryQueryError is a failure of one of the export history endpoints.
type HistoryQueryError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *HistoryQueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("history query %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("history query %s: status %d", e.Endpoint, e.Status)
}

func (e *HistoryQueryError) Unwrap() error {
	return e.Err
}

// DownloadError is a non-success response from the file download endpoint,
// Body is the response body as received.
type DownloadError struct {
	FileName string
	Status   int
	Body     string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s failed (status %d): %s", e.FileName, e.Status, summarizeBody(e.Body))
}

// RequestError is a non-success response from the form metadata endpoints.
type RequestError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, summarizeBody(e.Body))
}

const maxBodySummary = 512

// summarizeBody makes an error body readable for messages. The gateway
// answers some failures with an html page (proxy errors, maintenance), only
// its visible text is kept. Long bodies are cut on a rune boundary.
func summarizeBody(body string) string {
	text := body
	if strings.HasPrefix(strings.TrimSpace(body), "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err == nil {
			title := strings.TrimSpace(doc.Find("title").First().Text())
			content := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
			switch {
			case title != "" && content != "" && !strings.HasPrefix(content, title):
				text = title + ": " + content
			case content != "":
				text = content
			case title != "":
				text = title
			}
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > maxBodySummary {
		cut := maxBodySummary
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
