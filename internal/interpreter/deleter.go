package interpreter

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

// DeleteRequest is one deletion utterance
type DeleteRequest struct {
	Text  string
	Scope domain.Scope
}

// DeleteResult reports what a deletion request removed
type DeleteResult struct {
	Success       bool           `json:"success"`
	DeletedCount  int            `json:"deletedCount"`
	DeletedEvents []domain.Event `json:"deletedEvents,omitempty"`
	Message       string         `json:"message"`
}

const noEventsMessage = "No events found matching your request."

var deleteStopWords = map[string]struct{}{
	"delete": {}, "remove": {}, "cancel": {}, "clear": {},
	"the": {}, "my": {}, "events": {},
}

// Deleter removes the events a free-text request selects
type Deleter struct {
	store EventStore
	opts  options
}

func NewDeleter(store EventStore, opts ...Option) *Deleter {
	return &Deleter{store: store, opts: buildOptions(opts)}
}

// Delete selects and removes events in a single store write. Failures are
// reported in the result; Delete never returns an error.
func (d *Deleter) Delete(ctx context.Context, req DeleteRequest) DeleteResult {
	match := d.Selector(req.Text)

	deleted, err := d.store.DeleteMatching(ctx, req.Scope, match)
	if err != nil {
		d.opts.metrics.Interpretation("delete", false)
		d.opts.log.Warn(ctx, "delete failed",
			logger.String("scope", req.Scope.String()),
			logger.String("text", req.Text),
			logger.Error(err),
		)
		return DeleteResult{Message: fmt.Sprintf("Sorry, I couldn't delete those events: %v", err)}
	}

	if len(deleted) == 0 {
		d.opts.metrics.Interpretation("delete", false)
		return DeleteResult{Message: noEventsMessage}
	}

	d.opts.metrics.Interpretation("delete", true)
	msg := fmt.Sprintf("Deleted %d events", len(deleted))
	if len(deleted) == 1 {
		msg = fmt.Sprintf("Deleted %q", deleted[0].Title)
	}
	return DeleteResult{
		Success:       true,
		DeletedCount:  len(deleted),
		DeletedEvents: deleted,
		Message:       msg,
	}
}

// Selector returns the predicate the first matching rule yields for text.
// Rules in order: all/everything, today, tomorrow, keyword tokens.
func (d *Deleter) Selector(text string) func(domain.Event) bool {
	text = strings.ToLower(text)

	switch {
	case containsAny(text, "all", "everything"):
		return func(domain.Event) bool { return true }
	case strings.Contains(text, "today"):
		from := domain.StartOfDay(d.opts.localNow(), d.opts.loc)
		to := from.AddDate(0, 0, 1)
		return func(e domain.Event) bool { return e.StartsWithin(from, to) }
	case strings.Contains(text, "tomorrow"):
		from := domain.StartOfDay(d.opts.localNow(), d.opts.loc).AddDate(0, 0, 1)
		to := from.AddDate(0, 0, 1)
		return func(e domain.Event) bool { return e.StartsWithin(from, to) }
	}

	tokens := keywordTokens(text)
	return func(e domain.Event) bool {
		return containsAny(e.SearchText(), tokens...)
	}
}

func keywordTokens(text string) []string {
	var tokens []string
	for _, w := range strings.Fields(text) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := deleteStopWords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}
