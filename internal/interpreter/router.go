package interpreter

import (
	"context"
	"fmt"
	"strings"

	"github.com/tazhate/weatherplanner/internal/domain"
	"github.com/tazhate/weatherplanner/pkg/logger"
)

var (
	scheduleKeywords = []string{"schedule", "book", "plan", "arrange", "set up", "add to calendar"}
	deleteKeywords   = []string{"delete", "remove", "cancel", "clear"}
)

const helpHint = `I can manage your calendar. Try "schedule a run tomorrow morning", "book gym at 7pm for 2 hours" or "cancel picnic".`

// ChatRequest is a chat message with the context it was sent in
type ChatRequest struct {
	Text     string
	Scope    domain.Scope
	Weather  domain.Weather
	Location string
}

// ChatReply is the assistant's answer to a chat message
type ChatReply struct {
	Text      string          `json:"text"`
	Scheduled *ScheduleResult `json:"scheduled,omitempty"`
	Deleted   *DeleteResult   `json:"deleted,omitempty"`
}

// Router detects calendar intents in chat messages and dispatches them.
// A message may carry both intents; scheduling runs first.
type Router struct {
	scheduler *Scheduler
	deleter   *Deleter
	log       logger.Logger
}

func NewRouter(scheduler *Scheduler, deleter *Deleter, opts ...Option) *Router {
	o := buildOptions(opts)
	return &Router{scheduler: scheduler, deleter: deleter, log: o.log}
}

// Handle answers one chat message
func (r *Router) Handle(ctx context.Context, req ChatRequest) ChatReply {
	text := strings.ToLower(req.Text)
	wantSchedule := containsAny(text, scheduleKeywords...)
	wantDelete := containsAny(text, deleteKeywords...)

	r.log.Debug(ctx, "chat message routed",
		logger.String("scope", req.Scope.String()),
		logger.Bool("schedule", wantSchedule),
		logger.Bool("delete", wantDelete),
	)

	if !wantSchedule && !wantDelete {
		return ChatReply{Text: helpHint}
	}

	var reply ChatReply
	var lines []string

	if wantSchedule {
		res := r.scheduler.Schedule(ctx, ScheduleRequest{
			Text:     req.Text,
			Weather:  req.Weather,
			Location: req.Location,
			Scope:    req.Scope,
		})
		reply.Scheduled = &res
		if res.Success {
			lines = append(lines, fmt.Sprintf("✅ I've scheduled %q for you! %s", res.Event.Title, res.Message))
		} else {
			lines = append(lines, "❌ I couldn't schedule that activity: "+res.Message)
		}
	}

	if wantDelete {
		res := r.deleter.Delete(ctx, DeleteRequest{Text: req.Text, Scope: req.Scope})
		reply.Deleted = &res
		if res.Success {
			lines = append(lines, fmt.Sprintf("🗑️ I've deleted %d event(s) for you! %s", res.DeletedCount, res.Message))
		} else {
			lines = append(lines, "❌ I couldn't delete those events: "+res.Message)
		}
	}

	reply.Text = strings.Join(lines, "\n\n")
	return reply
}
