// ABOUTME: Responder wires the registry, decider, generator and outbound together
// ABOUTME: Handles one inbound event end to end: decide, start or join, reply, record, audit

package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-responder/internal/conversation"
	"github.com/2389/coven-responder/internal/decider"
	"github.com/2389/coven-responder/internal/store"
)

// Defaults for Config fields left zero.
const (
	DefaultRecentContextWindow = 5 * time.Minute
	DefaultRecentContextLimit  = 10
	DefaultApology             = "I encountered an error processing your question."
)

// Config holds the Responder's own settings.
type Config struct {
	ResponderID         string   // transport user ID of the responder
	MentionTokens       []string // stripped from questions, e.g. user ID and display name
	RecentContextWindow time.Duration
	RecentContextLimit  int
	DebugChannel        string // receives failure details when set
	Apology             string
}

// Options carries the Responder's collaborators. Registry, Decider,
// Generator and Outbound are required.
type Options struct {
	Registry  *conversation.Registry
	Decider   *decider.Decider
	Generator Generator
	Outbound  Outbound
	History   HistorySource // optional, no seeding when nil
	Audit     AuditSink     // optional
	Now       func() time.Time
	Logger    *slog.Logger
}

// Result describes what HandleMessage did with an event.
type Result struct {
	Ignored        bool // responder's own message
	Stage          store.Stage
	Respond        bool
	Reason         decider.Reason
	ConversationID string
	Started        bool // this event opened the conversation
	Replied        bool // a reply was sent and its turn recorded
}

// Responder handles inbound events.
type Responder struct {
	cfg       Config
	registry  *conversation.Registry
	decider   *decider.Decider
	generator Generator
	outbound  Outbound
	history   HistorySource
	audit     AuditSink
	mentions  *mentionStripper
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Responder.
func New(cfg Config, opts Options) (*Responder, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("responder: registry is required")
	case opts.Decider == nil:
		return nil, errors.New("responder: decider is required")
	case opts.Generator == nil:
		return nil, errors.New("responder: generator is required")
	case opts.Outbound == nil:
		return nil, errors.New("responder: outbound is required")
	case cfg.ResponderID == "":
		return nil, errors.New("responder: responder ID is required")
	}

	if cfg.RecentContextWindow <= 0 {
		cfg.RecentContextWindow = DefaultRecentContextWindow
	}
	if cfg.RecentContextLimit <= 0 {
		cfg.RecentContextLimit = DefaultRecentContextLimit
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Responder{
		cfg:       cfg,
		registry:  opts.Registry,
		decider:   opts.Decider,
		generator: opts.Generator,
		outbound:  opts.Outbound,
		history:   opts.History,
		audit:     opts.Audit,
		mentions:  newMentionStripper(cfg.MentionTokens),
		now:       opts.Now,
		logger:    opts.Logger.With("component", "responder"),
	}, nil
}

// HandleMessage processes one inbound event. Errors are scoped to this
// event; a *MalformedEventError means nothing was touched.
func (r *Responder) HandleMessage(ctx context.Context, ev Event) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}

	record := ev.Record(r.cfg.ResponderID)
	if record.IsResponder {
		return Result{Ignored: true}, nil
	}

	res, conv, err := r.decide(ctx, ev.ChannelID, record)
	if err != nil {
		return res, err
	}

	r.logger.Info("decision",
		"channel", ev.ChannelID,
		"message_id", ev.MessageID,
		"decision", res.Respond,
		"reason", res.Reason,
		"stage", res.Stage,
		"conversation_id", res.ConversationID)
	r.recordDecision(ctx, ev, res)

	if !res.Respond {
		return res, nil
	}

	if err := r.reply(ctx, conv, record, res.Reason); err != nil {
		return res, err
	}
	res.Replied = true
	return res, nil
}

// decide runs the join path when a conversation is live and the start path
// otherwise. conv is the snapshot the reply should be generated from.
func (r *Responder) decide(ctx context.Context, channelID string, record conversation.MessageRecord) (Result, *conversation.Conversation, error) {
	if _, ok := r.registry.Get(channelID); ok {
		conv, err := r.registry.RecordMessage(channelID, record)
		switch {
		case err == nil:
			return r.respondStage(ctx, record, conv, false), conv, nil
		case errors.Is(err, conversation.ErrStaleRecord):
			// Expired between Get and RecordMessage.
			r.logger.Debug("conversation vanished, trying start",
				"channel", channelID,
				"message_id", record.ID)
		default:
			return Result{}, nil, fmt.Errorf("recording message: %w", err)
		}
	}

	start, reason := r.decider.ShouldStart(record, r.cfg.ResponderID)
	if !start {
		return Result{Stage: store.StageStart, Reason: reason}, nil, nil
	}

	seed := r.seed(ctx, channelID, record)
	conv, err := r.registry.Start(channelID, record, seed)
	if err == nil {
		return Result{
			Stage:          store.StageStart,
			Respond:        true,
			Reason:         reason,
			ConversationID: conv.ID,
			Started:        true,
		}, conv, nil
	}
	if !errors.Is(err, conversation.ErrConflict) {
		return Result{}, nil, fmt.Errorf("starting conversation: %w", err)
	}

	// Lost the start race: join the winner's conversation.
	conv, err = r.registry.RecordMessage(channelID, record)
	if err != nil {
		return Result{}, nil, fmt.Errorf("joining conversation: %w", err)
	}
	return r.respondStage(ctx, record, conv, true), conv, nil
}

func (r *Responder) respondStage(ctx context.Context, record conversation.MessageRecord, conv *conversation.Conversation, joined bool) Result {
	respond, reason := r.decider.ShouldRespond(ctx, record, conv, r.cfg.ResponderID)
	if joined {
		r.logger.Debug("joined concurrent conversation",
			"channel", conv.ChannelID,
			"conversation_id", conv.ID)
	}
	return Result{
		Stage:          store.StageRespond,
		Respond:        respond,
		Reason:         reason,
		ConversationID: conv.ID,
	}
}

// seed fetches recent channel history for a new conversation. Failures
// degrade to an unseeded conversation.
func (r *Responder) seed(ctx context.Context, channelID string, trigger conversation.MessageRecord) []conversation.MessageRecord {
	if r.history == nil {
		return nil
	}

	since := trigger.Timestamp.Add(-r.cfg.RecentContextWindow)
	msgs, err := r.history.Recent(ctx, channelID, since, r.cfg.RecentContextLimit+1)
	if err != nil {
		r.logger.Warn("fetching recent context failed",
			"channel", channelID,
			"error", err)
		return nil
	}

	seed := make([]conversation.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == trigger.ID && m.ID != "" {
			continue
		}
		seed = append(seed, m)
	}
	if len(seed) > r.cfg.RecentContextLimit {
		seed = seed[len(seed)-r.cfg.RecentContextLimit:]
	}
	return seed
}

// reply generates, sends and records one turn. No registry lock is held
// while generating.
func (r *Responder) reply(ctx context.Context, conv *conversation.Conversation, record conversation.MessageRecord, reason decider.Reason) error {
	channelID := conv.ChannelID
	question := r.mentions.Extract(record.Content)

	stopTyping := r.startTyping(ctx, channelID)
	answer, err := r.generator.Generate(ctx, GenerateRequest{
		Question:     question,
		Trigger:      record,
		Conversation: conv,
		Reason:       reason,
	})
	stopTyping()

	if ctx.Err() != nil {
		r.logger.Info("discarding reply for abandoned request",
			"channel", channelID,
			"conversation_id", conv.ID,
			"message_id", record.ID)
		return fmt.Errorf("reply abandoned: %w", ctx.Err())
	}
	if err != nil {
		r.fail(ctx, channelID, record, question, "generating reply", err, true)
		return fmt.Errorf("generating reply: %w", err)
	}

	if err := r.outbound.Send(ctx, channelID, answer); err != nil {
		r.fail(ctx, channelID, record, question, "sending reply", err, false)
		return fmt.Errorf("sending reply: %w", err)
	}

	err = r.registry.RecordResponse(channelID, conv.ID, conversation.Turn{
		MessageID:  record.ID,
		Question:   question,
		Answer:     answer,
		Reason:     string(reason),
		AnsweredAt: r.now(),
	})
	if err != nil {
		// The reply already went out; only the turn is lost.
		r.logger.Warn("dropping response turn",
			"channel", channelID,
			"conversation_id", conv.ID,
			"error", err)
	}
	return nil
}

func (r *Responder) startTyping(ctx context.Context, channelID string) func() {
	typer, ok := r.outbound.(Typer)
	if !ok {
		return func() {}
	}
	if err := typer.SetTyping(ctx, channelID, true); err != nil {
		r.logger.Debug("typing indicator failed", "channel", channelID, "error", err)
		return func() {}
	}
	return func() {
		// Clear typing even when ctx is already cancelled.
		if err := typer.SetTyping(context.WithoutCancel(ctx), channelID, false); err != nil {
			r.logger.Debug("clearing typing indicator failed", "channel", channelID, "error", err)
		}
	}
}

// fail logs a failed reply, apologises in the channel when apologise is set
// and posts the detail to the debug channel.
func (r *Responder) fail(ctx context.Context, channelID string, record conversation.MessageRecord, question, op string, cause error, apologise bool) {
	r.logger.Error("reply failed",
		"channel", channelID,
		"message_id", record.ID,
		"op", op,
		"error", cause)

	if apologise {
		if err := r.outbound.Send(ctx, channelID, r.cfg.Apology); err != nil {
			r.logger.Error("sending apology failed", "channel", channelID, "error", err)
		}
	}

	if r.cfg.DebugChannel == "" || r.cfg.DebugChannel == channelID {
		return
	}
	detail := fmt.Sprintf("Error %s in %s\nError: %v\nQuestion: %s\nUser: %s (%s)",
		op, channelID, cause, question, record.AuthorName, record.AuthorID)
	if err := r.outbound.Send(ctx, r.cfg.DebugChannel, detail); err != nil {
		r.logger.Error("sending debug report failed", "channel", r.cfg.DebugChannel, "error", err)
	}
}

func (r *Responder) recordDecision(ctx context.Context, ev Event, res Result) {
	if r.audit == nil {
		return
	}

	d := &store.Decision{
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		AuthorID:  ev.AuthorID,
		Stage:     res.Stage,
		Respond:   res.Respond,
		Reason:    string(res.Reason),
		Timestamp: r.now().UTC(),
		Detail: map[string]any{
			"mentions_responder": ev.MentionsResponder,
			"is_reply":           ev.ReplyTo != nil,
			"is_bot":             ev.IsBot,
			"started":            res.Started,
		},
	}
	if res.ConversationID != "" {
		id := res.ConversationID
		d.ConversationID = &id
	}

	if err := r.audit.AppendDecision(ctx, d); err != nil {
		r.logger.Warn("audit append failed",
			"channel", ev.ChannelID,
			"message_id", ev.MessageID,
			"error", err)
	}
}
