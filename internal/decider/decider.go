// ABOUTME: Tiered response policy for starting conversations and answering messages
// ABOUTME: Explicit trigger, recent follow-up heuristic, optional judge, then default

package decider

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/coven-responder/internal/conversation"
)

// Reason explains a decision. Values are stable strings for audit logs.
type Reason string

const (
	ReasonExplicitTrigger  Reason = "explicit_trigger"
	ReasonNoTrigger        Reason = "no_trigger"
	ReasonRecentFollowup   Reason = "recent_followup"
	ReasonLLMJudge         Reason = "llm_judge"
	ReasonJudgeUnavailable Reason = "judge_unavailable"
)

// Defaults for Config fields left zero.
const (
	DefaultFollowupWindow       = 60 * time.Second
	DefaultJudgeTimeout         = 10 * time.Second
	DefaultJudgeContextMessages = 10
)

// Judge answers a yes/no question posed as a prompt.
type Judge interface {
	Judge(ctx context.Context, prompt string) (bool, error)
}

// Config tunes the decider.
type Config struct {
	FollowupWindow       time.Duration
	UseJudge             bool
	JudgeTimeout         time.Duration
	JudgeContextMessages int
}

// Decider implements the response policy.
type Decider struct {
	cfg   Config
	judge Judge
}

// New creates a Decider. judge may be nil, which disables the judge tier.
func New(cfg Config, judge Judge) *Decider {
	if cfg.FollowupWindow <= 0 {
		cfg.FollowupWindow = DefaultFollowupWindow
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = DefaultJudgeTimeout
	}
	if cfg.JudgeContextMessages <= 0 {
		cfg.JudgeContextMessages = DefaultJudgeContextMessages
	}
	return &Decider{cfg: cfg, judge: judge}
}

// ShouldStart reports whether msg should open a new conversation.
func (d *Decider) ShouldStart(msg conversation.MessageRecord, responderID string) (bool, Reason) {
	if isExplicit(msg, responderID) {
		return true, ReasonExplicitTrigger
	}
	return false, ReasonNoTrigger
}

// ShouldRespond reports whether the responder should answer msg within conv.
// A nil conv behaves like a conversation in which the responder has not spoken.
func (d *Decider) ShouldRespond(ctx context.Context, msg conversation.MessageRecord, conv *conversation.Conversation, responderID string) (bool, Reason) {
	if isExplicit(msg, responderID) {
		return true, ReasonExplicitTrigger
	}

	if d.withinFollowupWindow(msg, conv) && LooksLikeFollowup(msg.Content) {
		return true, ReasonRecentFollowup
	}

	if d.cfg.UseJudge && d.judge != nil {
		return d.askJudge(ctx, msg, conv)
	}

	return false, ReasonNoTrigger
}

func isExplicit(msg conversation.MessageRecord, responderID string) bool {
	return msg.MentionsResponder || msg.RepliesTo(responderID)
}

// withinFollowupWindow reports whether the responder's last turn is recent
// enough, relative to the message timestamp, for the follow-up heuristic.
func (d *Decider) withinFollowupWindow(msg conversation.MessageRecord, conv *conversation.Conversation) bool {
	if conv == nil {
		return false
	}
	turn, ok := conv.LastTurn()
	if !ok {
		return false
	}
	elapsed := msg.Timestamp.Sub(turn.AnsweredAt)
	// Sent while the answer was being written.
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed <= d.cfg.FollowupWindow
}

type judgeResult struct {
	ok  bool
	err error
}

// askJudge runs the judge under the configured timeout. The judge runs in
// its own goroutine so a judge that ignores ctx cannot stall the caller;
// its late answer lands in a buffered channel nobody reads.
func (d *Decider) askJudge(ctx context.Context, msg conversation.MessageRecord, conv *conversation.Conversation) (bool, Reason) {
	if ctx.Err() != nil {
		return false, ReasonJudgeUnavailable
	}

	jctx, cancel := context.WithTimeout(ctx, d.cfg.JudgeTimeout)
	defer cancel()

	prompt := BuildJudgePrompt(msg, conv, d.cfg.JudgeContextMessages)
	results := make(chan judgeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- judgeResult{err: fmt.Errorf("judge panicked: %v", r)}
			}
		}()
		ok, err := d.judge.Judge(jctx, prompt)
		results <- judgeResult{ok: ok, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return false, ReasonJudgeUnavailable
		}
		return res.ok, ReasonLLMJudge
	case <-jctx.Done():
		return false, ReasonJudgeUnavailable
	}
}
