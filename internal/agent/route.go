package agent

import (
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragent-go/internal/logging"
)

// Router classifies questions.
type Router struct {
	chat Chatter
}

// NewRouter returns a Router backed by chat. A nil chat classifies with
// local rules only.
func NewRouter(chat Chatter) *Router {
	return &Router{chat: chat}
}

var (
	routeLabelRe = regexp.MustCompile(`\b(needs_retrieval|smalltalk|other)\b`)

	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

	whoAreYouRe = regexp.MustCompile(`(?i)(你是谁|你叫什么|你是做什么的|你能做什么|你会什么|who are you|what are you|what can you do|what is your name|what's your name)`)
)

// smalltalkPhrases are whole normalized questions treated as chit-chat.
var smalltalkPhrases = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "sup": {}, "yo": {}, "hola": {},
	"thanks": {}, "thank you": {}, "thx": {}, "bye": {}, "goodbye": {},
	"good morning": {}, "good afternoon": {}, "good evening": {},
	"hello there": {}, "hi there": {}, "how are you": {},
	"你好": {}, "您好": {}, "嗨": {}, "哈喽": {}, "哈囉": {},
	"在吗": {}, "在么": {}, "在嘛": {},
	"早上好": {}, "下午好": {}, "晚上好": {},
	"谢谢": {}, "多谢": {}, "感谢": {}, "再见": {}, "拜拜": {},
}

// normalizeSmalltalk lowercases q and collapses non-word runs to a single
// space.
func normalizeSmalltalk(q string) string {
	s := nonWordRe.ReplaceAllString(strings.ToLower(q), " ")
	return strings.TrimSpace(s)
}

// isSmalltalk reports whether q is a greeting, thanks or a question about
// the assistant itself.
func isSmalltalk(q string) bool {
	norm := normalizeSmalltalk(q)
	if norm == "" {
		return false
	}
	if _, ok := smalltalkPhrases[norm]; ok {
		return true
	}
	if _, ok := smalltalkPhrases[strings.ReplaceAll(norm, " ", "")]; ok {
		return true
	}
	return whoAreYouRe.MatchString(q)
}

// Route classifies question. It never fails: an empty question is
// unknown, and a chat failure degrades to the local smalltalk rules.
func (r *Router) Route(ctx context.Context, question string) Route {
	q := strings.TrimSpace(question)
	if q == "" {
		return RouteUnknown
	}
	if r.chat == nil {
		return fallbackRoute(q)
	}

	msgs := []*schema.Message{
		schema.SystemMessage(routerSystemPrompt),
		schema.UserMessage(routerUserPrompt(q)),
	}
	temp := float32(0)
	out, err := r.chat.Chat(ctx, msgs, &temp)
	if err != nil {
		logging.FromContext(ctx).Warn("router: chat failed, using local rules", slog.Any("error", err))
		return fallbackRoute(q)
	}
	return parseRoute(out)
}

func fallbackRoute(q string) Route {
	if isSmalltalk(q) {
		return RouteSmalltalk
	}
	return RouteUnknown
}

// parseRoute maps a router reply to a Route. English labels must appear as
// whole words; the Chinese labels are accepted anywhere in the reply. When a
// reply names several labels, needs_retrieval wins over smalltalk, which
// wins over other.
func parseRoute(out string) Route {
	s := strings.ToLower(strings.TrimSpace(out))
	if labels := routeLabelRe.FindAllString(s, -1); len(labels) > 0 {
		for _, r := range []Route{RouteNeedsRetrieval, RouteSmalltalk, RouteOther} {
			if slices.Contains(labels, string(r)) {
				return r
			}
		}
	}
	switch {
	case strings.Contains(s, "需要查询知识库"):
		return RouteNeedsRetrieval
	case strings.Contains(s, "闲聊"):
		return RouteSmalltalk
	case strings.Contains(s, "其他"):
		return RouteOther
	}
	return RouteUnknown
}
