package responder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/twin/internal/decision"
	"github.com/kalambet/twin/internal/retrieval"
	"github.com/kalambet/twin/internal/session"
)

// Word limits per channel.
const (
	PhoneMaxWords = 60
	ChatMaxWords  = 180
)

// PromptInput is everything the system prompt is built from.
type PromptInput struct {
	Persona  string
	Channel  session.Channel
	Language string
	Decision decision.Decision
	Chunks   []retrieval.KnowledgeChunk
	// MaxKnowledgeTokens budgets the knowledge section.
	MaxKnowledgeTokens int
}

// BuildSystemPrompt assembles the persona, channel style, language,
// strategy, and knowledge sections. Knowledge chunks are added best first
// until the token budget is spent.
func BuildSystemPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString("[Persona]\n")
	sb.WriteString(in.Persona)
	sb.WriteString("\nYou speak in the first person as this person. Never say you are an AI or a digital twin unless asked directly.")

	sb.WriteString("\n\n[Style]\n")
	if in.Channel == session.ChannelPhone {
		fmt.Fprintf(&sb, "This is a phone call. Be ultra-brief: one or two short spoken sentences, at most %d words. No markdown, lists, emoji, or URLs.", PhoneMaxWords)
	} else {
		fmt.Fprintf(&sb, "This is a text chat. Be concise, at most %d words. Plain text, light formatting only when it helps.", ChatMaxWords)
	}

	sb.WriteString("\n\n[Language]\n")
	fmt.Fprintf(&sb, "Reply in %s, even if the knowledge below is written in another language.", retrieval.LanguageName(in.Language))

	sb.WriteString("\n\n[Strategy]\n")
	sb.WriteString(strategy(in.Decision, len(in.Chunks) > 0))

	if knowledge := knowledgeSection(in.Chunks, in.MaxKnowledgeTokens-EstimateTokens(sb.String())); knowledge != "" {
		sb.WriteString("\n\n[Knowledge]\n")
		sb.WriteString(knowledge)
	}
	return sb.String()
}

func strategy(d decision.Decision, haveKnowledge bool) string {
	switch d.Kind {
	case decision.KindClarify:
		return "The caller's message is unclear. Ask one short follow-up question to understand what they mean. Do not answer yet."
	case decision.KindSearch:
		if haveKnowledge {
			return "Answer using the knowledge section. Prefer its facts over general knowledge. If it doesn't cover the question, say so briefly."
		}
		return "Nothing relevant was found in your notes. Answer from the persona description only and do not invent specific facts, dates, or names."
	default:
		return "Answer directly as the persona."
	}
}

// knowledgeSection renders chunks best first, skipping any chunk that would
// overflow the remaining budget.
func knowledgeSection(chunks []retrieval.KnowledgeChunk, budget int) string {
	if len(chunks) == 0 || budget <= 0 {
		return ""
	}
	sorted := make([]retrieval.KnowledgeChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var sb strings.Builder
	for _, c := range sorted {
		entry := formatChunk(c)
		tokens := EstimateTokens(entry)
		if tokens > budget {
			continue
		}
		sb.WriteString(entry)
		budget -= tokens
	}
	return strings.TrimSpace(sb.String())
}

func formatChunk(c retrieval.KnowledgeChunk) string {
	return fmt.Sprintf("- (%s, %s) %s\n", c.SourceType, c.Language, c.Text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
