// Package prompt assembles the model payload for one turn. Composition
// is a pure function of its inputs so identical turns always produce
// identical payloads.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ent0n29/jarvis/internal/actions"
	"github.com/ent0n29/jarvis/internal/memory"
)

// Block is one role-tagged segment of the model payload.
type Block struct {
	Role    memory.Role
	Content string
}

// Payload is the ordered sequence of blocks sent to the model:
// system preamble, short-term buffer, retrieved context, current
// utterance.
type Payload struct {
	Blocks []Block
}

const defaultBudgetRunes = 6000

// Composer holds the sizing knobs; zero value uses defaults.
type Composer struct {
	// BudgetRunes caps the total payload size. The preamble and the
	// current utterance are never truncated; retrieved context goes
	// first (oldest entries dropped first), then the oldest turns of
	// the short-term buffer.
	BudgetRunes int
}

// Compose builds the payload in the fixed order the model contract
// requires. recent must be chronological; hits must be
// most-similar-first.
func (c Composer) Compose(
	utterance string,
	recent []memory.Turn,
	hits []memory.ScoredTurn,
	vocabulary []actions.VocabularyEntry,
) Payload {
	budget := c.BudgetRunes
	if budget <= 0 {
		budget = defaultBudgetRunes
	}

	preamble := buildPreamble(vocabulary)
	used := len([]rune(preamble)) + len([]rune(utterance))

	recentBlocks := make([]Block, 0, len(recent))
	for _, t := range recent {
		recentBlocks = append(recentBlocks, Block{Role: t.Role, Content: t.Text})
	}

	memoryLines := renderEarlierContext(hits)

	// Spend the remaining budget on context: memory entries are dropped
	// oldest-first, then the oldest short-term turns. Recency and the
	// utterance itself survive everything.
	remaining := budget - used
	memoryLines, remaining = fitTail(memoryLines, remaining)
	recentBlocks = fitBlocksTail(recentBlocks, remaining)

	blocks := make([]Block, 0, len(recentBlocks)+3)
	blocks = append(blocks, Block{Role: memory.RoleSystem, Content: preamble})
	blocks = append(blocks, recentBlocks...)
	if len(memoryLines) > 0 {
		blocks = append(blocks, Block{
			Role:    memory.RoleSystem,
			Content: "Earlier context from memory:\n" + strings.Join(memoryLines, "\n"),
		})
	}
	blocks = append(blocks, Block{Role: memory.RoleUser, Content: utterance})
	return Payload{Blocks: blocks}
}

func buildPreamble(vocabulary []actions.VocabularyEntry) string {
	var sb strings.Builder
	sb.WriteString("You are Jarvis, a helpful voice assistant. Reply in short spoken sentences.\n")
	if len(vocabulary) == 0 {
		return sb.String()
	}
	sb.WriteString("You can perform system actions. To run one, include a tag like [action_name key=value] in your reply.\n")
	sb.WriteString("Available actions:\n")
	for _, v := range vocabulary {
		sb.WriteString("- ")
		sb.WriteString(v.Name)
		if v.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(v.Description)
		}
		if v.SchemaJSON != "" {
			sb.WriteString(" arguments schema: ")
			sb.WriteString(v.SchemaJSON)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString("Use at most one action per reply, and only when the user asked for it.\n")
	return sb.String()
}

func renderEarlierContextLine(hit memory.ScoredTurn) string {
	return fmt.Sprintf("[memory %s] %s", hit.Turn.Role, hit.Turn.Text)
}

// renderEarlierContext orders retrieval hits chronologically so the
// model reads them like a transcript; similarity already decided what
// made the cut.
func renderEarlierContext(hits []memory.ScoredTurn) []string {
	ordered := make([]memory.ScoredTurn, len(hits))
	copy(ordered, hits)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j-1].Turn.TurnID > ordered[j].Turn.TurnID; j-- {
			ordered[j-1], ordered[j] = ordered[j], ordered[j-1]
		}
	}
	out := make([]string, 0, len(ordered))
	for _, h := range ordered {
		out = append(out, renderEarlierContextLine(h))
	}
	return out
}

// fitTail keeps the newest suffix of lines that fits the budget and
// returns what remains of it.
func fitTail(lines []string, budget int) ([]string, int) {
	if budget <= 0 {
		return nil, 0
	}
	total := 0
	cut := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		n := len([]rune(lines[i])) + 1
		if total+n > budget {
			break
		}
		total += n
		cut = i
	}
	return lines[cut:], budget - total
}

func fitBlocksTail(blocks []Block, budget int) []Block {
	if budget <= 0 {
		return nil
	}
	total := 0
	cut := len(blocks)
	for i := len(blocks) - 1; i >= 0; i-- {
		n := len([]rune(blocks[i].Content)) + 1
		if total+n > budget {
			break
		}
		total += n
		cut = i
	}
	return blocks[cut:]
}
