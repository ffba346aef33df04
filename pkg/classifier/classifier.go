// Package classifier decides how an incoming query should be handled:
// as a plain informational question answered from retrieved context, or
// as an actionable request handed to the tool-calling agent. The rules
// are deterministic keyword matching; when in doubt the classifier
// stays informational, because answering with text is always safe while
// mutating the workspace is not.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/planhub/ai-engine/pkg/tools"
)

// Mode is the handling decision for a query.
type Mode string

const (
	ModeInformational Mode = "informational"
	ModeAgent         Mode = "agent"
)

// Classification is the routing decision plus the tool categories the
// query appears to touch. Categories are only populated in agent mode.
type Classification struct {
	Mode       Mode
	Categories []tools.Category
}

// actionVerbs signal intent to change workspace state.
var actionVerbs = []string{
	"create", "add", "make", "new",
	"assign", "reassign", "give",
	"update", "change", "set", "move", "rename",
	"mark", "complete", "finish", "close", "reopen",
	"send", "post", "notify", "tell",
	"delete", "remove", "archive",
	"schedule", "start",
}

// categoryNouns map subject words to tool categories.
var categoryNouns = map[string]tools.Category{
	"project":   tools.CategoryProjectManagement,
	"projects":  tools.CategoryProjectManagement,
	"milestone": tools.CategoryProjectManagement,
	"task":      tools.CategoryTaskManagement,
	"tasks":     tools.CategoryTaskManagement,
	"ticket":    tools.CategoryTaskManagement,
	"tickets":   tools.CategoryTaskManagement,
	"todo":      tools.CategoryTaskManagement,
	"todos":     tools.CategoryTaskManagement,
	"message":   tools.CategoryCommunication,
	"messages":  tools.CategoryCommunication,
	"channel":   tools.CategoryCommunication,
	"chat":      tools.CategoryCommunication,
	"member":    tools.CategoryTeam,
	"members":   tools.CategoryTeam,
	"team":      tools.CategoryTeam,
	"teammate":  tools.CategoryTeam,
	"people":    tools.CategoryTeam,
	"roster":    tools.CategoryTeam,
}

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

// Classifier routes queries by keyword rules.
type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

// Classify inspects the query text. Agent mode requires both an action
// verb and a recognizable subject noun; anything less stays
// informational.
func (c *Classifier) Classify(query string) Classification {
	words := wordPattern.FindAllString(strings.ToLower(query), -1)

	hasVerb := false
	for _, w := range words {
		for _, verb := range actionVerbs {
			if w == verb {
				hasVerb = true
				break
			}
		}
		if hasVerb {
			break
		}
	}

	seen := map[tools.Category]bool{}
	for _, w := range words {
		if cat, ok := categoryNouns[w]; ok {
			seen[cat] = true
		}
	}

	if !hasVerb || len(seen) == 0 {
		return Classification{Mode: ModeInformational}
	}

	categories := make([]tools.Category, 0, len(seen))
	for cat := range seen {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	return Classification{Mode: ModeAgent, Categories: categories}
}
