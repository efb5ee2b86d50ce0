// Package status implements the turn's status-message picker: a stateful,
// non-repeating selector over categorized "raccoon" status copy.
package status

import (
	"math/rand"
	"strings"
	"sync"
)

// Category is one of the fixed status categories. Unknown categories fall
// back to Thinking.
type Category string

const (
	Thinking      Category = "thinking"
	Coding        Category = "coding"
	Generating    Category = "generating"
	Searching     Category = "searching"
	Deploying     Category = "deploying"
	ErrorRecovery Category = "error_recovery"
	ReadingCode   Category = "reading_code"
)

// Categories lists every recognized category, in a stable order.
var Categories = []Category{
	Thinking, Coding, Generating, Searching, Deploying, ErrorRecovery, ReadingCode,
}

var bank = map[Category][]string{
	Thinking: {
		"thinking about this...",
		"untangling your requirements...",
		"consulting the raccoon council...",
		"reading between the lines...",
		"pondering the edge cases...",
		"considering 14 possible approaches, discarding 13...",
		"having a quick existential crisis about types...",
		"contemplating the void...",
		"asking the rubber duck...",
		"thinking raccoon thoughts...",
		"processing at the speed of thought...",
		"one moment, having an existential crisis...",
		"buffering genius...",
	},
	Coding: {
		"writing code that hopefully compiles...",
		"brewing your landing page...",
		"refactoring things you didn't ask me to refactor...",
		"adding semicolons in all the right places...",
		"building something with unreasonable attention to detail...",
		"reading your spaghetti code... trying not to judge...",
		"deleting my first attempt. you'll never know.",
		"arguing with the linter...",
		"writing code at 3am energy...",
		"refactoring reality...",
		"debugging the matrix...",
		"compiling thoughts...",
		"stack overflowing gracefully...",
		"git committing to the cause...",
	},
	Generating: {
		"drafting something worth reading...",
		"choosing words carefully...",
		"writing, rewriting, re-rewriting...",
		"making your bullet points bulletproof...",
		"turning caffeine into documentation...",
		"generating prose that doesn't sound like a robot...",
		"assembling pixels...",
		"summoning components...",
		"crafting something beautiful...",
		"weaving HTML with care...",
		"painting with CSS...",
	},
	Searching: {
		"digging through the internet...",
		"searching for answers in the digital void...",
		"reading docs so you don't have to...",
		"cross-referencing sources like a paranoid librarian...",
		"going down a rabbit hole for you...",
		"asking the hive mind...",
		"raiding the knowledge base...",
		"foraging for answers...",
		"consulting the archives...",
	},
	Deploying: {
		"shipping it...",
		"deploying to prod on a friday. you asked for this.",
		"running your build. fingers crossed.",
		"testing in production like a professional...",
		"pushing to the void and hoping for the best...",
		"watching the CI pipeline like a hawk...",
		"releasing into the wild...",
		"launching to the moon...",
		"pushing pixels to production...",
		"making it live...",
	},
	ErrorRecovery: {
		"hmm, that didn't work. plan B.",
		"retrying with more optimism...",
		"something broke. fixing it before you notice.",
		"the raccoon tripped. getting back up.",
		"adjusting expectations...",
	},
	ReadingCode: {
		"reading your spaghetti code...",
		"parsing the chaos...",
		"judging your variable names...",
		"untangling the dependency graph...",
		"deciphering ancient commit messages...",
		"finding where the bug lives...",
	},
}

// Picker selects a message from a category, never repeating the message
// returned by its immediately preceding call (across categories). A Picker
// is scoped to a single turn; it does not need to be shared across turns,
// but the mutex makes concurrent use within a turn safe regardless.
type Picker struct {
	mu   sync.Mutex
	last string
}

// NewPicker returns a fresh Picker with no prior message recorded.
func NewPicker() *Picker {
	return &Picker{}
}

// ParseCategory normalizes a free-form category string into a Category,
// reporting whether it was recognized.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := bank[c]; ok {
		return c, true
	}
	return "", false
}

// Pick returns a random message from category, excluding the message
// returned by the previous call. Unknown categories fall back to Thinking.
// If the category (after fallback) has only one message, repetition is
// permitted.
func (p *Picker) Pick(category Category) string {
	messages, ok := bank[category]
	if !ok {
		messages = bank[Thinking]
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	available := make([]string, 0, len(messages))
	for _, m := range messages {
		if m != p.last {
			available = append(available, m)
		}
	}
	if len(available) == 0 {
		available = messages
	}

	chosen := available[rand.Intn(len(available))]
	p.last = chosen
	return chosen
}
