// Package dialog decides which heard utterances are addressed to the bot.
//
// Each speaker has an open/closed dialog flag. A closed dialog opens when the
// speaker says the bot's name (any of its phonetic spellings, fuzzily matched
// to absorb transcription misspellings) and stays open until the speaker says
// the name together with a stop phrase, so follow-up sentences reach the bot
// without repeating the name. A bare stop word inside an open dialog is just
// more speech and is forwarded like anything else.
package dialog

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// activationVariants are the spellings of the bot's name as speech-to-text
// tends to hear it.
var activationVariants = []string{
	"адриан", "adrian", "эдриан", "андриан", "адриян", "adriyan",
	"андреан", "здрайн", "адрян", "эдрян", "андрян",
}

// stopWords close an open dialog.
var stopWords = []string{"стоп", "stop", "хватит", "закончи"}

// fuzzyThreshold is the Jaro-Winkler similarity above which a heard token
// counts as the bot's name.
const fuzzyThreshold = 0.86

// Decision is the outcome of evaluating one utterance.
type Decision struct {
	// Forward reports whether the utterance should be processed as a message
	// to the bot.
	Forward bool
	// Opened is true when this utterance opened the speaker's dialog.
	Opened bool
	// Closed is true when this utterance closed the speaker's dialog.
	Closed bool
}

// Tracker holds the per-speaker dialog flags. Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	open map[string]bool
}

// NewTracker returns a tracker with all dialogs closed.
func NewTracker() *Tracker {
	return &Tracker{open: make(map[string]bool)}
}

// Evaluate classifies one utterance from the speaker and updates their dialog
// state. Transition rules, checked in order:
//
//  1. activation + stop phrase in one breath closes the dialog, nothing is
//     forwarded;
//  2. activation while closed opens the dialog and forwards the utterance;
//  3. anything while open is forwarded, stop words included;
//  4. anything while closed is dropped.
func (t *Tracker) Evaluate(speakerID, utterance string) Decision {
	activated := containsActivation(utterance)
	stop := containsStopWord(utterance)

	t.mu.Lock()
	defer t.mu.Unlock()

	wasOpen := t.open[speakerID]

	switch {
	case activated && stop:
		delete(t.open, speakerID)
		return Decision{Closed: wasOpen}
	case activated && !wasOpen:
		t.open[speakerID] = true
		return Decision{Forward: true, Opened: true}
	case wasOpen:
		return Decision{Forward: true}
	default:
		return Decision{}
	}
}

// IsOpen reports whether the speaker's dialog is currently open.
func (t *Tracker) IsOpen(speakerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open[speakerID]
}

// Reset closes the speaker's dialog.
func (t *Tracker) Reset(speakerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, speakerID)
}

// ResetAll closes every dialog.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[string]bool)
}

func containsActivation(utterance string) bool {
	text := strings.ToLower(utterance)
	for _, v := range activationVariants {
		if strings.Contains(text, v) {
			return true
		}
	}
	// Transcription mangles the name in ways the fixed list misses; a close
	// Jaro-Winkler hit on any single token still counts.
	for _, token := range tokens(text) {
		for _, v := range activationVariants {
			if matchr.JaroWinkler(token, v, false) >= fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

func containsStopWord(utterance string) bool {
	text := strings.ToLower(utterance)
	for _, w := range stopWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r)
	})
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r >= 'а' && r <= 'я', r == 'ё':
		return true
	}
	return false
}
