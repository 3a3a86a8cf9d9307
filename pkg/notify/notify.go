package notify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/codeminion/overlord/pkg/log"
)

// Category buckets digest items for counting and display.
type Category string

const (
	CategoryDetection        Category = "detection"
	CategoryProposalCreated  Category = "proposal_created"
	CategoryProposalApproved Category = "proposal_approved"
	CategoryProposalDenied   Category = "proposal_denied"
	CategoryExecution        Category = "execution"
	CategoryHealthCheck      Category = "health_check"
	CategoryTestSweep        Category = "test_sweep"
)

// maxDigestItems bounds how many buffered lines a digest shows per category.
const maxDigestItems = 5

// Poster is the outbound half of the chat adapter the manager needs.
type Poster interface {
	Post(text string, threadRef string) (string, error)
}

// Manager routes messages as either urgent (posted immediately) or buffered
// into a periodic digest. Either channel can be disabled independently;
// disabling suppresses output without affecting the other.
type Manager struct {
	poster        Poster
	urgentEnabled bool
	digestEnabled bool

	mu     sync.Mutex
	items  map[Category][]string
	counts map[Category]int
}

// NewManager builds a notification manager over the given poster.
func NewManager(poster Poster, urgentEnabled, digestEnabled bool) *Manager {
	return &Manager{
		poster:        poster,
		urgentEnabled: urgentEnabled,
		digestEnabled: digestEnabled,
		items:         make(map[Category][]string),
		counts:        make(map[Category]int),
	}
}

// SendUrgent posts immediately. Post failures are logged and swallowed.
func (m *Manager) SendUrgent(text string) {
	if !m.urgentEnabled || m.poster == nil {
		return
	}
	if _, err := m.poster.Post(text, ""); err != nil {
		log.WithComponent("notify").Error().Err(err).Msg("failed to post urgent notification")
	}
}

// Accumulate buffers a line for the next digest and bumps its counter.
func (m *Manager) Accumulate(category Category, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[category]++
	m.items[category] = append(m.items[category], text)
	if len(m.items[category]) > maxDigestItems {
		m.items[category] = m.items[category][len(m.items[category])-maxDigestItems:]
	}
}

// Pending reports whether anything is buffered.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counts) > 0
}

// SendDigest posts one message summarising counters and the most recent
// items per category, then clears the buffer. A no-op when empty.
func (m *Manager) SendDigest() {
	if !m.digestEnabled || m.poster == nil {
		return
	}

	m.mu.Lock()
	text := m.formatLocked()
	m.items = make(map[Category][]string)
	m.counts = make(map[Category]int)
	m.mu.Unlock()

	if text == "" {
		return
	}
	if _, err := m.poster.Post(text, ""); err != nil {
		log.WithComponent("notify").Error().Err(err).Msg("failed to post digest")
	}
}

// ordered keeps digest sections stable across runs.
var ordered = []Category{
	CategoryDetection,
	CategoryProposalCreated,
	CategoryProposalApproved,
	CategoryProposalDenied,
	CategoryExecution,
	CategoryHealthCheck,
	CategoryTestSweep,
}

func (m *Manager) formatLocked() string {
	if len(m.counts) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("*Activity digest*\n")
	for _, cat := range ordered {
		count, ok := m.counts[cat]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n*%s* (%d)\n", strings.ReplaceAll(string(cat), "_", " "), count)
		for _, item := range m.items[cat] {
			fmt.Fprintf(&b, "  • %s\n", item)
		}
	}
	return b.String()
}
