package hub

import (
	"strconv"
	"strings"
	"time"
)

const (
	minPollOptions    = 2
	maxPollOptions    = 10
	maxOptionLabelLen = 100
)

// pollState is the single live poll. At most one exists at a time; it is
// guarded by the hub's mutex.
type pollState struct {
	id          string
	question    string
	optionCount int
	options     []string // nil means numeric-label mode
	votes       []int
	// voterChoices maps client id to chosen option, enforcing one vote per
	// connection. Invariant: sum(votes) == len(voterChoices).
	voterChoices map[string]int
}

// PollSnapshot is a read-only copy of the live poll for external consumers.
// No mutable references escape the hub.
type PollSnapshot struct {
	PollID      string
	Question    string
	OptionCount int
	Options     []string
	Votes       []int
	TotalVoters int
}

// sanitizePollOptions trims labels, caps their length, and discards the
// whole set when it does not match optionCount (numeric-label mode).
func sanitizePollOptions(options []string, optionCount int) []string {
	if len(options) != optionCount {
		return nil
	}
	out := make([]string, len(options))
	for i, o := range options {
		o = strings.TrimSpace(o)
		if len(o) > maxOptionLabelLen {
			o = o[:maxOptionLabelLen]
		}
		out[i] = o
	}
	return out
}

func clampOptionCount(n int) int {
	if n < minPollOptions {
		return minPollOptions
	}
	if n > maxPollOptions {
		return maxPollOptions
	}
	return n
}

// StartPoll begins a new poll, replacing any live one, and broadcasts
// poll:start. An empty question is rejected. A missing pollID defaults to a
// timestamp string.
func (h *Hub) StartPoll(question string, optionCount int, pollID string, options []string) bool {
	question = strings.TrimSpace(question)
	if question == "" {
		return false
	}
	optionCount = clampOptionCount(optionCount)
	if pollID == "" {
		pollID = strconv.FormatInt(time.Now().UnixMilli(), 10)
	}
	opts := sanitizePollOptions(options, optionCount)

	h.mu.Lock()
	h.currentPoll = &pollState{
		id:           pollID,
		question:     question,
		optionCount:  optionCount,
		options:      opts,
		votes:        make([]int, optionCount),
		voterChoices: make(map[string]int),
	}
	h.mu.Unlock()

	h.Broadcast(TypePollStart, PollStartData{
		PollID:      pollID,
		Question:    question,
		OptionCount: optionCount,
		Options:     opts,
	})
	h.logger.Info("poll started", "question", question, "options", optionCount)
	return true
}

// EndPoll closes the live poll, broadcasts the final immutable snapshot,
// and returns it. Returns nil when no poll is live.
func (h *Hub) EndPoll() *PollEndResult {
	h.mu.Lock()
	poll := h.currentPoll
	if poll == nil {
		h.mu.Unlock()
		return nil
	}
	h.currentPoll = nil
	result := &PollEndResult{
		PollID:      poll.id,
		FinalVotes:  append([]int(nil), poll.votes...),
		TotalVoters: len(poll.voterChoices),
		Options:     append([]string(nil), poll.options...),
	}
	question := poll.question
	h.mu.Unlock()

	h.Broadcast(TypePollEnd, result)
	h.logger.Info("poll ended", "question", question, "voters", result.TotalVoters)
	return result
}

// PollSnapshot returns a read-only copy of the live poll, or nil.
func (h *Hub) PollSnapshot() *PollSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pollSnapshotLocked()
}

func (h *Hub) pollSnapshotLocked() *PollSnapshot {
	poll := h.currentPoll
	if poll == nil {
		return nil
	}
	return &PollSnapshot{
		PollID:      poll.id,
		Question:    poll.question,
		OptionCount: poll.optionCount,
		Options:     append([]string(nil), poll.options...),
		Votes:       append([]int(nil), poll.votes...),
		TotalVoters: len(poll.voterChoices),
	}
}

// vote applies one vote. Stale poll ids, out-of-range options, and repeat
// voters are no-ops.
func (h *Hub) vote(c *Client, data PollVoteData) {
	h.mu.Lock()
	poll := h.currentPoll
	if poll == nil || data.PollID != poll.id {
		h.mu.Unlock()
		return
	}
	if data.Option < 0 || data.Option >= poll.optionCount {
		h.mu.Unlock()
		return
	}
	if _, voted := poll.voterChoices[c.id]; voted {
		h.mu.Unlock()
		return
	}
	poll.voterChoices[c.id] = data.Option
	poll.votes[data.Option]++
	results := PollResults{
		PollID:      poll.id,
		Votes:       append([]int(nil), poll.votes...),
		TotalVoters: len(poll.voterChoices),
		Options:     append([]string(nil), poll.options...),
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.PollVotes.Inc()
	}
	h.Broadcast(TypePollResults, results)
}
