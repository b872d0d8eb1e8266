package hub

import "encoding/json"

// Message types. Every frame on the wire is an Envelope carrying one of
// these in its type field.
const (
	// Client to server.
	TypeJoin     = "join"
	TypeJoinName = "join:name"
	TypeChat     = "chat:message"
	TypePollVote = "poll:vote"

	// Presenter to server (also available over the local HTTP API).
	TypePollStart  = "poll:start"
	TypePollEnd    = "poll:end"
	TypeDrawStroke = "draw:stroke"
	TypeDrawClear  = "draw:clear"

	// Server to client.
	TypeJoinResult    = "join:result"
	TypeChatBroadcast = "chat:broadcast"
	TypeChatError     = "chat:error"
	TypePollResults   = "poll:results"
	TypeViewersCount  = "viewers:count"
	TypeSessionEnd    = "session:end"
	TypeDrawFull      = "draw:full"

	// Document mirroring (emitted by the change capture pipeline).
	TypeNotebookFull   = "notebook:full"
	TypeDocumentFull   = "document:full"
	TypeCellUpdate     = "cell:update"
	TypeCellOutput     = "cell:output"
	TypeCellsStructure = "cells:structure"
	TypeDocumentUpdate = "document:update"
	TypeFocusCell      = "focus:cell"
	TypeCursorPosition = "cursor:position"
	TypeViewportSync   = "viewport:sync"
)

// WebSocket close codes for failed joins.
const (
	CloseInvalidPIN  = 4001
	CloseSessionFull = 4002
)

// Envelope is the wire frame: {"type": ..., "data": {...}}.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// inboundEnvelope defers payload decoding until the type is known.
type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinData is the payload of a join request. Role is a hint; presenter
// roles are only granted to loopback connections.
type JoinData struct {
	PIN  string `json:"pin,omitempty"`
	Role string `json:"role,omitempty"`
}

// Role hint values accepted in JoinData.
const (
	RoleHintViewer         = "viewer"
	RoleHintChatOnly       = "chatOnly"
	RoleHintPresenter      = "presenter"
	RoleHintPresenterPanel = "presenterPanel"
)

// JoinResult is the payload of join:result.
type JoinResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// JoinNameData is the payload of join:name.
type JoinNameData struct {
	Nickname string `json:"nickname"`
}

// ChatData is the payload of chat:message.
type ChatData struct {
	Text string `json:"text"`
}

// ChatBroadcast is the payload of chat:broadcast.
type ChatBroadcast struct {
	ID          int64  `json:"id"`
	Nickname    string `json:"nickname"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
	IsPresenter bool   `json:"isPresenter"`
}

// ChatError is the payload of chat:error.
type ChatError struct {
	Error string `json:"error"`
}

// ViewersCount is the payload of viewers:count.
type ViewersCount struct {
	Count int `json:"count"`
}

// PollStartData is the payload of poll:start in both directions.
type PollStartData struct {
	PollID      string   `json:"pollId"`
	Question    string   `json:"question"`
	OptionCount int      `json:"optionCount"`
	Options     []string `json:"options,omitempty"`
}

// PollVoteData is the payload of poll:vote.
type PollVoteData struct {
	PollID string `json:"pollId"`
	Option int    `json:"option"`
}

// PollResults is the payload of poll:results.
type PollResults struct {
	PollID      string   `json:"pollId"`
	Votes       []int    `json:"votes"`
	TotalVoters int      `json:"totalVoters"`
	Options     []string `json:"options,omitempty"`
}

// PollEndResult is the payload of poll:end: the final immutable snapshot.
type PollEndResult struct {
	PollID      string   `json:"pollId"`
	FinalVotes  []int    `json:"finalVotes"`
	TotalVoters int      `json:"totalVoters"`
	Options     []string `json:"options,omitempty"`
}

// DrawFull is the payload of draw:full, replaying retained strokes to a
// newly joined connection. Stroke payloads are opaque to the hub.
type DrawFull struct {
	Strokes []json.RawMessage `json:"strokes"`
}
