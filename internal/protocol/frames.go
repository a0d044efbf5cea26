// Package protocol defines the structured request/response records
// exchanged across the two frame streams the capture session mediates: the
// connector boundary and the client boundary. Frame encoding itself
// (length-prefixed protobuf) is an external transport concern; this
// package models frames as plain, JSON-friendly Go structs carrying
// payloads around json.RawMessage fields.
package protocol

import "encoding/json"

// PollResult is returned to the client in response to a poll request,
// summarizing whether a transaction is ready to drain.
type PollResult int

const (
	// PollNotReady means no checkpoint has yet landed and the connector
	// has not reached EOF.
	PollNotReady PollResult = iota
	// PollReady means the transaction has at least one checkpoint and may
	// be drained and committed.
	PollReady
	// PollRestart is advisory: the connector reached EOF and task.Restart
	// has elapsed, so the client may choose to restart the session.
	PollRestart
	// PollCoolOff means the connector reached EOF but the restart
	// deadline has not yet elapsed.
	PollCoolOff
	// PollResultInvalid is a sentinel used on the final stats Checkpoint
	// of a transaction, which is not itself a response to a poll request.
	// Implementers must treat it as a pure signal that the frame carries
	// stats, not poll state.
	PollResultInvalid
)

func (p PollResult) String() string {
	switch p {
	case PollNotReady:
		return "NotReady"
	case PollReady:
		return "Ready"
	case PollRestart:
		return "Restart"
	case PollCoolOff:
		return "CoolOff"
	case PollResultInvalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// ConnectorState is the merged, opaque connector-state document exchanged
// on Checkpoint frames. A non-merge update (MergePatch == false) means the
// receiver must first reset its accumulated state to null before merging
// UpdatedJSON onto it.
type ConnectorState struct {
	UpdatedJSON json.RawMessage `json:"updatedJson"`
	MergePatch  bool            `json:"mergePatch"`
}

// Stats is the structured stats document summarizing one transaction,
// reported via the final stats Checkpoint.
type Stats struct {
	Capture          map[string]BindingStats `json:"capture,omitempty"`
	TxnOpenedSeconds float64                 `json:"openSecondsTotal"`
}

// BindingStats accumulates incoming/outgoing docs and bytes for one
// collection across all bindings that target it.
type BindingStats struct {
	Incoming DocsAndBytes `json:"right"`
	Outgoing DocsAndBytes `json:"out"`
}

// DocsAndBytes is a (document count, byte count) pair.
type DocsAndBytes struct {
	Docs  uint64 `json:"docsTotal"`
	Bytes uint64 `json:"bytesTotal"`
}

// Add accumulates other into d and returns the result.
func (d DocsAndBytes) Add(other DocsAndBytes) DocsAndBytes {
	return DocsAndBytes{Docs: d.Docs + other.Docs, Bytes: d.Bytes + other.Bytes}
}

// --- Unary request/response pairs (Spec, Discover, Validate, Apply) ---

type SpecRequest struct {
	EndpointType     string          `json:"endpointType"`
	EndpointSpecJSON json.RawMessage `json:"endpointSpecJson"`
}

type SpecResponse struct {
	EndpointSpecSchemaJSON json.RawMessage `json:"endpointSpecSchemaJson"`
	ResourceSpecSchemaJSON json.RawMessage `json:"resourceSpecSchemaJson"`
	DocumentationURL       string          `json:"documentationUrl"`
}

type DiscoverRequest struct {
	EndpointType     string          `json:"endpointType"`
	EndpointSpecJSON json.RawMessage `json:"endpointSpecJson"`
}

type DiscoverResponse struct {
	Bindings []DiscoverBinding `json:"bindings"`
}

type DiscoverBinding struct {
	RecommendedName    string          `json:"recommendedName"`
	DocumentSchemaJSON json.RawMessage `json:"documentSchemaJson"`
	ResourceSpecJSON   json.RawMessage `json:"resourceSpecJson"`
}

type ValidateRequest struct {
	EndpointType     string            `json:"endpointType"`
	EndpointSpecJSON json.RawMessage   `json:"endpointSpecJson"`
	Bindings         []ValidateBinding `json:"bindings"`
}

type ValidateBinding struct {
	ResourceSpecJSON json.RawMessage `json:"resourceSpecJson"`
	CollectionName   string          `json:"collectionName"`
}

type ValidateResponse struct {
	Bindings []ValidatedBinding `json:"bindings"`
}

type ValidatedBinding struct {
	ResourcePath []string `json:"resourcePath"`
}

type ApplyRequest struct {
	EndpointType     string          `json:"endpointType"`
	EndpointSpecJSON json.RawMessage `json:"endpointSpecJson"`
	DryRun           bool            `json:"dryRun"`
}

type ApplyResponse struct {
	ActionDescription string `json:"actionDescription"`
}

// --- Open handshake ---

// OpenRequest is sent by the client to open a new session.
type OpenRequest struct {
	CaptureSpecJSON   json.RawMessage `json:"captureSpecJson"`
	StateJSON         json.RawMessage `json:"stateJson"`
	StorageDescriptor json.RawMessage `json:"storageDescriptor,omitempty"`
}

// OpenedResponse is the connector's acknowledgement of Open. ConnectorOpened
// carries the connector's own fields; ClientOpened additionally carries the
// runtime checkpoint loaded from the checkpoint store, attached by the
// session before forwarding to the client.
type ConnectorOpened struct {
	ExplicitAcknowledgements bool `json:"explicitAcknowledgements"`
}

type ClientOpened struct {
	ExplicitAcknowledgements bool            `json:"explicitAcknowledgements"`
	RuntimeCheckpoint        json.RawMessage `json:"runtimeCheckpoint"`
}

// --- Connector boundary frames exchanged during a transaction ---

// ConnectorCaptured is emitted by the connector: one captured document for
// a binding.
type ConnectorCaptured struct {
	Binding int             `json:"binding"`
	DocJSON json.RawMessage `json:"docJson"`
}

// ConnectorCheckpoint is emitted by the connector to checkpoint captured
// documents seen so far.
type ConnectorCheckpoint struct {
	State *ConnectorState `json:"state,omitempty"`
}

// ConnectorAcknowledge is sent to the connector once the prior
// transaction's checkpoints have been durably committed.
type ConnectorAcknowledge struct {
	Checkpoints uint32 `json:"checkpoints"`
}

// --- Client boundary frames exchanged during a transaction ---

// ClientCaptured is a drained, merged document emitted to the client.
type ClientCaptured struct {
	Binding          int             `json:"binding"`
	DocJSON          json.RawMessage `json:"docJson"`
	KeyPacked        []byte          `json:"keyPacked"`
	PartitionsPacked []byte          `json:"partitionsPacked"`
}

// ClientCheckpoint is emitted to the client: either the merged connector
// state update (State set, Stats/PollResult unset), the final per-txn stats
// summary (Stats set, PollResult == PollResultInvalid), or a bare poll
// response (neither set, PollResult meaningful).
type ClientCheckpoint struct {
	State      *ConnectorState `json:"state,omitempty"`
	Stats      *Stats          `json:"stats,omitempty"`
	PollResult PollResult      `json:"pollResult"`
}

// StartCommitRequest carries the client's opaque runtime checkpoint.
type StartCommitRequest struct {
	RuntimeCheckpoint json.RawMessage `json:"runtimeCheckpoint"`
}

// StartedCommitResponse acknowledges a durable commit.
type StartedCommitResponse struct{}

// AcknowledgeRequest is sent by the client to request an
// Acknowledge{checkpoints} be forwarded to the connector (only meaningful
// under explicit acknowledgements).
type AcknowledgeRequest struct{}
