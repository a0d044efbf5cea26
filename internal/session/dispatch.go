package session

import (
	"encoding/json"
	"fmt"

	"github.com/estuary/capture-core/internal/protocol"
)

// RecvUnaryResponse enforces the protocol's strict unary pairing: each
// request kind must be answered by exactly one matching response kind. A
// mismatch blames the connector, the only party that answers a unary
// request, and is fatal to the session.
func RecvUnaryResponse(reqKind, gotKind protocol.FrameKind) error {
	var want, ok = protocol.UnaryResponseKind[reqKind]
	if !ok {
		return fmt.Errorf("session: %q is not a unary request kind", reqKind)
	}
	if gotKind != want {
		return mismatch(PartyConnector, string(want), string(gotKind))
	}
	return nil
}

// RecvSpecResponse checks that the connector answered Spec with Spec.
func RecvSpecResponse(gotKind protocol.FrameKind) error {
	return RecvUnaryResponse(protocol.KindSpec, gotKind)
}

// RecvDiscoverResponse checks that the connector answered Discover with
// Discovered.
func RecvDiscoverResponse(gotKind protocol.FrameKind) error {
	return RecvUnaryResponse(protocol.KindDiscover, gotKind)
}

// RecvValidateResponse checks that the connector answered Validate with
// Validated.
func RecvValidateResponse(gotKind protocol.FrameKind) error {
	return RecvUnaryResponse(protocol.KindValidate, gotKind)
}

// RecvApplyResponse checks that the connector answered Apply with Applied.
func RecvApplyResponse(gotKind protocol.FrameKind) error {
	return RecvUnaryResponse(protocol.KindApply, gotKind)
}

// RecvConnectorOpenResponse checks that the connector answered Open with
// Opened, then decodes payload into a ConnectorOpened. A connector that
// answers Open with some other frame kind (e.g. Validated) terminates the
// session with a ProtocolMismatchError naming the connector and Opened.
func RecvConnectorOpenResponse(gotKind protocol.FrameKind, payload json.RawMessage) (protocol.ConnectorOpened, error) {
	if err := RecvUnaryResponse(protocol.KindOpen, gotKind); err != nil {
		return protocol.ConnectorOpened{}, err
	}
	var out protocol.ConnectorOpened
	if err := json.Unmarshal(payload, &out); err != nil {
		return protocol.ConnectorOpened{}, &ParseError{Context: "connector Opened", Err: err}
	}
	return out, nil
}
