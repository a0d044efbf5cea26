package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/estuary/capture-core/internal/checkpoint"
	"github.com/estuary/capture-core/internal/ops"
	"github.com/estuary/capture-core/internal/protocol"
	"github.com/estuary/capture-core/internal/shape"
	"github.com/stretchr/testify/require"
)

func openTestSession(t *testing.T, captureSpec string) *Session {
	t.Helper()

	var pending, err = RecvClientFirstOpen(t.TempDir())
	require.NoError(t, err)

	var req = protocol.OpenRequest{
		CaptureSpecJSON: json.RawMessage(captureSpec),
		StateJSON:       json.RawMessage(`{}`),
	}
	var spec, openErr = RecvClientOpen(pending, &req)
	require.NoError(t, openErr)

	var s, clientOpened, finalErr = RecvConnectorOpened(
		pending, spec, protocol.ConnectorOpened{},
		map[string]*shape.Shape{},
		ops.ShardRef{Name: "test/capture", Kind: "capture"},
		time.Unix(0, 0),
	)
	require.NoError(t, finalErr)
	require.Empty(t, clientOpened.RuntimeCheckpoint) // No prior checkpoint on a fresh store.

	t.Cleanup(s.Close)
	return s
}

const oneBindingSpec = `{
	"endpointType": "test",
	"bindings": [
		{
			"collectionName": "acmeCo/widgets",
			"resourcePath": ["widgets"],
			"backfill": 0,
			"keyPointers": ["/id"],
			"partitionPointers": []
		}
	]
}`

func TestSingleDocumentCaptureDrainsAndCommits(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var now = time.Unix(100, 0)

	require.NoError(t, s.RecvConnectorCaptured(0, json.RawMessage(`{"id": "a", "v": 1}`), now))
	require.NoError(t, s.RecvConnectorCheckpoint(&protocol.ConnectorState{
		UpdatedJSON: json.RawMessage(`{"cursor": 1}`),
		MergePatch:  true,
	}, now))

	require.Equal(t, protocol.PollReady, s.Poll(now))

	var result, err = s.Drain(now)
	require.NoError(t, err)
	require.Len(t, result.Captured, 1)
	require.Equal(t, 0, result.Captured[0].Binding)
	require.NotNil(t, result.MergedState)
	require.JSONEq(t, `{"cursor": 1}`, string(result.MergedState.State.UpdatedJSON))
	require.Equal(t, protocol.PollResultInvalid, result.FinalStats.PollResult)

	var _, op, commitErr = s.StartCommit(protocol.StartCommitRequest{RuntimeCheckpoint: json.RawMessage(`{"offset": 42}`)})
	require.NoError(t, commitErr)
	<-op.Done()
	require.NoError(t, op.Err())
	require.Equal(t, StateIdle, s.State())
}

// TestShapesByKeySurvivesARestart exercises the bounded shape table: a
// widened shape is keyed by state_key and must come back out of
// ShapesByKey so a subsequent RecvConnectorOpened can restore it, the way
// a session recovering after a restart would.
func TestShapesByKeySurvivesARestart(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var now = time.Unix(500, 0)

	require.NoError(t, s.RecvConnectorCaptured(0, json.RawMessage(`{"id": "a", "v": 1}`), now))

	var restored = s.ShapesByKey()
	require.Len(t, restored, 1)

	var stateKey = s.task.Bindings[0].StateKey
	require.Contains(t, restored, stateKey)
	require.Same(t, s.shapes[0], restored[stateKey])
}

func TestDuplicateKeysCombineBeforeDraining(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var now = time.Unix(200, 0)

	require.NoError(t, s.RecvConnectorCaptured(0, json.RawMessage(`{"id": "a", "v": 1}`), now))
	require.NoError(t, s.RecvConnectorCaptured(0, json.RawMessage(`{"id": "a", "v": 2}`), now))
	require.NoError(t, s.RecvConnectorCheckpoint(&protocol.ConnectorState{
		UpdatedJSON: json.RawMessage(`{}`),
		MergePatch:  true,
	}, now))

	var result, err = s.Drain(now)
	require.NoError(t, err)
	require.Len(t, result.Captured, 1)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(result.Captured[0].DocJSON, &doc))
	require.EqualValues(t, 2, doc["v"])
}

// TestCheckpointResetDiscardsPriorState seeds a connector-state value
// already durably persisted from an earlier session, then exercises a
// merge_patch=false Checkpoint that overlaps only one of its keys:
// reopening the store afterward must show the extraneous key gone, not
// folded onto by the usual merge-patch path.
func TestCheckpointResetDiscardsPriorState(t *testing.T) {
	var dir = t.TempDir()

	var seedStore, seedErr = checkpoint.Open(dir)
	require.NoError(t, seedErr)
	var seedBatch = checkpoint.NewWriteBatch()
	seedBatch.PutConnectorState(json.RawMessage(`{"a": 1, "b": 2}`))
	require.NoError(t, seedStore.Write(seedBatch))
	seedStore.Close()

	var pending, openErr = RecvClientFirstOpen(dir)
	require.NoError(t, openErr)
	var req = protocol.OpenRequest{CaptureSpecJSON: json.RawMessage(oneBindingSpec), StateJSON: json.RawMessage(`{}`)}
	var spec, parseErr = RecvClientOpen(pending, &req)
	require.NoError(t, parseErr)
	var s, _, finalErr = RecvConnectorOpened(
		pending, spec, protocol.ConnectorOpened{},
		map[string]*shape.Shape{},
		ops.ShardRef{Name: "test/capture", Kind: "capture"},
		time.Unix(0, 0),
	)
	require.NoError(t, finalErr)

	var now = time.Unix(300, 0)
	require.NoError(t, s.RecvConnectorCaptured(0, json.RawMessage(`{"id": "a"}`), now))
	require.NoError(t, s.RecvConnectorCheckpoint(&protocol.ConnectorState{
		UpdatedJSON: json.RawMessage(`{"a": 9}`),
		MergePatch:  false,
	}, now))

	var result, drainErr = s.Drain(now)
	require.NoError(t, drainErr)
	require.NotNil(t, result.MergedState)
	require.JSONEq(t, `{"a": 9}`, string(result.MergedState.State.UpdatedJSON))

	var _, op, commitErr = s.StartCommit(protocol.StartCommitRequest{RuntimeCheckpoint: json.RawMessage(`{}`)})
	require.NoError(t, commitErr)
	<-op.Done()
	require.NoError(t, op.Err())
	s.Close()

	var reopened, reopenErr = checkpoint.Open(dir)
	require.NoError(t, reopenErr)
	defer reopened.Close()
	var persisted, loadErr = reopened.LoadConnectorState(json.RawMessage(`{}`))
	require.NoError(t, loadErr)
	require.JSONEq(t, `{"a": 9}`, string(persisted))
}

func TestEOFWithoutCheckpointIsCoolOffThenRestart(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var opened = time.Unix(1000, 0)
	s.task.OpenedAt = opened
	s.task.RestartAfter = 10 * time.Second

	s.RecvConnectorEOF(opened)
	require.Equal(t, protocol.PollCoolOff, s.Poll(opened.Add(1*time.Second)))
	require.Equal(t, protocol.PollRestart, s.Poll(opened.Add(11*time.Second)))
}

func TestCapturedOnUnknownBindingIsProtocolMismatch(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var err = s.RecvConnectorCaptured(5, json.RawMessage(`{}`), time.Unix(0, 0))
	require.Error(t, err)
	var mismatchErr *ProtocolMismatchError
	require.ErrorAs(t, err, &mismatchErr)
}

func TestCheckpointWithoutStateIsProtocolMismatch(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var err = s.RecvConnectorCheckpoint(nil, time.Unix(0, 0))
	require.Error(t, err)
}

func TestAcknowledgeGatedByExplicitAcknowledgements(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	s.task.ExplicitAcknowledgements = false
	var now = time.Unix(400, 0)

	require.NoError(t, s.RecvConnectorCaptured(0, json.RawMessage(`{"id": "a"}`), now))
	require.NoError(t, s.RecvConnectorCheckpoint(&protocol.ConnectorState{UpdatedJSON: json.RawMessage(`{}`), MergePatch: true}, now))
	_, err := s.Drain(now)
	require.NoError(t, err)
	_, _, commitErr := s.StartCommit(protocol.StartCommitRequest{RuntimeCheckpoint: json.RawMessage(`{}`)})
	require.NoError(t, commitErr)

	require.Nil(t, s.AcknowledgeIfDue())

	s.task.ExplicitAcknowledgements = true
	s.lastCheckpoints = 1
	var ack = s.AcknowledgeIfDue()
	require.NotNil(t, ack)
	require.EqualValues(t, 1, ack.Checkpoints)
	require.Nil(t, s.AcknowledgeIfDue())
}

func TestUnaryResponsePairingRejectsMismatchedKind(t *testing.T) {
	require.NoError(t, RecvDiscoverResponse(protocol.KindDiscovered))

	var err = RecvDiscoverResponse(protocol.KindValidated)
	require.Error(t, err)
	var mismatchErr *ProtocolMismatchError
	require.ErrorAs(t, err, &mismatchErr)
	require.Equal(t, PartyConnector, mismatchErr.Party)
	require.Equal(t, "Discovered", mismatchErr.Expected)
}

// TestConnectorAnsweringOpenWithValidatedIsProtocolMismatch is the
// connector-sends-the-wrong-unary-response scenario: the connector answers
// Open with Validated, and the session must yield a ProtocolMismatch
// naming the connector and Opened, rather than silently accepting it.
func TestConnectorAnsweringOpenWithValidatedIsProtocolMismatch(t *testing.T) {
	var _, err = RecvConnectorOpenResponse(protocol.KindValidated, json.RawMessage(`{}`))
	require.Error(t, err)

	var mismatchErr *ProtocolMismatchError
	require.ErrorAs(t, err, &mismatchErr)
	require.Equal(t, PartyConnector, mismatchErr.Party)
	require.Equal(t, "Opened", mismatchErr.Expected)
	require.Equal(t, "Validated", mismatchErr.Got)
}

func TestStartCommitWithoutDrainIsProtocolMismatch(t *testing.T) {
	var s = openTestSession(t, oneBindingSpec)
	var _, _, err = s.StartCommit(protocol.StartCommitRequest{})
	require.Error(t, err)
}
