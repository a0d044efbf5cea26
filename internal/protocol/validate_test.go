package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpecRequestValidate(t *testing.T) {
	var m = SpecRequest{EndpointType: "source-postgres", EndpointSpecJSON: json.RawMessage(`{}`)}
	require.NoError(t, m.Validate())

	m.EndpointType = ""
	require.Error(t, m.Validate())
}

func TestDiscoverResponseValidatePropagatesBindingErrors(t *testing.T) {
	var m = DiscoverResponse{Bindings: []DiscoverBinding{
		{RecommendedName: "a", DocumentSchemaJSON: json.RawMessage(`{}`), ResourceSpecJSON: json.RawMessage(`{}`)},
		{RecommendedName: "", DocumentSchemaJSON: json.RawMessage(`{}`), ResourceSpecJSON: json.RawMessage(`{}`)},
	}}
	var err = m.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "Bindings[1]")
}

func TestValidateRequestRequiresEndpointType(t *testing.T) {
	var m = ValidateRequest{EndpointSpecJSON: json.RawMessage(`{}`)}
	require.Error(t, m.Validate())
}

func TestOpenRequestRequiresCaptureSpec(t *testing.T) {
	require.Error(t, (&OpenRequest{}).Validate())
	require.NoError(t, (&OpenRequest{CaptureSpecJSON: json.RawMessage(`{}`)}).Validate())
}

func TestConnectorCheckpointRequiresState(t *testing.T) {
	require.Error(t, (&ConnectorCheckpoint{}).Validate())
	require.NoError(t, (&ConnectorCheckpoint{State: &ConnectorState{UpdatedJSON: json.RawMessage(`{}`)}}).Validate())
}

func TestClientCheckpointRequiresSomeContent(t *testing.T) {
	require.Error(t, (&ClientCheckpoint{}).Validate())
	require.NoError(t, (&ClientCheckpoint{PollResult: PollReady}).Validate())
	require.NoError(t, (&ClientCheckpoint{Stats: &Stats{}, PollResult: PollResultInvalid}).Validate())
}

func TestPollResultString(t *testing.T) {
	require.Equal(t, "Ready", PollReady.String())
	require.Equal(t, "Invalid", PollResultInvalid.String())
	require.Equal(t, "Unknown", PollResult(99).String())
}
