package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/estuary/capture-core/internal/framing"
	"github.com/estuary/capture-core/internal/ops"
	"github.com/estuary/capture-core/internal/protocol"
	"github.com/estuary/capture-core/internal/session"
	"github.com/estuary/capture-core/internal/shape"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

// cmdRun drives a capture session against an in-process fake connector,
// writing every client-bound frame to stdout as a length-prefixed JSON
// record and tracing state transitions to stderr.
type cmdRun struct {
	Storage      string `long:"storage" description:"checkpoint store directory (a temp directory is used if omitted)"`
	Bindings     int    `long:"bindings" default:"1" description:"number of synthetic bindings to capture from"`
	Documents    int    `long:"documents" default:"10" description:"documents captured per transaction, round-robined across bindings"`
	Cardinality  int    `long:"cardinality" default:"4" description:"distinct keys per binding, to exercise combine folding of duplicates"`
	Transactions int    `long:"transactions" default:"3" description:"number of transactions to drive before exiting"`

	ExplicitAcknowledgements bool `long:"explicit-acknowledgements" description:"require the client to acknowledge each commit before the connector may checkpoint again"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func (cmd cmdRun) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("capturectl configuration")

	var storageDir = cmd.Storage
	if storageDir == "" {
		var tmp, err = os.MkdirTemp("", "capturectl-")
		if err != nil {
			return fmt.Errorf("creating temp storage dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		storageDir = tmp
	}

	var writer = framing.NewWriter(os.Stdout)
	var now = time.Now()

	pending, err := session.RecvClientFirstOpen(storageDir)
	if err != nil {
		return fmt.Errorf("opening checkpoint store: %w", err)
	}

	var openReq = protocol.OpenRequest{
		CaptureSpecJSON: fakeCaptureSpec(cmd.Bindings, cmd.ExplicitAcknowledgements),
		StateJSON:       json.RawMessage(`{}`),
	}
	spec, err := session.RecvClientOpen(pending, &openReq)
	if err != nil {
		return fmt.Errorf("processing open request: %w", err)
	}

	// The fake connector always answers Open with Opened; route its reply
	// through the same pairing check a real subprocess connector's frame
	// stream would have to pass.
	connectorOpenedJSON, err := json.Marshal(protocol.ConnectorOpened{ExplicitAcknowledgements: cmd.ExplicitAcknowledgements})
	if err != nil {
		return fmt.Errorf("encoding fake connector Opened: %w", err)
	}
	connectorOpened, err := session.RecvConnectorOpenResponse(protocol.KindOpened, connectorOpenedJSON)
	if err != nil {
		return fmt.Errorf("processing connector Opened: %w", err)
	}

	var shard = ops.ShardRef{Name: "capturectl/run", Kind: "capture"}
	s, clientOpened, err := session.RecvConnectorOpened(pending, spec, connectorOpened, map[string]*shape.Shape{}, shard, now)
	if err != nil {
		return fmt.Errorf("completing open handshake: %w", err)
	}
	defer s.Close()

	fmt.Fprintln(os.Stderr, traceState(fmt.Sprintf("opened: runtimeCheckpoint=%s", clientOpened.RuntimeCheckpoint)))
	if err := writer.WriteFrame(clientOpened); err != nil {
		return err
	}

	var seq = 0
	for txn := 0; txn < cmd.Transactions; txn++ {
		now = now.Add(time.Second)

		for i := 0; i < cmd.Documents; i++ {
			var binding = i % cmd.Bindings
			var doc = fakeDocument(binding, seq, cmd.Cardinality)
			seq++

			if err := s.RecvConnectorCaptured(binding, doc, now); err != nil {
				return fmt.Errorf("txn %d: capturing document: %w", txn, err)
			}
		}
		if err := s.RecvConnectorCheckpoint(&protocol.ConnectorState{
			UpdatedJSON: json.RawMessage(fmt.Sprintf(`{"txn": %d}`, txn)),
			MergePatch:  true,
		}, now); err != nil {
			return fmt.Errorf("txn %d: checkpointing: %w", txn, err)
		}

		if poll := s.Poll(now); poll != protocol.PollReady {
			return fmt.Errorf("txn %d: expected Ready after checkpoint, got %s", txn, poll)
		}

		result, err := s.Drain(now)
		if err != nil {
			return fmt.Errorf("txn %d: draining: %w", txn, err)
		}
		fmt.Fprintln(os.Stderr, traceFrame(fmt.Sprintf("txn %d: drained %d captured documents", txn, len(result.Captured))))

		for _, captured := range result.Captured {
			if err := writer.WriteFrame(captured); err != nil {
				return err
			}
		}
		if result.MergedState != nil {
			if err := writer.WriteFrame(result.MergedState); err != nil {
				return err
			}
		}
		if err := writer.WriteFrame(result.FinalStats); err != nil {
			return err
		}

		var commitReq = protocol.StartCommitRequest{RuntimeCheckpoint: json.RawMessage(fmt.Sprintf(`{"txn": %d}`, txn))}
		if _, op, err := s.StartCommit(commitReq); err != nil {
			return fmt.Errorf("txn %d: starting commit: %w", txn, err)
		} else {
			<-op.Done()
			if err := op.Err(); err != nil {
				return fmt.Errorf("txn %d: commit failed: %w", txn, err)
			}
		}

		if ack := s.AcknowledgeIfDue(); ack != nil {
			fmt.Fprintln(os.Stderr, traceWarn(fmt.Sprintf("txn %d: forwarding acknowledge of %d checkpoints to connector", txn, ack.Checkpoints)))
		}

		fmt.Fprintln(os.Stderr, traceState(fmt.Sprintf("txn %d: committed, state=%s", txn, s.State())))
	}

	return nil
}
