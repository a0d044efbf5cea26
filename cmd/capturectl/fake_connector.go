package main

import (
	"encoding/json"
	"fmt"
)

// fakeCaptureSpec builds a synthetic CaptureSpecJSON payload with the
// requested number of bindings, each keyed on a generated "/id" field.
// There is no real upstream system behind it; it exists purely to exercise
// a session end to end without a connector subprocess.
func fakeCaptureSpec(bindings int, explicitAcknowledgements bool) json.RawMessage {
	type bindingSpec struct {
		CollectionName string   `json:"collectionName"`
		ResourcePath   []string `json:"resourcePath"`
		Backfill       int      `json:"backfill"`
		KeyPointers    []string `json:"keyPointers"`
	}
	type captureSpec struct {
		EndpointType             string        `json:"endpointType"`
		ExplicitAcknowledgements bool          `json:"explicitAcknowledgements"`
		Bindings                 []bindingSpec `json:"bindings"`
	}

	var spec = captureSpec{
		EndpointType:             "fake",
		ExplicitAcknowledgements: explicitAcknowledgements,
	}
	for i := 0; i < bindings; i++ {
		spec.Bindings = append(spec.Bindings, bindingSpec{
			CollectionName: fmt.Sprintf("acmeCo/fake-%d", i),
			ResourcePath:   []string{fmt.Sprintf("stream-%d", i)},
			KeyPointers:    []string{"/id"},
		})
	}

	var out, err = json.Marshal(spec)
	if err != nil {
		panic(err) // Unreachable: spec is a fixed, well-formed literal.
	}
	return out
}

// fakeDocument returns the sequence-numbered synthetic document a fake
// connector emits for one binding: documents with the same id % cardinality
// combine on replay, giving a simple way to exercise duplicate-key folding.
func fakeDocument(binding, seq, cardinality int) json.RawMessage {
	var id = seq % cardinality
	var doc = map[string]interface{}{
		"id":  fmt.Sprintf("doc-%d-%d", binding, id),
		"seq": seq,
	}
	var out, err = json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return out
}
