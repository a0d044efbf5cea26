package protocol

import "fmt"

// Validate returns an error if the SpecRequest isn't well-formed.
func (m *SpecRequest) Validate() error {
	if m.EndpointType == "" {
		return fmt.Errorf("missing EndpointType")
	} else if len(m.EndpointSpecJSON) == 0 {
		return fmt.Errorf("missing EndpointSpecJson")
	}
	return nil
}

// Validate returns an error if the SpecResponse isn't well-formed.
func (m *SpecResponse) Validate() error {
	if len(m.EndpointSpecSchemaJSON) == 0 {
		return fmt.Errorf("missing EndpointSpecSchemaJson")
	} else if len(m.ResourceSpecSchemaJSON) == 0 {
		return fmt.Errorf("missing ResourceSpecSchemaJson")
	} else if m.DocumentationURL == "" {
		return fmt.Errorf("missing DocumentationUrl")
	}
	return nil
}

// Validate returns an error if the DiscoverRequest isn't well-formed.
func (m *DiscoverRequest) Validate() error {
	if m.EndpointType == "" {
		return fmt.Errorf("missing EndpointType")
	} else if len(m.EndpointSpecJSON) == 0 {
		return fmt.Errorf("missing EndpointSpecJson")
	}
	return nil
}

// Validate returns an error if the DiscoverResponse isn't well-formed.
func (m *DiscoverResponse) Validate() error {
	for i := range m.Bindings {
		if err := m.Bindings[i].Validate(); err != nil {
			return fmt.Errorf("Bindings[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate returns an error if the DiscoverBinding isn't well-formed.
func (m *DiscoverBinding) Validate() error {
	if m.RecommendedName == "" {
		return fmt.Errorf("missing RecommendedName")
	} else if len(m.DocumentSchemaJSON) == 0 {
		return fmt.Errorf("missing DocumentSchemaJson")
	} else if len(m.ResourceSpecJSON) == 0 {
		return fmt.Errorf("missing ResourceSpecJson")
	}
	return nil
}

// Validate returns an error if the ValidateRequest isn't well-formed.
func (m *ValidateRequest) Validate() error {
	if m.EndpointType == "" {
		return fmt.Errorf("missing EndpointType")
	} else if len(m.EndpointSpecJSON) == 0 {
		return fmt.Errorf("missing EndpointSpecJson")
	}
	for i := range m.Bindings {
		if err := m.Bindings[i].Validate(); err != nil {
			return fmt.Errorf("Bindings[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate returns an error if the ValidateBinding isn't well-formed.
func (m *ValidateBinding) Validate() error {
	if m.CollectionName == "" {
		return fmt.Errorf("missing CollectionName")
	} else if len(m.ResourceSpecJSON) == 0 {
		return fmt.Errorf("missing ResourceSpecJson")
	}
	return nil
}

// Validate returns an error if the ValidateResponse isn't well-formed.
func (m *ValidateResponse) Validate() error {
	for i := range m.Bindings {
		if err := m.Bindings[i].Validate(); err != nil {
			return fmt.Errorf("Bindings[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate returns an error if the ValidatedBinding isn't well-formed.
func (m *ValidatedBinding) Validate() error {
	if len(m.ResourcePath) == 0 {
		return fmt.Errorf("missing ResourcePath")
	}
	return nil
}

// Validate returns an error if the ApplyRequest isn't well-formed.
func (m *ApplyRequest) Validate() error {
	if m.EndpointType == "" {
		return fmt.Errorf("missing EndpointType")
	} else if len(m.EndpointSpecJSON) == 0 {
		return fmt.Errorf("missing EndpointSpecJson")
	}
	return nil
}

// Validate is a no-op: ApplyResponse's ActionDescription may be empty when
// no action was taken.
func (m *ApplyResponse) Validate() error { return nil }

// Validate returns an error if the OpenRequest isn't well-formed.
func (m *OpenRequest) Validate() error {
	if len(m.CaptureSpecJSON) == 0 {
		return fmt.Errorf("missing CaptureSpecJson")
	}
	return nil
}

// Validate is a no-op: ConnectorOpened carries only a boolean flag.
func (m *ConnectorOpened) Validate() error { return nil }

// Validate is a no-op: ClientOpened's RuntimeCheckpoint may legitimately
// be empty on a session's first ever transaction.
func (m *ClientOpened) Validate() error { return nil }

// Validate returns an error if the ConnectorCaptured isn't well-formed.
func (m *ConnectorCaptured) Validate() error {
	if m.Binding < 0 {
		return fmt.Errorf("invalid Binding %d", m.Binding)
	} else if len(m.DocJSON) == 0 {
		return fmt.Errorf("missing DocJson")
	}
	return nil
}

// Validate returns an error if the ConnectorCheckpoint isn't well-formed.
func (m *ConnectorCheckpoint) Validate() error {
	if m.State == nil {
		return fmt.Errorf("missing State")
	} else if len(m.State.UpdatedJSON) == 0 {
		return fmt.Errorf("missing State.UpdatedJson")
	}
	return nil
}

// Validate is a no-op: ConnectorAcknowledge's Checkpoints may be zero.
func (m *ConnectorAcknowledge) Validate() error { return nil }

// Validate returns an error if the ClientCaptured isn't well-formed.
func (m *ClientCaptured) Validate() error {
	if m.Binding < 0 {
		return fmt.Errorf("invalid Binding %d", m.Binding)
	} else if len(m.DocJSON) == 0 {
		return fmt.Errorf("missing DocJson")
	}
	return nil
}

// Validate returns an error if the ClientCheckpoint isn't well-formed: at
// least one of State, Stats, or a meaningful PollResult must be set.
func (m *ClientCheckpoint) Validate() error {
	if m.State == nil && m.Stats == nil && m.PollResult == PollNotReady {
		return fmt.Errorf("empty Checkpoint: no State, Stats, or PollResult")
	}
	return nil
}

// Validate is a no-op: an empty RuntimeCheckpoint is valid on a session's
// first ever transaction.
func (m *StartCommitRequest) Validate() error { return nil }

// Validate is a no-op: StartedCommitResponse carries no fields.
func (m *StartedCommitResponse) Validate() error { return nil }

// Validate is a no-op: AcknowledgeRequest carries no fields.
func (m *AcknowledgeRequest) Validate() error { return nil }
