package protocol

// FrameKind names a frame by the literal wire-level discriminant the
// protocol uses for it. Request and response frames for the same RPC
// share a FrameKind value except where the protocol itself distinguishes
// them (Discover/Discovered, Validate/Validated, Apply/Applied,
// Open/Opened); Spec's request and response are both simply "Spec".
type FrameKind string

const (
	KindSpec       FrameKind = "Spec"
	KindDiscover   FrameKind = "Discover"
	KindDiscovered FrameKind = "Discovered"
	KindValidate   FrameKind = "Validate"
	KindValidated  FrameKind = "Validated"
	KindApply      FrameKind = "Apply"
	KindApplied    FrameKind = "Applied"
	KindOpen       FrameKind = "Open"
	KindOpened     FrameKind = "Opened"
)

// UnaryResponseKind maps each unary request FrameKind to the single
// response FrameKind that must answer it, per the protocol's strict
// pairing rule for Spec, Discover, Validate, Apply, and Open.
var UnaryResponseKind = map[FrameKind]FrameKind{
	KindSpec:     KindSpec,
	KindDiscover: KindDiscovered,
	KindValidate: KindValidated,
	KindApply:    KindApplied,
	KindOpen:     KindOpened,
}
