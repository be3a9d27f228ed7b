package types

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Typed Errors (stable categories for programmatic handling)
// -----------------------------------------------------------------------------

// ErrKind classifies errors so callers can branch on intent rather than text.
type ErrKind int

const (
	ErrKindPlanning            ErrKind = iota // generic planning failure
	ErrKindMetadataLayout                     // metadata root, stream or heap placement
	ErrKindSectionLayout                      // section relocation or .meta placement
	ErrKindOperationGeneration                // copy/zero/write derivation
	ErrKindFormat                             // malformed source image
	ErrKindExecution                          // applying a layout to an output buffer
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindPlanning:
		return "planning"
	case ErrKindMetadataLayout:
		return "metadata_layout"
	case ErrKindSectionLayout:
		return "section_layout"
	case ErrKindOperationGeneration:
		return "operation_generation"
	case ErrKindFormat:
		return "format"
	case ErrKindExecution:
		return "execution"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Stage identifies the pipeline step that failed.
type Stage int

const (
	StageNone Stage = iota
	StageParse
	StageComponentSizing
	StageNativeSizing
	StageFileStructure
	StageMetadataLayout
	StageNativeAllocation
	StageOperations
	StageMappings
	StageValidation
	StageExecution
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageParse:
		return "parse"
	case StageComponentSizing:
		return "component_sizing"
	case StageNativeSizing:
		return "native_sizing"
	case StageFileStructure:
		return "file_structure"
	case StageMetadataLayout:
		return "metadata_layout"
	case StageNativeAllocation:
		return "native_allocation"
	case StageOperations:
		return "operations"
	case StageMappings:
		return "mappings"
	case StageValidation:
		return "validation"
	case StageExecution:
		return "execution"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Reason narrows an error inside its kind.
type Reason int

const (
	ReasonUnspecified Reason = iota
	ReasonMissing            // expected section, stream or table absent
	ReasonOverflow           // narrowing cast or arithmetic would lose bits
	ReasonNativeSpace        // native tables do not fit the reserved tail
	ReasonOverlap            // two regions or operations overlap
	ReasonBounds             // a region falls outside its container
	ReasonMalformed          // source bytes fail to decode
)

func (r Reason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonMissing:
		return "missing"
	case ReasonOverflow:
		return "overflow"
	case ReasonNativeSpace:
		return "native_space"
	case ReasonOverlap:
		return "overlap"
	case ReasonBounds:
		return "bounds"
	case ReasonMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Error is a typed error with stage, location and an optional underlying cause.
// Offset and Size describe the offending byte range when HasRange is set.
type Error struct {
	Kind     ErrKind
	Stage    Stage
	Reason   Reason
	Msg      string
	Offset   uint64
	Size     uint64
	HasRange bool
	Err      error // optional underlying cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(e.Stage.String())
	b.WriteString("] ")
	b.WriteString(e.Kind.String())
	if e.Reason != ReasonUnspecified {
		b.WriteByte('/')
		b.WriteString(e.Reason.String())
	}
	if e.HasRange {
		fmt.Fprintf(&b, " at 0x%X (+0x%X)", e.Offset, e.Size)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind and Stage, and on Reason when the target sets one.
// A target with StageNone matches any stage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Stage != StageNone && e.Stage != t.Stage {
		return false
	}
	return t.Reason == ReasonUnspecified || e.Reason == t.Reason
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates a new error builder.
func New(kind ErrKind, stage Stage) *Builder {
	return &Builder{err: Error{Kind: kind, Stage: stage}}
}

// Reason sets the narrowing reason.
func (b *Builder) Reason(r Reason) *Builder {
	b.err.Reason = r
	return b
}

// At records the offending byte range.
func (b *Builder) At(offset, size uint64) *Builder {
	b.err.Offset = offset
	b.err.Size = size
	b.err.HasRange = true
	return b
}

// Msg sets the human-readable message.
func (b *Builder) Msg(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Msg = fmt.Sprintf(msg, args...)
	} else {
		b.err.Msg = msg
	}
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Err = err
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Sentinels for errors.Is matching across stages.
var (
	// ErrOverflow matches any narrowing or arithmetic overflow during planning.
	ErrOverflow = &Error{Kind: ErrKindPlanning, Reason: ReasonOverflow}
	// ErrNativeSpace matches native tables that do not fit the reserved tail.
	ErrNativeSpace = &Error{Kind: ErrKindPlanning, Reason: ReasonNativeSpace}
	// ErrMissing matches a missing section or stream during planning.
	ErrMissing = &Error{Kind: ErrKindPlanning, Reason: ReasonMissing}
	// ErrMalformed matches a source image that failed to decode.
	ErrMalformed = &Error{Kind: ErrKindFormat, Reason: ReasonMalformed}
)

// Overflow builds the error returned when a value does not fit its on-disk width.
func Overflow(stage Stage, what string, value uint64) *Error {
	return New(ErrKindPlanning, stage).Reason(ReasonOverflow).
		Msg("%s (%d) exceeds field width", what, value).Build()
}

// Missing builds the error returned when a required section or stream is absent.
func Missing(kind ErrKind, stage Stage, what string) *Error {
	return New(kind, stage).Reason(ReasonMissing).Msg("%s not found", what).Build()
}

// -----------------------------------------------------------------------------
// Output sinks
// -----------------------------------------------------------------------------

// Writer receives a fully rewritten image.
type Writer interface {
	WriteAssembly(buf []byte) error
}
