package parser

import (
	"context"
	"time"
)

// PhonologyFST (C2) owns a phonology script and compiles/applies it via
// foma/flookup. It adds no attributes beyond FomaFST's: the script is the
// authored source and no automatic preamble is added (spec.md §3).
type PhonologyFST struct {
	*FomaFST
}

// NewPhonologyFST constructs a phonology FST rooted at a fresh workspace
// under parentDirectory.
func NewPhonologyFST(parentDirectory, script string) (*PhonologyFST, error) {
	obj, err := NewObject(ObjectPhonology, parentDirectory)
	if err != nil {
		return nil, err
	}
	return &PhonologyFST{FomaFST: NewFomaFST(obj, script)}, nil
}

// VerificationString is the string foma's compiler prints on success for a
// phonology: "defined phonology: ".
func (p *PhonologyFST) VerificationString() string {
	return "defined " + string(p.Obj.Type) + ": "
}

// Compile compiles the phonology's script with the phonology verification
// string.
func (p *PhonologyFST) Compile(ctx context.Context, timeout time.Duration) error {
	return p.FomaFST.Compile(ctx, timeout, p.VerificationString())
}

// ApplyUp maps surface transcriptions to their phonological underlying
// representations.
func (p *PhonologyFST) ApplyUp(ctx context.Context, inputs []string) (map[string][]string, error) {
	return p.Apply(ctx, "up", inputs, p.Boundaries)
}

// ApplyDown maps underlying representations to surface transcriptions.
func (p *PhonologyFST) ApplyDown(ctx context.Context, inputs []string) (map[string][]string, error) {
	return p.Apply(ctx, "down", inputs, p.Boundaries)
}
