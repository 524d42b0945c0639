package richpresence

import (
	"strings"
	"testing"
	"time"
)

func TestPresence_WithDetails_RejectsOversized(t *testing.T) {
	p := NewPresence()
	oversized := strings.Repeat("a", maxDetailsLen+1)
	if _, err := p.WithDetails(oversized); err == nil {
		t.Fatal("expected error for oversized details")
	}
}

func TestPresence_WithState_TrimsInsteadOfRejecting(t *testing.T) {
	p := NewPresence()
	oversized := strings.Repeat("a", maxStateLen+50)
	result, err := p.WithState(oversized)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.State) > maxStateLen {
		t.Fatalf("expected state trimmed to %d bytes, got %d", maxStateLen, len(result.State))
	}
}

func TestPresence_WithParty_CoercesSizeAndMax(t *testing.T) {
	p := NewPresence()
	result, err := p.WithParty("p", 3, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Party.Size != 3 || result.Party.Max != 3 {
		t.Fatalf("expected coerced party [3,3], got [%d,%d]", result.Party.Size, result.Party.Max)
	}
}

func TestPresence_WithParty_MinimumSizeOne(t *testing.T) {
	p := NewPresence()
	result, err := p.WithParty("p", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Party.Size != 1 || result.Party.Max != 1 {
		t.Fatalf("expected [1,1], got [%d,%d]", result.Party.Size, result.Party.Max)
	}
}

func TestPresence_ToArgs_PartySizeSerialization(t *testing.T) {
	p, _ := NewPresence().WithParty("p", 3, 2)
	args := p.toArgs()
	party, ok := args["party"].(map[string]any)
	if !ok {
		t.Fatal("expected party in args")
	}
	size, ok := party["size"].([2]int)
	if !ok {
		t.Fatalf("expected [2]int size, got %T", party["size"])
	}
	if size != [2]int{3, 3} {
		t.Fatalf("expected serialized size [3,3], got %v", size)
	}
}

func TestPresence_Clone_IsIndependent(t *testing.T) {
	start := time.Now()
	p, _ := NewPresence().WithDetails("hello")
	p, _ = p.WithParty("party", 2, 4)
	p, err := p.WithStartTime(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clone := p.Clone()
	clone.Details = "mutated"
	clone.Party.Size = 99
	*clone.Timestamps.Start = start.Add(time.Hour)

	if p.Details != "hello" {
		t.Fatalf("expected original details unchanged, got %q", p.Details)
	}
	if p.Party.Size != 2 {
		t.Fatalf("expected original party size unchanged, got %d", p.Party.Size)
	}
	if !p.Timestamps.Start.Equal(start) {
		t.Fatalf("expected original start time unchanged, got %v", p.Timestamps.Start)
	}
}

func TestPresence_Clone_NilIsNil(t *testing.T) {
	var p *Presence
	if p.Clone() != nil {
		t.Fatal("expected nil clone of nil presence")
	}
}

func TestPresence_Merge_ReplacesScalarsAndParty(t *testing.T) {
	base, _ := NewPresence().WithDetails("old")
	incoming, _ := NewPresence().WithDetails("new")
	incoming, _ = incoming.WithParty("p", 1, 4)

	base.Merge(incoming)

	if base.Details != "new" {
		t.Fatalf("expected details replaced, got %q", base.Details)
	}
	if base.Party == nil || base.Party.ID != "p" {
		t.Fatalf("expected party replaced, got %+v", base.Party)
	}
}

func TestPresence_Merge_AdoptsNumericImageID(t *testing.T) {
	base, _ := NewPresence().WithLargeAsset("my_key", "hover")
	incoming := &Presence{Assets: Assets{LargeImageKey: "123456789", LargeText: "hover2"}}

	base.Merge(incoming)

	if base.Assets.LargeImageID != 123456789 {
		t.Fatalf("expected numeric id adopted, got %d", base.Assets.LargeImageID)
	}
	if base.Assets.LargeImageKey != "my_key" {
		t.Fatalf("expected original key preserved when id resolved, got %q", base.Assets.LargeImageKey)
	}
}

func TestPresence_Merge_ReplacesKeyWhenNotNumeric(t *testing.T) {
	base, _ := NewPresence().WithLargeAsset("old_key", "hover")
	incoming := &Presence{Assets: Assets{LargeImageKey: "still_a_key", LargeText: "hover2"}}

	base.Merge(incoming)

	if base.Assets.LargeImageKey != "still_a_key" {
		t.Fatalf("expected key replaced, got %q", base.Assets.LargeImageKey)
	}
	if base.Assets.LargeImageID != 0 {
		t.Fatalf("expected id cleared, got %d", base.Assets.LargeImageID)
	}
}

func TestPresence_WithSecretsWithoutParty_IsLegal(t *testing.T) {
	p := NewPresence()
	if _, err := p.WithSecrets("joinsecret", "", ""); err != nil {
		t.Fatalf("expected secrets without party to be legal, got: %v", err)
	}
}

func TestPresence_Validate_RejectsOversizedLiteralDetails(t *testing.T) {
	p := &Presence{Details: strings.Repeat("a", maxDetailsLen+1)}
	err := p.Validate()
	if err == nil {
		t.Fatal("expected error for oversized details set as a struct literal")
	}
	rpErr, ok := err.(*Error)
	if !ok || rpErr.Kind != ErrKindStringOutOfRange {
		t.Fatalf("expected ErrKindStringOutOfRange, got %v", err)
	}
}

func TestPresence_Validate_TrimsLiteralState(t *testing.T) {
	p := &Presence{State: strings.Repeat("a", maxStateLen+50)}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.State) > maxStateLen {
		t.Fatalf("expected state trimmed to %d bytes, got %d", maxStateLen, len(p.State))
	}
}

func TestPresence_Validate_CoercesLiteralParty(t *testing.T) {
	p := &Presence{Party: &Party{ID: "p", Size: 5, Max: 2}}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Party.Size != 5 || p.Party.Max != 5 {
		t.Fatalf("expected coerced party [5,5], got [%d,%d]", p.Party.Size, p.Party.Max)
	}
}

func TestPresence_Validate_RejectsOversizedLiteralSecret(t *testing.T) {
	p := &Presence{Secrets: &Secrets{Join: strings.Repeat("a", maxSecretLen+1)}}
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for oversized join secret set as a struct literal")
	}
}

func TestPresence_WithSecrets_RejectsOversized(t *testing.T) {
	p := NewPresence()
	oversized := strings.Repeat("a", maxSecretLen+1)
	if _, err := p.WithSecrets(oversized, "", ""); err == nil {
		t.Fatal("expected error for oversized join secret")
	}
}
