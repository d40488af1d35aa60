// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package portset

import (
	"bytes"
	"crypto/sha256"
	stderrors "errors"
	"testing"
	"time"

	"github.com/cocowh/portshift/pkg/errors"
)

// cyclicReader returns the same byte pattern forever, producing collisions on
// purpose.
type cyclicReader struct {
	pattern []byte
	pos     int
}

func (r *cyclicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.pattern[r.pos%len(r.pattern)]
		r.pos++
	}
	return len(p), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, stderrors.New("entropy exhausted")
}

func TestGenerateSizeAndUniqueness(t *testing.T) {
	for _, size := range []int{1, 2, 16, 64, 200} {
		g, err := NewGenerator("secret", size)
		if err != nil {
			t.Fatalf("NewGenerator(size=%d): %v", size, err)
		}
		for epoch := int64(0); epoch < 20; epoch++ {
			ps, err := g.Generate(epoch)
			if err != nil {
				t.Fatalf("Generate(%d): %v", epoch, err)
			}
			if ps.Len() != size {
				t.Fatalf("size=%d epoch=%d: got %d entries", size, epoch, ps.Len())
			}
			seen := make(map[Offset]bool)
			genuine := 0
			for _, e := range ps.Entries {
				if seen[e.Offset] {
					t.Fatalf("size=%d epoch=%d: duplicate offset %d", size, epoch, e.Offset)
				}
				seen[e.Offset] = true
				if e.Role == RoleGenuine {
					genuine++
				}
			}
			if genuine != 1 {
				t.Fatalf("size=%d epoch=%d: %d genuine entries, want 1", size, epoch, genuine)
			}
			if len(ps.Decoys()) != size-1 {
				t.Fatalf("size=%d: %d decoys, want %d", size, len(ps.Decoys()), size-1)
			}
		}
	}
}

func TestGenuineOffsetIsReproducible(t *testing.T) {
	a, _ := NewGenerator("s", 16)
	b, _ := NewGenerator("s", 16)

	for epoch := int64(90); epoch < 110; epoch++ {
		if a.GenuineOffset(epoch) != b.GenuineOffset(epoch) {
			t.Fatalf("epoch %d: offsets differ between generators", epoch)
		}
		psA, err := a.Generate(epoch)
		if err != nil {
			t.Fatal(err)
		}
		g, ok := psA.Genuine()
		if !ok || g.Offset != a.GenuineOffset(epoch) {
			t.Fatalf("epoch %d: genuine entry %v does not match derived offset", epoch, g)
		}
	}
}

func TestGenuineOffsetMatchesSHA256(t *testing.T) {
	sum := sha256.Sum256([]byte("s 100"))
	g, _ := NewGenerator("s", 16)

	if got := g.GenuineOffset(100); got != Offset(sum[0]) {
		t.Fatalf("GenuineOffset(100) = %d, want %d", got, sum[0])
	}
	if got := g.GenuineOffset(100); got != 0x38 {
		t.Fatalf("GenuineOffset(100) = %#x, want 0x38", got)
	}
}

func TestGenuinePort(t *testing.T) {
	g, _ := NewGenerator("s", 16)
	tests := []struct {
		base  int
		epoch int64
		want  int
	}{
		{10000, 100, 10056},
		{20000, 100, 20056},
		{10000, 1, 10000 + int(g.GenuineOffset(1))},
	}
	for _, tt := range tests {
		if got := g.GenuinePort(tt.base, tt.epoch); got != tt.want {
			t.Errorf("GenuinePort(%d, %d) = %d, want %d", tt.base, tt.epoch, got, tt.want)
		}
	}

	ps, err := g.Generate(100)
	if err != nil {
		t.Fatal(err)
	}
	genuine, _ := ps.Genuine()
	if 10000+int(genuine.Offset) != g.GenuinePort(10000, 100) {
		t.Fatal("GenuinePort disagrees with the genuine entry of the generated set")
	}
}

func TestGenuineOffsetChangesAcrossEpochs(t *testing.T) {
	g, _ := NewGenerator("s", 16)
	distinct := make(map[Offset]bool)
	for epoch := int64(0); epoch < 64; epoch++ {
		distinct[g.GenuineOffset(epoch)] = true
	}
	if len(distinct) < 16 {
		t.Fatalf("only %d distinct genuine offsets over 64 epochs", len(distinct))
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	genuine := DeriveOffset(SHA256(), "s", 7)
	// every batch repeats the genuine offset and a few already used values
	r := &cyclicReader{pattern: []byte{byte(genuine), 1, 1, 2, byte(genuine), 3, 2, 4}}
	g, _ := NewGenerator("s", 5, WithRandom(r))

	ps, err := g.Generate(7)
	if err != nil {
		t.Fatal(err)
	}
	if ps.Len() != 5 {
		t.Fatalf("got %d entries, want 5", ps.Len())
	}
	if ps.Entries[0].Role != RoleGenuine || ps.Entries[0].Offset != genuine {
		t.Fatalf("first entry = %+v, want genuine %d", ps.Entries[0], genuine)
	}
}

func TestGenerateRandomFailure(t *testing.T) {
	g, _ := NewGenerator("s", 4, WithRandom(failingReader{}))
	_, err := g.Generate(1)
	if !errors.HasCode(err, errors.ErrCodeGenerationFailure) {
		t.Fatalf("err = %v, want generation failure", err)
	}
}

func TestNewGeneratorRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		size   int
	}{
		{"too large", "s", 257},
		{"zero", "s", 0},
		{"negative", "s", -1},
		{"empty secret", "", 16},
	}
	for _, tt := range tests {
		_, err := NewGenerator(tt.secret, tt.size)
		if !errors.HasCode(err, errors.ErrCodeGenerationFailure) {
			t.Errorf("%s: err = %v, want generation failure", tt.name, err)
		}
	}

	if _, err := NewGenerator("s", MaxSize); err != nil {
		t.Errorf("size %d: unexpected error %v", MaxSize, err)
	}
}

func TestFullOffsetSpace(t *testing.T) {
	g, _ := NewGenerator("s", MaxSize)
	ps, err := g.Generate(1)
	if err != nil {
		t.Fatal(err)
	}
	if ps.Len() != MaxSize {
		t.Fatalf("got %d entries, want %d", ps.Len(), MaxSize)
	}
}

func TestHashers(t *testing.T) {
	for _, name := range HasherNames() {
		h, err := LookupHasher(name)
		if err != nil {
			t.Fatalf("LookupHasher(%q): %v", name, err)
		}
		if h.Name() != name {
			t.Errorf("Name() = %q, want %q", h.Name(), name)
		}
		if len(h.Sum([]byte("x"))) != 32 {
			t.Errorf("%s digest length = %d, want 32", name, len(h.Sum([]byte("x"))))
		}
	}
	if _, err := LookupHasher("md5"); err == nil {
		t.Error("LookupHasher(md5) should fail")
	}

	b2, _ := LookupHasher("blake2b")
	if bytes.Equal(b2.Sum([]byte("s 1")), SHA256().Sum([]byte("s 1"))) {
		t.Error("blake2b and sha256 digests should differ")
	}
}

func TestEpochAt(t *testing.T) {
	ts := time.UnixMilli(6_000_000 + 59_999)
	if got := EpochAt(ts, time.Minute); got != 100 {
		t.Fatalf("EpochAt = %d, want 100", got)
	}
	if got := EpochAt(ts.Add(time.Millisecond), time.Minute); got != 101 {
		t.Fatalf("EpochAt at boundary = %d, want 101", got)
	}
	if !EpochStart(100, time.Minute).Equal(time.UnixMilli(6_000_000)) {
		t.Fatalf("EpochStart(100) = %v", EpochStart(100, time.Minute))
	}
}
