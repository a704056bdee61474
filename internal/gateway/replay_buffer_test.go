package gateway

import "testing"

func fill(rb *ReplayBuffer, from, to int64) {
	for seq := from; seq <= to; seq++ {
		inst := "A"
		if seq%2 == 0 {
			inst = "B"
		}
		rb.Push(seq, inst, []byte("env"))
	}
}

func TestReplayBuffer_After(t *testing.T) {
	rb := NewReplayBuffer(100)
	fill(rb, 1, 10)

	got, truncated := rb.After(6, nil)
	if truncated {
		t.Error("nothing was discarded, truncated should be false")
	}
	if len(got) != 4 || got[0].Seq != 7 || got[3].Seq != 10 {
		t.Fatalf("After(6) = %+v, want seqs 7..10", got)
	}

	got, _ = rb.After(0, func(id string) bool { return id == "B" })
	if len(got) != 5 {
		t.Fatalf("filtered replay = %d entries, want 5", len(got))
	}
	for _, e := range got {
		if e.Instrument != "B" {
			t.Errorf("seq %d instrument %q leaked through filter", e.Seq, e.Instrument)
		}
	}
}

func TestReplayBuffer_DiscardsOldest(t *testing.T) {
	rb := NewReplayBuffer(5)
	fill(rb, 1, 8)

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got, truncated := rb.After(0, nil)
	if !truncated {
		t.Error("seqs 1..3 were discarded, truncated should be true")
	}
	if len(got) != 5 || got[0].Seq != 4 || got[4].Seq != 8 {
		t.Fatalf("After(0) = %+v, want seqs 4..8", got)
	}

	if _, truncated := rb.After(3, nil); truncated {
		t.Error("client at seq 3 missed nothing")
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	got, truncated := rb.After(0, nil)
	if len(got) != 0 || truncated {
		t.Fatalf("empty buffer After = %v, %v", got, truncated)
	}
}
