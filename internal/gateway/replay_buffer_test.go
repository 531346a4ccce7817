package gateway

import "testing"

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)
	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte("msg"))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		if want := int64(i) + 3; e.Seq != want {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, want)
		}
	}
}

func TestReplayBuffer_EvictsOldest(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte("msg"))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 || got[0].Seq != 4 || got[4].Seq != 8 {
		t.Fatalf("expected seqs 4..8, got %v", got)
	}
}

func TestReplayBuffer_CopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'X'

	if got := string(rb.Range(1, 1)[0].Data); got != "abc" {
		t.Errorf("buffer aliased caller slice: %q", got)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	if got := NewReplayBuffer(10).Range(1, 100); len(got) != 0 {
		t.Fatalf("expected empty range, got %d", len(got))
	}
}
