package audio

import (
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(4)

	rb.Write([]float32{1, 2})
	if rb.Len() != 2 {
		t.Errorf("Expected length 2, got %d", rb.Len())
	}

	got := rb.Snapshot()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Expected [1 2], got %v", got)
	}
}

func TestRingBuffer_Overwrite(t *testing.T) {
	rb := NewRingBuffer(4)

	rb.Write([]float32{1, 2, 3})
	rb.Write([]float32{4, 5, 6})

	got := rb.Snapshot()
	expected := []float32{3, 4, 5, 6}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Index %d: expected %v, got %v", i, expected[i], got[i])
		}
	}
}

func TestRingBuffer_OversizedWrite(t *testing.T) {
	rb := NewRingBuffer(3)

	rb.Write([]float32{1, 2, 3, 4, 5})

	got := rb.Snapshot()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("Expected [3 4 5], got %v", got)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Write([]float32{1, 2, 3})
	rb.Clear()

	if rb.Len() != 0 {
		t.Errorf("Expected empty buffer after Clear, got %d", rb.Len())
	}
	if len(rb.Snapshot()) != 0 {
		t.Error("Expected empty snapshot after Clear")
	}
}
