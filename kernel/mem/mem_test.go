package mem

import "testing"

func TestSizePages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint32
	}{
		{0, 0},
		{1, 1},
		{1023, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{3 * PageSize, 3},
		{4 * Mb, 1024},
		{4 * Gb, TotalPages},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected size %d to require %d pages; got %d", specIndex, spec.size, spec.expPages, got)
		}
	}
}

func TestSizeRoundUp(t *testing.T) {
	specs := []struct {
		size, exp Size
	}{
		{0, 0},
		{1, PageSize},
		{PageSize, PageSize},
		{PageSize + 42, 2 * PageSize},
	}

	for specIndex, spec := range specs {
		if got := spec.size.RoundUp(); got != spec.exp {
			t.Errorf("[spec %d] expected %d to be rounded up to %d; got %d", specIndex, spec.size, spec.exp, got)
		}
	}
}

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(nil, 0x00)

	for pageCount := 1; pageCount <= 10; pageCount++ {
		buf := make([]byte, int(PageSize)*pageCount)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		Memset(buf, 0x00)

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[block with %d pages] expected byte: %d to be 0x00; got 0x%x", pageCount, i, got)
			}
		}
	}

	// odd sizes must be fully covered too
	buf := make([]byte, 13)
	Memset(buf, 0xAB)
	for i, b := range buf {
		if b != 0xAB {
			t.Errorf("expected byte %d to be 0xAB; got 0x%x", i, b)
		}
	}
}
