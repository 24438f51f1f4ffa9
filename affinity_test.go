package posepuppet

import "testing"

func TestParseCPUList(t *testing.T) {

	tests := []struct {
		in   string
		mask uintptr
		err  bool
	}{
		{in: "4-7", mask: 0b11110000},
		{in: "0,2", mask: 0b101},
		{in: "0, 4-5", mask: 0b110001},
		{in: "3", mask: 0b1000},
		{in: "", err: true},
		{in: "7-4", err: true},
		{in: "a-b", err: true},
		{in: "70", err: true},
	}

	for _, tc := range tests {
		cores, err := ParseCPUList(tc.in)

		if tc.err {
			if err == nil {
				t.Errorf("%q: expected error, got %v", tc.in, cores)
			}
			continue
		}

		if err != nil {
			t.Errorf("%q: %v", tc.in, err)
			continue
		}

		if mask := CPUCoreMask(cores); mask != tc.mask {
			t.Errorf("%q: mask %b, want %b", tc.in, mask, tc.mask)
		}
	}
}
