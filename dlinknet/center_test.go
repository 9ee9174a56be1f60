package dlinknet

import "testing"

func TestCheckEmbedGrid(t *testing.T) {
	if err := checkEmbedGrid([]int64{1, 512, 8, 8}); err != nil {
		t.Errorf("want no error for the 8x8 grid, got %v", err)
	}

	bad := [][]int64{
		{1, 512, 2, 2}, // 256px input
		{1, 512, 16, 16},
		{1, 512, 8, 4},
		{512, 8, 8},
	}
	for _, size := range bad {
		if err := checkEmbedGrid(size); err == nil {
			t.Errorf("want descriptive error for deepest feature map %v", size)
		}
	}
}
