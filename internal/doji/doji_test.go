package doji

import (
	"testing"

	"hadoji/internal/model"
)

func TestIsDoji(t *testing.T) {
	cases := []struct {
		name string
		c    model.HACandle
		want bool
	}{
		{"worked example ratio 0.125", model.HACandle{Open: 99.5, High: 101, Low: 99, Close: 99.75}, false},
		{"tiny body", model.HACandle{Open: 100, High: 102, Low: 98, Close: 100.1}, true},
		{"open equals close", model.HACandle{Open: 100, High: 101, Low: 99, Close: 100}, true},
		{"ratio exactly threshold", model.HACandle{Open: 100, High: 110, Low: 100, Close: 101}, false},
		{"zero range", model.HACandle{Open: 100, High: 100, Low: 100, Close: 100}, false},
		{"full body", model.HACandle{Open: 99, High: 101, Low: 99, Close: 101}, false},
	}
	for _, tc := range cases {
		if got := IsDoji(tc.c, DefaultThreshold); got != tc.want {
			t.Errorf("%s: IsDoji = %v, want %v (ratio=%v)", tc.name, got, tc.want, Ratio(tc.c))
		}
	}
}

func TestDetector_Threshold(t *testing.T) {
	c := model.HACandle{Open: 99.5, High: 101, Low: 99, Close: 99.75} // ratio 0.125

	if NewDetector(0).Detect(c) {
		t.Error("default threshold 0.1 should not flag ratio 0.125")
	}
	if !NewDetector(0.2).Detect(c) {
		t.Error("threshold 0.2 should flag ratio 0.125")
	}
	if NewDetector(-1).Threshold != DefaultThreshold {
		t.Error("non-positive threshold should fall back to default")
	}
}

func TestRatio_ZeroRange(t *testing.T) {
	if r := Ratio(model.HACandle{Open: 5, High: 5, Low: 5, Close: 5}); r != 0 {
		t.Errorf("expected 0 ratio for zero range, got %v", r)
	}
}
