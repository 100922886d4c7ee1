package sizing

import (
	"errors"
	"math"
	"testing"
)

// areaModel は scale^2 と品質に比例するサイズを返す計測関数です。
func areaModel(full int64) SizeFunc {
	return func(scale float64, quality int) (int64, error) {
		return int64(float64(full) * scale * scale * float64(quality) / 100), nil
	}
}

func TestSearchQualityAcceptsFirstFit(t *testing.T) {
	measure := areaModel(1000)

	plan, err := SearchQuality(measure, 1000)
	if err != nil {
		t.Fatalf("SearchQuality returned error: %v", err)
	}
	if plan.Quality != 100 || plan.Scale != 1.0 || plan.Attempts != 1 || !plan.Fits {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	plan, err = SearchQuality(measure, 620)
	if err != nil {
		t.Fatalf("SearchQuality returned error: %v", err)
	}
	if plan.Quality != 60 || plan.Attempts != 9 || plan.Size != 600 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestSearchQualityExhausts(t *testing.T) {
	plan, err := SearchQuality(areaModel(1000), 100)
	if err != nil {
		t.Fatalf("SearchQuality returned error: %v", err)
	}
	if plan.Fits {
		t.Fatalf("plan should not fit: %+v", plan)
	}
	if plan.Quality != MinQuality || plan.Attempts != 18 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestSearchScaleFindsLargestFeasibleScale(t *testing.T) {
	// 品質30で等倍 300 バイト。budget 75 なら scale 0.5 が境界。
	plan, err := SearchScale(areaModel(1000), 75)
	if err != nil {
		t.Fatalf("SearchScale returned error: %v", err)
	}
	if !plan.Fits || plan.Quality != ScaleQuality {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if math.Abs(plan.Scale-0.5) > ScaleTolerance {
		t.Fatalf("scale = %v, want within %v of 0.5", plan.Scale, ScaleTolerance)
	}
	if plan.Size > 75 {
		t.Fatalf("size %d exceeds budget", plan.Size)
	}
}

func TestSearchScaleTerminatesOnTinyBudget(t *testing.T) {
	calls := 0
	measure := func(scale float64, quality int) (int64, error) {
		calls++
		if quality != ScaleQuality {
			t.Fatalf("quality = %d, want %d", quality, ScaleQuality)
		}
		return 10_000, nil
	}

	plan, err := SearchScale(measure, 1)
	if err != nil {
		t.Fatalf("SearchScale returned error: %v", err)
	}
	bound := int(math.Ceil(math.Log2((MaxScale - MinScale) / ScaleTolerance)))
	if calls > bound {
		t.Fatalf("measured %d times, want at most %d", calls, bound)
	}
	if plan.Scale < MinScale {
		t.Fatalf("scale = %v, want >= %v", plan.Scale, MinScale)
	}
	if plan.Fits {
		t.Fatalf("plan should not fit: %+v", plan)
	}
	if plan.Size != 10_000 {
		t.Fatalf("size = %d, want the size measured at the smallest scale", plan.Size)
	}
}

func TestSearchScaleReportsSmallestMeasuredSize(t *testing.T) {
	// 等倍・品質30で 300 バイト。どの縮小率でも budget 1 には収まらない
	plan, err := SearchScale(areaModel(1000), 1)
	if err != nil {
		t.Fatalf("SearchScale returned error: %v", err)
	}
	if plan.Fits || plan.Scale != MinScale {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	// 最後に試す縮小率は 0.1 から 0.01 以内なので 300*0.11^2 未満
	if plan.Size <= 0 || plan.Size > 4 {
		t.Fatalf("size = %d, want the measurement near scale %v", plan.Size, MinScale)
	}
}

func TestFitToBudgetFallsBackToScale(t *testing.T) {
	plan, err := FitToBudget(areaModel(1000), 75)
	if err != nil {
		t.Fatalf("FitToBudget returned error: %v", err)
	}
	if plan.Quality != ScaleQuality || !plan.Fits {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Attempts <= 18 {
		t.Fatalf("attempts = %d, want quality and scale passes counted", plan.Attempts)
	}
}

func TestFitScaleSkipsQualityPass(t *testing.T) {
	calls := 0
	measure := func(scale float64, quality int) (int64, error) {
		calls++
		return int64(1000 * scale * scale), nil
	}

	plan, err := FitScale(measure, 2000)
	if err != nil {
		t.Fatalf("FitScale returned error: %v", err)
	}
	if !plan.Fits || plan.Scale != MaxScale || plan.Attempts != 1 || calls != 1 {
		t.Fatalf("unexpected plan: %+v (calls %d)", plan, calls)
	}

	calls = 0
	plan, err = FitScale(measure, 250)
	if err != nil {
		t.Fatalf("FitScale returned error: %v", err)
	}
	bound := 1 + int(math.Ceil(math.Log2((MaxScale-MinScale)/ScaleTolerance)))
	if calls > bound || plan.Attempts != calls {
		t.Fatalf("attempts = %d, calls = %d, want at most %d", plan.Attempts, calls, bound)
	}
	if !plan.Fits || math.Abs(plan.Scale-0.5) > ScaleTolerance {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestSearchPropagatesMeasureErrors(t *testing.T) {
	boom := errors.New("encode failed")
	measure := func(float64, int) (int64, error) { return 0, boom }

	if _, err := SearchQuality(measure, 10); !errors.Is(err, boom) {
		t.Fatalf("SearchQuality error = %v", err)
	}
	if _, err := SearchScale(measure, 10); !errors.Is(err, boom) {
		t.Fatalf("SearchScale error = %v", err)
	}
	if _, err := SearchQuality(measure, 0); !errors.Is(err, ErrInvalidBudget) {
		t.Fatalf("zero budget error = %v", err)
	}
}

func TestCorrectFrameRate(t *testing.T) {
	const mb = 1024 * 1024
	tests := []struct {
		name     string
		measured int64
		target   int64
		want     int
	}{
		{name: "quarter size halves fps", measured: 20 * mb, target: 5 * mb, want: 5},
		{name: "already fits", measured: 4 * mb, target: 5 * mb, want: 10},
		{name: "clamped to one", measured: 1000 * mb, target: 1 * mb, want: 1},
		{name: "truncates", measured: 10 * mb, target: 9 * mb, want: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CorrectFrameRate(ReferenceFPS, tt.measured, tt.target); got != tt.want {
				t.Fatalf("CorrectFrameRate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPlanFrameRateRendersAtMostTwice(t *testing.T) {
	var rendered []int
	render := func(fps int) (int64, error) {
		rendered = append(rendered, fps)
		// fps に比例するが補正後も目標を少し超えるモデル
		return int64(fps) * 2_000_000, nil
	}

	plan, err := PlanFrameRate(render, 5_000_000)
	if err != nil {
		t.Fatalf("PlanFrameRate returned error: %v", err)
	}
	if len(rendered) != 2 || rendered[0] != 10 || rendered[1] != 5 {
		t.Fatalf("rendered = %v, want [10 5]", rendered)
	}
	if plan.FPS != 5 || plan.Rendered != 2 || plan.FirstSize != 20_000_000 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Fits {
		t.Fatal("oversized second render should be accepted without fitting")
	}
}

func TestPlanFrameRateSingleRenderWhenFits(t *testing.T) {
	calls := 0
	plan, err := PlanFrameRate(func(fps int) (int64, error) {
		calls++
		return 1000, nil
	}, 5000)
	if err != nil {
		t.Fatalf("PlanFrameRate returned error: %v", err)
	}
	if calls != 1 || plan.FPS != ReferenceFPS || !plan.Fits {
		t.Fatalf("calls=%d plan=%+v", calls, plan)
	}
}
