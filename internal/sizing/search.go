// Package sizing はファイルサイズ目標に合わせる探索処理を提供します。
// どの関数もジョブやレジストリに依存せず、計測関数だけを受け取ります。
package sizing

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxQuality は品質探索の開始値です。
	MaxQuality = 100
	// MinQuality は品質探索で試す最低値です。
	MinQuality = 15
	// QualityStep は品質探索の刻み幅です。
	QualityStep = 5
	// ScaleQuality は縮小探索で使う品質です。
	ScaleQuality = 30
	// MinScale / MaxScale は縮小探索の範囲です。
	MinScale = 0.1
	MaxScale = 1.0
	// ScaleTolerance は縮小探索を打ち切る区間幅です。
	ScaleTolerance = 0.01

	// ReferenceFPS は動画の初回レンダリングに使うフレームレートです。
	ReferenceFPS = 10
	// MinFPS は補正後フレームレートの下限です。
	MinFPS = 1
)

// ErrInvalidBudget は目標サイズが0以下の場合に返ります。
var ErrInvalidBudget = errors.New("size budget must be positive")

// SizeFunc は scale 倍・品質 quality でエンコードしたときのバイト数を返します。
// quality を固定したとき scale に対して単調非減少であることを前提にします。
type SizeFunc func(scale float64, quality int) (int64, error)

// Plan は探索結果です。
type Plan struct {
	Quality  int
	Scale    float64
	Size     int64 // 採用した設定での計測サイズ
	Attempts int   // エンコード回数
	Fits     bool  // 目標サイズ以下に収まったか
}

// SearchQuality は等倍のまま品質を 100 から 15 まで 5 刻みで下げ、
// 最初に budget 以下になった品質を返します。どれも収まらなければ Fits=false を返します。
func SearchQuality(measure SizeFunc, budget int64) (Plan, error) {
	if budget <= 0 {
		return Plan{}, ErrInvalidBudget
	}
	plan := Plan{Scale: MaxScale}
	for q := MaxQuality; q >= MinQuality; q -= QualityStep {
		size, err := measure(MaxScale, q)
		plan.Attempts++
		if err != nil {
			return plan, fmt.Errorf("measure quality %d: %w", q, err)
		}
		plan.Quality = q
		plan.Size = size
		if size <= budget {
			plan.Fits = true
			return plan, nil
		}
	}
	return plan, nil
}

// SearchScale は品質 30 固定で縮小率を二分探索し、budget に収まる最大の縮小率を返します。
// 区間幅が 0.01 以下になったら終了します。収まる縮小率が無ければ最小値 0.1 を Fits=false で返し、
// Size には試した中で最小の縮小率での計測値を入れます。
func SearchScale(measure SizeFunc, budget int64) (Plan, error) {
	if budget <= 0 {
		return Plan{}, ErrInvalidBudget
	}

	low, high := MinScale, MaxScale
	plan := Plan{Quality: ScaleQuality, Scale: MinScale}
	var bestSize int64 = -1
	var lastSize int64

	for high-low > ScaleTolerance {
		mid := (low + high) / 2
		size, err := measure(mid, ScaleQuality)
		plan.Attempts++
		if err != nil {
			return plan, fmt.Errorf("measure scale %.3f: %w", mid, err)
		}
		lastSize = size
		if size <= budget {
			plan.Scale = mid
			bestSize = size
			low = mid
		} else {
			high = mid
		}
	}

	if bestSize >= 0 {
		plan.Size = bestSize
		plan.Fits = true
	} else {
		plan.Size = lastSize
	}
	return plan, nil
}

// FitToBudget は品質探索を行い、収まらなければ縮小探索に切り替えます。
func FitToBudget(measure SizeFunc, budget int64) (Plan, error) {
	plan, err := SearchQuality(measure, budget)
	if err != nil || plan.Fits {
		return plan, err
	}
	attempts := plan.Attempts
	plan, err = SearchScale(measure, budget)
	plan.Attempts += attempts
	return plan, err
}

// FitScale は品質を持たない形式向けの探索です。等倍で収まればそのまま返し、
// 収まらなければ縮小探索だけを行います。
func FitScale(measure SizeFunc, budget int64) (Plan, error) {
	if budget <= 0 {
		return Plan{}, ErrInvalidBudget
	}
	size, err := measure(MaxScale, ScaleQuality)
	if err != nil {
		return Plan{Attempts: 1}, fmt.Errorf("measure scale %.3f: %w", MaxScale, err)
	}
	if size <= budget {
		return Plan{Quality: ScaleQuality, Scale: MaxScale, Size: size, Attempts: 1, Fits: true}, nil
	}
	plan, err := SearchScale(measure, budget)
	plan.Attempts++
	return plan, err
}

// CorrectFrameRate は参照フレームレートで計測したサイズから補正後のフレームレートを求めます。
// reference * sqrt(target / measured) を切り捨て、MinFPS 以上に丸めます。
// measured が target 以下なら reference をそのまま返します。
func CorrectFrameRate(reference int, measured, target int64) int {
	if measured <= target || measured <= 0 || target <= 0 {
		if reference < MinFPS {
			return MinFPS
		}
		return reference
	}
	fps := int(float64(reference) * math.Sqrt(float64(target)/float64(measured)))
	if fps < MinFPS {
		fps = MinFPS
	}
	return fps
}

// RenderFunc は fps でレンダリングし、出力サイズを返します。
type RenderFunc func(fps int) (int64, error)

// FrameRatePlan はフレームレート探索の結果です。
type FrameRatePlan struct {
	FPS       int
	Size      int64
	Rendered  int // レンダリング回数（1 または 2）
	FirstSize int64
	Fits      bool
}

// PlanFrameRate は参照フレームレートで1回レンダリングし、目標を超えた場合だけ
// 補正したフレームレートで1回だけ再レンダリングします。再レンダリング結果は目標を超えていても採用します。
func PlanFrameRate(render RenderFunc, target int64) (FrameRatePlan, error) {
	if target <= 0 {
		return FrameRatePlan{}, ErrInvalidBudget
	}

	size, err := render(ReferenceFPS)
	if err != nil {
		return FrameRatePlan{}, err
	}
	plan := FrameRatePlan{FPS: ReferenceFPS, Size: size, FirstSize: size, Rendered: 1}
	if size <= target {
		plan.Fits = true
		return plan, nil
	}

	fps := CorrectFrameRate(ReferenceFPS, size, target)
	if fps == ReferenceFPS {
		return plan, nil
	}
	size, err = render(fps)
	if err != nil {
		return plan, err
	}
	plan.FPS = fps
	plan.Size = size
	plan.Rendered = 2
	plan.Fits = size <= target
	return plan, nil
}
