package neural

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	maxComponents    = 3
	kMeansIterations = 100
	// RecordSeed 记录聚类的默认种子
	RecordSeed uint64 = 7
)

// ErrNoNumericData 没有可用的数值样本
var ErrNoNumericData = errors.New("没有可用于记录引力的数值列")

// RecordScore 单条记录的引力
type RecordScore struct {
	Index      int       `json:"index"`
	Cluster    int       `json:"cluster"`
	Distance   float64   `json:"distance"`
	Gravity    float64   `json:"gravity"`
	Components []float64 `json:"components"`
}

// RecordGravity 标准化数值样本，投影到至多三个主成分后做 K-Means；
// 引力 = 1 + 4·(1 − d/d_max)，d 为到所属质心的距离。
func RecordGravity(data [][]float64, k int, seed uint64) ([]RecordScore, error) {
	n := len(data)
	if n == 0 || len(data[0]) == 0 {
		return nil, ErrNoNumericData
	}
	p := len(data[0])
	x := mat.NewDense(n, p, nil)
	for i, row := range data {
		if len(row) != p {
			return nil, errors.New("样本列数不一致")
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			x.Set(i, j, v)
		}
	}
	standardize(x)

	points := project(x)
	k = min(max(1, k), n)
	assign, centroids := kMeans(points, k, seed)

	scores := make([]RecordScore, n)
	dmax := 0.0
	for i, pt := range points {
		d := distance(pt, centroids[assign[i]])
		scores[i] = RecordScore{Index: i, Cluster: assign[i], Distance: d, Components: pt}
		dmax = math.Max(dmax, d)
	}
	for i := range scores {
		if dmax == 0 {
			scores[i].Gravity = 5
			continue
		}
		scores[i].Gravity = 1 + 4*(1-scores[i].Distance/dmax)
	}
	return scores, nil
}

// standardize 按列做 z 标准化，常数列置零
func standardize(x *mat.Dense) {
	n, p := x.Dims()
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := 0; i < n; i++ {
			x.Set(i, j, (col[i]-mean)/std)
		}
	}
}

// project 主成分投影；样本太少或只有一列时原样返回
func project(x *mat.Dense) [][]float64 {
	n, p := x.Dims()
	src := mat.Matrix(x)
	if n >= 2 && p >= 2 {
		var pc stat.PC
		if pc.PrincipalComponents(x, nil) {
			var vecs mat.Dense
			pc.VectorsTo(&vecs)
			_, c := vecs.Dims()
			d := min(maxComponents, c)
			var proj mat.Dense
			proj.Mul(x, vecs.Slice(0, p, 0, d))
			src = &proj
		}
	}
	rows, cols := src.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = src.At(i, j)
		}
	}
	return out
}

// kMeans k-means++ 初始化的 Lloyd 迭代，种子固定时结果确定
func kMeans(points [][]float64, k int, seed uint64) ([]int, [][]float64) {
	rng := rand.New(rand.NewPCG(seed, seed))
	n := len(points)

	centroids := [][]float64{clone(points[rng.IntN(n)])}
	d2 := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, pt := range points {
			d2[i] = math.Inf(1)
			for _, c := range centroids {
				d2[i] = math.Min(d2[i], sq(distance(pt, c)))
			}
			total += d2[i]
		}
		next := len(centroids) % n
		if total > 0 {
			r := rng.Float64() * total
			for i, v := range d2 {
				r -= v
				if r <= 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, clone(points[next]))
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < kMeansIterations; iter++ {
		changed := false
		for i, pt := range points {
			best, bestD := 0, math.Inf(1)
			for c, ctr := range centroids {
				if d := distance(pt, ctr); d < bestD {
					best, bestD = c, d
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		dim := len(points[0])
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, pt := range points {
			counts[assign[i]]++
			for j, v := range pt {
				sums[assign[i]][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range sums[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return assign, centroids
}

func distance(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += sq(a[i] - b[i])
	}
	return math.Sqrt(s)
}

func sq(v float64) float64 { return v * v }

func clone(v []float64) []float64 { return append([]float64(nil), v...) }
