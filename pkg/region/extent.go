package region

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrDimMismatch 维度数量不匹配
	ErrDimMismatch = errors.New("dimension mismatch")
	// ErrInvalidDim 无效或未知的维度
	ErrInvalidDim = errors.New("invalid dimension")
	// ErrOutOfRange 坐标或 rank 越界
	ErrOutOfRange = errors.New("out of range")
	// ErrEmptyRange 切片结果为空
	ErrEmptyRange = errors.New("empty range")
)

// Extent 多维形状：有序标签 + 每维大小
type Extent struct {
	labels []string
	sizes  []int
}

// NewExtent 创建 Extent
//
// 标签必须非空且唯一，大小必须为正数，总 rank 数不能超出 int。
func NewExtent(labels []string, sizes []int) (Extent, error) {
	if len(labels) != len(sizes) {
		return Extent{}, fmt.Errorf("%w: %d labels, %d sizes", ErrDimMismatch, len(labels), len(sizes))
	}
	seen := make(map[string]bool, len(labels))
	n := 1
	for i, l := range labels {
		if l == "" {
			return Extent{}, fmt.Errorf("%w: empty label at position %d", ErrInvalidDim, i)
		}
		if seen[l] {
			return Extent{}, fmt.Errorf("%w: duplicate label %q", ErrInvalidDim, l)
		}
		seen[l] = true
		if sizes[i] <= 0 {
			return Extent{}, fmt.Errorf("%w: dimension %q has size %d", ErrInvalidDim, l, sizes[i])
		}
		if n > math.MaxInt/sizes[i] {
			return Extent{}, fmt.Errorf("%w: extent %v overflows rank space", ErrInvalidDim, sizes)
		}
		n *= sizes[i]
	}
	return Extent{
		labels: append([]string(nil), labels...),
		sizes:  append([]int(nil), sizes...),
	}, nil
}

// MustExtent 创建 Extent，失败时 panic
// 用于测试和常量形状
func MustExtent(labels []string, sizes []int) Extent {
	e, err := NewExtent(labels, sizes)
	if err != nil {
		panic(err)
	}
	return e
}

// Labels 返回维度标签（副本）
func (e Extent) Labels() []string { return append([]string(nil), e.labels...) }

// Sizes 返回每维大小（副本）
func (e Extent) Sizes() []int { return append([]int(nil), e.sizes...) }

// NumDims 返回维度数量
func (e Extent) NumDims() int { return len(e.labels) }

// Position 返回标签对应的维度下标，不存在返回 -1
func (e Extent) Position(label string) int {
	for i, l := range e.labels {
		if l == label {
			return i
		}
	}
	return -1
}

// Size 返回指定维度的大小
func (e Extent) Size(label string) (int, bool) {
	if i := e.Position(label); i >= 0 {
		return e.sizes[i], true
	}
	return 0, false
}

// NumRanks 返回 rank 总数（各维大小之积）
func (e Extent) NumRanks() int {
	if len(e.sizes) == 0 {
		return 0
	}
	n := 1
	for _, s := range e.sizes {
		n *= s
	}
	return n
}

// RankOf 将坐标按行优先线性化为 rank
func (e Extent) RankOf(coords []int) (int, error) {
	if len(coords) != len(e.sizes) {
		return 0, fmt.Errorf("%w: expected %d coordinates, got %d", ErrDimMismatch, len(e.sizes), len(coords))
	}
	rank := 0
	for i, c := range coords {
		if c < 0 || c >= e.sizes[i] {
			return 0, fmt.Errorf("%w: %s=%d not in [0, %d)", ErrOutOfRange, e.labels[i], c, e.sizes[i])
		}
		rank = rank*e.sizes[i] + c
	}
	return rank, nil
}

// PointOf 返回 rank 对应的坐标点
func (e Extent) PointOf(rank int) (Point, error) {
	n := e.NumRanks()
	if rank < 0 || rank >= n {
		return Point{}, fmt.Errorf("%w: rank %d not in [0, %d)", ErrOutOfRange, rank, n)
	}
	coords := make([]int, len(e.sizes))
	rem := rank
	for i := len(e.sizes) - 1; i >= 0; i-- {
		coords[i] = rem % e.sizes[i]
		rem /= e.sizes[i]
	}
	return Point{extent: e, coords: coords, rank: rank}, nil
}

// Point 根据坐标创建 Point
func (e Extent) Point(coords []int) (Point, error) {
	rank, err := e.RankOf(coords)
	if err != nil {
		return Point{}, err
	}
	return Point{extent: e, coords: append([]int(nil), coords...), rank: rank}, nil
}

// Points 按 rank 顺序枚举所有点
func (e Extent) Points() []Point {
	n := e.NumRanks()
	points := make([]Point, 0, n)
	for r := 0; r < n; r++ {
		p, _ := e.PointOf(r)
		points = append(points, p)
	}
	return points
}

// Region 返回覆盖整个 Extent 的行优先 Region
func (e Extent) Region() Region {
	strides := make([]int, len(e.sizes))
	stride := 1
	for i := len(e.sizes) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= e.sizes[i]
	}
	return Region{
		labels:  e.Labels(),
		sizes:   e.Sizes(),
		strides: strides,
	}
}

// Equal 判断两个 Extent 是否相同
func (e Extent) Equal(o Extent) bool {
	if len(e.labels) != len(o.labels) {
		return false
	}
	for i := range e.labels {
		if e.labels[i] != o.labels[i] || e.sizes[i] != o.sizes[i] {
			return false
		}
	}
	return true
}

// String 返回 label=size,... 格式
func (e Extent) String() string {
	parts := make([]string, len(e.labels))
	for i, l := range e.labels {
		parts[i] = fmt.Sprintf("%s=%d", formatLabel(l), e.sizes[i])
	}
	return strings.Join(parts, ",")
}

// Point 多维坐标点，携带其 rank
type Point struct {
	extent Extent
	coords []int
	rank   int
}

// Rank 返回线性 rank
func (p Point) Rank() int { return p.rank }

// Coords 返回坐标（副本）
func (p Point) Coords() []int { return append([]int(nil), p.coords...) }

// Extent 返回所属 Extent
func (p Point) Extent() Extent { return p.extent }

// Coord 返回指定维度上的坐标
func (p Point) Coord(label string) (int, bool) {
	if i := p.extent.Position(label); i >= 0 {
		return p.coords[i], true
	}
	return 0, false
}

// String 返回 {label=coord/size,...} 格式
func (p Point) String() string {
	parts := make([]string, len(p.coords))
	for i, c := range p.coords {
		parts[i] = fmt.Sprintf("%s=%d/%d", formatLabel(p.extent.labels[i]), c, p.extent.sizes[i])
	}
	return "{" + strings.Join(parts, ",") + "}"
}
