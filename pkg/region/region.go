package region

import (
	"fmt"
	"sort"
	"strings"
)

// Region 基础 rank 空间上的视图
//
// 本地下标 i（0 ≤ i < NumRanks）按行优先分解为视图坐标，
// 再通过 offset + Σ coord × stride 映射回基础 rank。
type Region struct {
	labels  []string
	offset  int
	sizes   []int
	strides []int
}

// NewRegion 直接由 slice 描述创建 Region
func NewRegion(labels []string, offset int, sizes, strides []int) (Region, error) {
	if len(labels) != len(sizes) || len(sizes) != len(strides) {
		return Region{}, fmt.Errorf("%w: %d labels, %d sizes, %d strides",
			ErrDimMismatch, len(labels), len(sizes), len(strides))
	}
	if offset < 0 {
		return Region{}, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, offset)
	}
	if _, err := NewExtent(labels, sizes); err != nil {
		return Region{}, err
	}
	for i, s := range strides {
		if s <= 0 {
			return Region{}, fmt.Errorf("%w: dimension %q has stride %d", ErrInvalidDim, labels[i], s)
		}
	}
	return Region{
		labels:  append([]string(nil), labels...),
		offset:  offset,
		sizes:   append([]int(nil), sizes...),
		strides: append([]int(nil), strides...),
	}, nil
}

// Labels 返回维度标签
func (r Region) Labels() []string { return append([]string(nil), r.labels...) }

// Sizes 返回每维大小
func (r Region) Sizes() []int { return append([]int(nil), r.sizes...) }

// Strides 返回每维步长
func (r Region) Strides() []int { return append([]int(nil), r.strides...) }

// Offset 返回基础偏移
func (r Region) Offset() int { return r.offset }

// Extent 返回视图自身的形状
func (r Region) Extent() Extent {
	return Extent{labels: r.Labels(), sizes: r.Sizes()}
}

// NumRanks 返回视图中的 rank 数
func (r Region) NumRanks() int {
	return r.Extent().NumRanks()
}

// IsEmpty 判断是否为零值 Region
func (r Region) IsEmpty() bool { return len(r.labels) == 0 }

// BaseRank 将本地下标映射为基础 rank
func (r Region) BaseRank(i int) (int, error) {
	n := r.NumRanks()
	if i < 0 || i >= n {
		return 0, fmt.Errorf("%w: index %d not in [0, %d)", ErrOutOfRange, i, n)
	}
	base := r.offset
	for d := len(r.sizes) - 1; d >= 0; d-- {
		base += (i % r.sizes[d]) * r.strides[d]
		i /= r.sizes[d]
	}
	return base, nil
}

// Ranks 按本地顺序返回所有基础 rank
func (r Region) Ranks() []int {
	n := r.NumRanks()
	ranks := make([]int, n)
	for i := range ranks {
		ranks[i], _ = r.BaseRank(i)
	}
	return ranks
}

// IndexOf 返回基础 rank 在视图中的本地下标
func (r Region) IndexOf(base int) (int, bool) {
	off := base - r.offset
	if off < 0 || r.IsEmpty() {
		return 0, false
	}

	// 按步长从大到小贪心分解
	order := make([]int, len(r.strides))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return r.strides[order[a]] > r.strides[order[b]] })

	coords := make([]int, len(r.sizes))
	for _, d := range order {
		if r.sizes[d] == 1 {
			continue
		}
		c := off / r.strides[d]
		if c >= r.sizes[d] {
			return 0, false
		}
		coords[d] = c
		off -= c * r.strides[d]
	}
	if off != 0 {
		return 0, false
	}

	idx := 0
	for d, c := range coords {
		idx = idx*r.sizes[d] + c
	}
	if got, err := r.BaseRank(idx); err != nil || got != base {
		return 0, false
	}
	return idx, true
}

// Contains 判断基础 rank 是否在视图内
func (r Region) Contains(base int) bool {
	_, ok := r.IndexOf(base)
	return ok
}

// Point 返回本地下标对应的视图坐标点
func (r Region) Point(i int) (Point, error) {
	return r.Extent().PointOf(i)
}

// Range 在单个维度上切片
//
//	offset += stride[dim] × begin
//	sizes[dim] = ceil((end - begin) / step)
//	strides[dim] *= step
func (r Region) Range(dim string, rg Range) (Region, error) {
	d := r.position(dim)
	if d < 0 {
		return Region{}, fmt.Errorf("%w: %q not in %s", ErrInvalidDim, dim, r)
	}
	begin, end, step, err := rg.Resolve(r.sizes[d])
	if err != nil {
		return Region{}, fmt.Errorf("range %s on %q: %w", rg, dim, err)
	}

	out := r.clone()
	out.offset += out.strides[d] * begin
	out.sizes[d] = (end - begin + step - 1) / step
	out.strides[d] *= step
	return out, nil
}

// Select 按维度约束切片，约束按视图维度顺序依次应用
func (r Region) Select(constraints map[string]Range) (Region, error) {
	for dim := range constraints {
		if r.position(dim) < 0 {
			return Region{}, fmt.Errorf("%w: %q not in %s", ErrInvalidDim, dim, r)
		}
	}
	out := r
	for _, dim := range r.labels {
		rg, ok := constraints[dim]
		if !ok {
			continue
		}
		var err error
		if out, err = out.Range(dim, rg); err != nil {
			return Region{}, err
		}
	}
	return out, nil
}

// At 将若干维度固定为单个坐标
func (r Region) At(coords map[string]int) (Region, error) {
	constraints := make(map[string]Range, len(coords))
	for dim, c := range coords {
		constraints[dim] = Single(c)
	}
	return r.Select(constraints)
}

// GroupBy 沿 dim 拆分，每个坐标对应一个子 Region
//
// 例如 host=2,gpu=4 按 host 分组得到两个 gpu=4 的子视图。
func (r Region) GroupBy(dim string) ([]Region, error) {
	d := r.position(dim)
	if d < 0 {
		return nil, fmt.Errorf("%w: %q not in %s", ErrInvalidDim, dim, r)
	}
	groups := make([]Region, 0, r.sizes[d])
	for i := 0; i < r.sizes[d]; i++ {
		g, err := r.Range(dim, Single(i))
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// IsSubset 判断视图中的每个 rank 是否都属于 o
func (r Region) IsSubset(o Region) bool {
	for _, base := range r.Ranks() {
		if !o.Contains(base) {
			return false
		}
	}
	return true
}

// Remap 返回 r 的每个本地下标在 target 中的本地下标
//
// 只要有一个 rank 不在 target 中就返回 false。
func (r Region) Remap(target Region) ([]int, bool) {
	ranks := r.Ranks()
	out := make([]int, len(ranks))
	for i, base := range ranks {
		idx, ok := target.IndexOf(base)
		if !ok {
			return nil, false
		}
		out[i] = idx
	}
	return out, true
}

// Equal 判断两个 Region 描述是否完全相同
func (r Region) Equal(o Region) bool {
	if r.offset != o.offset || len(r.labels) != len(o.labels) {
		return false
	}
	for i := range r.labels {
		if r.labels[i] != o.labels[i] || r.sizes[i] != o.sizes[i] || r.strides[i] != o.strides[i] {
			return false
		}
	}
	return true
}

// String 返回 [offset+]label=size/stride,... 格式
func (r Region) String() string {
	parts := make([]string, len(r.labels))
	for i, l := range r.labels {
		parts[i] = fmt.Sprintf("%s=%d/%d", formatLabel(l), r.sizes[i], r.strides[i])
	}
	s := strings.Join(parts, ",")
	if r.offset != 0 {
		s = fmt.Sprintf("%d+%s", r.offset, s)
	}
	return s
}

func (r Region) position(dim string) int {
	for i, l := range r.labels {
		if l == dim {
			return i
		}
	}
	return -1
}

func (r Region) clone() Region {
	return Region{
		labels:  r.Labels(),
		offset:  r.offset,
		sizes:   r.Sizes(),
		strides: r.Strides(),
	}
}
