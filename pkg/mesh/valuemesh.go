package mesh

import (
	"errors"
	"fmt"
	"iter"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

// Result 单个目标的结果
type Result[T any] struct {
	Value T
	Err   error
}

// OK 是否成功
func (r Result[T]) OK() bool { return r.Err == nil }

// ValueMesh 按 Region 排列的结果集合
//
// 下标是 Region 的本地下标（行优先），与 ActorMesh 的下标一致。
type ValueMesh[T any] struct {
	region  region.Region
	results []Result[T]
}

// NewValueMesh 用现成的结果构造 ValueMesh，数量必须等于 Region 大小
func NewValueMesh[T any](rg region.Region, results []Result[T]) (*ValueMesh[T], error) {
	if n := rg.NumRanks(); len(results) != n {
		return nil, &actor.CardinalityError{Expected: n, Actual: len(results)}
	}
	return &ValueMesh[T]{region: rg, results: results}, nil
}

// BuildValueMesh 按下标逐个计算结果
func BuildValueMesh[T any](rg region.Region, f func(i int, p region.Point) (T, error)) *ValueMesh[T] {
	n := rg.NumRanks()
	results := make([]Result[T], n)
	for i := range n {
		p, err := rg.Point(i)
		if err != nil {
			results[i].Err = err
			continue
		}
		v, err := f(i, p)
		results[i] = Result[T]{Value: v, Err: err}
	}
	return &ValueMesh[T]{region: rg, results: results}
}

// Region 返回结果的 Region
func (vm *ValueMesh[T]) Region() region.Region { return vm.region }

// Len 返回结果数量
func (vm *ValueMesh[T]) Len() int { return len(vm.results) }

// Get 返回本地下标 i 的结果
func (vm *ValueMesh[T]) Get(i int) (Result[T], error) {
	if i < 0 || i >= len(vm.results) {
		return Result[T]{}, fmt.Errorf("%w: index %d not in [0, %d)", region.ErrOutOfRange, i, len(vm.results))
	}
	return vm.results[i], nil
}

// At 按坐标取结果，coords 必须给出每个维度
func (vm *ValueMesh[T]) At(coords map[string]int) (Result[T], error) {
	labels := vm.region.Labels()
	if len(coords) != len(labels) {
		return Result[T]{}, fmt.Errorf("%w: want %d coordinates, got %d", region.ErrDimMismatch, len(labels), len(coords))
	}
	cs := make([]int, len(labels))
	for d, l := range labels {
		c, ok := coords[l]
		if !ok {
			return Result[T]{}, fmt.Errorf("%w: missing %q", region.ErrDimMismatch, l)
		}
		cs[d] = c
	}
	i, err := vm.region.Extent().RankOf(cs)
	if err != nil {
		return Result[T]{}, err
	}
	return vm.results[i], nil
}

// Values 返回所有值，失败的目标为零值
func (vm *ValueMesh[T]) Values() []T {
	out := make([]T, len(vm.results))
	for i, r := range vm.results {
		out[i] = r.Value
	}
	return out
}

// Failed 返回失败目标的本地下标
func (vm *ValueMesh[T]) Failed() []int {
	var out []int
	for i, r := range vm.results {
		if r.Err != nil {
			out = append(out, i)
		}
	}
	return out
}

// Err 合并所有失败，全部成功时为 nil
func (vm *ValueMesh[T]) Err() error {
	var errs []error
	for i, r := range vm.results {
		if r.Err != nil {
			p, _ := vm.region.Point(i)
			errs = append(errs, fmt.Errorf("%s: %w", p, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Entries 按本地顺序遍历坐标与结果
func (vm *ValueMesh[T]) Entries() iter.Seq2[region.Point, Result[T]] {
	return func(yield func(region.Point, Result[T]) bool) {
		for i, r := range vm.results {
			p, err := vm.region.Point(i)
			if err != nil {
				return
			}
			if !yield(p, r) {
				return
			}
		}
	}
}

// Range 在单个维度上取子集，子集共享 Region 坐标体系
func (vm *ValueMesh[T]) Range(dim string, rg region.Range) (*ValueMesh[T], error) {
	sub, err := vm.region.Range(dim, rg)
	if err != nil {
		return nil, err
	}
	idx, ok := sub.Remap(vm.region)
	if !ok {
		return nil, fmt.Errorf("%w: %s not within %s", region.ErrOutOfRange, sub, vm.region)
	}
	results := make([]Result[T], len(idx))
	for i, j := range idx {
		results[i] = vm.results[j]
	}
	return &ValueMesh[T]{region: sub, results: results}, nil
}

// Collect 转置为值切片；任一目标失败时返回第一个失败
func Collect[T any](vm *ValueMesh[T]) ([]T, error) {
	for i, r := range vm.results {
		if r.Err != nil {
			p, _ := vm.region.Point(i)
			return nil, fmt.Errorf("%s: %w", p, r.Err)
		}
	}
	return vm.Values(), nil
}
