package region

import (
	"fmt"
	"strconv"
	"strings"
)

// Range 一维切片范围 [begin, end) 步长 step
//
// end 为开区间时表示“到维度末尾”。零值 Range 等价于 All()；
// 由构造函数得到的 Range 按字面参数解析，Stepped(0, 0, 0) 不会退化为 All()。
type Range struct {
	begin int
	end   int
	open  bool
	step  int
	set   bool
}

// Single 单个下标 i
func Single(i int) Range { return Range{begin: i, end: i + 1, step: 1, set: true} }

// Span 区间 [begin, end)
func Span(begin, end int) Range { return Range{begin: begin, end: end, step: 1, set: true} }

// From 从 begin 到末尾
func From(begin int) Range { return Range{begin: begin, open: true, step: 1, set: true} }

// All 整个维度
func All() Range { return Range{open: true, step: 1, set: true} }

// Stepped 区间 [begin, end) 步长 step
func Stepped(begin, end, step int) Range { return Range{begin: begin, end: end, step: step, set: true} }

// isZero 零值视为 All()
func (r Range) isZero() bool { return !r.set }

// Resolve 根据维度大小解析出具体的 (begin, end, step)
//
// end 会被截断到 size；解析结果为空或 step 非正时返回错误。
func (r Range) Resolve(size int) (begin, end, step int, err error) {
	if r.isZero() {
		r = All()
	}
	if r.step <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: step %d must be positive", ErrInvalidDim, r.step)
	}
	begin, end, step = r.begin, r.end, r.step
	if r.open || end > size {
		end = size
	}
	if begin < 0 || begin >= end {
		return 0, 0, 0, fmt.Errorf("%w: %s over size %d", ErrEmptyRange, r, size)
	}
	return begin, end, step, nil
}

// String 返回 begin:end:step 格式，与 ParseRange 互逆
func (r Range) String() string {
	if r.isZero() {
		r = All()
	}
	if !r.open && r.end == r.begin+1 && r.step == 1 {
		return strconv.Itoa(r.begin)
	}
	var b strings.Builder
	if r.begin != 0 {
		b.WriteString(strconv.Itoa(r.begin))
	}
	b.WriteByte(':')
	if !r.open {
		b.WriteString(strconv.Itoa(r.end))
	}
	if r.step != 1 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(r.step))
	}
	return b.String()
}

// ParseRange 解析 Range
//
// 支持: "3"、"1:4"、"2:"、":"、"0:8:2"、"::2"。
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, fmt.Errorf("%w: empty range expression", ErrInvalidDim)
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return Range{}, fmt.Errorf("%w: too many ':' in %q", ErrInvalidDim, s)
	}
	atoi := func(p string, def int) (int, error) {
		if p == "" {
			return def, nil
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q in %q", ErrInvalidDim, p, s)
		}
		return n, nil
	}

	begin, err := atoi(parts[0], 0)
	if err != nil {
		return Range{}, err
	}
	if len(parts) == 1 {
		return Single(begin), nil
	}

	r := Range{begin: begin, step: 1, set: true}
	if parts[1] == "" {
		r.open = true
	} else if r.end, err = atoi(parts[1], 0); err != nil {
		return Range{}, err
	}
	if len(parts) == 3 {
		if r.step, err = atoi(parts[2], 1); err != nil {
			return Range{}, err
		}
	}
	return r, nil
}
