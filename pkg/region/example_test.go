package region_test

import (
	"fmt"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

// Example_slice 演示按维度切片
func Example_slice() {
	ext, _ := region.ParseExtent("host=2,gpu=4")
	r := ext.Region()

	sub, _ := r.Select(map[string]region.Range{"gpu": region.Span(1, 3)})
	fmt.Println(sub)
	fmt.Println(sub.Ranks())

	// Output:
	// 1+host=2/4,gpu=2/1
	// [1 2 5 6]
}

// Example_groupBy 演示按 host 分组
func Example_groupBy() {
	ext, _ := region.ParseExtent("host=2,gpu=2")
	groups, _ := ext.Region().GroupBy("host")
	for _, g := range groups {
		fmt.Println(g.Ranks())
	}

	// Output:
	// [0 1]
	// [2 3]
}
