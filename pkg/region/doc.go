// Package region 提供多维 rank 空间的寻址与切片
//
// 一个 ProcMesh 的形状由 [Extent] 描述：有序的维度标签和每个维度的大小，
// 例如 host=2,gpu=4。所有坐标按行优先（row-major）线性化为 rank：
//
//	rank = Σ coord[i] × ∏ sizes[j>i]
//
// [Region] 是对基础 rank 空间的一个视图（offset + sizes + strides），
// 切片操作只修改视图描述，不复制数据。切片后的 Region 仍然可以被再次切片。
//
// 文本格式:
//
//	host=2,gpu=4              Extent
//	3+host=2/4,gpu=2/1        Region（offset 为 0 时省略前缀）
//	"my dim"=2/1              不满足 [A-Za-z0-9_]+ 的标签需要加引号
//
// 使用示例:
//
//	ext, _ := region.ParseExtent("host=2,gpu=4")
//	r := ext.Region()
//	sub, _ := r.Select(map[string]region.Range{"gpu": region.Span(1, 3)})
//	fmt.Println(sub.Ranks()) // [1 2 5 6]
package region
