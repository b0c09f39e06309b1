// Package mesh 提供进程 mesh 与 actor mesh
//
// 一个 [ProcMesh] 是按命名维度排列的一组 [actor.Proc]，每个坐标一个。
// 在 ProcMesh 上 [ProcMesh.Spawn] 一个 Actor 类型，得到形状相同的
// [ActorMesh]；ActorMesh 可以按维度切片，切片与原 mesh 共享同一组实例。
//
// 调用方式:
//   - [Call] 对每个目标并发发送调用式消息，结果按坐标收集为 [ValueMesh]
//   - [CallOne] 要求句柄恰好指向一个目标，直接返回值
//   - [Cast] / [CastOne] 发送单向消息，所有目标接收后返回
//
// 基本用法:
//
//	pm, err := mesh.Allocate(ctx, mesh.NewLocalAllocator(), region.MustExtent(
//		[]string{"host", "gpu"}, []int{2, 4}))
//	if err != nil {
//		return err
//	}
//	defer pm.Stop(ctx)
//
//	am, err := pm.Spawn(ctx, "store", "store", nil)
//	found, err := mesh.Call(ctx, pm.Client(), am, func(reply *actor.ReplyPort[bool]) actor.Message {
//		return &Exists{Key: "k", Reply: reply}
//	})
//
// 通常由 meshgen 生成的 MeshClient 包装上述调用。
package mesh
