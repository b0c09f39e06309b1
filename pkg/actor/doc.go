// Package actor 提供 mesh 运行时的 Actor 核心
//
// 每个 Actor 实例运行在一个 [Proc] 上，拥有私有状态和一个 [Mailbox]：
//   - 消息处理串行化（一次处理一条），同一发送者的消息保序
//   - 处理函数的错误和 panic 被记录、上报，不会终止 Proc
//   - 调用式消息携带单次使用的 [ReplyPort]，恰好被完成一次
//
// 能力令牌:
//
// 发送消息需要 [CanSend]，打开回复端口需要 [CanOpenPort]。两者都是
// 只能由本包类型实现的接口：[Mailbox] 与处理函数收到的 [*Context]
// 同时具备两种能力，[Mailbox.SendOnly] 返回只能发送的令牌。
//
// 基本用法:
//
//	p, _ := actor.NewProc(actor.ProcID{World: "w", Rank: 0}, network.NewTransport(), nil)
//	id, _ := p.SpawnActor("echo", actor.ActorFunc(func(cx *actor.Context, msg actor.Message) error {
//		cx.Logger().Info("received", "kind", msg.Kind())
//		return nil
//	}))
//	client, _ := p.Attach("client")
//	_ = actor.Tell(ctx, client, id, &Ping{})
//
// 调用式消息通常由 meshgen 生成的 Client 发起，见 cmd/meshgen。
package actor
