package actor

// CanSend 发送消息的能力
//
// 方法未导出，包外类型无法伪造此能力；只有 [Mailbox]、[Context]
// 以及由 Mailbox 派生的令牌满足此接口。
type CanSend interface {
	sendingMailbox() *Mailbox
}

// CanOpenPort 打开回复端口的能力，隐含发送能力
//
// 调用式消息的客户端方法要求此能力，缺少时在编译期被拒绝。
type CanOpenPort interface {
	CanSend
	portMailbox() *Mailbox
}

// sendOnly 只有发送能力的令牌
type sendOnly struct {
	mb *Mailbox
}

func (s sendOnly) sendingMailbox() *Mailbox { return s.mb }

// RequirePortCapability 运行期检查 cx 是否具有打开端口的能力
//
// 用于动态调用路径；缺少能力时在任何消息发出之前返回 [AuthorizationError]。
func RequirePortCapability(cx CanSend) (CanOpenPort, error) {
	if op, ok := cx.(CanOpenPort); ok {
		return op, nil
	}
	return nil, &AuthorizationError{
		Holder: cx.sendingMailbox().ID().String(),
		Need:   "open_port",
	}
}
