package actor

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MessageFactory 创建空消息实例，用于解码
type MessageFactory func() Message

// ActorFactory 根据 JSON 参数创建 Actor
type ActorFactory func(params json.RawMessage) (Actor, error)

// Registry 消息类型与 Actor 类型注册表
//
// 跨进程投递时接收方按 Kind 找到消息工厂解码；
// 远程 spawn 时按类型名找到 Actor 工厂。
type Registry struct {
	mu       sync.RWMutex
	messages map[string]MessageFactory
	actors   map[string]ActorFactory
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		messages: make(map[string]MessageFactory),
		actors:   make(map[string]ActorFactory),
	}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry 包级默认注册表，生成代码在 init 中注册到这里
func DefaultRegistry() *Registry { return defaultRegistry }

// RegisterMessage 在默认注册表中注册消息类型
func RegisterMessage(f MessageFactory) { defaultRegistry.RegisterMessage(f) }

// RegisterActor 在默认注册表中注册 Actor 类型
func RegisterActor(name string, f ActorFactory) { defaultRegistry.RegisterActor(name, f) }

// RegisterActorType 在默认注册表中注册带类型参数的 Actor 构造函数
func RegisterActorType[P any](name string, f func(P) (Actor, error)) {
	defaultRegistry.RegisterActor(name, TypedFactory(f))
}

// TypedFactory 把带类型参数的构造函数包装为 ActorFactory
//
//	actor.RegisterActor("store", actor.TypedFactory(func(p StoreParams) (actor.Actor, error) {
//		return NewStore(p), nil
//	}))
func TypedFactory[P any](f func(P) (Actor, error)) ActorFactory {
	return func(params json.RawMessage) (Actor, error) {
		var p P
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("decode params: %w", err)
			}
		}
		return f(p)
	}
}

// RegisterMessage 注册消息类型，重复注册 panic
func (r *Registry) RegisterMessage(f MessageFactory) {
	kind := f().Kind()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.messages[kind]; exists {
		panic(fmt.Sprintf("actor: message kind %q registered twice", kind))
	}
	r.messages[kind] = f
}

// RegisterActor 注册 Actor 类型，重复注册 panic
func (r *Registry) RegisterActor(name string, f ActorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actors[name]; exists {
		panic(fmt.Sprintf("actor: actor type %q registered twice", name))
	}
	r.actors[name] = f
}

// NewMessage 创建 kind 对应的空消息
func (r *Registry) NewMessage(kind string) (Message, error) {
	r.mu.RLock()
	f, ok := r.messages[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: message %q", ErrUnknownKind, kind)
	}
	return f(), nil
}

// DecodeMessage 按 kind 解码消息
func (r *Registry) DecodeMessage(kind string, body json.RawMessage) (Message, error) {
	msg, err := r.NewMessage(kind)
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kind, err)
		}
	}
	return msg, nil
}

// NewActor 使用注册的工厂创建 Actor
func (r *Registry) NewActor(name string, params json.RawMessage) (Actor, error) {
	r.mu.RLock()
	f, ok := r.actors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: actor type %q", ErrUnknownKind, name)
	}
	return f(params)
}

// ActorTypes 列出已注册的 Actor 类型
func (r *Registry) ActorTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actors))
	for n := range r.actors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MessageKinds 列出已注册的消息类型
func (r *Registry) MessageKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.messages))
	for k := range r.messages {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
