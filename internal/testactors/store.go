package testactors

import (
	"fmt"
	"slices"
	"time"

	"github.com/lwmacct/251217-go-pkg-mesh/pkg/actor"
)

//go:generate go run ../../cmd/meshgen $GOFILE

// StoreType Store 的注册类型名
const StoreType = "testactors.store"

//meshgen:enum Store
type (
	// Put 写入键值
	Put struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	// Exists 查询键是否存在
	Exists struct {
		Key   string                 `json:"key"`
		Reply *actor.ReplyPort[bool] `json:"reply"`
	}

	// Get 读取键值
	Get struct {
		Key   string                   `json:"key"`
		Reply *actor.ReplyPort[string] `json:"reply"`
	}

	// Sleep 等待 Delay 后回复 rank，Actor 停止时提前返回
	Sleep struct {
		Delay time.Duration         `json:"delay"`
		Reply *actor.ReplyPort[int] `json:"reply"`
	}
)

// StoreParams Store 构造参数
type StoreParams struct {
	// Seed 初始数据
	Seed map[string]string `json:"seed,omitempty"`
	// FailRanks 在这些 rank 上 Exists 和 Get 返回错误
	FailRanks []int `json:"fail_ranks,omitempty"`
}

// Store 简单的键值 Actor
type Store struct {
	data      map[string]string
	failRanks []int
}

var _ StoreHandler = (*Store)(nil)

// NewStore 创建 Store
func NewStore(p StoreParams) *Store {
	s := &Store{data: make(map[string]string), failRanks: p.FailRanks}
	for k, v := range p.Seed {
		s.data[k] = v
	}
	return s
}

// Handle 实现 actor.Actor 接口
func (s *Store) Handle(cx *actor.Context, msg actor.Message) error {
	handled, err := HandleStore(cx, s, msg)
	if !handled {
		return fmt.Errorf("%w: %s", actor.ErrUnknownKind, msg.Kind())
	}
	return err
}

func (s *Store) check(cx *actor.Context) error {
	if slices.Contains(s.failRanks, cx.Rank()) {
		return fmt.Errorf("store unavailable on rank %d", cx.Rank())
	}
	return nil
}

// Put 实现 StoreHandler
func (s *Store) Put(cx *actor.Context, key string, value string) error {
	s.data[key] = value
	return nil
}

// Exists 实现 StoreHandler
func (s *Store) Exists(cx *actor.Context, key string) (bool, error) {
	if err := s.check(cx); err != nil {
		return false, err
	}
	_, ok := s.data[key]
	return ok, nil
}

// Get 实现 StoreHandler
func (s *Store) Get(cx *actor.Context, key string) (string, error) {
	if err := s.check(cx); err != nil {
		return "", err
	}
	v, ok := s.data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found", key)
	}
	return v, nil
}

// Sleep 实现 StoreHandler
func (s *Store) Sleep(cx *actor.Context, delay time.Duration) (int, error) {
	select {
	case <-time.After(delay):
		return cx.Rank(), nil
	case <-cx.Context().Done():
		return 0, cx.Context().Err()
	}
}

func init() {
	actor.RegisterActorType(StoreType, func(p StoreParams) (actor.Actor, error) {
		return NewStore(p), nil
	})
}
