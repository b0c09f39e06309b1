package actor

import (
	"fmt"
	"strings"
)

// MaxNameLength Actor 名称最大长度
const MaxNameLength = 128

// ValidateName 校验 Actor 名称
//
// 名称会出现在 ActorID 的文本形式 world[rank].name@addr 中，
// 因此不允许包含分隔符和空白。
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidName, name, MaxNameLength)
	}
	if i := strings.IndexAny(name, ".@[]/ \t\r\n"); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, name[i])
	}
	return nil
}
