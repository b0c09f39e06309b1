package region

import (
	"fmt"
	"strconv"
	"strings"
)

// formatLabel 标签只含 [A-Za-z0-9_] 时原样输出，否则加引号
func formatLabel(l string) string {
	if isBareLabel(l) {
		return l
	}
	return strconv.Quote(l)
}

func isBareLabel(l string) bool {
	if l == "" {
		return false
	}
	for _, c := range l {
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}

// ParseExtent 解析 label=size,... 格式
func ParseExtent(s string) (Extent, error) {
	p := &parser{src: s}
	var labels []string
	var sizes []int
	for {
		p.skipSpace()
		label, err := p.label()
		if err != nil {
			return Extent{}, err
		}
		if err := p.expect('='); err != nil {
			return Extent{}, err
		}
		size, err := p.int()
		if err != nil {
			return Extent{}, err
		}
		labels = append(labels, label)
		sizes = append(sizes, size)

		p.skipSpace()
		if p.done() {
			break
		}
		if err := p.expect(','); err != nil {
			return Extent{}, err
		}
	}
	return NewExtent(labels, sizes)
}

// ParseRegion 解析 [offset+]label=size/stride,... 格式，与 Region.String 互逆
func ParseRegion(s string) (Region, error) {
	p := &parser{src: s}
	p.skipSpace()

	offset := 0
	if p.peekDigit() {
		save := p.pos
		n, err := p.int()
		if err != nil {
			return Region{}, err
		}
		if p.peek() == '+' {
			p.pos++
			offset = n
		} else {
			// 纯数字标签
			p.pos = save
		}
	}

	var labels []string
	var sizes, strides []int
	for {
		p.skipSpace()
		label, err := p.label()
		if err != nil {
			return Region{}, err
		}
		if err := p.expect('='); err != nil {
			return Region{}, err
		}
		size, err := p.int()
		if err != nil {
			return Region{}, err
		}
		if err := p.expect('/'); err != nil {
			return Region{}, err
		}
		stride, err := p.int()
		if err != nil {
			return Region{}, err
		}
		labels = append(labels, label)
		sizes = append(sizes, size)
		strides = append(strides, stride)

		p.skipSpace()
		if p.done() {
			break
		}
		if err := p.expect(','); err != nil {
			return Region{}, err
		}
	}
	return NewRegion(labels, offset, sizes, strides)
}

type parser struct {
	src string
	pos int
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekDigit() bool {
	c := p.peek()
	return c >= '0' && c <= '9'
}

func (p *parser) skipSpace() {
	for !p.done() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("parse %q at %d: %s", p.src, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) int() (int, error) {
	p.skipSpace()
	start := p.pos
	for p.peekDigit() {
		p.pos++
	}
	if start == p.pos {
		return 0, p.errorf("expected number")
	}
	return strconv.Atoi(p.src[start:p.pos])
}

func (p *parser) label() (string, error) {
	if p.peek() == '"' {
		// 找到匹配的右引号，跳过转义字符
		end := p.pos + 1
		for end < len(p.src) && p.src[end] != '"' {
			if p.src[end] == '\\' {
				end++
			}
			end++
		}
		if end >= len(p.src) {
			return "", p.errorf("unterminated quoted label")
		}
		l, err := strconv.Unquote(p.src[p.pos : end+1])
		if err != nil {
			return "", p.errorf("bad quoted label: %v", err)
		}
		p.pos = end + 1
		return l, nil
	}

	start := p.pos
	for !p.done() && isBareLabel(p.src[p.pos:p.pos+1]) {
		p.pos++
	}
	if start == p.pos {
		return "", p.errorf("expected label")
	}
	return strings.TrimSpace(p.src[start:p.pos]), nil
}
