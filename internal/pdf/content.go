package pdf

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// TJ 配列内の字間調整がこの値より小さい（大きく左に戻す）場合は単語区切りとみなす
const wordGapThreshold = -200

// ExtractText はページのコンテンツストリームからテキスト描画演算子を拾い、行ごとのテキストにします。
func ExtractText(content []byte) string {
	s := &contentScanner{data: content}
	w := &textWriter{}
	var operands []operand

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok.operand)
			continue
		}

		switch tok.word {
		case "Tj":
			if str, ok := lastString(operands); ok {
				w.write(str)
			}
		case "'":
			w.newline()
			if str, ok := lastString(operands); ok {
				w.write(str)
			}
		case `"`:
			w.newline()
			if str, ok := lastString(operands); ok {
				w.write(str)
			}
		case "TJ":
			if len(operands) > 0 && operands[len(operands)-1].array != nil {
				for _, el := range operands[len(operands)-1].array {
					switch {
					case el.isString:
						w.write(el.str)
					case el.isNumber && el.number < wordGapThreshold:
						w.space()
					}
				}
			}
		case "Td", "TD":
			if len(operands) >= 2 && operands[len(operands)-1].isNumber && operands[len(operands)-1].number != 0 {
				w.newline()
			} else {
				w.space()
			}
		case "T*", "ET":
			w.newline()
		case "Tm":
			w.newline()
		case "BI":
			s.skipInlineImage()
		}
		operands = operands[:0]
	}

	return w.String()
}

func lastString(ops []operand) (string, bool) {
	if len(ops) == 0 || !ops[len(ops)-1].isString {
		return "", false
	}
	return ops[len(ops)-1].str, true
}

type textWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *textWriter) write(s string) {
	w.cur.WriteString(s)
}

func (w *textWriter) space() {
	if w.cur.Len() == 0 {
		return
	}
	if str := w.cur.String(); !strings.HasSuffix(str, " ") {
		w.cur.WriteByte(' ')
	}
}

func (w *textWriter) newline() {
	line := strings.TrimRightFunc(w.cur.String(), unicode.IsSpace)
	w.cur.Reset()
	if line == "" {
		return
	}
	w.lines = append(w.lines, line)
}

func (w *textWriter) String() string {
	w.newline()
	return strings.Join(w.lines, "\n")
}

type tokenKind int

const (
	tokOperand tokenKind = iota
	tokOperator
)

type operand struct {
	isString bool
	str      string
	isNumber bool
	number   float64
	array    []operand
}

type token struct {
	kind    tokenKind
	word    string
	operand operand
}

type contentScanner struct {
	data []byte
	pos  int
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isWhite(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func (s *contentScanner) skipSpaceAndComments() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isWhite(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *contentScanner) next() (token, bool) {
	for {
		s.skipSpaceAndComments()
		if s.pos >= len(s.data) {
			return token{}, false
		}
		c := s.data[s.pos]
		switch {
		case c == '(':
			s.pos++
			return token{kind: tokOperand, operand: operand{isString: true, str: decodeText(s.literal())}}, true
		case c == '<' && s.peek(1) == '<':
			s.skipDict()
			return token{kind: tokOperand}, true
		case c == '<':
			s.pos++
			return token{kind: tokOperand, operand: operand{isString: true, str: decodeText(s.hex())}}, true
		case c == '[':
			s.pos++
			return token{kind: tokOperand, operand: operand{array: s.array()}}, true
		case c == '/':
			s.pos++
			s.word()
			return token{kind: tokOperand}, true
		case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
			s.pos++
			continue
		default:
			w := s.word()
			if w == "" {
				s.pos++
				continue
			}
			if n, err := strconv.ParseFloat(w, 64); err == nil {
				return token{kind: tokOperand, operand: operand{isNumber: true, number: n}}, true
			}
			return token{kind: tokOperator, word: w}, true
		}
	}
}

func (s *contentScanner) peek(offset int) byte {
	if s.pos+offset < len(s.data) {
		return s.data[s.pos+offset]
	}
	return 0
}

func (s *contentScanner) word() string {
	start := s.pos
	for s.pos < len(s.data) && !isWhite(s.data[s.pos]) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

// literal は '(' の直後から対応する ')' までを読み、エスケープを解除します。
func (s *contentScanner) literal() []byte {
	var buf bytes.Buffer
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return buf.Bytes()
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
						v = v*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					buf.WriteByte(byte(v))
				} else {
					buf.WriteByte(e)
				}
			}
		case '(':
			depth++
			buf.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return buf.Bytes()
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// hex は '<' の直後から '>' までの16進文字列を読みます。奇数桁の場合は末尾に0を補います。
func (s *contentScanner) hex() []byte {
	var digits []byte
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		out[i] = hexValue(digits[2*i])<<4 | hexValue(digits[2*i+1])
	}
	return out
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func (s *contentScanner) array() []operand {
	items := []operand{}
	for {
		s.skipSpaceAndComments()
		if s.pos >= len(s.data) {
			return items
		}
		if s.data[s.pos] == ']' {
			s.pos++
			return items
		}
		tok, ok := s.next()
		if !ok {
			return items
		}
		if tok.kind == tokOperand {
			items = append(items, tok.operand)
		}
	}
}

func (s *contentScanner) skipDict() {
	depth := 0
	for s.pos < len(s.data) {
		switch {
		case s.data[s.pos] == '<' && s.peek(1) == '<':
			depth++
			s.pos += 2
		case s.data[s.pos] == '>' && s.peek(1) == '>':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		case s.data[s.pos] == '(':
			s.pos++
			s.literal()
		default:
			s.pos++
		}
	}
}

// skipInlineImage は BI ... ID <binary> EI を読み飛ばします。
func (s *contentScanner) skipInlineImage() {
	idx := bytes.Index(s.data[s.pos:], []byte("ID"))
	if idx < 0 {
		s.pos = len(s.data)
		return
	}
	s.pos += idx + 2
	for s.pos < len(s.data) {
		idx := bytes.Index(s.data[s.pos:], []byte("EI"))
		if idx < 0 {
			s.pos = len(s.data)
			return
		}
		end := s.pos + idx
		before := end == 0 || isWhite(s.data[end-1])
		after := end+2 >= len(s.data) || isWhite(s.data[end+2])
		s.pos = end + 2
		if before && after {
			return
		}
	}
}

// decodeText は文字列オペランドを UTF-8 に変換します。BOM付き UTF-16BE 以外は1バイト1文字として扱います。
func decodeText(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		units := make([]uint16, 0, (len(raw)-2)/2)
		for i := 2; i+1 < len(raw); i += 2 {
			units = append(units, uint16(raw[i])<<8|uint16(raw[i+1]))
		}
		return string(utf16.Decode(units))
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		r := rune(c)
		if c < 0x20 && c != '\t' {
			r = ' '
		}
		b.WriteRune(r)
	}
	return b.String()
}
