package patch

import (
	"fmt"
	"strconv"
	"strings"
)

var (
	escaper   = strings.NewReplacer("~", "~0", "/", "~1")
	unescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// Escape encodes a single reference token.
func Escape(token string) string {
	return escaper.Replace(token)
}

// Unescape decodes a single reference token.
func Unescape(token string) string {
	return unescaper.Replace(token)
}

// Split breaks pointer into unescaped reference tokens. The empty pointer
// addresses the whole document and yields no tokens.
func Split(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPointer, pointer)
	}
	tokens := strings.Split(pointer[1:], "/")
	for i, t := range tokens {
		tokens[i] = Unescape(t)
	}
	return tokens, nil
}

// Join builds a pointer from unescaped tokens.
func Join(tokens ...string) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(Escape(t))
	}
	return b.String()
}

// Append extends pointer with one more token.
func Append(pointer, token string) string {
	return pointer + "/" + Escape(token)
}

// Within reports whether pointer equals prefix or addresses a location
// below it.
func Within(pointer, prefix string) bool {
	if prefix == "" || pointer == prefix {
		return true
	}
	return strings.HasPrefix(pointer, prefix+"/")
}

// Get resolves pointer against a normalized document.
func Get(doc any, pointer string) (any, error) {
	tokens, err := Split(pointer)
	if err != nil {
		return nil, err
	}

	cur := doc
	for i, tok := range tokens {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[tok]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, Join(tokens[:i+1]...))
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %s", ErrPathNotFound, Join(tokens[:i+1]...))
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, Join(tokens[:i+1]...))
		}
	}
	return cur, nil
}
