package messaging

import (
	"fmt"
	"strings"
)

// Address identifies a hub, a sender or a message target.
type Address struct {
	Kind string
	ID   string
}

func NewAddress(kind, id string) Address {
	return Address{Kind: kind, ID: id}
}

// ParseAddress reads the "kind/id" form. The id may itself contain slashes.
func ParseAddress(s string) (Address, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || kind == "" || id == "" {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address{Kind: kind, ID: id}, nil
}

// MustParseAddress is ParseAddress for literals known to be valid.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) IsZero() bool {
	return a.Kind == "" && a.ID == ""
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return a.Kind + "/" + a.ID
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
