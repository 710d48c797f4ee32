// Package emoji normalizes the two upstream emoji representations into
// the canonical (id, unicode) pair used as the storage key.
package emoji

import (
	"unicode"

	"golang.org/x/text/unicode/runenames"
)

// CustomCategory is the category recorded for guild-scoped custom emoji.
const CustomCategory = "custom"

// Custom is a raw reference to a guild-scoped custom emoji.
type Custom struct {
	ID      int64
	Name    string
	GuildID int64
	Managed bool
	// Roles permitted to use the emoji. Empty means unrestricted.
	Roles []int64
}

// Encoded is the canonical form of an emoji occurrence. Exactly one of
// ID and Unicode is set; the other holds its sentinel (0 / "").
type Encoded struct {
	ID      int64
	Unicode string

	Custom  bool
	Managed bool
	GuildID int64

	// Name and Category are per-codepoint for native emoji and
	// single-element for custom ones.
	Name     []string
	Category []string
	Roles    []int64
}

// EncodeNative encodes a native emoji string, which may span several
// codepoints (skin tones, ZWJ sequences). Name and Category track the
// codepoint sequence in order.
func EncodeNative(s string) Encoded {
	runes := []rune(s)
	names := make([]string, len(runes))
	categories := make([]string, len(runes))
	for i, r := range runes {
		names[i] = runenames.Name(r)
		categories[i] = generalCategory(r)
	}
	return Encoded{
		Unicode:  s,
		Name:     names,
		Category: categories,
		Roles:    []int64{},
	}
}

// EncodeCustom encodes a guild custom emoji reference.
func EncodeCustom(c Custom) Encoded {
	roles := c.Roles
	if roles == nil {
		roles = []int64{}
	}
	return Encoded{
		ID:       c.ID,
		Custom:   true,
		Managed:  c.Managed,
		GuildID:  c.GuildID,
		Name:     []string{c.Name},
		Category: []string{CustomCategory},
		Roles:    roles,
	}
}

// generalCategory returns the two-letter Unicode general category of r,
// e.g. "So" for most emoji symbols.
func generalCategory(r rune) string {
	for name, table := range unicode.Categories {
		if len(name) == 2 && unicode.Is(table, r) {
			return name
		}
	}
	return "Cn"
}
