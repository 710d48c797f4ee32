package emoji

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNative(t *testing.T) {
	tests := []struct {
		name           string
		in             string
		wantCodepoints int
		wantNames      []string
		wantCategories []string
	}{
		{
			name:           "grinning face",
			in:             "😀",
			wantCodepoints: 1,
			wantNames:      []string{"GRINNING FACE"},
			wantCategories: []string{"So"},
		},
		{
			name:           "thumbs up with skin tone",
			in:             "👍🏽",
			wantCodepoints: 2,
			wantNames:      []string{"THUMBS UP SIGN", "EMOJI MODIFIER FITZPATRICK TYPE-4"},
			wantCategories: []string{"So", "Sk"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeNative(tt.in)

			assert.Equal(t, int64(0), got.ID, "native emoji must keep the id sentinel")
			assert.Equal(t, tt.in, got.Unicode)
			assert.False(t, got.Custom)
			require.Len(t, got.Name, tt.wantCodepoints)
			require.Len(t, got.Category, tt.wantCodepoints)
			assert.Equal(t, tt.wantNames, got.Name)
			assert.Equal(t, tt.wantCategories, got.Category)
			assert.Empty(t, got.Roles)
		})
	}
}

func TestEncodeCustom(t *testing.T) {
	got := EncodeCustom(Custom{
		ID:      123456789012345678,
		Name:    "partyparrot",
		GuildID: 41771983423143937,
		Roles:   []int64{100, 200},
	})

	assert.Equal(t, int64(123456789012345678), got.ID)
	assert.Equal(t, "", got.Unicode, "custom emoji must keep the unicode sentinel")
	assert.True(t, got.Custom)
	assert.Equal(t, []string{"partyparrot"}, got.Name)
	assert.Equal(t, []string{CustomCategory}, got.Category)
	assert.Equal(t, []int64{100, 200}, got.Roles)
}

func TestEncodeCustomUnrestricted(t *testing.T) {
	got := EncodeCustom(Custom{ID: 1, Name: "blep", GuildID: 2})

	require.NotNil(t, got.Roles)
	assert.Empty(t, got.Roles, "nil role list must normalize to empty (unrestricted)")
}
