package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		parent, child string
		want          string
	}{
		{"/api/", "//echo", "/api/echo"},
		{"/api", "echo", "/api/echo"},
		{"api", "echo", "/api/echo"},
		{"", "/echo", "/echo"},
		{"", "echo", "/echo"},
		{"/", "", "/"},
		{"", "/", "/"},
		{"///a//b", "c///d", "/a/b/c/d"},
		{"/api", "echo/", "/api/echo/"},
		{"  /api ", " echo ", "/api/echo"},
		{"/api", "", "/api/"},
	}
	for _, tt := range tests {
		t.Run(tt.parent+"+"+tt.child, func(t *testing.T) {
			got, err := JoinPath(tt.parent, tt.child)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinPath_Empty(t *testing.T) {
	for _, tt := range [][2]string{{"", ""}, {" ", "  "}} {
		_, err := JoinPath(tt[0], tt[1])
		assert.ErrorIs(t, err, ErrEmptyPath)
	}
}
