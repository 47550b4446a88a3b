package httputil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormInt(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		want        int
		expectError bool
	}{
		{name: "missing uses default", query: "", want: 20},
		{name: "valid", query: "limit=5", want: 5},
		{name: "zero", query: "limit=0", want: 0},
		{name: "negative", query: "limit=-1", expectError: true},
		{name: "not a number", query: "limit=five", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			assert.NoError(t, err)

			got, err := FormInt(values, "limit", 20)
			if tt.expectError {
				assert.ErrorContains(t, err, "invalid limit")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormBool(t *testing.T) {
	got, err := FormBool(url.Values{"post": {"1"}}, "post", false)
	assert.NoError(t, err)
	assert.True(t, got)

	got, err = FormBool(url.Values{}, "post", false)
	assert.NoError(t, err)
	assert.False(t, got)

	_, err = FormBool(url.Values{"post": {"maybe"}}, "post", false)
	assert.Error(t, err)
}
