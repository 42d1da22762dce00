package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractDBName(t *testing.T) {
	tests := map[string]string{
		"mongodb://localhost:27017/linguahub":            "linguahub",
		"mongodb+srv://u:p@cluster.example.net/prod?w=1": "prod",
		"mongodb://localhost:27017":                      "test",
		"mongodb://localhost:27017/":                     "test",
		"::not a uri":                                    "test",
	}
	for uri, want := range tests {
		assert.Equal(t, want, extractDBName(uri), uri)
	}
}
