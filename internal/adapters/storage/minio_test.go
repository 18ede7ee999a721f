package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coach-service/internal/config"
)

func TestDocumentBaseURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StorageConfig
		want string
	}{
		{"plain", config.StorageConfig{Bucket: "invoices"}, "http://minio:9000/invoices"},
		{"tls", config.StorageConfig{Bucket: "invoices", UseSSL: true}, "https://minio:9000/invoices"},
		{"public", config.StorageConfig{Bucket: "docs", PublicURL: "https://files.example.com"}, "https://files.example.com/docs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, documentBaseURL(tt.cfg, "minio:9000"))
		})
	}
}
