package s3blob

import "testing"

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		ssl      bool
		want     string
	}{
		{"http://localhost:9000", false, "http://localhost:9000"},
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.endpoint, tt.ssl); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.endpoint, tt.ssl, got, tt.want)
		}
	}
}

func TestObjectKeyPrefix(t *testing.T) {
	c := &Client{prefix: "xbet"}
	if got := c.objectKey("snapshots/1.json"); got != "xbet/snapshots/1.json" {
		t.Errorf("objectKey = %q", got)
	}
	if got := c.logicalPath("xbet/snapshots/1.json"); got != "snapshots/1.json" {
		t.Errorf("logicalPath = %q", got)
	}

	bare := &Client{}
	if got := bare.objectKey("/snapshots/1.json"); got != "snapshots/1.json" {
		t.Errorf("objectKey without prefix = %q", got)
	}
}
