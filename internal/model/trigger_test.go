package model

import (
	"encoding/json"
	"testing"
)

func TestResolveExplicitLocation(t *testing.T) {
	req := TriggerRunRequest{Bucket: "config-bucket", Key: "v1.zip"}
	bucket, key, err := req.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if bucket != "config-bucket" || key != "v1.zip" {
		t.Fatalf("unexpected location: %s/%s", bucket, key)
	}
	if req.IsEvent() {
		t.Fatalf("explicit request must not be classified as event")
	}
}

func TestResolveS3EventPayload(t *testing.T) {
	payload := `{"Records": [{"s3": {"bucket": {"name": "config-bucket"}, "object": {"key": "releases/v2.zip"}}}]}`
	var req TriggerRunRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}

	bucket, key, err := req.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if bucket != "config-bucket" || key != "releases/v2.zip" {
		t.Fatalf("unexpected location: %s/%s", bucket, key)
	}
	if !req.IsEvent() {
		t.Fatalf("event payload should be classified as event")
	}
}

func TestResolveMissingLocation(t *testing.T) {
	var req TriggerRunRequest
	if _, _, err := req.Resolve(); err == nil {
		t.Fatalf("expected error for empty request")
	}
}
