package model

import "fmt"

// TriggerRunRequest starts a run. It accepts either an explicit bucket/key
// pair or a raw S3 event notification payload.
type TriggerRunRequest struct {
	Bucket  string          `json:"bucket"`
	Key     string          `json:"key"`
	Records []S3EventRecord `json:"Records"`
}

// S3EventRecord is the slice of the S3 event notification shape we consume.
type S3EventRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// Resolve extracts the bundle location from the request, preferring the
// explicit bucket/key pair over an embedded event record.
func (r *TriggerRunRequest) Resolve() (bucket, key string, err error) {
	if r.Bucket != "" && r.Key != "" {
		return r.Bucket, r.Key, nil
	}
	if len(r.Records) > 0 {
		record := r.Records[0]
		if record.S3.Bucket.Name != "" && record.S3.Object.Key != "" {
			return record.S3.Bucket.Name, record.S3.Object.Key, nil
		}
	}
	return "", "", fmt.Errorf("request must carry bucket/key or an s3 event record")
}

// IsEvent reports whether the request came from an event notification.
func (r *TriggerRunRequest) IsEvent() bool {
	return r.Bucket == "" && len(r.Records) > 0
}
