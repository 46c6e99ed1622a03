package objectclient

import "testing"

func TestSplitBlobKey(t *testing.T) {
	cases := []struct {
		name       string
		ref        string
		wantBucket string
		wantKey    string
	}{
		{"bare key", "uploads/u1/report.pdf", "docchat", "uploads/u1/report.pdf"},
		{"leading slash", "/uploads/report.pdf", "docchat", "uploads/report.pdf"},
		{"s3 uri", "s3://other/a/b.pdf", "other", "a/b.pdf"},
		{"virtual hosted", "https://docs.s3.eu-west-1.amazonaws.com/u/1.pdf", "docs", "u/1.pdf"},
		{"legacy global host", "https://docs.s3.amazonaws.com/u/1.pdf", "docs", "u/1.pdf"},
		{"path style", "http://localhost:9000/minio-bucket/x/y.pdf", "minio-bucket", "x/y.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, k, err := SplitBlobKey("docchat", tc.ref)
			if err != nil {
				t.Fatalf("SplitBlobKey(%q): %v", tc.ref, err)
			}
			if b != tc.wantBucket || k != tc.wantKey {
				t.Fatalf("got %s/%s, want %s/%s", b, k, tc.wantBucket, tc.wantKey)
			}
		})
	}
}

func TestSplitBlobKey_Rejects(t *testing.T) {
	for _, ref := range []string{"", "   ", "s3://bucket-only", "s3:///key"} {
		if _, _, err := SplitBlobKey("docchat", ref); err == nil {
			t.Errorf("SplitBlobKey(%q) should fail", ref)
		}
	}
}
