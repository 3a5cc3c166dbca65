package objective

import "testing"

func TestOriginConstantsAreDistinct(t *testing.T) {
	origins := []Origin{OriginUser, OriginGenerator, OriginCorrective, OriginMetaAnalysis}
	seen := make(map[Origin]bool)
	for _, o := range origins {
		if seen[o] {
			t.Fatalf("duplicate origin value: %s", o)
		}
		seen[o] = true
	}
}
