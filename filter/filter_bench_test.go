package filter

import (
	"testing"
)

var benchRaw = []byte("From: test@example.com\nTo: user@example.com\nSubject: Test\n\n" +
	"This message contains important content that should match the filter.")

func BenchmarkFilterAllows(b *testing.B) {
	benches := []struct {
		name string
		opts Options
	}{
		{"NoFilters", Options{}},
		{"Include", Options{IncludeHeader: []string{"From:.*@example\\.com"}}},
		{"Exclude", Options{ExcludeHeader: []string{"From:.*@spam\\.com"}}},
		{"MultiplePatterns", Options{IncludeHeader: []string{"To:.*nobody.*", "Subject:.*Nope.*", "From:.*@example\\.com"}}},
		{"Body", Options{IncludeBody: []string{"important.*content"}}},
	}
	for _, bb := range benches {
		b.Run(bb.name, func(b *testing.B) {
			f, err := New(bb.opts)
			if err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				f.Allows(benchRaw)
			}
		})
	}
}

func BenchmarkSplitRawMessage(b *testing.B) {
	raw := []byte("From: test@example.com\nTo: user@example.com\nSubject: Test\n\r\n\r\nThis is the body of the message.")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SplitRawMessage(raw)
	}
}
