package benchmark

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/indexer/tokenizer"
)

var sampleTexts = map[string]string{
	"short": "Senior Data Scientist, Bangalore",
	"medium": `The alumni association is hiring a data analyst to help the careers
        team understand which mentoring programmes lead to placements. You will
        work with SQL dashboards, survey exports and the events calendar, and
        present findings at the quarterly alumni meetup in Coimbatore.`,
	"long": strings.Repeat(`Café meetups, résumé reviews and mock interviews are
        organised by volunteers across every chapter. Members can post jobs,
        share resources, join forum threads and sign up as mentors for recent
        graduates looking for their first role in engineering or product. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				tokens := tokenizer.Tokenize(text)
				_ = tokens
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			tokens := tokenizer.Tokenize(text)
			_ = tokens
		}
	})
}

// BenchmarkNormalize measures case and accent folding on its own.
func BenchmarkNormalize(b *testing.B) {
	words := []string{
		"Café", "RÉSUMÉ", "Naïve", "São Paulo", "Zürich",
		"engineering", "Mentorship", "Coimbatore", "JAVA", "Ångström",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			_ = tokenizer.Normalize(w)
		}
	}
}

func BenchmarkTermsVaryingSize(b *testing.B) {
	sizes := []int{10, 100, 500, 1000, 5000}
	baseWord := "alumni data analyst mentoring meetup "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				terms := tokenizer.Terms(text)
				_ = terms
			}
		})
	}
}
