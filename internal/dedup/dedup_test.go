package dedup

import (
	"context"
	"strings"
	"testing"
)

func defaultConfig() Config {
	return Config{SimilarityThreshold: 0.85, TimestampWindowHours: 24, MaxArticlesForComparison: 200}
}

func TestMergeWithSourceAttribution(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: Apple Earnings Beat Expectations\nPublisher: Reuters\nPublished: 2026-02-27 10:00:00\nURL: https://example.com/a",
		"pB": "Title: Apple Earnings Beat Expectations\nPublisher: Bloomberg\nPublished: 2026-02-27 09:30:00\nURL: https://example.com/b",
	}

	out, err := Deduplicate(context.Background(), []string{"pA", "pB"}, responses, defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "pA") || strings.Contains(out, "pB") {
		t.Fatalf("providerId leaked into output: %q", out)
	}
	if !strings.Contains(out, "Published: 2026-02-27 09:30:00") {
		t.Fatalf("expected earliest timestamp, got %q", out)
	}
	if !strings.Contains(out, "Sources: Bloomberg, Reuters") {
		t.Fatalf("expected merged sources line, got %q", out)
	}
	if !strings.Contains(out, "Merged Count: 1") {
		t.Fatalf("expected merged count 1, got %q", out)
	}
	if strings.Count(out, "Title:") != 1 {
		t.Fatalf("expected exactly one article, got %q", out)
	}
}

func TestThresholdBoundarySeparatesOrMerges(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: Apple launches iPhone 16 globally\nPublisher: A\nPublished: 2026-01-01 00:00:00\nURL: ",
		"pB": "Title: Apple launches iPhone 16 worldwide\nPublisher: B\nPublished: 2026-01-01 00:00:00\nURL: ",
	}

	loose := Config{SimilarityThreshold: 0.5, TimestampWindowHours: 24, MaxArticlesForComparison: 200}
	out, err := Deduplicate(context.Background(), []string{"pA", "pB"}, responses, loose)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(out, "Title:") != 1 {
		t.Fatalf("expected merge at low threshold, got %q", out)
	}

	strict := Config{SimilarityThreshold: 0.99, TimestampWindowHours: 24, MaxArticlesForComparison: 200}
	out, err = Deduplicate(context.Background(), []string{"pA", "pB"}, responses, strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(out, "Title:") != 2 {
		t.Fatalf("expected separation at high threshold, got %q", out)
	}
}

func TestTruncationCap(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: A\nPublisher: X\nPublished: Unknown\nURL: \n\n" +
			"Title: B\nPublisher: X\nPublished: Unknown\nURL: \n\n" +
			"Title: C\nPublisher: X\nPublished: Unknown\nURL: ",
	}
	cfg := Config{SimilarityThreshold: 0.99, TimestampWindowHours: 24, MaxArticlesForComparison: 2}
	out, err := Deduplicate(context.Background(), []string{"pA"}, responses, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(out, "Title:") != 2 {
		t.Fatalf("expected exactly 2 titles, got %q", out)
	}
}

func TestAggregationTolerantOfSinglePeer(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: Apple Earnings Beat Expectations\nPublisher: Reuters\nPublished: Unknown\nURL: ",
	}
	out, err := Deduplicate(context.Background(), []string{"pA"}, responses, defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "Sources:") {
		t.Fatalf("expected no Sources line for a single-source article, got %q", out)
	}
	if strings.Count(out, "Title:") != 1 {
		t.Fatalf("expected exactly one article, got %q", out)
	}
}

func TestExactURLMatchForcesMerge(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: Completely Different Headline One\nPublisher: A\nPublished: Unknown\nURL: https://example.com/story",
		"pB": "Title: Totally Unrelated Headline Two\nPublisher: B\nPublished: Unknown\nURL: https://EXAMPLE.com/story",
	}
	cfg := Config{SimilarityThreshold: 0.99, TimestampWindowHours: 24, MaxArticlesForComparison: 200}
	out, err := Deduplicate(context.Background(), []string{"pA", "pB"}, responses, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(out, "Title:") != 1 {
		t.Fatalf("expected exact URL match to force merge regardless of title similarity, got %q", out)
	}
}

func TestMalformedBlocksAreDropped(t *testing.T) {
	responses := map[string]string{
		"pA": "This is not a recognized record at all",
	}
	out, err := Deduplicate(context.Background(), []string{"pA"}, responses, defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty output for unrecognized records, got %q", out)
	}
}

func TestCancellationHonored(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: A\nPublisher: X\nPublished: Unknown\nURL: ",
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Deduplicate(ctx, []string{"pA"}, responses, defaultConfig())
	if err == nil {
		t.Fatalf("expected cancellation to be honored")
	}
}

func TestIdempotentOnSingleProviderRoundTrip(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: Fed signals rate cut in March meeting\nPublisher: Reuters\nPublished: 2026-03-01 12:00:00\nURL: https://example.com/fed",
	}
	first, err := Deduplicate(context.Background(), []string{"pA"}, responses, defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := Deduplicate(context.Background(), []string{"x"}, map[string]string{"x": first}, defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected fixed point, got:\n%q\nvs\n%q", first, second)
	}
}

func TestParsePublishedBestEffort(t *testing.T) {
	responses := map[string]string{
		"pA": "Title: Weird date format\nPublisher: X\nPublished: not-a-date\nURL: ",
	}
	out, err := Deduplicate(context.Background(), []string{"pA"}, responses, defaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Published: Unknown") {
		t.Fatalf("expected best-effort parse failure to render Unknown, got %q", out)
	}
}
