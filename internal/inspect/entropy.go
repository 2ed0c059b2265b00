package inspect

import (
	"bytes"
	"fmt"
	"math"
)

const (
	// entropyThreshold flags streams that look encrypted or packed. Honest
	// compressed media sits around 7.9 too, so this is a warning, not a
	// rejection.
	entropyThreshold = 7.5
	entropyMinSample = 256

	repetitionChunkSize = 8
	repetitionRatio     = 0.25

	polyglotScanLimit = 64 * 1024
)

func checkStatistics(result *ValidationResult, content, window []byte) {
	if len(content) >= entropyMinSample {
		if e := shannonEntropy(window); e > entropyThreshold {
			result.addWarning("byte entropy %.2f exceeds %.1f; possible packed or encrypted payload", e, entropyThreshold)
		}
	}

	if ratio, chunk := repetitionScore(window); ratio > repetitionRatio {
		result.addWarning("short pattern %x repeats across %.0f%% of the scan window", chunk, ratio*100)
	}

	// Warning rather than rejection: containers legitimately embed other
	// formats (a PDF carrying JPEG streams is not an attack).
	if formats := distinctSignatures(window); len(formats) > 1 {
		result.addWarning("multiple format signatures present (%v); possible polyglot", formats)
	}
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// repetitionScore reports the share of the window covered by its most common
// fixed-size chunk. Heavy repetition of one short pattern is a padding or
// obfuscation heuristic.
func repetitionScore(data []byte) (float64, []byte) {
	if len(data) < repetitionChunkSize*4 {
		return 0, nil
	}
	counts := make(map[string]int)
	chunks := 0
	for i := 0; i+repetitionChunkSize <= len(data); i += repetitionChunkSize {
		counts[string(data[i:i+repetitionChunkSize])]++
		chunks++
	}
	best, bestChunk := 0, ""
	for chunk, c := range counts {
		if c > best {
			best, bestChunk = c, chunk
		}
	}
	// A file that is one repeating chunk end to end is a legitimate fill
	// pattern in some raw formats, so only mid-range repetition is scored.
	if len(counts) == 1 {
		return 0, nil
	}
	return float64(best) / float64(chunks), []byte(bestChunk)
}

// distinctSignatures scans a bounded prefix for known format headers at any
// position. The head signature of the file itself is expected; anything
// beyond it means the buffer parses as more than one format.
func distinctSignatures(data []byte) []string {
	if len(data) > polyglotScanLimit {
		data = data[:polyglotScanLimit]
	}
	var found []string
	seen := make(map[string]bool)
	for _, sig := range formatSignatures {
		idx := bytes.Index(data, sig.magic)
		if idx < 0 || seen[sig.format] {
			continue
		}
		seen[sig.format] = true
		found = append(found, fmt.Sprintf("%s@%d", sig.format, idx))
	}
	if len(seen) <= 1 {
		return nil
	}
	return found
}
