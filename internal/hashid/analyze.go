package hashid

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"hashwrap/internal/fs"
)

const (
	maxSamplesPerType = 3
	maxUnknowns       = 10
	sampleTruncateLen = 50

	// Scanner buffer sized for long framed hashes (Kerberos tickets,
	// office documents) that exceed bufio's default line limit.
	maxLineBytes = 64 * 1024
)

// Priority orders recommendations. High sorts before medium before low.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// TypeStats aggregates per-type results of a file analysis.
type TypeStats struct {
	Count      int      `json:"count"`
	Mode       int      `json:"mode"`
	Confidence float64  `json:"confidence"`
	Speed      Speed    `json:"speed"`
	Samples    []string `json:"samples"`
}

// UnknownHash is a line no pattern matched, with its 1-based line number.
type UnknownHash struct {
	Line int    `json:"line"`
	Hash string `json:"hash"`
}

// Recommendation is an analysis-derived hint for attack planning.
type Recommendation struct {
	Priority    Priority       `json:"priority"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Types       map[string]int `json:"types,omitempty"`
	Wordlists   []string       `json:"wordlists,omitempty"`
	Samples     []UnknownHash  `json:"samples,omitempty"`
}

// Analysis is the result of [AnalyzeFile].
type Analysis struct {
	TotalHashes     int                   `json:"total_hashes"`
	DetectedTypes   map[string]*TypeStats `json:"detected_types"`
	UnknownHashes   []UnknownHash         `json:"unknown_hashes"`
	Recommendations []Recommendation      `json:"recommendations"`
}

// DominantType returns the detected type with the highest count.
func (a *Analysis) DominantType() (string, *TypeStats, bool) {
	var (
		bestName string
		best     *TypeStats
	)

	for name, stats := range a.DetectedTypes {
		if best == nil || stats.Count > best.Count || (stats.Count == best.Count && name < bestName) {
			bestName, best = name, stats
		}
	}

	return bestName, best, best != nil
}

// HasType reports whether any detected type name contains substr.
func (a *Analysis) HasType(substr string) bool {
	for name := range a.DetectedTypes {
		if strings.Contains(name, substr) {
			return true
		}
	}

	return false
}

// AnalyzeFile streams the hash file and classifies every non-empty
// line. lineCap bounds how many hash lines are examined (0 means all;
// blanks and comments do not count against it); the streaming index
// passes its sample cap here so analysis of huge files stays
// memory-bounded.
func AnalyzeFile(fsys fs.FS, path string, lineCap int) (*Analysis, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hash file: %w", err)
	}
	defer f.Close()

	result := &Analysis{DetectedTypes: make(map[string]*TypeStats)}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNum := 0

	for scanner.Scan() {
		if lineCap > 0 && result.TotalHashes >= lineCap {
			break
		}

		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		result.TotalHashes++

		typ, ok := Classify(line)
		if !ok {
			if len(result.UnknownHashes) < maxUnknowns {
				result.UnknownHashes = append(result.UnknownHashes, UnknownHash{Line: lineNum, Hash: truncateSample(line)})
			}

			continue
		}

		stats := result.DetectedTypes[typ.Name]
		if stats == nil {
			stats = &TypeStats{Mode: typ.Mode, Confidence: typ.Confidence, Speed: typ.Speed}
			result.DetectedTypes[typ.Name] = stats
		}

		stats.Count++
		if len(stats.Samples) < maxSamplesPerType {
			stats.Samples = append(stats.Samples, truncateSample(line))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading hash file: %w", err)
	}

	result.Recommendations = recommend(result)

	return result, nil
}

func truncateSample(line string) string {
	if len(line) > sampleTruncateLen {
		return line[:sampleTruncateLen] + "..."
	}

	return line
}

func recommend(a *Analysis) []Recommendation {
	var recs []Recommendation

	switch len(a.DetectedTypes) {
	case 0:
		// Nothing detected; the unknown recommendation below covers it.
	case 1:
		for name, stats := range a.DetectedTypes {
			recs = append(recs, Recommendation{
				Priority:    PriorityHigh,
				Action:      "single_mode_attack",
				Description: fmt.Sprintf("Use mode %d for %s hashes", stats.Mode, name),
			})
		}
	default:
		types := make(map[string]int, len(a.DetectedTypes))
		for name, stats := range a.DetectedTypes {
			types[name] = stats.Mode
		}

		recs = append(recs, Recommendation{
			Priority:    PriorityHigh,
			Action:      "split_by_type",
			Description: "Split hashes by type for optimal performance",
			Types:       types,
		})
	}

	if a.HasType("NTLM") || a.HasType("NetNTLM") {
		recs = append(recs, Recommendation{
			Priority:    PriorityMedium,
			Action:      "use_ad_wordlists",
			Description: "Detected Windows hashes - use Active Directory focused wordlists",
			Wordlists:   []string{"rockyou.txt", "ad_common.txt", "corporate_passwords.txt"},
		})
	}

	if a.HasType("MySQL") || a.HasType("PostgreSQL") {
		recs = append(recs, Recommendation{
			Priority:    PriorityMedium,
			Action:      "use_db_defaults",
			Description: "Detected database hashes - try default credentials",
			Wordlists:   []string{"db_defaults.txt", "common_passwords.txt"},
		})
	}

	if a.HasType("bcrypt") {
		recs = append(recs, Recommendation{
			Priority:    PriorityHigh,
			Action:      "optimize_bcrypt",
			Description: "bcrypt is slow - use targeted wordlists and limit rules",
		})
	}

	if len(a.UnknownHashes) > 0 {
		samples := a.UnknownHashes
		if len(samples) > maxSamplesPerType {
			samples = samples[:maxSamplesPerType]
		}

		recs = append(recs, Recommendation{
			Priority:    PriorityLow,
			Action:      "investigate_unknown",
			Description: fmt.Sprintf("Found %d unknown hash formats - manual review needed", len(a.UnknownHashes)),
			Samples:     samples,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority < recs[j].Priority })

	return recs
}
