// Package hashid classifies hash strings into cracker hash types.
//
// Classification runs a line against a precompiled pattern table and
// returns the highest-confidence match. Several formats are visually
// identical (a 32-char hex string is MD5 or NTLM); the table carries a
// confidence per pattern so the more common reading wins while the
// alternative is still surfaced through [Analysis] recommendations.
package hashid

import "regexp"

// Speed classes group hash types by how expensive a single guess is.
// Slow KDFs get fewer rules and smaller wordlists from the planner.
type Speed string

const (
	SpeedFast   Speed = "fast"
	SpeedMedium Speed = "medium"
	SpeedSlow   Speed = "slow"
)

// HashType describes a detected hash format.
type HashType struct {
	Name       string
	Mode       int
	Confidence float64
	Speed      Speed
}

type pattern struct {
	re  *regexp.Regexp
	typ HashType
}

// The table order is significant: equal-confidence matches resolve to
// the earliest entry. Modes are the cracker's -m codes.
var patterns = []pattern{
	// MD5 family
	{regexp.MustCompile(`(?i)^[a-f0-9]{32}$`), HashType{"MD5", 0, 0.9, SpeedFast}},
	{regexp.MustCompile(`(?i)^[a-f0-9]{32}:[a-f0-9]+$`), HashType{"MD5 with salt", 10, 0.9, SpeedFast}},
	{regexp.MustCompile(`^\$1\$[a-zA-Z0-9./]{8}\$[a-zA-Z0-9./]{22}$`), HashType{"MD5 Crypt", 500, 1.0, SpeedSlow}},

	// SHA family
	{regexp.MustCompile(`(?i)^[a-f0-9]{40}$`), HashType{"SHA1", 100, 0.9, SpeedFast}},
	{regexp.MustCompile(`(?i)^[a-f0-9]{64}$`), HashType{"SHA256", 1400, 0.9, SpeedFast}},
	{regexp.MustCompile(`(?i)^[a-f0-9]{96}$`), HashType{"SHA384", 10800, 0.9, SpeedFast}},
	{regexp.MustCompile(`(?i)^[a-f0-9]{128}$`), HashType{"SHA512", 1700, 0.9, SpeedFast}},
	{regexp.MustCompile(`^\$6\$[a-zA-Z0-9./]{8,16}\$[a-zA-Z0-9./]{86}$`), HashType{"SHA512 Crypt", 1800, 1.0, SpeedSlow}},

	// Windows
	{regexp.MustCompile(`(?i)^[a-f0-9]{32}$`), HashType{"NTLM", 1000, 0.7, SpeedFast}},
	{regexp.MustCompile(`(?i)^[a-f0-9]{32}:[a-f0-9]{32}$`), HashType{"NetNTLMv1", 5500, 0.95, SpeedMedium}},
	{regexp.MustCompile(`^[a-zA-Z0-9+/]{27,}=$`), HashType{"NetNTLMv2", 5600, 0.9, SpeedMedium}},

	// bcrypt
	{regexp.MustCompile(`^\$2[ayb]\$[0-9]{2}\$[a-zA-Z0-9./]{53}$`), HashType{"bcrypt", 3200, 1.0, SpeedSlow}},

	// Databases
	{regexp.MustCompile(`^\*[A-F0-9]{40}$`), HashType{"MySQL 4.1+", 300, 1.0, SpeedFast}},
	{regexp.MustCompile(`(?i)^[a-f0-9]{16}$`), HashType{"MySQL 3.x", 200, 0.8, SpeedFast}},
	{regexp.MustCompile(`(?i)^md5[a-f0-9]{32}$`), HashType{"PostgreSQL MD5", 12, 1.0, SpeedFast}},

	// Kerberos
	{regexp.MustCompile(`^\$krb5tgs\$`), HashType{"Kerberos 5 TGS-REP", 13100, 1.0, SpeedMedium}},
	{regexp.MustCompile(`^\$krb5pa\$`), HashType{"Kerberos 5 AS-REP", 7500, 1.0, SpeedMedium}},

	// Documents
	{regexp.MustCompile(`^\$office\$`), HashType{"MS Office", 9400, 1.0, SpeedSlow}},
	{regexp.MustCompile(`^\$pdf\$`), HashType{"PDF", 10500, 1.0, SpeedSlow}},

	// Web applications
	{regexp.MustCompile(`^\$P\$[a-zA-Z0-9./]{31}$`), HashType{"phpBB3/WordPress", 400, 1.0, SpeedSlow}},
	{regexp.MustCompile(`^\$H\$[a-zA-Z0-9./]{31}$`), HashType{"phpBB3/WordPress (alt)", 400, 1.0, SpeedSlow}},
	{regexp.MustCompile(`(?i)^sha1\$[a-f0-9]{8}\$[a-f0-9]{40}$`), HashType{"Django SHA1", 800, 1.0, SpeedFast}},
}

var saltedHex = regexp.MustCompile(`(?i)^([a-f0-9]+):.+$`)

// Classify detects the hash type of a single line.
//
// All table patterns are tried; the highest-confidence match wins and
// ties resolve to table order. Lines no full pattern matches get a
// second look as "hexdigest:salt" shapes: 32-, 40-, 64- and 128-char
// hex prefixes are returned as salted MD5/SHA1/SHA256/SHA512 at
// reduced confidence.
func Classify(line string) (HashType, bool) {
	var (
		best  HashType
		found bool
	)

	for _, p := range patterns {
		if !p.re.MatchString(line) {
			continue
		}

		if !found || p.typ.Confidence > best.Confidence {
			best = p.typ
			found = true
		}
	}

	if found {
		return best, true
	}

	if m := saltedHex.FindStringSubmatch(line); m != nil {
		switch len(m[1]) {
		case 32:
			return HashType{"MD5 with salt", 10, 0.7, SpeedFast}, true
		case 40:
			return HashType{"SHA1 with salt", 110, 0.7, SpeedFast}, true
		case 64:
			return HashType{"SHA256 with salt", 1410, 0.7, SpeedFast}, true
		case 128:
			return HashType{"SHA512 with salt", 1710, 0.7, SpeedFast}, true
		}
	}

	return HashType{}, false
}

// SuggestMode returns the cracker mode for a single hash sample, or
// false when the sample matches nothing.
func SuggestMode(sample string) (int, bool) {
	typ, ok := Classify(sample)
	if !ok {
		return 0, false
	}

	return typ.Mode, true
}
