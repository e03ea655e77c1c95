package hashid

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hashwrap/internal/fs"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line     string
		wantName string
		wantMode int
	}{
		{"5f4dcc3b5aa765d61d8327deb882cf99", "MD5", 0},
		{"5F4DCC3B5AA765D61D8327DEB882CF99", "MD5", 0},
		{"a94a8fe5ccb19ba61c4c0873d391e987982fbbd3", "SHA1", 100},
		{strings.Repeat("ab", 32), "SHA256", 1400},
		{strings.Repeat("ab", 64), "SHA512", 1700},
		{"$2a$10$" + strings.Repeat("N", 53), "bcrypt", 3200},
		{"$1$abcdefgh$" + strings.Repeat("a", 22), "MD5 Crypt", 500},
		{"*94BDCEBE19083CE2A1F959FD02F964C7AF4CFC29", "MySQL 4.1+", 300},
		{"md5" + strings.Repeat("a1", 16), "PostgreSQL MD5", 12},
		{"$krb5tgs$23$*user$realm$spn*$abc123", "Kerberos 5 TGS-REP", 13100},
		{"$office$*2013*100000*256*16*abc", "MS Office", 9400},
		{"$P$B" + strings.Repeat("a", 30), "phpBB3/WordPress", 400},
		{"sha1$12345678$" + strings.Repeat("a", 40), "Django SHA1", 800},
	}

	for _, tt := range tests {
		typ, ok := Classify(tt.line)
		if !ok {
			t.Fatalf("Classify(%q): no match", tt.line)
		}

		if got, want := typ.Name, tt.wantName; got != want {
			t.Errorf("Classify(%q).Name=%q, want=%q", tt.line, got, want)
		}

		if got, want := typ.Mode, tt.wantMode; got != want {
			t.Errorf("Classify(%q).Mode=%d, want=%d", tt.line, got, want)
		}
	}
}

// A 32-char hex string matches both the MD5 and NTLM patterns; the
// higher-confidence MD5 reading must win.
func TestClassifyAmbiguous32HexPrefersMD5(t *testing.T) {
	t.Parallel()

	typ, ok := Classify("aad3b435b51404eeaad3b435b51404ee")
	if !ok {
		t.Fatal("no match")
	}

	if got, want := typ.Name, "MD5"; got != want {
		t.Fatalf("Name=%q, want=%q", got, want)
	}
}

func TestClassifySaltShapeFallback(t *testing.T) {
	t.Parallel()

	// hex:non-hex-salt matches no full pattern, so the salt-shape pass
	// has to kick in with reduced confidence, keyed on prefix length.
	cases := []struct {
		name     string
		line     string
		wantMode int
	}{
		{"salted md5", "5f4dcc3b5aa765d61d8327deb882cf99:salt!x", 10},
		{"salted sha1", "a94a8fe5ccb19ba61c4c0873d391e987982fbbd3:pepper$", 110},
		{"salted sha256", "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8:sea_salt", 1410},
		{"salted sha512", "b109f3bbbc244eb82441917ed06d618b9008dd09b3befd1b5e07394c706a8bb980b1d7785e5976ec049b46df5f1326af5a2ea6d103fd07c95385ffab0cacbc86:sea_salt", 1710},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			typ, ok := Classify(tc.line)
			if !ok {
				t.Fatal("no match")
			}

			if got, want := typ.Mode, tc.wantMode; got != want {
				t.Fatalf("Mode=%d, want=%d", got, want)
			}

			if got, want := typ.Confidence, 0.7; got != want {
				t.Fatalf("Confidence=%v, want=%v", got, want)
			}
		})
	}
}

func TestClassifyUnknown(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"not a hash", "zzzz", "12345"} {
		if _, ok := Classify(line); ok {
			t.Errorf("Classify(%q) matched, want no match", line)
		}
	}
}

func TestAnalyzeFileMixedTypes(t *testing.T) {
	t.Parallel()

	var sb strings.Builder

	for range 100 {
		sb.WriteString("5f4dcc3b5aa765d61d8327deb882cf99\n")
	}

	for range 50 {
		sb.WriteString("a94a8fe5ccb19ba61c4c0873d391e987982fbbd3\n")
	}

	for range 10 {
		sb.WriteString("!!garbage-line!!\n")
	}

	path := filepath.Join(t.TempDir(), "dump.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := AnalyzeFile(fs.NewReal(), path, 0)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if got, want := got.TotalHashes, 160; got != want {
		t.Fatalf("TotalHashes=%d, want=%d", got, want)
	}

	if got, want := got.DetectedTypes["MD5"].Count, 100; got != want {
		t.Fatalf("MD5.Count=%d, want=%d", got, want)
	}

	if got, want := got.DetectedTypes["SHA1"].Count, 50; got != want {
		t.Fatalf("SHA1.Count=%d, want=%d", got, want)
	}

	if len(got.UnknownHashes) > 10 {
		t.Fatalf("UnknownHashes len=%d, want <= 10", len(got.UnknownHashes))
	}

	if len(got.Recommendations) == 0 {
		t.Fatal("no recommendations")
	}

	first := got.Recommendations[0]
	if got, want := first.Action, "split_by_type"; got != want {
		t.Fatalf("first recommendation action=%q, want=%q", got, want)
	}

	if got, want := first.Priority, PriorityHigh; got != want {
		t.Fatalf("first recommendation priority=%v, want=%v", got, want)
	}
}

func TestAnalyzeFileSingleType(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "md5.txt")
	content := "5f4dcc3b5aa765d61d8327deb882cf99\ne10adc3949ba59abbe56e057f20f883e\n"

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := AnalyzeFile(fs.NewReal(), path, 0)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if got, want := got.Recommendations[0].Action, "single_mode_attack"; got != want {
		t.Fatalf("action=%q, want=%q", got, want)
	}
}

func TestAnalyzeFileSampleLimit(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for range 20 {
		sb.WriteString("5f4dcc3b5aa765d61d8327deb882cf99\n")
	}

	path := filepath.Join(t.TempDir(), "md5.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := AnalyzeFile(fs.NewReal(), path, 0)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if got, want := len(got.DetectedTypes["MD5"].Samples), 3; got != want {
		t.Fatalf("samples len=%d, want=%d", got, want)
	}
}

func TestAnalyzeFileLineCap(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	for range 100 {
		sb.WriteString("5f4dcc3b5aa765d61d8327deb882cf99\n")
	}

	path := filepath.Join(t.TempDir(), "md5.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := AnalyzeFile(fs.NewReal(), path, 10)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if got, want := got.TotalHashes, 10; got != want {
		t.Fatalf("TotalHashes=%d, want=%d", got, want)
	}
}

func TestAnalyzeFileLineCapIgnoresCommentsAndBlanks(t *testing.T) {
	t.Parallel()

	// Every hash line is preceded by noise; the cap must still admit
	// lineCap actual hashes.
	var sb strings.Builder
	for range 10 {
		sb.WriteString("# dump header\n")
		sb.WriteString("\n")
		sb.WriteString("5f4dcc3b5aa765d61d8327deb882cf99\n")
	}

	path := filepath.Join(t.TempDir(), "commented.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := AnalyzeFile(fs.NewReal(), path, 5)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if got, want := got.TotalHashes, 5; got != want {
		t.Fatalf("TotalHashes=%d, want=%d", got, want)
	}

	if got, want := got.DetectedTypes["MD5"].Count, 5; got != want {
		t.Fatalf("MD5.Count=%d, want=%d", got, want)
	}
}
