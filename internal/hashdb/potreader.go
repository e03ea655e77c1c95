package hashdb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"hashwrap/internal/fs"
)

// Crack is one hash:plaintext pair read from the potfile.
type Crack struct {
	Hash      string
	Plaintext string
}

// PotReader incrementally reads a cracker potfile.
//
// It remembers the byte offset of the last read, so each call to
// [PotReader.NewCracks] returns only the records appended since the
// previous call. If the file shrank below the stored offset (the
// operator truncated or replaced it), the reader rewinds to the start
// and reports everything again; the index tolerates replays because
// cracked entries are monotonic.
//
// The potfile is ground truth for cracked hashes. Nothing else in the
// engine caches a derived view across loop iterations.
type PotReader struct {
	fsys   fs.FS
	path   string
	offset int64
}

// NewPotReader creates a reader positioned at the start of path.
// The file does not need to exist yet; the cracker creates it on the
// first crack.
func NewPotReader(fsys fs.FS, path string) *PotReader {
	return &PotReader{fsys: fsys, path: path}
}

// Path returns the potfile path this reader tails.
func (p *PotReader) Path() string {
	return p.path
}

// NewCracks returns the hash:plaintext records appended since the last
// call. The first colon separates hash from plaintext; the plaintext
// may itself contain colons. Lines without a colon are skipped.
func (p *PotReader) NewCracks() ([]Crack, error) {
	f, err := p.fsys.Open(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("opening potfile: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat potfile: %w", err)
	}

	if info.Size() < p.offset {
		// Truncated or replaced. Start over.
		p.offset = 0
	}

	if info.Size() == p.offset {
		return nil, nil
	}

	if _, err := f.Seek(p.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking potfile: %w", err)
	}

	var (
		cracks   []Crack
		consumed int64
	)

	reader := bufio.NewReader(f)

	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, fmt.Errorf("reading potfile: %w", readErr)
		}

		if readErr == io.EOF && !strings.HasSuffix(line, "\n") {
			// Partial trailing line: the cracker is mid-write. Leave
			// it for the next call.
			break
		}

		consumed += int64(len(line))

		hash, plain, found := strings.Cut(strings.TrimRight(line, "\r\n"), ":")
		if found && hash != "" {
			cracks = append(cracks, Crack{Hash: hash, Plaintext: plain})
		}

		if readErr == io.EOF {
			break
		}
	}

	p.offset += consumed

	return cracks, nil
}
