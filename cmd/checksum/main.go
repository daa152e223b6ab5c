// Package main recomputes the checksum of an exported audit log entry. It
// reads one entry as JSON from the file named by the first argument (or stdin
// when no argument or "-" is given), prints the stored and recomputed
// checksums and exits non-zero when they differ. Auditors use it to check an
// exported entry without access to the database.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/docshield/docshield/internal/db/models"
	"github.com/docshield/docshield/pkg/checksum"
)

var errMismatch = errors.New("checksum mismatch")

func main() {
	in := io.Reader(os.Stdin)
	if len(os.Args) > 1 && os.Args[1] != "-" {
		f, err := os.Open(os.Args[1])
		if err != nil {
			log.Fatalf("Failed to open %s: %v", os.Args[1], err)
		}
		defer f.Close()
		in = f
	}

	if err := run(in, os.Stdout); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(in io.Reader, out io.Writer) error {
	stored, computed, err := recompute(in)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "stored:   %s\n", stored)
	fmt.Fprintf(out, "computed: %s\n", computed)
	if stored != computed {
		fmt.Fprintln(out, "result:   MISMATCH")
		return errMismatch
	}
	fmt.Fprintln(out, "result:   OK")
	return nil
}

// recompute decodes one entry and returns its stored and recomputed checksums.
func recompute(in io.Reader) (stored, computed string, err error) {
	raw, err := io.ReadAll(in)
	if err != nil {
		return "", "", fmt.Errorf("failed to read entry: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var entry models.AuditLogEntry
	if err := dec.Decode(&entry); err != nil {
		return "", "", fmt.Errorf("failed to decode entry: %w", err)
	}
	if entry.ID == "" {
		return "", "", errors.New("entry has no id")
	}

	computed, err = checksum.Sum(entry.ChecksumFields())
	if err != nil {
		return "", "", fmt.Errorf("failed to compute checksum: %w", err)
	}
	return entry.Checksum, computed, nil
}
