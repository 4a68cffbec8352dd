package store

import (
	"fmt"
	"io"
	"os"
	"time"
)

// DumpFile prints the records of a log file for debugging. head limits the
// number of records printed; 0 prints all of them.
func DumpFile(w io.Writer, path string, head int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	headerBuf := make([]byte, HeaderSize)
	recordNum := 0

	for head == 0 || recordNum < head {
		_, err := io.ReadFull(f, headerBuf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading header %d: %w", recordNum, err)
		}

		var h RecordHeader
		h.Decode(headerBuf)

		kv := make([]byte, int64(h.KeySize)+int64(h.ValueSize))
		if _, err := io.ReadFull(f, kv); err != nil {
			return fmt.Errorf("reading record %d: %w", recordNum, err)
		}

		fmt.Fprintf(w, "Record #%d\n", recordNum)
		fmt.Fprintf(w, "  Offset:    %d\n", h.LogicalOffset)
		fmt.Fprintf(w, "  Key:       %s\n", kv[:h.KeySize])
		fmt.Fprintf(w, "  Size:      %d\n", h.ValueSize)
		fmt.Fprintf(w, "  Timestamp: %d (%s)\n", h.Timestamp, time.Unix(0, int64(h.Timestamp)).UTC())
		fmt.Fprintf(w, "  Value:     %q\n", truncate(kv[h.KeySize:], 100))
		fmt.Fprintln(w)

		recordNum++
	}

	fmt.Fprintf(w, "Total: %d records\n", recordNum)
	return nil
}

func truncate(b []byte, max int) []byte {
	if len(b) <= max {
		return b
	}
	return b[:max]
}
