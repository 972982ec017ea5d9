package mbox

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"

	mboxlib "github.com/emersion/go-mbox"
)

// Summary is a lightweight view of one message, used by the stats scan.
type Summary struct {
	Headers mail.Header
	Body    []byte
}

// Scan iterates over the messages of an mbox file without offset tracking,
// calling fn for each message whose headers can be parsed.
func Scan(path string, fn func(s *Summary) error) (skipped int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return skipped, nil
			}
			return skipped, err
		}

		msg, err := mail.ReadMessage(msgReader)
		if err != nil {
			skipped++
			continue
		}
		body, err := io.ReadAll(msg.Body)
		if err != nil {
			skipped++
			continue
		}

		if err := fn(&Summary{Headers: msg.Header, Body: body}); err != nil {
			return skipped, err
		}
	}
}

// CountMessages counts the messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, fmt.Errorf("message %d: %w", count, err)
		}
		count++
	}
}
